package ledger

import "github.com/paul-bdio/zorro/pkg/utils"

// NewReaderFromEnv serves LEDGER_FIXTURE_FILE when it is set and talks to the registry
// contract otherwise.
func NewReaderFromEnv() (Reader, error) {
	if path := utils.Env("LEDGER_FIXTURE_FILE", ""); path != "" {
		return LoadFixtureFile(path)
	}
	return NewStarknetClientFromEnv()
}
