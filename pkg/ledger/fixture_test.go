package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFixtureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  3:
    cid: "0x170121b909f5bf9672d64c328fb6196c0042b5bac45a7ce829b3a161a186c"
    ethereum_address: "0x4956f0cd"
    submission_timestamp: "0x929"
    last_recorded_status: "0x0"
`), 0o600))

	r, err := LoadFixtureFile(path)
	require.NoError(t, err)

	rec, err := r.FetchProfileRecord(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.ProfileID)
	assert.Equal(t, "0x929", rec.SubmissionTimestamp)

	n, err := r.ProfileCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	_, err = r.FetchProfileRecord(context.Background(), 1)
	require.ErrorIs(t, err, ErrProfileNotFound)
}
