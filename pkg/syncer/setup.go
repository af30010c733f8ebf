package syncer

import (
	"fmt"

	"github.com/paul-bdio/zorro/pkg/codec"
	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/ledger"
	"github.com/paul-bdio/zorro/pkg/notify"
	"github.com/paul-bdio/zorro/pkg/utils"
	"go.uber.org/zap"
)

// NewEngineFromEnv assembles an engine over store the way every binary does: ledger from
// LEDGER_*, timestamp unit from LEDGER_TIMESTAMP_UNIT, templates from NOTIFY_TEMPLATES_FILE,
// senders and recipients from the notify environment. publisher may be a nil interface.
func NewEngineFromEnv(logger *zap.Logger, store db.Store, publisher Publisher) (*Engine, ledger.Reader, error) {
	reader, err := ledger.NewReaderFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("ledger reader: %w", err)
	}

	unit, err := codec.ParseTimestampUnit(utils.Env("LEDGER_TIMESTAMP_UNIT", "ms"))
	if err != nil {
		return nil, nil, err
	}

	templates, err := notify.LoadTemplates(utils.Env("NOTIFY_TEMPLATES_FILE", ""))
	if err != nil {
		return nil, nil, err
	}

	router, err := notify.NewRouterFromEnv(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("notification senders: %w", err)
	}

	return NewEngine(Deps{
		Ledger:     reader,
		Decoder:    codec.NewDecoder(unit),
		Store:      store,
		Dispatcher: router,
		Templates:  templates,
		Recipients: notify.RecipientsFromEnv(store),
		Logger:     logger.Named("syncer"),
		Publisher:  publisher,
		Config:     ConfigFromEnv(),
	}), reader, nil
}
