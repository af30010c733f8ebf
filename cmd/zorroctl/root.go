package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/backend"
	"github.com/paul-bdio/zorro/pkg/ledger"
	"github.com/paul-bdio/zorro/pkg/logging"
	"github.com/paul-bdio/zorro/pkg/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Log    string // zap sink for logs
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the zorroctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "zorroctl",
		Short: "Profile sync operations",
		Long: `zorroctl synchronizes ledger profiles into the local cache and sends the
notifications for newly observed lifecycle events.

Store, ledger and notification settings come from the same environment variables as
the worker (STORE_DRIVER, POSTGRES_URL, SQLITE_PATH, LEDGER_*, NOTIFY_*, TWILIO_*, SMTP_*).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Log, "log", "stderr", "log destination (stderr, stdout or a file path)")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewRedeliverCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTriggerCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))

	return cmd
}

// local is the engine stack for one command invocation.
type local struct {
	logger *zap.Logger
	store  db.Store
	engine *syncer.Engine
	ledger ledger.Reader
}

func (l *local) Close() {
	_ = l.store.Close()
	_ = l.logger.Sync()
}

func openLocal(ctx context.Context, opts *RootOptions) (*local, error) {
	logger, err := logging.NewWithOutput("zorroctl", opts.Log)
	if err != nil {
		return nil, err
	}
	store, err := backend.Open(ctx, logger, "cli")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	engine, reader, err := syncer.NewEngineFromEnv(logger, store, nil)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &local{logger: logger, store: store, engine: engine, ledger: reader}, nil
}

func parseProfileIDs(args []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseUint(a, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid profile id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// output writes v as indented JSON, or calls text for the text format.
func output(w io.Writer, opts *RootOptions, v any, text func(io.Writer)) error {
	if opts.Format == "json" {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	text(w)
	return nil
}
