package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paul-bdio/zorro/pkg/syncer"
	"github.com/spf13/cobra"
)

// NewSyncCommand runs one sync pass per profile in this process.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <profile-id>...",
		Short: "Run a sync pass for each profile",
		Example: `  zorroctl sync 12
  LEDGER_FIXTURE_FILE=ledger.yaml STORE_DRIVER=sqlite zorroctl sync 1 2 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseProfileIDs(args)
			if err != nil {
				return err
			}
			l, err := openLocal(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer l.Close()

			var results []*syncer.SyncResult
			var errs []error
			for _, id := range ids {
				res, err := l.engine.SyncProfile(cmd.Context(), id)
				if res != nil {
					results = append(results, res)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("profile %d: %w", id, err))
				}
			}
			if err := output(cmd.OutOrStdout(), opts, results, func(w io.Writer) {
				for _, r := range results {
					printSyncResult(w, r)
				}
			}); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}
}

// NewRedeliverCommand retries unconfirmed deliveries without reading the ledger.
func NewRedeliverCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redeliver [profile-id]",
		Short: "Retry deliveries that were claimed but never confirmed sent",
		Long:  "Without a profile id every profile's pending deliveries are retried.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id uint64
			if len(args) == 1 {
				ids, err := parseProfileIDs(args)
				if err != nil {
					return err
				}
				id = ids[0]
			}
			l, err := openLocal(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer l.Close()

			res, err := l.engine.Redeliver(cmd.Context(), id)
			if res != nil {
				if outErr := output(cmd.OutOrStdout(), opts, res, func(w io.Writer) {
					fmt.Fprintf(w, "redelivered %d, transient failures %d, permanent failures %d\n",
						res.Redelivered, res.TransientFailures, res.PermanentFailures)
				}); outErr != nil {
					return outErr
				}
			}
			return err
		},
	}
}

// NewSweepCommand syncs every ledger profile once in this process.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Sync every profile on the ledger once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLocal(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer l.Close()

			runner := syncer.NewRunner(l.engine, l.ledger, concurrency, l.logger.Named("runner"))
			defer runner.Stop()

			res, err := runner.Sweep(cmd.Context())
			if err != nil && res == nil {
				return err
			}
			if outErr := output(cmd.OutOrStdout(), opts, res, func(w io.Writer) {
				fmt.Fprintf(w, "profiles %d, succeeded %d, failed %d, claimed %d, sent %d, anomalies %d (%s)\n",
					res.Profiles, res.Succeeded, res.Failed, res.Claimed, res.Sent, res.Anomalies, res.Took)
				for id, msg := range res.Errors {
					fmt.Fprintf(w, "  profile %s: %s\n", id, msg)
				}
			}); outErr != nil {
				return outErr
			}
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d profiles failed", res.Failed, res.Profiles)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "profiles synced in parallel")
	return cmd
}

// NewMigrateCommand applies the store schema.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLocal(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer l.Close()
			if err := l.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), opts, map[string]bool{"migrated": true}, func(w io.Writer) {
				fmt.Fprintln(w, "schema up to date")
			})
		},
	}
}

func printSyncResult(w io.Writer, r *syncer.SyncResult) {
	names := make([]string, 0, len(r.Transitions))
	for _, t := range r.Transitions {
		names = append(names, string(t.Type))
	}
	transitions := "none"
	if len(names) > 0 {
		transitions = strings.Join(names, ",")
	}
	fmt.Fprintf(w, "profile %d: %s verified=%t transitions=%s claimed=%d duplicates=%d sent=%d failed=%d\n",
		r.ProfileID, r.Status, r.Verified, transitions, r.Claimed, r.Duplicates, r.Sent,
		r.TransientFailures+r.PermanentFailures)
	for _, a := range r.Anomalies {
		fmt.Fprintf(w, "  anomaly %s: %s\n", a.Kind, a.Detail)
	}
}
