package main

import (
	"fmt"
	"io"
	"time"

	"github.com/paul-bdio/zorro/app/standalone"
	"github.com/paul-bdio/zorro/pkg/logging"
	"github.com/paul-bdio/zorro/pkg/temporal"
	"github.com/paul-bdio/zorro/pkg/temporal/profilesync"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func dialTemporal(cmd *cobra.Command, opts *RootOptions) (*temporal.Client, error) {
	logger, err := logging.NewWithOutput("zorroctl", opts.Log)
	if err != nil {
		return nil, err
	}
	return temporal.NewClient(cmd.Context(), logger)
}

// NewTriggerCommand starts SyncProfileWorkflow runs, or one sweep, on the Temporal cluster.
func NewTriggerCommand(opts *RootOptions) *cobra.Command {
	var sweep bool
	var source string
	cmd := &cobra.Command{
		Use:   "trigger [profile-id]...",
		Short: "Start sync workflows on Temporal",
		Example: `  zorroctl trigger 12 13
  zorroctl trigger --sweep`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sweep == (len(args) > 0) {
				return fmt.Errorf("pass profile ids or --sweep")
			}
			ids, err := parseProfileIDs(args)
			if err != nil {
				return err
			}
			tc, err := dialTemporal(cmd, opts)
			if err != nil {
				return err
			}
			defer tc.Close()

			var started []string
			if sweep {
				wfID, err := tc.StartSweep(cmd.Context())
				if err != nil {
					return err
				}
				started = append(started, wfID)
			}
			for _, id := range ids {
				wfID, err := tc.StartProfileSync(cmd.Context(), profilesync.SyncInput{ProfileID: id, Source: source})
				if err != nil {
					return fmt.Errorf("profile %d: %w", id, err)
				}
				started = append(started, wfID)
			}
			return output(cmd.OutOrStdout(), opts, map[string][]string{"workflows": started}, func(w io.Writer) {
				for _, wfID := range started {
					fmt.Fprintf(w, "started %s\n", wfID)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&sweep, "sweep", false, "start one sweep over every profile")
	cmd.Flags().StringVar(&source, "source", "cli", "source recorded on the workflow input")
	return cmd
}

// NewScheduleCommand creates the periodic sweep schedule if it does not exist yet.
func NewScheduleCommand(opts *RootOptions) *cobra.Command {
	var interval time.Duration
	var retention time.Duration
	var namespace bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Ensure the Temporal namespace and sweep schedule exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := dialTemporal(cmd, opts)
			if err != nil {
				return err
			}
			defer tc.Close()

			if namespace {
				if err := tc.EnsureNamespace(cmd.Context(), retention); err != nil {
					return err
				}
			}
			if err := tc.EnsureSweepSchedule(cmd.Context(), interval); err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), opts, map[string]string{
				"namespace": tc.Namespace,
				"schedule":  tc.SweepScheduleID,
				"interval":  interval.String(),
			}, func(w io.Writer) {
				fmt.Fprintf(w, "schedule %s in namespace %s every %s\n", tc.SweepScheduleID, tc.Namespace, interval)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "time between sweeps")
	cmd.Flags().DurationVar(&retention, "retention", 72*time.Hour, "workflow history retention when the namespace is created")
	cmd.Flags().BoolVar(&namespace, "namespace", false, "register the namespace if it is missing")
	return cmd
}

// NewRunCommand sweeps on a local cron schedule without Temporal.
func NewRunCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sweep on CRON_SPEC until interrupted, without Temporal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := standalone.Initialize(cmd.Context())
			if err != nil {
				return err
			}
			// First pass before cron.
			if _, err := app.Sweep(cmd.Context()); err != nil {
				app.Logger.Warn("Initial sweep failed", zap.Error(err))
			}
			app.Start(cmd.Context())
			return nil
		},
	}
}
