package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bookshelf/relmigrate"
	"github.com/bookshelf/relmigrate/extensions/report"
	"github.com/bookshelf/relmigrate/migration"
)

// withApp wires the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(m *migration.Migration) error) error {
	a, err := newApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.migration)
}

// NewStartCommand creates the start command.
func NewStartCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start a new migration run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(m *migration.Migration) error {
				_, err := m.Start(cmd.Context())
				if er := printStatus(cmd, opts, m); er != nil && err == nil {
					err = er
				}
				return err
			})
		},
	}
}

// NewRestartCommand creates the restart command.
func NewRestartCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restart [executionId]",
		Short: "Resume the latest failed run, or the given failed execution",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var executionId int64
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid execution id %q", args[0])
				}
				executionId = id
			}
			return withApp(cmd, opts, func(m *migration.Migration) error {
				_, err := m.Restart(cmd.Context(), executionId)
				if errors.Is(err, relmigrate.ErrNoFailedExecution) || errors.Is(err, relmigrate.ErrJobRunning) {
					return err
				}
				if er := printStatus(cmd, opts, m); er != nil && err == nil {
					err = er
				}
				return err
			})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest run with per-step progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(m *migration.Migration) error {
				return printStatus(cmd, opts, m)
			})
		},
	}
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the target collections, validators and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(m *migration.Migration) error {
				if err := m.Schema(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "target schema is up to date")
				return nil
			})
		},
	}
}

// NewCleanCommand creates the clean command.
func NewCleanCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Drop the target collections and all id mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("clean drops all migrated data, pass --yes to confirm")
			}
			return withApp(cmd, opts, func(m *migration.Migration) error {
				if err := m.Clean(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "target collections and id mappings removed")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping migrated data")
	return cmd
}

func printStatus(cmd *cobra.Command, opts *RootOptions, m *migration.Migration) error {
	execution, err := m.Status(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if execution == nil {
		if opts.Format == "json" {
			_, err = fmt.Fprintln(out, "null")
			return err
		}
		_, err = fmt.Fprintf(out, "job %s has not run\n", m.JobName())
		return err
	}
	summary := report.Summarize(execution)
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	writeSummary(out, summary)
	return nil
}

func writeSummary(w io.Writer, s *report.Summary) {
	fmt.Fprintf(w, "job %s execution %d: %s", s.JobName, s.JobExecutionId, s.Status)
	if s.RestartOf != 0 {
		fmt.Fprintf(w, " (restart of %d)", s.RestartOf)
	}
	if s.ExitMessage != "" {
		fmt.Fprintf(w, " - %s", s.ExitMessage)
	}
	fmt.Fprintln(w)
	for _, step := range s.Steps {
		fmt.Fprintf(w, "  %-14s %-9s read=%d written=%d filtered=%d commits=%d offset=%d\n",
			step.Name, step.Status, step.ReadCount, step.WriteCount, step.FilterCount, step.CommitCount, step.LastCommittedOffset)
	}
}
