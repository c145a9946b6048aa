package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/session"
)

// RootOptions holds global flags and the configuration commands share.
type RootOptions struct {
	Verbose bool
	Format  string
	MonthID int64

	Config *config.Config
	Logger *log.Logger
}

// NewRootCommand creates the ledgerctl command tree.
func NewRootCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	opts := &RootOptions{Config: cfg, Logger: log.OrDiscard(logger)}

	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Manage expense attachments, drafts and month locks",
		Long:          "ledgerctl talks to the accounting backend to attach receipts to expenses, stage draft expenses and close or reopen accounting months.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "show transfer progress")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().Int64Var(&opts.MonthID, "month", 0, "accounting month id (default LEDGER_MONTH_ID)")

	cmd.AddCommand(newAttachCommand(opts))
	cmd.AddCommand(newDraftsCommand(opts))
	cmd.AddCommand(newExpenseCommand(opts))
	cmd.AddCommand(newMonthCommand(opts))

	return cmd
}

type sessionRunE func(cmd *cobra.Command, s *session.Session, args []string) error

// withSession opens a session for the selected month around fn and closes it
// afterwards, whatever fn returns.
func (o *RootOptions) withSession(fn sessionRunE) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := o.open(cmd)
		if s != nil {
			defer func() {
				if cerr := s.Close(); err == nil {
					err = cerr
				}
			}()
		}
		if err != nil {
			return err
		}
		return fn(cmd, s, args)
	}
}

// open builds the session and loads the selected month. The session is
// returned even when the load fails so the caller can close it.
func (o *RootOptions) open(cmd *cobra.Command) (*session.Session, error) {
	monthID := o.MonthID
	if monthID == 0 {
		monthID = o.Config.MonthID
	}
	if monthID == 0 {
		return nil, core.ErrNoMonth
	}

	var progress func(int, float64)
	if o.Verbose {
		errOut := cmd.ErrOrStderr()
		progress = func(i int, frac float64) {
			fmt.Fprintf(errOut, "  file %d: %3.0f%%\n", i+1, frac*100)
		}
	}

	s, err := NewSession(o.Config, o.Logger, monthID, progress)
	if err != nil {
		return nil, err
	}
	return s, s.Refresh(cmd.Context())
}

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{format: o.Format, out: cmd.OutOrStdout()}
}
