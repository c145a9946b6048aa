package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ledger/internal/core"
	"ledger/internal/session"
)

func newMonthCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "month",
		Short: "Show, close and reopen the accounting month",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the month is open",
		Args:  cobra.NoArgs,
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			return printMonth(opts, cmd, s)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "close",
		Short: "Close the month; expenses, drafts and attachments become read-only",
		Args:  cobra.NoArgs,
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			if err := s.CloseMonth(cmd.Context()); err != nil {
				return err
			}
			return printMonth(opts, cmd, s)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reopen",
		Short: "Reopen a closed month",
		Args:  cobra.NoArgs,
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			if err := s.ReopenMonth(cmd.Context()); err != nil {
				return err
			}
			return printMonth(opts, cmd, s)
		}),
	})
	return cmd
}

func printMonth(opts *RootOptions, cmd *cobra.Command, s *session.Session) error {
	m := s.Summary().Month
	return opts.printer(cmd).result(m, func(w io.Writer) {
		writeMonth(w, m)
	})
}

func writeMonth(w io.Writer, m core.Month) {
	state := "open"
	if m.IsClosed {
		state = "closed"
	}
	fmt.Fprintf(w, "month %d (%04d-%02d): %s", m.ID, m.Year, m.Month, state)
	if m.IsClosed && m.ClosedAt != nil {
		fmt.Fprintf(w, " %s", humanize.Time(*m.ClosedAt))
	}
	if m.IsClosed && m.ClosedBy != nil {
		fmt.Fprintf(w, " by %s", m.ClosedBy.Name)
	}
	fmt.Fprintln(w)
}
