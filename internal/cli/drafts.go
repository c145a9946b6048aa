package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ledger/internal/core"
	"ledger/internal/session"
)

func newDraftsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drafts",
		Aliases: []string{"draft"},
		Short:   "Stage expenses as drafts and submit them later",
	}
	cmd.AddCommand(newDraftsListCommand(opts))
	cmd.AddCommand(newDraftsSaveCommand(opts))
	cmd.AddCommand(newDraftsOpenCommand(opts))
	cmd.AddCommand(newDraftsSubmitCommand(opts))
	cmd.AddCommand(newDraftsRmCommand(opts))
	return cmd
}

func newDraftsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the drafts of the month visible to your role",
		Args:  cobra.NoArgs,
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			items := s.Drafts().Drafts()
			return opts.printer(cmd).result(items, func(w io.Writer) {
				printDrafts(w, items)
			})
		}),
	}
}

func newDraftsSaveCommand(opts *RootOptions) *cobra.Command {
	var pf payloadFlags
	cmd := &cobra.Command{
		Use:     "save",
		Short:   "Save a new draft expense",
		Example: `  ledgerctl drafts save --date 2025-03-01 --category Коммуналка --title Свет --qty 2 --amount 150`,
		Args:    cobra.NoArgs,
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			p, err := pf.payload()
			if err != nil {
				return err
			}
			d, err := s.Drafts().SaveDraft(cmd.Context(), s.MonthID(), p)
			if err != nil {
				return err
			}
			return opts.printer(cmd).result(d, func(w io.Writer) {
				fmt.Fprintf(w, "saved draft %d: %s, total %s\n", d.ID, d.Summary.Title, d.Summary.Total.StringFixed(2))
			})
		}),
	}
	pf.register(cmd.Flags())
	return cmd
}

func newDraftsOpenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <draft-id>",
		Short: "Show the full content of a draft",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			id, err := parseID("draft", args[0])
			if err != nil {
				return err
			}
			p, err := s.Drafts().OpenDraft(id)
			if err != nil {
				return err
			}
			return opts.printer(cmd).result(p, func(w io.Writer) {
				printPayload(w, p)
			})
		}),
	}
}

func newDraftsSubmitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <draft-id>",
		Short: "Turn a draft into an expense",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			id, err := parseID("draft", args[0])
			if err != nil {
				return err
			}
			created, err := s.Drafts().SubmitDraft(cmd.Context(), id)
			if err != nil {
				return err
			}
			return opts.printer(cmd).result(created, func(w io.Writer) {
				fmt.Fprintf(w, "draft %d submitted as expense %d\n", id, created.ID)
				printWarnings(w, created.Warnings)
			})
		}),
	}
}

func newDraftsRmCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <draft-id>",
		Short: "Delete a draft",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			id, err := parseID("draft", args[0])
			if err != nil {
				return err
			}
			if err := s.Drafts().DeleteDraft(cmd.Context(), id); err != nil {
				return err
			}
			return opts.printer(cmd).result(map[string]int64{"deleted": id}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted draft %d\n", id)
			})
		}),
	}
}

func printDrafts(w io.Writer, items []core.ExpenseDraft) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no drafts")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tCATEGORY\tTITLE\tTOTAL\tSAVED")
	for _, d := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Summary.ExpenseDate, d.Summary.Category, d.Summary.Title,
			d.Summary.Total.StringFixed(2), humanize.Time(d.CreatedAt))
	}
	tw.Flush()
}
