package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ledger/internal/core"
	"ledger/internal/session"
	"ledger/internal/upload"
)

func newExpenseCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "expense",
		Aliases: []string{"expenses"},
		Short:   "List and create expenses",
	}
	cmd.AddCommand(newExpenseListCommand(opts))
	cmd.AddCommand(newExpenseCreateCommand(opts))
	return cmd
}

func newExpenseListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the expenses of the month",
		Args:  cobra.NoArgs,
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			items := s.Expenses()
			return opts.printer(cmd).result(items, func(w io.Writer) {
				printExpenses(w, items)
			})
		}),
	}
}

type createdView struct {
	Expense  core.CreatedExpense `json:"expense"`
	Rejected []outcomeView       `json:"rejected,omitempty"`
	Upload   *batchReportView    `json:"upload,omitempty"`
}

func newExpenseCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		pf    payloadFlags
		files []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an expense and upload its receipts",
		Long: `Create an expense in the selected month. Files given with --file are checked
first; the ones that pass are uploaded to the new expense once it exists.`,
		Example: `  ledgerctl expense create --date 2025-03-01 --category Прочее --title Bread --amount 3,50 --file receipt.jpg`,
		Args:    cobra.NoArgs,
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			p, err := pf.payload()
			if err != nil {
				return err
			}
			local, err := loadFiles(files)
			if err != nil {
				return err
			}

			var view createdView
			added := s.Pending().Add(local)
			for _, rej := range added.Rejected {
				view.Rejected = append(view.Rejected, outcomeView{File: rej.File.Name, Error: rej.Err.Message})
			}

			created, report, err := s.CreateExpense(cmd.Context(), p)
			if created.ID == 0 {
				return err
			}
			view.Expense = created
			if len(report.Outcomes) > 0 || len(report.Rejected) > 0 {
				bv := batchView(report)
				view.Upload = &bv
			}

			if perr := opts.printer(cmd).result(view, func(w io.Writer) {
				fmt.Fprintf(w, "created expense %d\n", created.ID)
				printWarnings(w, created.Warnings)
				for _, rej := range view.Rejected {
					fmt.Fprintf(w, "SKIP  %s: %s\n", rej.File, rej.Error)
				}
				if view.Upload != nil {
					printBatch(w, report)
				}
			}); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if len(added.Rejected) > 0 || !report.Complete() {
				return fmt.Errorf("expense %d created but %d file(s) not attached", created.ID, notAttached(added, report))
			}
			return nil
		}),
	}
	pf.register(cmd.Flags())
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "receipt to attach (repeatable)")
	return cmd
}

func notAttached(added upload.Result, report upload.BatchReport) int {
	return len(added.Rejected) + len(report.Rejected) + len(report.Failed())
}

func printExpenses(w io.Writer, items []core.Expense) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no expenses")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tCATEGORY\tTITLE\tTOTAL\tFILES")
	for _, e := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			e.ID, e.ExpenseDate, e.Category, e.Title, e.Total.StringFixed(2), e.AttachmentsCount)
	}
	tw.Flush()
}
