package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ledger/internal/core"
	"ledger/internal/session"
	"ledger/internal/upload"
)

func newAttachCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "List, upload, download and delete expense attachments",
	}
	cmd.AddCommand(newAttachListCommand(opts))
	cmd.AddCommand(newAttachUploadCommand(opts))
	cmd.AddCommand(newAttachGetCommand(opts))
	cmd.AddCommand(newAttachRmCommand(opts))
	return cmd
}

func newAttachListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <expense-id>",
		Short: "List the attachments of an expense",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			expenseID, err := parseID("expense", args[0])
			if err != nil {
				return err
			}
			items, err := s.Attachments().Refresh(cmd.Context(), expenseID)
			if err != nil {
				return err
			}
			return opts.printer(cmd).result(items, func(w io.Writer) {
				printAttachments(w, items)
			})
		}),
	}
}

func newAttachUploadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <expense-id> <file>...",
		Short: "Upload files to an expense",
		Long: `Upload files to an expense, one at a time in the given order.

Files must be JPEG, PNG, WebP or PDF and at most 10 MiB each; an expense holds
at most 10 attachments. A failed file does not stop the others.`,
		Args: cobra.MinimumNArgs(2),
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			expenseID, err := parseID("expense", args[0])
			if err != nil {
				return err
			}
			files, err := loadFiles(args[1:])
			if err != nil {
				return err
			}
			report, err := s.Uploads().UploadBatch(cmd.Context(), expenseID, files)
			if err != nil {
				return err
			}
			if err := opts.printer(cmd).result(batchView(report), func(w io.Writer) {
				printBatch(w, report)
			}); err != nil {
				return err
			}
			if !report.Complete() {
				return fmt.Errorf("%d of %d files not uploaded", len(files)-len(report.Uploaded()), len(files))
			}
			return nil
		}),
	}
}

func newAttachGetCommand(opts *RootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <attachment-id>",
		Short: "Download an attachment",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			id, err := parseID("attachment", args[0])
			if err != nil {
				return err
			}
			h, err := s.Viewer().Open(cmd.Context(), core.Attachment{ID: id})
			if err != nil {
				return err
			}
			defer s.Viewer().Close()

			rc, err := h.Open()
			if err != nil {
				return err
			}
			defer rc.Close()

			if out == "" || out == "-" {
				_, err = io.Copy(cmd.OutOrStdout(), rc)
				return err
			}
			n, err := writeFile(out, rc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (%s, %s)\n", out, h.Mime(), humanize.IBytes(uint64(n)))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newAttachRmCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <expense-id> <attachment-id>",
		Short: "Delete an attachment",
		Args:  cobra.ExactArgs(2),
		RunE: opts.withSession(func(cmd *cobra.Command, s *session.Session, args []string) error {
			expenseID, err := parseID("expense", args[0])
			if err != nil {
				return err
			}
			id, err := parseID("attachment", args[1])
			if err != nil {
				return err
			}
			if err := s.DeleteAttachment(cmd.Context(), expenseID, id); err != nil {
				return err
			}
			items := s.Attachments().Get(expenseID)
			return opts.printer(cmd).result(items, func(w io.Writer) {
				fmt.Fprintf(w, "deleted attachment %d\n", id)
				printAttachments(w, items)
			})
		}),
	}
}

// writeFile copies r into a new file at path. A failed close is reported
// because the data may not have reached the disk.
func writeFile(path string, r io.Reader) (n int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if n, err = io.Copy(f, r); err != nil {
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	return n, nil
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}

func loadFiles(paths []string) ([]core.File, error) {
	files := make([]core.File, 0, len(paths))
	for _, p := range paths {
		f, err := core.FileFromPath(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func printAttachments(w io.Writer, items []core.Attachment) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no attachments")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tTYPE\tSIZE\tADDED")
	for _, a := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			a.ID, a.OrigFilename, a.Mime, humanize.IBytes(uint64(a.SizeBytes)), humanize.Time(a.CreatedAt))
	}
	tw.Flush()
}

type outcomeView struct {
	File       string           `json:"file"`
	Attachment *core.Attachment `json:"attachment,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type batchReportView struct {
	ExpenseID int64         `json:"expense_id"`
	Results   []outcomeView `json:"results"`
	Rejected  []outcomeView `json:"rejected,omitempty"`
}

func batchView(r upload.BatchReport) batchReportView {
	v := batchReportView{ExpenseID: r.ExpenseID, Results: []outcomeView{}}
	for _, o := range r.Outcomes {
		ov := outcomeView{File: o.File.Name}
		if o.Err != nil {
			ov.Error = o.Err.Error()
		} else {
			att := o.Attachment
			ov.Attachment = &att
		}
		v.Results = append(v.Results, ov)
	}
	for _, rej := range r.Rejected {
		v.Rejected = append(v.Rejected, outcomeView{File: rej.File.Name, Error: rej.Err.Message})
	}
	return v
}

func printBatch(w io.Writer, r upload.BatchReport) {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "FAIL  %s: %v\n", o.File.Name, o.Err)
			continue
		}
		fmt.Fprintf(w, "OK    %s -> attachment %d (%s)\n", o.File.Name, o.Attachment.ID, humanize.IBytes(uint64(o.Attachment.SizeBytes)))
	}
	for _, rej := range r.Rejected {
		fmt.Fprintf(w, "SKIP  %s: %s\n", rej.File.Name, rej.Err.Message)
	}
	if r.RefreshErr != nil {
		fmt.Fprintf(w, "warning: could not reload attachment list: %v\n", r.RefreshErr)
	} else {
		fmt.Fprintf(w, "expense %d now has %d attachment(s)\n", r.ExpenseID, len(r.Attachments))
	}
}
