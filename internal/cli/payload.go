package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"ledger/internal/core"
)

// payloadFlags collects the expense fields shared by drafts save and
// expense create.
type payloadFlags struct {
	date     string
	category string
	title    string
	qty      string
	amount   string
	comment  string
	tags     []string
}

func (f *payloadFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.date, "date", "", "expense date (YYYY-MM-DD)")
	fs.StringVar(&f.category, "category", "", "expense category")
	fs.StringVar(&f.title, "title", "", "expense title")
	fs.StringVar(&f.qty, "qty", "1", "quantity")
	fs.StringVar(&f.amount, "amount", "", "unit amount, dot or comma decimal separator")
	fs.StringVar(&f.comment, "comment", "", "free text comment")
	fs.StringSliceVar(&f.tags, "tag", nil, "tag (repeatable)")
}

func (f *payloadFlags) payload() (core.DraftPayload, error) {
	qty, err := core.ParseQty(f.qty)
	if err != nil {
		return core.DraftPayload{}, fmt.Errorf("--qty %q: %w", f.qty, err)
	}
	amount, err := core.ParseAmount(f.amount)
	if err != nil {
		return core.DraftPayload{}, fmt.Errorf("--amount %q: %w", f.amount, err)
	}
	p := core.DraftPayload{
		ExpenseDate: strings.TrimSpace(f.date),
		Category:    strings.TrimSpace(f.category),
		Title:       strings.TrimSpace(f.title),
		Qty:         qty,
		UnitAmount:  amount,
		Tags:        f.tags,
	}
	if c := strings.TrimSpace(f.comment); c != "" {
		p.Comment = &c
	}
	return p, nil
}

func printPayload(w io.Writer, p core.DraftPayload) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Date:\t%s\n", p.ExpenseDate)
	fmt.Fprintf(tw, "Category:\t%s\n", p.Category)
	fmt.Fprintf(tw, "Title:\t%s\n", p.Title)
	fmt.Fprintf(tw, "Qty:\t%s\n", p.Qty)
	fmt.Fprintf(tw, "Unit amount:\t%s\n", p.UnitAmount.StringFixed(2))
	fmt.Fprintf(tw, "Total:\t%s\n", p.Total().StringFixed(2))
	if p.Comment != nil {
		fmt.Fprintf(tw, "Comment:\t%s\n", *p.Comment)
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(tw, "Tags:\t%s\n", strings.Join(p.Tags, ", "))
	}
	tw.Flush()
}

func printWarnings(w io.Writer, warnings []core.Warning) {
	for _, wn := range warnings {
		if wn.Category != "" {
			fmt.Fprintf(w, "warning: %s (%s)\n", wn.Type, wn.Category)
			continue
		}
		fmt.Fprintf(w, "warning: %s\n", wn.Type)
	}
}
