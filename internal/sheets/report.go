package sheets

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// Report is one day's verification activity.
type Report struct {
	Day          time.Time
	Counts       []model.DailyCount
	Transactions []model.StoredTransaction
}

// Total returns the sum of all counters.
func (r Report) Total() int {
	total := 0
	for _, c := range r.Counts {
		total += c.Count
	}
	return total
}

// SheetTitle is the tab a report is written to, one per day.
func (r Report) SheetTitle() string {
	return r.Day.Format("2006-01-02")
}

var transactionHeader = []any{
	"Transaction ID",
	"Status",
	"Sender",
	"Phone",
	"Recipient",
	"Amount",
	"Bank Date",
	"First Seen",
	"Updated",
	"Repeats",
	"Imported",
}

// prepareReportData lays the report out as rows: a title, the per-status
// summary, then every transaction touched that day, newest first.
func prepareReportData(r Report) [][]any {
	values := make([][]any, 0, 8+len(r.Counts)+len(r.Transactions))

	values = append(values,
		[]any{"Receipt Verification Report", r.Day.Format("Jan 2, 2006")},
		[]any{},
		[]any{"Summary"},
		[]any{"Status", "Count"},
	)
	for _, c := range r.Counts {
		values = append(values, []any{string(c.Status), c.Count})
	}
	values = append(values,
		[]any{"Total", r.Total()},
		[]any{},
		[]any{"Transactions"},
		transactionHeader,
	)

	txns := slices.Clone(r.Transactions)
	slices.SortStableFunc(txns, func(a, b model.StoredTransaction) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	for _, t := range txns {
		imported := ""
		if t.Imported {
			imported = "yes"
		}
		values = append(values, []any{
			// A leading quote keeps long ids from turning into numbers.
			"'" + t.ID,
			string(t.Status),
			t.SenderName,
			t.SenderPhone,
			t.RecipientName,
			t.Amount,
			t.BankDate,
			formatTime(t.FirstSeenAt),
			formatTime(t.UpdatedAt),
			t.RepeatCount,
			imported,
		})
	}

	return values
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateTime)
}

// summaryRows returns how many rows precede the transaction header.
func summaryRows(r Report) int {
	return 4 + len(r.Counts) + 3
}

func quoteSheet(title string) string {
	return fmt.Sprintf("'%s'", strings.ReplaceAll(title, "'", "''"))
}
