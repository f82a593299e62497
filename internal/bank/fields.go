package bank

import (
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/classification"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

type field int

const (
	fieldRecipient field = iota
	fieldSenderName
	fieldSenderPhone
	fieldReason
	fieldDate
	fieldAmount
	fieldIgnored
)

type label struct {
	text  string
	field field
}

// labels is sorted longest first so "payment date" wins over "date".
var labels = func() []label {
	raw := map[field][]string{
		fieldRecipient:   {"receiver", "receiver name", "credited party name", "credited party", "recipient", "recipient name", "payee", "beneficiary"},
		fieldSenderName:  {"payer", "payer name", "sender", "sender name", "debited party name"},
		fieldSenderPhone: {"payer telebirr no.", "payer phone", "sender phone", "sender phone number", "payer account"},
		fieldReason:      {"reason", "reason / type of service", "narrative", "remark", "payment reason"},
		fieldDate:        {"payment date & time", "payment date", "transaction date", "transaction time", "date"},
		fieldAmount:      {"transferred amount", "settled amount", "total amount paid", "amount"},
		fieldIgnored:     {"receiver account", "receiver bank", "reference no.", "amount in word", "amount in words", "total amount in word"},
	}
	var out []label
	for f, texts := range raw {
		for _, t := range texts {
			out = append(out, label{text: t, field: f})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].text) != len(out[j].text) {
			return len(out[i].text) > len(out[j].text)
		}
		return out[i].text < out[j].text
	})
	return out
}()

var dateLayouts = []string{
	classification.BankDateLayout,
	"2006-01-02 15:04:05",
	"02-01-2006 15:04:05",
	"02/01/2006 15:04:05",
	"2/1/2006, 3:04:05 PM",
	"Jan 2, 2006 15:04:05",
	"Jan 2, 2006, 3:04:05 PM",
	"2006-01-02T15:04:05",
}

// ParseReceipt maps receipt text lines to fields. A label may be followed by
// its value on the same line ("Payer: Abebe") or on the next line. The first
// occurrence of each field wins.
func ParseReceipt(lines []string, loc *time.Location) model.Receipt {
	found := make(map[field]string)

	for i, line := range lines {
		f, value, ok := matchLabel(line)
		if !ok {
			continue
		}
		if _, seen := found[f]; seen || f == fieldIgnored {
			continue
		}
		if value == "" {
			value = nextValue(lines, i)
		}
		if value != "" {
			found[f] = value
		}
	}

	return model.Receipt{
		Recipient:   found[fieldRecipient],
		SenderName:  found[fieldSenderName],
		SenderPhone: found[fieldSenderPhone],
		Reason:      found[fieldReason],
		Date:        NormalizeDate(found[fieldDate], loc),
		AmountText:  found[fieldAmount],
	}
}

func matchLabel(line string) (field, string, bool) {
	lower := strings.ToLower(line)
	for _, l := range labels {
		if !strings.HasPrefix(lower, l.text) {
			continue
		}
		rest := line[len(l.text):]
		if rest != "" && rest[0] != ':' && rest[0] != ' ' && rest[0] != '\t' {
			continue
		}
		return l.field, strings.TrimSpace(strings.TrimLeft(rest, ": \t")), true
	}
	return 0, "", false
}

// nextValue returns the line after i unless it is itself a label.
func nextValue(lines []string, i int) string {
	if i+1 >= len(lines) {
		return ""
	}
	if _, _, isLabel := matchLabel(lines[i+1]); isLabel {
		return ""
	}
	return lines[i+1]
}

// NormalizeDate rewrites a receipt date into classification.BankDateLayout.
// Dates without an offset are read in loc. Unrecognised input is returned unchanged.
func NormalizeDate(raw string, loc *time.Location) string {
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.Format(classification.BankDateLayout)
		}
	}
	return raw
}
