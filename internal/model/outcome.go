package model

import (
	"strconv"
	"strings"
)

// Receipt is the bank's authoritative record for a transaction id. It is
// either fully populated by a lookup or not produced at all.
type Receipt struct {
	Recipient   string `json:"recipient"`
	SenderName  string `json:"sender_name"`
	SenderPhone string `json:"sender_phone"`
	Reason      string `json:"reason,omitempty"`
	Date        string `json:"date"`
	AmountText  string `json:"amount"`
}

// Outcome is the classified result of verifying one receipt, or a batch of
// screenshots belonging to one receipt.
type Outcome struct {
	Status         Status    `json:"status"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	TransactionIDs []string  `json:"transaction_ids,omitempty"`
	Bank           string    `json:"bank,omitempty"`
	AgeLabel       string    `json:"age,omitempty"`
	Severity       Severity  `json:"severity"`
	DisplayText    string    `json:"display_text"`
	RecipientName  string    `json:"recipient_name,omitempty"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderPhone    string    `json:"sender_phone,omitempty"`
	BankDate       string    `json:"bank_date,omitempty"`
	PriorStatus    Status    `json:"prior_status,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Parts          []Outcome `json:"parts,omitempty"`
	FoundAmount    float64   `json:"found_amount"`
	ExpectedAmount float64   `json:"expected_amount"`
	RepeatCount    int       `json:"repeat_count,omitempty"`
	TimeOK         bool      `json:"time_ok"`
	NameOK         bool      `json:"name_ok"`
	AmountOK       bool      `json:"amount_ok"`
	IsReason       bool      `json:"is_reason,omitempty"`
	Transient      bool      `json:"transient,omitempty"`
}

// NewOutcome returns an outcome for status with severity and display text filled in.
func NewOutcome(status Status) Outcome {
	o := Outcome{Status: status}
	o.Finalize()
	return o
}

// Label renders the status as shown to operators. An amount mismatch carries
// the found amount, e.g. "AA 120".
func (o Outcome) Label() string {
	if o.Status == StatusAmountMismatch {
		return string(StatusAmountMismatch) + " " + FormatAmount(o.FoundAmount)
	}
	return string(o.Status)
}

// Finalize derives Severity and, when empty, DisplayText from the other fields.
func (o *Outcome) Finalize() {
	o.Severity = o.Status.Severity()
	if o.DisplayText != "" {
		return
	}
	parts := []string{o.Label()}
	if o.RecipientName != "" {
		parts = append(parts, o.RecipientName)
	}
	if o.AgeLabel != "" {
		parts = append(parts, o.AgeLabel)
	}
	if o.Status == StatusRepeat && o.RepeatCount > 0 {
		parts = append(parts, "x"+strconv.Itoa(o.RepeatCount))
	}
	o.DisplayText = strings.Join(parts, " | ")
}

// FormatAmount prints an amount without trailing zeros.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
