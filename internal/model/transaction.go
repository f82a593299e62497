package model

import "time"

// StoredTransaction is the persisted record of a transaction id. It is created
// on the first terminal classification and mutated in place on every later
// sighting.
type StoredTransaction struct {
	FirstSeenAt   time.Time `json:"first_seen_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastRepeatAt  time.Time `json:"last_repeat_at,omitzero"`
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	SenderName    string    `json:"sender_name"`
	SenderPhone   string    `json:"sender_phone"`
	RecipientName string    `json:"recipient_name"`
	BankDate      string    `json:"bank_date"`
	Amount        float64   `json:"amount"`
	RepeatCount   int       `json:"repeat_count"`
	Imported      bool      `json:"imported"`
}

// IsComplete reports whether the record carries a full bank lookup result.
// Incomplete records are re-fetched instead of being counted as repeats.
func (t *StoredTransaction) IsComplete() bool {
	return t.SenderName != "" && t.BankDate != ""
}

// DailyCount is one aggregate counter row.
type DailyCount struct {
	Day    string `json:"day"`
	Status Status `json:"status"`
	Count  int    `json:"count"`
}
