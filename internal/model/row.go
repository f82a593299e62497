package model

import "time"

// SourceKind is where a row's screenshots came from.
type SourceKind string

// Source kinds.
const (
	SourceImage SourceKind = "image"
	SourcePDF   SourceKind = "pdf"
)

// Row is one unit of work in a worklist.
type Row struct {
	Key            string     `json:"key"`
	Label          string     `json:"label,omitempty"`
	Source         SourceKind `json:"source"`
	ImageURLs      []string   `json:"images"`
	ExpectedAmount float64    `json:"expected_amount"`
	Verified       bool       `json:"verified,omitempty"`
}

// IsPDF reports whether the row's images were captured from a PDF.
func (r Row) IsPDF() bool {
	return r.Source == SourcePDF
}

// Image is one screenshot handed to the vision model.
type Image struct {
	Source   string
	MIMEType string
	Data     []byte
}

// RowState is the in-memory lifecycle of a row inside a batch run.
type RowState string

// Row states.
const (
	RowIdle       RowState = "idle"
	RowProcessing RowState = "processing"
	RowResolved   RowState = "resolved"
	RowCancelled  RowState = "cancelled"
	RowTimedOut   RowState = "timed-out"
)

// Terminal reports whether the state ends the row's entry.
func (s RowState) Terminal() bool {
	return s == RowResolved || s == RowCancelled || s == RowTimedOut
}

// RowMark is a persisted per-row annotation such as a session skip.
type RowMark struct {
	ExpiresAt time.Time `json:"expires_at"`
	RowKey    string    `json:"row_key"`
	Mark      string    `json:"mark"`
}

// Row mark values.
const (
	MarkSkipped = "skipped"
	MarkRetry   = "retry"
	MarkReject  = "reject"
)
