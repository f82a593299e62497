package model

import (
	"strings"
)

// BankSpec describes the transaction id shape and receipt lookup URL of one payment provider.
type BankSpec struct {
	Name              string   `json:"name" mapstructure:"name"`
	LookupURLTemplate string   `json:"lookup_url" mapstructure:"lookup_url"`
	Prefixes          []string `json:"prefixes" mapstructure:"prefixes"`
	IDLength          int      `json:"id_length" mapstructure:"id_length"`
}

// Accepts reports whether id has exactly the bank's id length and starts with one of its prefixes.
func (b BankSpec) Accepts(id string) bool {
	if b.IDLength <= 0 || len(id) != b.IDLength {
		return false
	}
	for _, p := range b.Prefixes {
		if p != "" && strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// LookupURL builds the receipt URL for id. A "{id}" placeholder is substituted;
// without one the id is appended.
func (b BankSpec) LookupURL(id string) string {
	if strings.Contains(b.LookupURLTemplate, "{id}") {
		return strings.ReplaceAll(b.LookupURLTemplate, "{id}", id)
	}
	return b.LookupURLTemplate + id
}

// BankSpecs is the configured, ordered set of banks.
type BankSpecs []BankSpec

// Match returns the first bank whose shape accepts id.
func (bs BankSpecs) Match(id string) (BankSpec, bool) {
	for _, b := range bs {
		if b.Accepts(id) {
			return b, true
		}
	}
	return BankSpec{}, false
}

// IsValidIDFormat reports whether any configured bank accepts id.
func IsValidIDFormat(id string, banks BankSpecs) bool {
	_, ok := banks.Match(id)
	return ok
}
