package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidIDFormat(t *testing.T) {
	banks := BankSpecs{
		{Name: "telebirr", IDLength: 10, Prefixes: []string{"C", "D"}},
		{Name: "cbe", IDLength: 12, Prefixes: []string{"801", "FT"}},
	}

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{name: "cbe exact", id: "801457901704", want: true},
		{name: "cbe second prefix", id: "FT2345678901", want: true},
		{name: "telebirr", id: "CAB1234567", want: true},
		{name: "one short", id: "80145790170", want: false},
		{name: "one long", id: "8014579017041", want: false},
		{name: "wrong prefix", id: "901457901704", want: false},
		{name: "partial prefix", id: "800457901704", want: false},
		{name: "prefix of other bank length", id: "C12345678901", want: false},
		{name: "empty", id: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidIDFormat(tt.id, banks))
		})
	}
}

func TestBankSpecAcceptsIgnoresEmptyPrefix(t *testing.T) {
	b := BankSpec{IDLength: 3, Prefixes: []string{""}}
	assert.False(t, b.Accepts("123"))
}

func TestBankSpecsMatchOrder(t *testing.T) {
	banks := BankSpecs{
		{Name: "first", IDLength: 4, Prefixes: []string{"1"}},
		{Name: "second", IDLength: 4, Prefixes: []string{"12"}},
	}
	b, ok := banks.Match("1234")
	assert.True(t, ok)
	assert.Equal(t, "first", b.Name)
}

func TestLookupURL(t *testing.T) {
	assert.Equal(t, "https://bank.example/r?id=801",
		BankSpec{LookupURLTemplate: "https://bank.example/r?id="}.LookupURL("801"))
	assert.Equal(t, "https://bank.example/801/receipt",
		BankSpec{LookupURLTemplate: "https://bank.example/{id}/receipt"}.LookupURL("801"))
}

func TestOutcomeLabel(t *testing.T) {
	o := Outcome{Status: StatusAmountMismatch, FoundAmount: 120}
	assert.Equal(t, "AA 120", o.Label())
	o.FoundAmount = 70.5
	assert.Equal(t, "AA 70.5", o.Label())
	assert.Equal(t, "Wrong Recipient", Outcome{Status: StatusWrongRecipient}.Label())
}

func TestStatusProperties(t *testing.T) {
	assert.True(t, StatusVerified.Soft())
	assert.True(t, StatusAmountMismatch.Soft())
	assert.Equal(t, SeverityHard, StatusWrongRecipient.Severity())
	assert.False(t, StatusImageLoadFailed.Persisted())
	assert.False(t, StatusOffline.Persisted())
	assert.False(t, StatusRateLimited.Persisted())
	assert.True(t, StatusAIError.Persisted())
	assert.True(t, StatusRandom.Persisted())
	assert.True(t, StatusRateLimited.Transient())
	assert.True(t, Status("Repeat").Valid())
	assert.False(t, Status("Nope").Valid())
}

func TestStoredTransactionIsComplete(t *testing.T) {
	assert.True(t, (&StoredTransaction{SenderName: "A", BankDate: "2025-01-01 10:00:00 +0300"}).IsComplete())
	assert.False(t, (&StoredTransaction{SenderName: "A"}).IsComplete())
	assert.False(t, (&StoredTransaction{BankDate: "x"}).IsComplete())
}
