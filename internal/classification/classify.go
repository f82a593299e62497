// Package classification turns a bank receipt into a verification outcome.
package classification

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// BankDateLayout is the timestamp format bank receipts are normalised to.
const BankDateLayout = "2006-01-02 15:04:05 -0700"

// AmountTolerance is the largest difference still treated as an exact amount match.
const AmountTolerance = 0.01

// DefaultMinimumAmount is the floor applied when a policy leaves MinimumAmount unset.
const DefaultMinimumAmount = 50.0

// Policy is what a receipt is checked against.
type Policy struct {
	ExpectedRecipient string
	ExpectedAmount    float64
	MaxAgeHours       float64
	// MinimumAmount rejects trivially small transfers regardless of ExpectedAmount. Zero means DefaultMinimumAmount.
	MinimumAmount float64
}

var genericRecipients = map[string]bool{
	"telebirr":      true,
	"ethio telecom": true,
	"wallet":        true,
	"-":             true,
}

var amountPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// Classify checks a receipt in strict priority order: recipient name, age,
// minimum amount, then amount equality. The first failing check decides the status.
func Classify(r model.Receipt, p Policy, now time.Time) model.Outcome {
	minimum := p.MinimumAmount
	if minimum == 0 {
		minimum = DefaultMinimumAmount
	}

	effective := CollapseSpace(r.Recipient)
	isReason := false
	if IsGenericRecipient(effective) {
		if reason := CollapseSpace(r.Reason); reason != "" {
			effective = reason
			isReason = true
		}
	}

	expected := CollapseSpace(p.ExpectedRecipient)
	nameOK := expected == "" || strings.Contains(strings.ToLower(effective), strings.ToLower(expected))

	found := ParseAmount(r.AmountText)
	amountOK := math.Abs(found-p.ExpectedAmount) < AmountTolerance

	timeOK, ageLabel := checkAge(r.Date, p.MaxAgeHours, now)

	out := model.Outcome{
		FoundAmount:    found,
		ExpectedAmount: p.ExpectedAmount,
		AgeLabel:       ageLabel,
		TimeOK:         timeOK,
		NameOK:         nameOK,
		AmountOK:       amountOK,
		IsReason:       isReason,
		RecipientName:  effective,
		SenderName:     CollapseSpace(r.SenderName),
		SenderPhone:    strings.TrimSpace(r.SenderPhone),
		BankDate:       strings.TrimSpace(r.Date),
	}
	if nameOK && expected != "" {
		out.RecipientName = expected
	}

	switch {
	case !nameOK:
		out.Status = model.StatusWrongRecipient
	case !timeOK:
		out.Status = model.StatusOldReceipt
	case found < minimum:
		out.Status = model.StatusUnderMinimum
	case !amountOK:
		out.Status = model.StatusAmountMismatch
	default:
		out.Status = model.StatusVerified
	}

	out.Finalize()
	return out
}

// CollapseSpace trims s and folds internal whitespace runs into single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsGenericRecipient reports whether name is a wallet placeholder rather than a party name.
func IsGenericRecipient(name string) bool {
	return genericRecipients[strings.ToLower(CollapseSpace(name))]
}

// ParseAmount returns the first number in text with thousands separators removed, or 0.
func ParseAmount(text string) float64 {
	m := amountPattern.FindString(text)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

func checkAge(date string, maxAgeHours float64, now time.Time) (bool, string) {
	ts, err := time.Parse(BankDateLayout, strings.TrimSpace(date))
	if err != nil {
		return false, "unknown"
	}
	elapsed := now.Sub(ts)
	if elapsed <= 0 {
		return false, "future"
	}
	maxAge := time.Duration(maxAgeHours * float64(time.Hour))
	return elapsed <= maxAge, AgeLabel(elapsed)
}

// AgeLabel renders an elapsed duration for operators, e.g. "10m ago" or "2h 5m ago".
func AgeLabel(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return strconv.Itoa(int(d/time.Minute)) + "m ago"
	case d < 24*time.Hour:
		h := int(d / time.Hour)
		m := int((d % time.Hour) / time.Minute)
		if m == 0 {
			return strconv.Itoa(h) + "h ago"
		}
		return strconv.Itoa(h) + "h " + strconv.Itoa(m) + "m ago"
	default:
		days := int(d / (24 * time.Hour))
		h := int((d % (24 * time.Hour)) / time.Hour)
		if h == 0 {
			return strconv.Itoa(days) + "d ago"
		}
		return strconv.Itoa(days) + "d " + strconv.Itoa(h) + "h ago"
	}
}
