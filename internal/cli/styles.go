// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#5FAFFF")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4") // Teal
	// WarningColor indicates warnings or soft results.
	WarningColor = lipgloss.Color("#FFE66D") // Yellow
	// ErrorColor indicates errors or hard results.
	ErrorColor = lipgloss.Color("#FF6B6B") // Red
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3") // Light teal
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666") // Gray

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().
			Foreground(InfoColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// PromptStyle is used for user prompts.
	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	ReceiptIcon = "🧾"
	PauseIcon   = "⏸"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the receipt icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(ReceiptIcon + " " + title)
}

// FormatPrompt formats a prompt message.
func FormatPrompt(prompt string) string {
	return PromptStyle.Render(prompt + " → ")
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.
		UnsetMargins().
		Render(title)

	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, boxTitle, content))
}

// StatusStyle picks the color for a verification status. Verified is green,
// the other soft status yellow, transient conditions gray, everything else red.
func StatusStyle(s model.Status) lipgloss.Style {
	switch {
	case s == model.StatusVerified:
		return SuccessStyle
	case s.Soft():
		return WarningStyle
	case s.Transient():
		return SubtleStyle
	default:
		return ErrorStyle
	}
}

// FormatOutcome renders the outcome's display text in its status color.
func FormatOutcome(o model.Outcome) string {
	text := o.DisplayText
	if text == "" {
		text = o.Label()
	}
	return StatusStyle(o.Status).Render(text)
}

// RenderOutcome renders a boxed breakdown of an outcome, one line per field
// that is set, followed by any per-image parts.
func RenderOutcome(o model.Outcome) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s %s\n", SubtleStyle.Render(fmt.Sprintf("%-12s", label)), value)
		}
	}

	line("Status", StatusStyle(o.Status).Bold(true).Render(o.Label()))
	if len(o.TransactionIDs) > 0 {
		line("Transactions", strings.Join(o.TransactionIDs, ", "))
	} else {
		line("Transaction", o.TransactionID)
	}
	line("Bank", o.Bank)
	line("Recipient", withCheck(o.RecipientName, o.NameOK))
	if o.FoundAmount > 0 || o.ExpectedAmount > 0 {
		line("Amount", withCheck(fmt.Sprintf("%s / %s expected",
			model.FormatAmount(o.FoundAmount), model.FormatAmount(o.ExpectedAmount)), o.AmountOK))
	}
	line("Age", withCheck(o.AgeLabel, o.TimeOK))
	line("Sender", strings.TrimSpace(o.SenderName+" "+o.SenderPhone))
	line("Bank date", o.BankDate)
	if o.Status == model.StatusRepeat {
		line("Seen before", fmt.Sprintf("%d time(s), first as %s", o.RepeatCount, o.PriorStatus))
	}
	line("Detail", o.Detail)

	for i, p := range o.Parts {
		line(fmt.Sprintf("Image %d", i+1), FormatOutcome(p))
	}

	return RenderBox(ReceiptIcon+" Verification", strings.TrimRight(b.String(), "\n"))
}

func withCheck(value string, ok bool) string {
	if value == "" {
		return ""
	}
	if ok {
		return value + " " + SuccessStyle.Render(SuccessIcon)
	}
	return value + " " + ErrorStyle.Render(ErrorIcon)
}
