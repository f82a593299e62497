package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/receipt-sentinel/internal/engine"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/tui/themes"
)

// Model is the review screen for one row.
type Model struct {
	theme   themes.Theme
	keymap  KeyMap
	help    help.Model
	row     model.Row
	verdict engine.Verdict
	outcome model.Outcome
	width   int
}

func newModel(cfg Config, row model.Row, outcome model.Outcome) Model {
	h := help.New()
	h.Width = cfg.Width
	return Model{
		theme:   cfg.Theme,
		keymap:  DefaultKeyMap(),
		help:    h,
		row:     row,
		outcome: outcome,
		width:   cfg.Width,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Accept):
			m.verdict = engine.VerdictConfirm
		case key.Matches(msg, m.keymap.Reject):
			m.verdict = engine.VerdictReject
		case key.Matches(msg, m.keymap.Skip):
			m.verdict = engine.VerdictSkip
		case key.Matches(msg, m.keymap.Retry):
			m.verdict = engine.VerdictRetry
		case key.Matches(msg, m.keymap.Quit):
			m.verdict = engine.VerdictStop
		case key.Matches(msg, m.keymap.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		default:
			return m, nil
		}
		return m, tea.Quit
	}
	return m, nil
}

// Verdict returns the operator's answer, empty until a key was pressed.
func (m Model) Verdict() engine.Verdict {
	return m.verdict
}

// View implements tea.Model.
func (m Model) View() string {
	if m.verdict != "" {
		return ""
	}

	title := m.theme.Title.Render(fmt.Sprintf("Review %s", m.row.Key))
	subtitle := m.theme.Subtitle.Render(m.subtitle())

	box := m.theme.RoundedBox
	if m.width > 4 {
		box = box.Width(min(m.width-4, 76))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		subtitle,
		box.Render(m.details()),
		"",
		m.help.View(m.keymap),
	)
}

func (m Model) subtitle() string {
	parts := []string{"Expected " + model.FormatAmount(m.row.ExpectedAmount)}
	if m.row.Label != "" {
		parts = append(parts, m.row.Label)
	}
	if m.row.IsPDF() {
		parts = append(parts, "PDF")
	}
	if n := len(m.row.ImageURLs); n > 1 {
		parts = append(parts, fmt.Sprintf("%d images", n))
	}
	return strings.Join(parts, " · ")
}

func (m Model) details() string {
	o := m.outcome
	var lines []string
	field := func(label, value string) {
		if value != "" {
			lines = append(lines, m.theme.Label.Render(label)+m.theme.Normal.Render(value))
		}
	}
	check := func(value string, ok bool) string {
		if value == "" {
			return ""
		}
		if ok {
			return value + " " + m.theme.StatusSuccess.Render("✓")
		}
		return value + " " + m.theme.StatusError.Render("✗")
	}

	lines = append(lines, m.theme.Status(o.Status).Render(o.DisplayText))
	lines = append(lines, "")

	if len(o.TransactionIDs) > 0 {
		field("Transactions", strings.Join(o.TransactionIDs, ", "))
	} else {
		field("Transaction", o.TransactionID)
	}
	field("Bank", o.Bank)
	field("Recipient", check(o.RecipientName, o.NameOK))
	if o.FoundAmount > 0 {
		field("Amount", check(model.FormatAmount(o.FoundAmount), o.AmountOK))
	}
	field("Age", check(o.AgeLabel, o.TimeOK))
	field("Sender", strings.TrimSpace(o.SenderName+" "+o.SenderPhone))
	field("Bank date", o.BankDate)
	if o.Status == model.StatusRepeat {
		field("Seen before", fmt.Sprintf("%d time(s), first as %s", o.RepeatCount, o.PriorStatus))
	}
	field("Detail", o.Detail)
	for i, p := range o.Parts {
		field(fmt.Sprintf("Image %d", i+1), m.theme.Status(p.Status).Render(p.Label()))
	}

	return strings.Join(lines, "\n")
}
