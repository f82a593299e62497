// Package tui provides the interactive review screen used when a batch row
// needs an operator's decision.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/receipt-sentinel/internal/engine"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// Reviewer implements engine.Reviewer with a bubbletea program per review.
type Reviewer struct {
	cfg Config
	// Only one program may own the terminal at a time.
	mu sync.Mutex
}

// Ensure we implement the interface.
var _ engine.Reviewer = (*Reviewer)(nil)

// New creates a TUI reviewer.
func New(opts ...Option) *Reviewer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Reviewer{cfg: cfg}
}

// Review shows the outcome and blocks until the operator picks a verdict or
// ctx is done.
func (r *Reviewer) Review(ctx context.Context, row model.Row, outcome model.Outcome) (engine.Verdict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if outcome.DisplayText == "" {
		outcome.Finalize()
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if r.cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	if r.cfg.Input != nil {
		opts = append(opts, tea.WithInput(r.cfg.Input))
	}
	if r.cfg.Output != nil {
		opts = append(opts, tea.WithOutput(r.cfg.Output))
	}

	final, err := tea.NewProgram(newModel(r.cfg, row, outcome), opts...).Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, tea.ErrProgramKilled) {
			return "", ctxErr
		}
		return "", fmt.Errorf("failed to run review screen: %w", err)
	}

	m, ok := final.(Model)
	if !ok || m.Verdict() == "" {
		return engine.VerdictStop, nil
	}
	return m.Verdict(), nil
}
