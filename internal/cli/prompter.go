package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/Veraticus/receipt-sentinel/internal/engine"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// ErrInputCancelled is returned when input is canceled by context.
var ErrInputCancelled = errors.New("input canceled")

// Prompter is a line-mode reviewer for terminals without a TUI, or for piped input.
type Prompter struct {
	writer  io.Writer
	lines   chan lineResult
	reader  *bufio.Reader
	once    sync.Once
	reviews int
	mu      sync.Mutex
}

type lineResult struct {
	err  error
	line string
}

// NewCLIPrompter creates a new prompter with the given reader and writer.
func NewCLIPrompter(reader io.Reader, writer io.Writer) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &Prompter{
		reader: bufio.NewReader(reader),
		writer: writer,
		lines:  make(chan lineResult),
	}
}

// Review shows the row and its outcome and asks for a verdict.
func (p *Prompter) Review(ctx context.Context, row model.Row, outcome model.Outcome) (engine.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	p.reviews++
	p.mu.Unlock()

	header := TitleStyle.Render(fmt.Sprintf("%s Review row %s", PauseIcon, row.Key))
	expected := SubtleStyle.Render("Expected amount: " + model.FormatAmount(row.ExpectedAmount))
	if _, err := fmt.Fprintf(p.writer, "\n%s\n%s\n%s\n", header, expected, RenderOutcome(outcome)); err != nil {
		return "", fmt.Errorf("failed to write review: %w", err)
	}

	choice, err := p.promptChoice(ctx, "[a]ccept, [r]eject, [s]kip, re[t]ry, [q]uit", []string{"a", "r", "s", "t", "q"})
	if err != nil {
		return "", err
	}

	switch choice {
	case "a":
		return engine.VerdictConfirm, nil
	case "r":
		return engine.VerdictReject, nil
	case "s":
		return engine.VerdictSkip, nil
	case "t":
		return engine.VerdictRetry, nil
	default:
		return engine.VerdictStop, nil
	}
}

// Reviews returns how many rows were put to the operator.
func (p *Prompter) Reviews() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reviews
}

func (p *Prompter) promptChoice(ctx context.Context, prompt string, validChoices []string) (string, error) {
	for {
		if _, err := fmt.Fprintf(p.writer, "%s", FormatPrompt(prompt)); err != nil {
			return "", fmt.Errorf("failed to write prompt: %w", err)
		}

		input, err := p.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("input terminated: %w", err)
			}
			return "", err
		}

		choice := strings.ToLower(strings.TrimSpace(input))
		for _, valid := range validChoices {
			if choice == valid {
				return choice, nil
			}
		}

		if _, err := fmt.Fprintln(p.writer, FormatError("Invalid choice. Please try again.")); err != nil {
			slog.Warn("Failed to write error message", "error", err)
		}
	}
}

// readLine reads one line, returning early when ctx is canceled. A single
// reader goroutine feeds every call so an abandoned read is not lost.
func (p *Prompter) readLine(ctx context.Context) (string, error) {
	p.once.Do(func() {
		go func() {
			for {
				line, err := p.reader.ReadString('\n')
				if err != nil && line != "" {
					err = nil
				}
				p.lines <- lineResult{line: line, err: err}
				if err != nil {
					close(p.lines)
					return
				}
			}
		}()
	})

	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case res, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return res.line, res.err
	}
}
