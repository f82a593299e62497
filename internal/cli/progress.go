package cli

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/receipt-sentinel/internal/engine"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// ProgressReporter prints batch events as colored lines under a progress bar.
// It implements engine.Observer.
type ProgressReporter struct {
	writer      io.Writer
	progressBar *progressbar.ProgressBar
	statuses    map[model.Status]int
	resolved    int
	mu          sync.Mutex
}

// NewProgressReporter creates a reporter for a batch of total rows. A total
// of -1 shows a spinner instead of a bar.
func NewProgressReporter(writer io.Writer, total int) *ProgressReporter {
	if writer == nil {
		writer = os.Stdout
	}
	r := &ProgressReporter{
		writer:   writer,
		statuses: make(map[model.Status]int),
	}
	r.progressBar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Verifying receipts...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return r
}

// OnEvent handles one orchestrator event.
func (r *ProgressReporter) OnEvent(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case engine.EventOutcome:
		if ev.Outcome == nil {
			return
		}
		r.statuses[ev.Outcome.Status]++
		action := ""
		if ev.Decision != nil {
			action = SubtleStyle.Render(" → " + string(ev.Decision.Action))
		}
		r.println(fmt.Sprintf("%s %s%s", BoldStyle.Render(ev.RowKey), FormatOutcome(*ev.Outcome), action))

	case engine.EventConfirmed, engine.EventRejected, engine.EventSkipped:
		r.advance()

	case engine.EventHeld:
		r.println(FormatWarning(fmt.Sprintf("%s held: %s", ev.RowKey, ev.Detail)))
		r.advance()

	case engine.EventCooldown:
		r.println(FormatWarning("Rate limited, cooling down until " + ev.Detail))

	case engine.EventTimeout:
		r.println(FormatError(ev.RowKey + " timed out"))

	case engine.EventNextPage:
		r.println(FormatInfo("Advancing to the next page"))

	case engine.EventStopped:
		if err := r.progressBar.Finish(); err != nil {
			slog.Warn("Failed to finish progress bar", "error", err)
		}
		r.println(FormatInfo("Batch stopped: " + ev.Detail))
	}
}

func (r *ProgressReporter) advance() {
	r.resolved++
	if err := r.progressBar.Add(1); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

func (r *ProgressReporter) println(line string) {
	if err := r.progressBar.Clear(); err != nil {
		slog.Debug("Failed to clear progress bar", "error", err)
	}
	if _, err := fmt.Fprintln(r.writer, line); err != nil {
		slog.Warn("Failed to write progress line", "error", err)
	}
}

// Resolved returns how many rows left the batch (acted on, skipped or held).
func (r *ProgressReporter) Resolved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Counts returns outcomes seen so far per status.
func (r *ProgressReporter) Counts() map[model.Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.statuses)
}

// FormatSummary renders the batch totals as a box.
func FormatSummary(s engine.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  • Dispatched: %d\n", s.Dispatched)
	fmt.Fprintf(&b, "  • Confirmed: %s\n", SuccessStyle.Render(fmt.Sprint(s.Confirmed)))
	fmt.Fprintf(&b, "  • Rejected: %s\n", ErrorStyle.Render(fmt.Sprint(s.Rejected)))
	fmt.Fprintf(&b, "  • Skipped: %d\n", s.Skipped)
	if s.Timeouts > 0 {
		fmt.Fprintf(&b, "  • Timeouts: %d\n", s.Timeouts)
	}
	if s.Cancelled > 0 {
		fmt.Fprintf(&b, "  • Cancelled: %d\n", s.Cancelled)
	}
	if len(s.Held) > 0 {
		fmt.Fprintf(&b, "  • Held: %s\n", WarningStyle.Render(strings.Join(s.Held, ", ")))
	}

	first := true
	for _, st := range model.AllStatuses {
		n := s.Statuses[st]
		if n == 0 {
			continue
		}
		if first {
			b.WriteString("\nBy status:\n")
			first = false
		}
		fmt.Fprintf(&b, "  %s %d\n", StatusStyle(st).Render(fmt.Sprintf("%-18s", st)), n)
	}

	return RenderBox("Batch Complete", strings.TrimRight(b.String(), "\n"))
}
