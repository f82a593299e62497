package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler turns SIGINT/SIGTERM into a two-stage shutdown. With a
// graceful stop registered, the first interrupt asks the batch to stop and
// the second cancels outright; without one, the first interrupt cancels.
type InterruptHandler struct {
	writer     io.Writer
	cancelFunc context.CancelFunc
	graceful   func()
	resumeHint string
	interrupts int
	mu         sync.Mutex
}

// NewInterruptHandler creates a handler that prints to writer (stdout when nil).
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{writer: writer}
}

// SetGracefulStop registers fn as the first-interrupt action.
func (h *InterruptHandler) SetGracefulStop(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graceful = fn
}

// HandleInterrupts returns a context derived from ctx that is canceled by the
// final interrupt. resumeHint, when set, tells the operator how to pick the
// batch up again.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context, resumeHint string) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancelFunc = cancel
	h.resumeHint = resumeHint
	h.mu.Unlock()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-sigChan:
				h.Interrupt()
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx
}

// Interrupt behaves as if a signal arrived.
func (h *InterruptHandler) Interrupt() {
	h.mu.Lock()
	h.interrupts++
	n := h.interrupts
	graceful := h.graceful
	cancel := h.cancelFunc
	hint := h.resumeHint
	h.mu.Unlock()

	switch {
	case n == 1 && graceful != nil:
		h.print("\n\n" + FormatWarning("Stopping the batch, no new rows will start...") +
			"\n" + FormatInfo("Press Ctrl+C again to abort now.") + "\n")
		graceful()
	case n == 1 || (n == 2 && graceful != nil):
		h.print(abortMessage(hint))
		if cancel != nil {
			cancel()
		}
	}
}

func abortMessage(resumeHint string) string {
	msg := "\n\n" + FormatWarning("Batch interrupted!")
	if resumeHint != "" {
		msg += "\n" + FormatInfo("Decisions so far are saved. Resume with: "+resumeHint)
	}
	return msg + "\n" + FormatInfo("In-flight rows were released.") + "\n"
}

func (h *InterruptHandler) print(msg string) {
	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted reports whether at least one interrupt arrived.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupts > 0
}
