package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/receipt-sentinel/internal/common"
)

// DefaultMinInterval is the spacing enforced between vision API calls.
const DefaultMinInterval = 4 * time.Second

// ErrQueueClosed is returned for calls made after Close.
var ErrQueueClosed = errors.New("call queue closed")

type queuedCall struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// CallQueue runs submitted calls one at a time on a single worker, starting
// each no sooner than minInterval after the previous one started.
type CallQueue struct {
	clock       clockwork.Clock
	logger      *slog.Logger
	calls       chan queuedCall
	done        chan struct{}
	minInterval time.Duration
	closeOnce   sync.Once
}

// NewCallQueue starts the worker. A nil clock means the real clock.
func NewCallQueue(clock clockwork.Clock, minInterval time.Duration, logger *slog.Logger) *CallQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if minInterval < 0 {
		minInterval = 0
	}
	q := &CallQueue{
		clock:       clock,
		logger:      common.LoggerOrDefault(logger),
		calls:       make(chan queuedCall),
		done:        make(chan struct{}),
		minInterval: minInterval,
	}
	go q.run()
	return q
}

// Do blocks until fn has run on the worker and returns its error. If ctx ends
// first, Do returns ctx.Err() and a call that has not started is dropped.
func (q *CallQueue) Do(ctx context.Context, fn func(context.Context) error) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	call := queuedCall{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case q.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}

	select {
	case err := <-call.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker. Pending Do calls return ErrQueueClosed.
func (q *CallQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *CallQueue) run() {
	var last time.Time
	started := false

	for {
		var call queuedCall
		select {
		case <-q.done:
			return
		case call = <-q.calls:
		}

		if err := call.ctx.Err(); err != nil {
			call.result <- err
			continue
		}

		if started {
			if wait := q.minInterval - q.clock.Since(last); wait > 0 {
				q.logger.Debug("Spacing vision call", "wait", wait)
				timer := q.clock.NewTimer(wait)
				select {
				case <-timer.Chan():
				case <-call.ctx.Done():
					timer.Stop()
					call.result <- call.ctx.Err()
					continue
				case <-q.done:
					timer.Stop()
					call.result <- ErrQueueClosed
					return
				}
			}
		}

		last = q.clock.Now()
		started = true
		call.result <- call.fn(call.ctx)
	}
}
