// Package engine drives rows of a worklist through verification and applies
// the batch policy to each outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/config"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/service"
)

// ErrAlreadyRan is returned when Run is called a second time.
var ErrAlreadyRan = errors.New("orchestrator already ran")

// Config wires an Orchestrator. Reviewer, Observer, Marks, Clock and Logger are optional.
type Config struct {
	Worklist Worklist
	Verifier Verifier
	Settings SettingsSource
	Reviewer Reviewer
	Observer Observer
	Marks    service.MarkStore
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Orchestrator runs one batch. All batch state is owned by the goroutine
// executing Run; other methods talk to it through the event channel.
type Orchestrator struct {
	worklist Worklist
	verifier Verifier
	settings SettingsSource
	reviewer Reviewer
	observer Observer
	marks    service.MarkStore
	clock    clockwork.Clock
	logger   *slog.Logger

	events  chan any
	done    chan struct{}
	started atomic.Bool

	// event loop state
	cooldownUntil    time.Time
	scanTimer        clockwork.Timer
	rows             *rowStates
	skipped          map[string]bool
	held             map[string]Action
	attempts         map[string]int
	awaiting         map[string]bool
	summary          Summary
	priority         string
	stopReason       string
	nextPageAttempts int
	running          bool
	paused           bool
	stopped          bool
	scanPending      bool
	recovering       bool
}

type (
	evScan    struct{}
	evTimeout struct{ key, cid string }
	evResult  struct {
		err error
		out model.Outcome
		key string
		cid string
	}
	evActionDone struct {
		err     error
		out     model.Outcome
		row     model.Row
		action  Action
		removed bool
	}
	evRefreshed struct {
		err error
		ok  bool
	}
	evNextPage struct {
		err error
		ok  bool
	}
	evVerdict struct {
		err     error
		out     model.Outcome
		row     model.Row
		verdict Verdict
	}
	cmdStop   struct{}
	cmdCancel struct {
		reply chan bool
		key   string
	}
	cmdRetry struct {
		reply chan bool
		key   string
	}
	cmdSnapshot struct{ reply chan Snapshot }
)

// New validates cfg and returns an Orchestrator ready to Run.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Worklist == nil || cfg.Verifier == nil || cfg.Settings == nil {
		return nil, fmt.Errorf("%w: orchestrator needs a worklist, a verifier and settings", common.ErrMissingConfig)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		worklist: cfg.Worklist,
		verifier: cfg.Verifier,
		settings: cfg.Settings,
		reviewer: cfg.Reviewer,
		observer: cfg.Observer,
		marks:    cfg.Marks,
		clock:    clock,
		logger:   common.LoggerOrDefault(cfg.Logger),
		events:   make(chan any, 64),
		done:     make(chan struct{}),
		rows:     newRowStates(),
		skipped:  make(map[string]bool),
		held:     make(map[string]Action),
		attempts: make(map[string]int),
		awaiting: make(map[string]bool),
		summary:  Summary{Statuses: make(map[model.Status]int)},
	}, nil
}

// Run processes rows until the worklist is drained, Stop is called, a review
// cannot be obtained, or ctx ends. It may be called once.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if o.started.Swap(true) {
		return Summary{}, ErrAlreadyRan
	}
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(o.done)
	}()

	o.loadMarks(ctx)
	o.running = true
	s := o.settings.Snapshot()
	o.logger.Info("Starting batch run",
		"concurrency", s.Batch.Concurrency,
		"full_auto", s.Batch.FullAuto,
		"skip_random", s.SkipRandomEffective(),
		"settings_version", s.Version)
	o.emit(Event{Kind: EventStarted})
	o.schedule(0)

	for {
		select {
		case <-ctx.Done():
			o.stop("context cancelled")
			o.shutdown()
			return o.finalSummary(), ctx.Err()
		case ev := <-o.events:
			o.handle(ctx, ev)
			if o.stopped {
				o.shutdown()
				return o.finalSummary(), nil
			}
		}
	}
}

// Stop ends the run after the current event.
func (o *Orchestrator) Stop() {
	o.post(cmdStop{})
}

// Cancel abandons an in-flight row without recording its outcome. The row is
// held until RetryRow unless batch.RequeueCancelled is set, in which case it
// is back at idle for the next scan. It reports whether the row was in flight.
func (o *Orchestrator) Cancel(rowKey string) bool {
	reply := make(chan bool, 1)
	if !o.post(cmdCancel{key: rowKey, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-o.done:
		return false
	}
}

// RetryRow makes a held or skipped row eligible for dispatch again.
func (o *Orchestrator) RetryRow(rowKey string) bool {
	reply := make(chan bool, 1)
	if !o.post(cmdRetry{key: rowKey, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-o.done:
		return false
	}
}

// Snapshot returns the current batch state. It is zero when the run is not active.
func (o *Orchestrator) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !o.post(cmdSnapshot{reply: reply}) {
		return Snapshot{}
	}
	select {
	case s := <-reply:
		return s
	case <-o.done:
		return Snapshot{}
	}
}

func (o *Orchestrator) post(ev any) bool {
	if !o.started.Load() {
		return false
	}
	select {
	case o.events <- ev:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case evScan:
		o.onScan(ctx)
	case evResult:
		o.onResult(ctx, ev)
	case evTimeout:
		o.onTimeout(ctx, ev)
	case evActionDone:
		o.onActionDone(ev)
	case evRefreshed:
		o.onRefreshed(ev)
	case evNextPage:
		o.onNextPage(ev)
	case evVerdict:
		o.onVerdict(ctx, ev)
	case cmdStop:
		o.stop("stopped by operator")
	case cmdCancel:
		ev.reply <- o.cancelRow(ev.key)
	case cmdRetry:
		ev.reply <- o.retryRow(ev.key)
	case cmdSnapshot:
		ev.reply <- o.snapshot()
	}
}

// schedule arranges a single scan after d. While a scan is pending or a
// recovery is running, further requests are dropped.
func (o *Orchestrator) schedule(d time.Duration) {
	if o.scanPending || o.recovering || !o.running {
		return
	}
	o.scanPending = true
	o.scanTimer = o.clock.AfterFunc(d, func() { o.post(evScan{}) })
}

func (o *Orchestrator) busy() int {
	return o.rows.len() + len(o.awaiting)
}

func (o *Orchestrator) onScan(ctx context.Context) {
	o.scanPending = false
	if o.paused || o.recovering || !o.running {
		return
	}
	s := o.settings.Snapshot()
	now := o.clock.Now()
	if now.Before(o.cooldownUntil) {
		o.schedule(o.cooldownUntil.Sub(now))
		return
	}
	if o.busy() >= s.Batch.Concurrency {
		return
	}

	rows, err := o.worklist.Rows(ctx)
	if err != nil {
		o.logger.Warn("Failed to read worklist", "error", err)
		o.schedule(s.Batch.ResumeDelay)
		return
	}

	for _, row := range o.candidates(rows, s) {
		if PreDispatchSkip(row, s) {
			o.skip(ctx, row, "pdf source", s)
			continue
		}
		o.dispatch(ctx, row, s)
		o.nextPageAttempts = 0
		if o.busy() < s.Batch.Concurrency {
			o.schedule(s.Batch.ScanInterval)
		}
		return
	}

	if o.busy() > 0 {
		return
	}
	if s.Batch.FullAuto {
		o.nextPage(ctx, s)
		return
	}
	o.stop("worklist drained")
}

func (o *Orchestrator) candidates(rows []model.Row, s config.Settings) []model.Row {
	out := make([]model.Row, 0, len(rows))
	for _, row := range rows {
		k := row.Key
		if row.Verified || o.rows.has(k) || o.skipped[k] || o.awaiting[k] {
			continue
		}
		if _, held := o.held[k]; held {
			continue
		}
		out = append(out, row)
	}
	if s.Batch.ReverseOrder {
		slices.Reverse(out)
	}
	if o.priority != "" {
		if i := slices.IndexFunc(out, func(r model.Row) bool { return r.Key == o.priority }); i > 0 {
			first := out[i]
			copy(out[1:i+1], out[:i])
			out[0] = first
		}
		o.priority = ""
	}
	return out
}

func (o *Orchestrator) dispatch(ctx context.Context, row model.Row, s config.Settings) {
	cid := uuid.NewString()
	rowCtx, cancel := context.WithCancel(ctx)
	e := &rowEntry{row: row, cid: cid, start: o.clock.Now(), cancel: cancel, settings: s}
	if err := o.rows.start(e); err != nil {
		cancel()
		o.logger.Error("Refusing duplicate dispatch", "row", row.Key, "error", err)
		return
	}
	key := row.Key
	e.timeout = o.clock.AfterFunc(s.Batch.RowTimeout, func() { o.post(evTimeout{key: key, cid: cid}) })

	o.summary.Dispatched++
	o.logger.Debug("Dispatching row", "row", key, "correlation_id", cid, "expected_amount", row.ExpectedAmount)
	o.emit(Event{Kind: EventDispatched, RowKey: key, CorrelationID: cid})

	go o.verify(rowCtx, row, cid, s)
}

func (o *Orchestrator) verify(ctx context.Context, row model.Row, cid string, s config.Settings) {
	images, err := o.worklist.Images(ctx, row)
	if err != nil {
		if ctx.Err() != nil {
			o.post(evResult{key: row.Key, cid: cid, err: ctx.Err()})
			return
		}
		out := model.NewOutcome(model.StatusImageLoadFailed)
		out.Transient = true
		out.Detail = err.Error()
		o.post(evResult{key: row.Key, cid: cid, out: out})
		return
	}
	out, err := o.verifier.Verify(ctx, images, row.ExpectedAmount, s)
	o.post(evResult{key: row.Key, cid: cid, out: out, err: err})
}

func (o *Orchestrator) onResult(ctx context.Context, ev evResult) {
	e, ok := o.rows.lookup(ev.key, ev.cid)
	if !ok {
		o.logger.Debug("Discarding stale result", "row", ev.key, "correlation_id", ev.cid)
		return
	}
	o.rows.finish(ev.key, model.RowResolved)
	if ev.err != nil {
		o.logger.Warn("Verification aborted", "row", ev.key, "error", ev.err)
		o.schedule(e.settings.Batch.ScanInterval)
		return
	}

	out := ev.out
	d := Decide(out, e.row, e.settings, o.attempts[ev.key])
	o.summary.Statuses[out.Status]++
	o.logger.Info("Row resolved",
		"row", ev.key,
		"correlation_id", ev.cid,
		"status", out.Label(),
		"action", d.Action,
		"elapsed", o.clock.Since(e.start))
	o.emit(Event{Kind: EventOutcome, RowKey: ev.key, CorrelationID: ev.cid, Outcome: &out, Decision: &d})
	o.apply(ctx, e.row, out, d, e.settings)
}

func (o *Orchestrator) apply(ctx context.Context, row model.Row, out model.Outcome, d Decision, s config.Settings) {
	switch d.Action {
	case ActionConfirm, ActionReject:
		o.act(ctx, row, out, d.Action, s)
	case ActionCooldown:
		o.cooldownUntil = o.clock.Now().Add(s.Batch.Cooldown)
		o.priority = row.Key
		o.logger.Warn("Extraction rate limited, cooling down", "row", row.Key, "until", o.cooldownUntil)
		o.emit(Event{Kind: EventCooldown, RowKey: row.Key, Detail: o.cooldownUntil.Format(time.RFC3339)})
		o.schedule(s.Batch.Cooldown)
	case ActionSkip:
		o.skip(ctx, row, d.Reason, s)
		o.resume(ctx, d, s)
	case ActionHoldRetry, ActionHoldReject:
		o.hold(row.Key, d.Action, d.Reason)
		o.resume(ctx, d, s)
	case ActionRetryLater:
		o.attempts[row.Key]++
		o.schedule(s.Batch.TransientRetryDelay)
	case ActionReview:
		o.review(ctx, row, out)
	}
}

func (o *Orchestrator) resume(ctx context.Context, d Decision, s config.Settings) {
	if d.Refresh {
		o.recoverPage(ctx)
		return
	}
	o.schedule(s.Batch.ScanInterval)
}

// act runs the confirm or reject action and waits, bounded, for the row to leave the worklist.
func (o *Orchestrator) act(ctx context.Context, row model.Row, out model.Outcome, action Action, s config.Settings) {
	o.awaiting[row.Key] = true
	go func() {
		var err error
		if action == ActionConfirm {
			err = o.worklist.Confirm(ctx, row, out)
		} else {
			err = o.worklist.Reject(ctx, row, out)
		}
		if err != nil {
			o.post(evActionDone{row: row, out: out, action: action, err: err})
			return
		}
		removed := o.waitRemoval(ctx, row.Key, s)
		o.post(evActionDone{row: row, out: out, action: action, removed: removed})
	}()
}

func (o *Orchestrator) waitRemoval(ctx context.Context, key string, s config.Settings) bool {
	for range max(s.Batch.RemovalMaxPolls, 1) {
		present, err := o.worklist.Contains(ctx, key)
		if err == nil && !present {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-o.clock.After(s.Batch.RemovalPollInterval):
		}
	}
	return false
}

func (o *Orchestrator) onActionDone(ev evActionDone) {
	delete(o.awaiting, ev.row.Key)
	s := o.settings.Snapshot()

	switch {
	case ev.err != nil:
		o.logger.Warn("Row action failed", "row", ev.row.Key, "action", ev.action, "error", ev.err)
		o.hold(ev.row.Key, ActionHoldRetry, "action failed")
	case !ev.removed:
		o.logger.Warn("Row still listed after action", "row", ev.row.Key, "action", ev.action)
		o.hold(ev.row.Key, ActionHoldRetry, "row not removed")
	default:
		delete(o.attempts, ev.row.Key)
		kind := EventConfirmed
		if ev.action == ActionConfirm {
			o.summary.Confirmed++
		} else {
			o.summary.Rejected++
			kind = EventRejected
		}
		out := ev.out
		o.emit(Event{Kind: kind, RowKey: ev.row.Key, Outcome: &out})
	}
	o.schedule(s.Batch.ScanInterval)
}

func (o *Orchestrator) onTimeout(ctx context.Context, ev evTimeout) {
	e, ok := o.rows.lookup(ev.key, ev.cid)
	if !ok {
		return
	}
	o.rows.finish(ev.key, model.RowTimedOut)
	o.summary.Timeouts++
	o.attempts[ev.key]++
	o.logger.Warn("Row timed out", "row", ev.key, "correlation_id", ev.cid, "timeout", e.settings.Batch.RowTimeout)
	o.emit(Event{Kind: EventTimeout, RowKey: ev.key, CorrelationID: ev.cid})

	if o.attempts[ev.key] > e.settings.Batch.MaxTransientRetries {
		o.hold(ev.key, ActionHoldRetry, "timed out repeatedly")
	}
	o.recoverPage(ctx)
}

// recoverPage triggers the page reload control, then resumes scanning once.
func (o *Orchestrator) recoverPage(ctx context.Context) {
	if o.recovering || !o.running {
		return
	}
	o.recovering = true
	o.emit(Event{Kind: EventRefresh})
	go func() {
		ok, err := o.worklist.Refresh(ctx)
		o.post(evRefreshed{ok: ok, err: err})
	}()
}

func (o *Orchestrator) onRefreshed(ev evRefreshed) {
	o.recovering = false
	s := o.settings.Snapshot()
	if ev.err != nil {
		o.logger.Warn("Worklist refresh failed", "error", ev.err)
	}
	if ev.ok && ev.err == nil {
		o.schedule(s.Batch.SettleDelay)
		return
	}
	o.schedule(s.Batch.ResumeDelay)
}

func (o *Orchestrator) nextPage(ctx context.Context, s config.Settings) {
	if o.nextPageAttempts >= s.Batch.MaxNextPageAttempts {
		o.stop("no further pages")
		return
	}
	o.nextPageAttempts++
	o.recovering = true
	o.emit(Event{Kind: EventNextPage, Detail: fmt.Sprintf("attempt %d", o.nextPageAttempts)})
	go func() {
		ok, err := o.worklist.NextPage(ctx)
		o.post(evNextPage{ok: ok, err: err})
	}()
}

func (o *Orchestrator) onNextPage(ev evNextPage) {
	o.recovering = false
	if ev.err != nil {
		o.logger.Warn("Failed to load next page", "error", ev.err)
	}
	o.schedule(o.settings.Snapshot().Batch.NextPageDelay)
}

func (o *Orchestrator) review(ctx context.Context, row model.Row, out model.Outcome) {
	if o.reviewer == nil {
		o.hold(row.Key, ActionReview, "manual review required")
		o.stop("manual review required for " + row.Key)
		return
	}
	o.paused = true
	o.emit(Event{Kind: EventReview, RowKey: row.Key, Outcome: &out})
	go func() {
		v, err := o.reviewer.Review(ctx, row, out)
		o.post(evVerdict{row: row, out: out, verdict: v, err: err})
	}()
}

func (o *Orchestrator) onVerdict(ctx context.Context, ev evVerdict) {
	o.paused = false
	s := o.settings.Snapshot()
	if ev.err != nil {
		o.logger.Warn("Review failed", "row", ev.row.Key, "error", ev.err)
		o.hold(ev.row.Key, ActionReview, "review failed")
		o.stop("review failed")
		return
	}

	o.logger.Info("Review verdict", "row", ev.row.Key, "verdict", ev.verdict)
	switch ev.verdict {
	case VerdictConfirm:
		o.act(ctx, ev.row, ev.out, ActionConfirm, s)
	case VerdictReject:
		o.act(ctx, ev.row, ev.out, ActionReject, s)
	case VerdictSkip:
		o.skip(ctx, ev.row, "skipped in review", s)
		o.schedule(s.Batch.ScanInterval)
	case VerdictRetry:
		o.schedule(s.Batch.ScanInterval)
	default:
		o.hold(ev.row.Key, ActionReview, "stopped in review")
		o.stop("stopped in review")
	}
}

func (o *Orchestrator) skip(ctx context.Context, row model.Row, reason string, s config.Settings) {
	o.skipped[row.Key] = true
	o.summary.Skipped++
	if o.marks != nil {
		mark := model.RowMark{RowKey: row.Key, Mark: model.MarkSkipped, ExpiresAt: o.clock.Now().Add(s.Batch.MarkTTL)}
		if err := o.marks.SaveRowMark(ctx, mark); err != nil {
			o.logger.Warn("Failed to persist skip mark", "row", row.Key, "error", err)
		}
	}
	o.emit(Event{Kind: EventSkipped, RowKey: row.Key, Detail: reason})
}

func (o *Orchestrator) hold(key string, action Action, reason string) {
	o.held[key] = action
	o.emit(Event{Kind: EventHeld, RowKey: key, Detail: reason})
}

func (o *Orchestrator) cancelRow(key string) bool {
	e := o.rows.finish(key, model.RowCancelled)
	if e == nil {
		return false
	}
	o.summary.Cancelled++
	s := o.settings.Snapshot()
	if !s.Batch.RequeueCancelled {
		o.held[key] = ActionHoldRetry
	}
	o.logger.Info("Row cancelled", "row", key, "correlation_id", e.cid, "requeued", s.Batch.RequeueCancelled)
	o.emit(Event{Kind: EventCancelled, RowKey: key, CorrelationID: e.cid})
	o.schedule(s.Batch.ScanInterval)
	return true
}

func (o *Orchestrator) retryRow(key string) bool {
	_, held := o.held[key]
	skipped := o.skipped[key]
	delete(o.held, key)
	delete(o.skipped, key)
	delete(o.attempts, key)
	if held || skipped {
		o.schedule(0)
	}
	return held || skipped
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{
		Running:       o.running,
		Paused:        o.paused,
		CooldownUntil: o.cooldownUntil,
		InFlight:      o.rows.keys(),
		Held:          o.heldKeys(),
	}
	slices.Sort(s.InFlight)
	return s
}

func (o *Orchestrator) heldKeys() []string {
	keys := make([]string, 0, len(o.held))
	for k := range o.held {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (o *Orchestrator) loadMarks(ctx context.Context) {
	if o.marks == nil {
		return
	}
	now := o.clock.Now()
	if n, err := o.marks.PurgeExpiredRowMarks(ctx, now); err != nil {
		o.logger.Warn("Failed to purge expired row marks", "error", err)
	} else if n > 0 {
		o.logger.Debug("Purged expired row marks", "count", n)
	}
	marks, err := o.marks.ActiveRowMarks(ctx, now)
	if err != nil {
		o.logger.Warn("Failed to load row marks", "error", err)
		return
	}
	for _, m := range marks {
		if m.Mark == model.MarkSkipped {
			o.skipped[m.RowKey] = true
		}
	}
}

func (o *Orchestrator) stop(reason string) {
	if o.stopped {
		return
	}
	o.stopped = true
	o.running = false
	o.stopReason = reason
}

func (o *Orchestrator) shutdown() {
	if o.scanTimer != nil {
		o.scanTimer.Stop()
	}
	for _, k := range o.rows.keys() {
		o.rows.finish(k, model.RowCancelled)
	}
	o.logger.Info("Batch run stopped", "reason", o.stopReason, "dispatched", o.summary.Dispatched)
	o.emit(Event{Kind: EventStopped, Detail: o.stopReason})
}

func (o *Orchestrator) finalSummary() Summary {
	s := o.summary
	s.Held = o.heldKeys()
	return s
}

func (o *Orchestrator) emit(ev Event) {
	if o.observer == nil {
		return
	}
	ev.At = o.clock.Now()
	o.observer.OnEvent(ev)
}
