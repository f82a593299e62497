package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/config"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/service"
	"github.com/Veraticus/receipt-sentinel/internal/testutil"
)

type fakeWorklist struct {
	rows      []model.Row
	pages     [][]model.Row
	confirmed []string
	rejected  []string
	mu        sync.Mutex
	refreshes int
	nextPages int
	refreshOK bool
	keepRows  bool
}

func newWorklist(rows ...model.Row) *fakeWorklist {
	return &fakeWorklist{rows: rows, refreshOK: true}
}

func (w *fakeWorklist) Rows(context.Context) ([]model.Row, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.rows), nil
}

func (w *fakeWorklist) Images(_ context.Context, row model.Row) ([]model.Image, error) {
	return []model.Image{{Source: row.Key, MIMEType: "image/png", Data: []byte(row.Key)}}, nil
}

func (w *fakeWorklist) remove(key string) {
	if w.keepRows {
		return
	}
	w.rows = slices.DeleteFunc(w.rows, func(r model.Row) bool { return r.Key == key })
}

func (w *fakeWorklist) Confirm(_ context.Context, row model.Row, _ model.Outcome) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.confirmed = append(w.confirmed, row.Key)
	w.remove(row.Key)
	return nil
}

func (w *fakeWorklist) Reject(_ context.Context, row model.Row, _ model.Outcome) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rejected = append(w.rejected, row.Key)
	w.remove(row.Key)
	return nil
}

func (w *fakeWorklist) Contains(_ context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.ContainsFunc(w.rows, func(r model.Row) bool { return r.Key == key }), nil
}

func (w *fakeWorklist) Refresh(context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refreshes++
	return w.refreshOK, nil
}

func (w *fakeWorklist) NextPage(context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextPages++
	if len(w.pages) == 0 {
		return false, nil
	}
	w.rows, w.pages = w.pages[0], w.pages[1:]
	return true, nil
}

func (w *fakeWorklist) counts() (refreshes, nextPages int, confirmed, rejected []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refreshes, w.nextPages, slices.Clone(w.confirmed), slices.Clone(w.rejected)
}

// fakeVerifier answers with fn, given how many times the row was verified before.
type fakeVerifier struct {
	fn    func(ctx context.Context, key string, call int) (model.Outcome, error)
	calls map[string]int
	order []string
	mu    sync.Mutex
}

func newVerifier(fn func(ctx context.Context, key string, call int) (model.Outcome, error)) *fakeVerifier {
	return &fakeVerifier{fn: fn, calls: map[string]int{}}
}

func always(status model.Status) *fakeVerifier {
	return newVerifier(func(context.Context, string, int) (model.Outcome, error) {
		o := model.NewOutcome(status)
		o.Transient = status.Transient()
		return o, nil
	})
}

func (v *fakeVerifier) Verify(ctx context.Context, images []model.Image, _ float64, _ config.Settings) (model.Outcome, error) {
	key := images[0].Source
	v.mu.Lock()
	call := v.calls[key]
	v.calls[key]++
	v.order = append(v.order, key)
	v.mu.Unlock()
	return v.fn(ctx, key, call)
}

func (v *fakeVerifier) callCount(key string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[key]
}

type recorder struct {
	dispatched chan string
	events     []Event
	mu         sync.Mutex
}

func newRecorder() *recorder {
	return &recorder{dispatched: make(chan string, 32)}
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Kind == EventDispatched {
		select {
		case r.dispatched <- ev.RowKey:
		default:
		}
	}
}

func (r *recorder) of(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type scriptedReviewer struct {
	verdict Verdict
	mu      sync.Mutex
	seen    []string
}

func (r *scriptedReviewer) Review(_ context.Context, row model.Row, _ model.Outcome) (Verdict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, row.Key)
	return r.verdict, nil
}

func fastSettings() config.Settings {
	s := config.DefaultSettings()
	b := &s.Batch
	b.RowTimeout = 500 * time.Millisecond
	b.ScanInterval = time.Millisecond
	b.SettleDelay = 5 * time.Millisecond
	b.ResumeDelay = 5 * time.Millisecond
	b.Cooldown = 40 * time.Millisecond
	b.RemovalPollInterval = time.Millisecond
	b.RemovalMaxPolls = 5
	b.NextPageDelay = 5 * time.Millisecond
	b.TransientRetryDelay = 2 * time.Millisecond
	b.MaxTransientRetries = 2
	b.MaxNextPageAttempts = 2
	return s
}

type setup struct {
	worklist *fakeWorklist
	verifier *fakeVerifier
	recorder *recorder
	reviewer Reviewer
	settings config.Settings
	marks    service.MarkStore
}

func run(t *testing.T, st setup) (Summary, *Orchestrator) {
	t.Helper()
	holder, err := config.NewHolder(st.settings)
	require.NoError(t, err)

	cfg := Config{
		Worklist: st.worklist,
		Verifier: st.verifier,
		Settings: holder,
		Reviewer: st.reviewer,
		Observer: st.recorder,
		Marks:    st.marks,
	}
	o, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := o.Run(ctx)
	require.NoError(t, err)
	return summary, o
}

func row(key string) model.Row {
	return model.Row{Key: key, Source: model.SourceImage, ExpectedAmount: 150}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestRun_ConfirmsAndRejectsThenDrains(t *testing.T) {
	done := row("done")
	done.Verified = true
	wl := newWorklist(row("a"), row("b"), done)
	v := newVerifier(func(_ context.Context, key string, _ int) (model.Outcome, error) {
		if key == "a" {
			return model.NewOutcome(model.StatusVerified), nil
		}
		return model.NewOutcome(model.StatusWrongRecipient), nil
	})
	rec := newRecorder()

	summary, o := run(t, setup{worklist: wl, verifier: v, recorder: rec, settings: fastSettings()})

	_, _, confirmed, rejected := wl.counts()
	assert.Equal(t, []string{"a"}, confirmed)
	assert.Equal(t, []string{"b"}, rejected)
	assert.Equal(t, 2, summary.Dispatched)
	assert.Equal(t, 1, summary.Confirmed)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 0, v.callCount("done"))
	assert.Equal(t, []string{"a", "b"}, v.order)
	assert.Len(t, rec.of(EventStopped), 1)
	assert.Equal(t, "worklist drained", rec.of(EventStopped)[0].Detail)

	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRan)
	assert.Equal(t, Snapshot{}, o.Snapshot())
}

func TestRun_ReverseOrder(t *testing.T) {
	wl := newWorklist(row("a"), row("b"), row("c"))
	v := always(model.StatusVerified)
	s := fastSettings()
	s.Batch.ReverseOrder = true

	run(t, setup{worklist: wl, verifier: v, recorder: newRecorder(), settings: s})
	assert.Equal(t, []string{"c", "b", "a"}, v.order)
}

func TestRun_SkipsPDFWithoutVerifying(t *testing.T) {
	store := testutil.SetupTestDB(t)
	pdf := model.Row{Key: "p", Source: model.SourcePDF, ExpectedAmount: 100}
	wl := newWorklist(pdf, row("a"))
	v := always(model.StatusVerified)
	s := fastSettings()
	s.Batch.SkipPDF = true

	summary, _ := run(t, setup{worklist: wl, verifier: v, recorder: newRecorder(), settings: s, marks: store})
	assert.Equal(t, 0, v.callCount("p"))
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Confirmed)

	active, err := store.ActiveRowMarks(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p", active[0].RowKey)

	// A later run honours the stored skip mark even without the setting.
	v2 := always(model.StatusVerified)
	summary, _ = run(t, setup{worklist: newWorklist(pdf), verifier: v2, recorder: newRecorder(), settings: fastSettings(), marks: store})
	assert.Equal(t, 0, v2.callCount("p"))
	assert.Equal(t, 0, summary.Dispatched)
}

func TestRun_TimeoutFreesSlotAndResumesOnce(t *testing.T) {
	wl := newWorklist(row("a"))
	v := newVerifier(func(ctx context.Context, _ string, call int) (model.Outcome, error) {
		if call == 0 {
			<-ctx.Done()
			return model.Outcome{}, ctx.Err()
		}
		return model.NewOutcome(model.StatusVerified), nil
	})
	rec := newRecorder()
	s := fastSettings()
	s.Batch.RowTimeout = 30 * time.Millisecond

	summary, _ := run(t, setup{worklist: wl, verifier: v, recorder: rec, settings: s})

	refreshes, _, confirmed, _ := wl.counts()
	assert.Equal(t, 1, refreshes, "recovery must run exactly once")
	assert.Len(t, rec.of(EventRefresh), 1)
	assert.Len(t, rec.of(EventTimeout), 1)
	assert.Equal(t, 2, v.callCount("a"))
	assert.Equal(t, 2, summary.Dispatched)
	assert.Equal(t, 1, summary.Timeouts)
	assert.Equal(t, []string{"a"}, confirmed)
}

func TestRun_RateLimitCoolsDownThenRetriesSameRow(t *testing.T) {
	wl := newWorklist(row("a"), row("b"))
	v := newVerifier(func(_ context.Context, key string, call int) (model.Outcome, error) {
		if key == "a" && call == 0 {
			o := model.NewOutcome(model.StatusRateLimited)
			o.Transient = true
			return o, nil
		}
		return model.NewOutcome(model.StatusVerified), nil
	})
	rec := newRecorder()
	s := fastSettings()

	summary, _ := run(t, setup{worklist: wl, verifier: v, recorder: rec, settings: s})

	assert.Equal(t, []string{"a", "a", "b"}, v.order)
	require.Len(t, rec.of(EventCooldown), 1)
	dispatches := rec.of(EventDispatched)
	require.Len(t, dispatches, 3)
	assert.GreaterOrEqual(t, dispatches[1].At.Sub(dispatches[0].At), s.Batch.Cooldown)
	assert.Equal(t, 2, summary.Confirmed)
}

func TestRun_RandomPausesForReview(t *testing.T) {
	wl := newWorklist(row("a"))
	rev := &scriptedReviewer{verdict: VerdictReject}

	summary, _ := run(t, setup{worklist: wl, verifier: always(model.StatusRandom), recorder: newRecorder(), reviewer: rev, settings: fastSettings()})

	assert.Equal(t, []string{"a"}, rev.seen)
	assert.Equal(t, 1, summary.Rejected)
}

func TestRun_FullAutoSkipsRandomWithoutReview(t *testing.T) {
	wl := newWorklist(row("a"))
	rev := &scriptedReviewer{verdict: VerdictReject}
	s := fastSettings()
	s.Batch.FullAuto = true

	summary, _ := run(t, setup{worklist: wl, verifier: always(model.StatusRandom), recorder: newRecorder(), reviewer: rev, settings: s})

	assert.Empty(t, rev.seen)
	assert.Equal(t, 1, summary.Skipped)
}

func TestRun_ReviewWithoutReviewerStops(t *testing.T) {
	wl := newWorklist(row("a"), row("b"))
	v := always(model.StatusRandom)

	summary, _ := run(t, setup{worklist: wl, verifier: v, recorder: newRecorder(), settings: fastSettings()})

	assert.Equal(t, []string{"a"}, summary.Held)
	assert.Equal(t, 0, v.callCount("b"))
}

func TestRun_AIErrorSkipsAndRefreshes(t *testing.T) {
	wl := newWorklist(row("a"))

	summary, _ := run(t, setup{worklist: wl, verifier: always(model.StatusAIError), recorder: newRecorder(), settings: fastSettings()})

	refreshes, _, _, _ := wl.counts()
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, summary.Skipped)
}

func TestRun_BankNotFoundHoldsForRetry(t *testing.T) {
	wl := newWorklist(row("a"), row("b"))
	v := newVerifier(func(_ context.Context, key string, _ int) (model.Outcome, error) {
		if key == "a" {
			return model.NewOutcome(model.StatusBankNotFound), nil
		}
		return model.NewOutcome(model.StatusVerified), nil
	})

	summary, _ := run(t, setup{worklist: wl, verifier: v, recorder: newRecorder(), settings: fastSettings()})

	assert.Equal(t, []string{"a"}, summary.Held)
	assert.Equal(t, 1, v.callCount("a"))
	assert.Equal(t, 1, summary.Confirmed)
}

func TestRun_RepeatAtLimitHoldsReject(t *testing.T) {
	wl := newWorklist(row("a"))
	v := newVerifier(func(context.Context, string, int) (model.Outcome, error) {
		o := model.NewOutcome(model.StatusRepeat)
		o.RepeatCount = 2
		o.PriorStatus = model.StatusVerified
		return o, nil
	})

	summary, _ := run(t, setup{worklist: wl, verifier: v, recorder: newRecorder(), settings: fastSettings()})
	_, _, _, rejected := wl.counts()
	assert.Empty(t, rejected)
	assert.Equal(t, []string{"a"}, summary.Held)
}

func TestRun_TransientFailuresRetryThenStopForReview(t *testing.T) {
	wl := newWorklist(row("a"))
	v := always(model.StatusOffline)
	s := fastSettings()

	summary, _ := run(t, setup{worklist: wl, verifier: v, recorder: newRecorder(), settings: s})

	assert.Equal(t, s.Batch.MaxTransientRetries+1, v.callCount("a"))
	assert.Equal(t, []string{"a"}, summary.Held)
}

func TestRun_RowStillListedAfterActionIsHeld(t *testing.T) {
	wl := newWorklist(row("a"))
	wl.keepRows = true

	summary, _ := run(t, setup{worklist: wl, verifier: always(model.StatusVerified), recorder: newRecorder(), settings: fastSettings()})

	assert.Equal(t, 0, summary.Confirmed)
	assert.Equal(t, []string{"a"}, summary.Held)
}

func TestRun_FullAutoAdvancesPages(t *testing.T) {
	wl := newWorklist(row("a"))
	wl.pages = [][]model.Row{{row("b")}}
	s := fastSettings()
	s.Batch.FullAuto = true
	rec := newRecorder()

	summary, _ := run(t, setup{worklist: wl, verifier: always(model.StatusVerified), recorder: rec, settings: s})

	_, nextPages, confirmed, _ := wl.counts()
	assert.Equal(t, []string{"a", "b"}, confirmed)
	assert.Equal(t, 1+s.Batch.MaxNextPageAttempts, nextPages)
	assert.Equal(t, 2, summary.Confirmed)
	assert.Equal(t, "no further pages", rec.of(EventStopped)[0].Detail)
}

func TestCancel_ReturnsRowWithoutOutcome(t *testing.T) {
	wl := newWorklist(row("a"))
	v := newVerifier(func(ctx context.Context, _ string, _ int) (model.Outcome, error) {
		<-ctx.Done()
		return model.Outcome{}, ctx.Err()
	})
	rec := newRecorder()
	holder, err := config.NewHolder(fastSettings())
	require.NoError(t, err)
	o, err := New(Config{Worklist: wl, Verifier: v, Settings: holder, Observer: rec})
	require.NoError(t, err)

	type result struct {
		err     error
		summary Summary
	}
	done := make(chan result, 1)
	go func() {
		s, err := o.Run(context.Background())
		done <- result{summary: s, err: err}
	}()

	select {
	case key := <-rec.dispatched:
		assert.Equal(t, "a", key)
	case <-time.After(2 * time.Second):
		t.Fatal("row was never dispatched")
	}
	snap := o.Snapshot()
	assert.Equal(t, []string{"a"}, snap.InFlight)
	assert.True(t, snap.Running)

	assert.True(t, o.Cancel("a"))
	assert.False(t, o.Cancel("a"))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, 1, res.summary.Cancelled)
		assert.Equal(t, []string{"a"}, res.summary.Held)
		assert.Empty(t, res.summary.Statuses)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestCancel_RequeuedRowReturnsOnNextScan(t *testing.T) {
	wl := newWorklist(row("a"))
	v := newVerifier(func(ctx context.Context, _ string, call int) (model.Outcome, error) {
		if call == 0 {
			<-ctx.Done()
			return model.Outcome{}, ctx.Err()
		}
		return model.NewOutcome(model.StatusVerified), nil
	})
	rec := newRecorder()
	s := fastSettings()
	s.Batch.RequeueCancelled = true
	holder, err := config.NewHolder(s)
	require.NoError(t, err)
	o, err := New(Config{Worklist: wl, Verifier: v, Settings: holder, Observer: rec})
	require.NoError(t, err)

	type result struct {
		err     error
		summary Summary
	}
	done := make(chan result, 1)
	go func() {
		sum, err := o.Run(context.Background())
		done <- result{summary: sum, err: err}
	}()

	select {
	case <-rec.dispatched:
	case <-time.After(2 * time.Second):
		t.Fatal("row was never dispatched")
	}
	require.True(t, o.Cancel("a"))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, 1, res.summary.Cancelled)
		assert.Empty(t, res.summary.Held)
		assert.Equal(t, 1, res.summary.Statuses[model.StatusVerified])
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
	_, _, confirmed, _ := wl.counts()
	assert.Equal(t, []string{"a"}, confirmed)
	assert.Equal(t, 2, v.callCount("a"))
}

func TestRun_ContextCancelled(t *testing.T) {
	wl := newWorklist(row("a"))
	v := newVerifier(func(ctx context.Context, _ string, _ int) (model.Outcome, error) {
		<-ctx.Done()
		return model.Outcome{}, ctx.Err()
	})
	holder, err := config.NewHolder(fastSettings())
	require.NoError(t, err)
	o, err := New(Config{Worklist: wl, Verifier: v, Settings: holder})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = o.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
