// Package pipeline runs screenshots through extraction, bank lookup,
// classification and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/receipt-sentinel/internal/bank"
	"github.com/Veraticus/receipt-sentinel/internal/classification"
	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/config"
	"github.com/Veraticus/receipt-sentinel/internal/llm"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/service"
)

// IDExtractor turns a screenshot into a transaction id or llm.NoMatch.
type IDExtractor interface {
	Call(ctx context.Context, img model.Image, banks model.BankSpecs) (string, error)
}

// ReceiptFetcher looks up the bank's receipt for an id.
type ReceiptFetcher interface {
	Fetch(ctx context.Context, spec model.BankSpec, id string) (*model.Receipt, error)
}

// Renderer produces an alternate rendering of a screenshot for a second extraction attempt.
type Renderer interface {
	Render(img model.Image) (model.Image, error)
}

// Config wires a Pipeline. Renderer, Clock and Logger are optional.
type Config struct {
	Extractor IDExtractor
	Fetcher   ReceiptFetcher
	Store     service.TransactionStore
	Renderer  Renderer
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// Pipeline verifies receipts. It is safe for concurrent use.
type Pipeline struct {
	extractor IDExtractor
	fetcher   ReceiptFetcher
	store     service.TransactionStore
	renderer  Renderer
	clock     clockwork.Clock
	logger    *slog.Logger
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Extractor == nil || cfg.Fetcher == nil || cfg.Store == nil {
		return nil, fmt.Errorf("%w: pipeline needs an extractor, a fetcher and a store", common.ErrMissingConfig)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		extractor: cfg.Extractor,
		fetcher:   cfg.Fetcher,
		store:     cfg.Store,
		renderer:  cfg.Renderer,
		clock:     clock,
		logger:    common.LoggerOrDefault(cfg.Logger),
	}, nil
}

// result is one image's outcome plus the write it implies. Nothing is written
// until persist runs, so a cancelled context leaves the store untouched.
type result struct {
	record    *model.StoredTransaction
	outcome   model.Outcome
	counted   model.Status
	duplicate bool
}

// VerifyImage runs one screenshot through the pipeline and persists the outcome.
// The returned error is non-nil only when ctx ends before the outcome is recorded.
func (p *Pipeline) VerifyImage(ctx context.Context, img model.Image, expected float64, s config.Settings) (model.Outcome, error) {
	res, err := p.verifyImage(ctx, img, expected, s.MinimumAmount, s, nil)
	if err != nil {
		return model.Outcome{}, err
	}
	if err := p.persist(ctx, res); err != nil {
		return model.Outcome{}, err
	}
	p.logOutcome(res.outcome)
	return res.outcome, nil
}

func (p *Pipeline) verifyImage(ctx context.Context, img model.Image, expected, minimum float64, s config.Settings, seen map[string]bool) (result, error) {
	if len(img.Data) == 0 {
		out := model.NewOutcome(model.StatusImageLoadFailed)
		out.Transient = true
		out.Detail = "empty image " + img.Source
		return result{outcome: out}, nil
	}

	id, err := p.extract(ctx, img, s.Banks)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result{}, ctxErr
		}
		return p.extractionFailure(err), nil
	}
	if id == llm.NoMatch {
		return p.idless(model.StatusRandom, "no transaction id found"), nil
	}
	if seen != nil {
		if seen[id] {
			return result{duplicate: true, outcome: model.Outcome{TransactionID: id}}, nil
		}
		seen[id] = true
	}

	spec, ok := s.Banks.Match(id)
	if !ok {
		now := p.clock.Now()
		out := model.NewOutcome(model.StatusRandom)
		out.TransactionID = id
		out.Detail = "id matches no configured bank format"
		rec := &model.StoredTransaction{ID: id, Status: model.StatusRandom, FirstSeenAt: now, UpdatedAt: now}
		return p.withPrior(ctx, result{outcome: out, record: rec, counted: model.StatusRandom})
	}

	prior, err := p.store.GetTransaction(ctx, id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		prior = nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result{}, ctxErr
		}
		out := model.NewOutcome(model.StatusOffline)
		out.TransactionID = id
		out.Bank = spec.Name
		out.Transient = true
		out.Detail = err.Error()
		out.Finalize()
		return result{outcome: out}, nil
	}
	reverify := false
	if prior != nil && prior.IsComplete() {
		if !s.ReverifyRepeat(prior.Status, prior.RepeatCount+1) {
			return p.repeat(prior, spec), nil
		}
		reverify = true
		p.logger.Info("Verifying repeat again",
			"transaction_id", id, "prior_status", prior.Status, "repeat_count", prior.RepeatCount+1)
	}

	receipt, err := p.fetcher.Fetch(ctx, spec, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result{}, ctxErr
		}
		return p.bankFailure(id, spec, prior, err), nil
	}

	now := p.clock.Now()
	var out model.Outcome
	if s.ShouldSkipName(receipt.SenderName) {
		out = model.Outcome{
			Status:        model.StatusSkippedName,
			RecipientName: classification.CollapseSpace(receipt.Recipient),
			SenderName:    classification.CollapseSpace(receipt.SenderName),
			SenderPhone:   receipt.SenderPhone,
			BankDate:      receipt.Date,
			FoundAmount:   classification.ParseAmount(receipt.AmountText),
		}
	} else {
		out = classification.Classify(*receipt, classification.Policy{
			ExpectedRecipient: s.ExpectedRecipient,
			ExpectedAmount:    expected,
			MaxAgeHours:       s.MaxAgeHours,
			MinimumAmount:     minimum,
		}, now)
	}
	out.TransactionID = id
	out.Bank = spec.Name
	out.ExpectedAmount = expected
	out.Finalize()

	rec := &model.StoredTransaction{
		ID:            id,
		Status:        out.Status,
		Amount:        out.FoundAmount,
		FirstSeenAt:   now,
		UpdatedAt:     now,
		SenderName:    out.SenderName,
		SenderPhone:   out.SenderPhone,
		RecipientName: out.RecipientName,
		BankDate:      out.BankDate,
	}
	if prior != nil {
		rec.FirstSeenAt = prior.FirstSeenAt
		rec.RepeatCount = prior.RepeatCount
		rec.LastRepeatAt = prior.LastRepeatAt
		rec.Imported = prior.Imported
	}
	if reverify {
		rec.RepeatCount++
		rec.LastRepeatAt = now
		out.RepeatCount = rec.RepeatCount
		out.PriorStatus = prior.Status
	}
	return result{outcome: out, record: rec, counted: out.Status}, nil
}

// extract asks for an id, retrying once with the alternate rendering on no match.
func (p *Pipeline) extract(ctx context.Context, img model.Image, banks model.BankSpecs) (string, error) {
	id, err := p.extractor.Call(ctx, img, banks)
	if err != nil || id != llm.NoMatch || p.renderer == nil {
		return id, err
	}

	alt, rerr := p.renderer.Render(img)
	if rerr != nil {
		p.logger.Debug("alternate rendering failed", "source", img.Source, "error", rerr)
		return id, nil
	}
	p.logger.Debug("retrying extraction with alternate rendering", "source", img.Source)
	return p.extractor.Call(ctx, alt, banks)
}

func (p *Pipeline) extractionFailure(err error) result {
	status := model.StatusAIError
	if errors.Is(err, common.ErrKeysExhausted) || errors.Is(err, common.ErrRateLimit) {
		status = model.StatusRateLimited
	}
	res := p.idless(status, err.Error())
	res.outcome.Transient = status.Transient()
	return res
}

func (p *Pipeline) idless(status model.Status, detail string) result {
	out := model.NewOutcome(status)
	out.Detail = detail
	return result{outcome: out, counted: status}
}

func (p *Pipeline) repeat(prior *model.StoredTransaction, spec model.BankSpec) result {
	now := p.clock.Now()
	rec := *prior
	rec.RepeatCount++
	rec.LastRepeatAt = now
	rec.UpdatedAt = now

	out := model.Outcome{
		Status:        model.StatusRepeat,
		TransactionID: prior.ID,
		Bank:          spec.Name,
		PriorStatus:   prior.Status,
		RepeatCount:   rec.RepeatCount,
		FoundAmount:   prior.Amount,
		RecipientName: prior.RecipientName,
		SenderName:    prior.SenderName,
		SenderPhone:   prior.SenderPhone,
		BankDate:      prior.BankDate,
	}
	out.Finalize()
	return result{outcome: out, record: &rec, counted: model.StatusRepeat}
}

func (p *Pipeline) bankFailure(id string, spec model.BankSpec, prior *model.StoredTransaction, err error) result {
	out := model.NewOutcome(model.StatusBankNotFound)
	out.TransactionID = id
	out.Bank = spec.Name
	out.Detail = err.Error()
	if !errors.Is(err, bank.ErrReceiptNotFound) {
		out.Transient = true
		return result{outcome: out}
	}

	now := p.clock.Now()
	rec := &model.StoredTransaction{ID: id, FirstSeenAt: now}
	if prior != nil {
		*rec = *prior
	}
	rec.Status = model.StatusBankNotFound
	rec.UpdatedAt = now
	return result{outcome: out, record: rec, counted: model.StatusBankNotFound}
}

// withPrior applies the new status to an existing record, leaving its other
// fields as they were. A failed lookup is ignored: the record is written as new.
func (p *Pipeline) withPrior(ctx context.Context, res result) (result, error) {
	prior, err := p.store.GetTransaction(ctx, res.record.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result{}, ctxErr
		}
		return res, nil
	}
	rec := *prior
	rec.Status = res.record.Status
	rec.UpdatedAt = res.record.UpdatedAt
	res.record = &rec
	return res, nil
}

// persist writes the result. Transient outcomes and duplicates are not recorded.
func (p *Pipeline) persist(ctx context.Context, res result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if res.duplicate || res.outcome.Transient && res.counted == "" || !res.outcome.Status.Persisted() {
		return nil
	}

	var err error
	switch {
	case res.record != nil:
		err = p.store.SaveTransaction(ctx, res.record, res.counted)
	case res.counted != "":
		err = p.store.RecordOutcome(ctx, p.clock.Now(), res.counted)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		p.logger.Error("failed to persist outcome",
			"transaction_id", res.outcome.TransactionID,
			"status", res.outcome.Status,
			"error", err)
	}
	return nil
}

func (p *Pipeline) logOutcome(out model.Outcome) {
	attrs := []any{"status", out.Label(), "severity", out.Severity}
	if out.TransactionID != "" {
		attrs = append(attrs, "transaction_id", out.TransactionID)
	}
	if out.Detail != "" {
		attrs = append(attrs, "detail", out.Detail)
	}
	if out.Transient {
		p.logger.Warn("verification outcome", attrs...)
		return
	}
	p.logger.Info("verification outcome", attrs...)
}

func amountsMatch(a, b float64) bool {
	return math.Abs(a-b) < classification.AmountTolerance
}
