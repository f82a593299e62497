package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// KeyedExtractor extracts an id using a specific API key.
type KeyedExtractor interface {
	Extract(ctx context.Context, apiKey string, img model.Image, banks model.BankSpecs) (string, error)
}

// RotatingExtractor spreads extraction calls over a CredentialSet, advancing
// past rate-limited keys, and serialises every call through a CallQueue.
type RotatingExtractor struct {
	extractor KeyedExtractor
	creds     *CredentialSet
	queue     *CallQueue
	cache     *extractionCache
	logger    *slog.Logger
}

// RotatingConfig wires a RotatingExtractor.
type RotatingConfig struct {
	Clock    clockwork.Clock
	Logger   *slog.Logger
	CacheTTL time.Duration
	// DisableCache turns off reuse of ids for identical screenshots.
	DisableCache bool
}

// NewRotatingExtractor builds the rotation layer. The queue is shared; it is not closed by Close.
func NewRotatingExtractor(extractor KeyedExtractor, creds *CredentialSet, queue *CallQueue, cfg RotatingConfig) *RotatingExtractor {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &RotatingExtractor{
		extractor: extractor,
		creds:     creds,
		queue:     queue,
		logger:    common.LoggerOrDefault(cfg.Logger),
	}
	if !cfg.DisableCache {
		r.cache = newExtractionCache(clock, cfg.CacheTTL)
	}
	return r
}

// Call returns an id, NoMatch, or an error. Every key is tried at most once,
// starting at the active index: a rate-limited key always advances, a no-match
// answer advances while keys remain, and the key that succeeds becomes the new
// active index. When the last key tried is rate limited the error wraps
// common.ErrKeysExhausted, even if an earlier key failed differently.
func (r *RotatingExtractor) Call(ctx context.Context, img model.Image, banks model.BankSpecs) (string, error) {
	var key string
	if r.cache != nil {
		key = cacheKey(img.Data, banks)
		if id, ok := r.cache.get(key); ok {
			r.logger.Debug("Extraction cache hit", "transaction_id", id)
			return id, nil
		}
	}

	n := r.creds.Len()
	start := r.creds.Active()
	sawNoMatch := false
	var lastErr error

	for attempt := 0; attempt < n; attempt++ {
		idx := (start + attempt) % n

		var answer string
		err := r.queue.Do(ctx, func(ctx context.Context) error {
			var callErr error
			answer, callErr = r.extractor.Extract(ctx, r.creds.Key(idx), img, banks)
			return callErr
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		switch {
		case errors.Is(err, common.ErrRateLimit):
			lastErr = nil
			r.logger.Warn("Vision key rate limited, rotating", "key_index", idx, "attempt", attempt+1)
		case err != nil:
			lastErr = err
			r.logger.Warn("Vision call failed", "key_index", idx, "attempt", attempt+1, "error", err)
		case answer == NoMatch:
			sawNoMatch = true
			r.logger.Debug("Vision call found no id", "key_index", idx, "attempt", attempt+1)
		default:
			if r.creds.SetActive(idx) {
				r.logger.Info("Vision key rotated", "key_index", idx)
			}
			if r.cache != nil {
				r.cache.set(key, answer)
			}
			return answer, nil
		}
	}

	switch {
	case sawNoMatch:
		return NoMatch, nil
	case lastErr != nil:
		return "", lastErr
	default:
		return "", fmt.Errorf("%w (%d keys)", common.ErrKeysExhausted, n)
	}
}

// Close releases the cache's cleanup goroutine.
func (r *RotatingExtractor) Close() {
	if r.cache != nil {
		r.cache.close()
	}
}
