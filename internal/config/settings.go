package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// Default verification thresholds.
const (
	DefaultMinimumAmount     = 50.0
	DefaultPartMinimumAmount = 10.0
	DefaultMaxAgeHours       = 0.5
)

// Settings is an immutable snapshot of the verification and batch configuration.
// Readers take a snapshot per call; only a Holder produces new versions.
type Settings struct {
	ExpectedRecipient string
	Banks             model.BankSpecs
	SkipNames         []string
	Batch             BatchSettings
	Version           uint64
	MaxAgeHours       float64
	MinimumAmount     float64
	// PartMinimumAmount is the floor applied to each screenshot of a multi-image receipt.
	PartMinimumAmount float64
}

// BatchSettings controls the orchestrator's skip, retry and pacing policy.
type BatchSettings struct {
	RepeatOverrides     []model.Status
	Concurrency         int
	RepeatLimit         int
	RemovalMaxPolls     int
	MaxTransientRetries int
	MaxNextPageAttempts int
	RowTimeout          time.Duration
	ScanInterval        time.Duration
	SettleDelay         time.Duration
	ResumeDelay         time.Duration
	Cooldown            time.Duration
	RemovalPollInterval time.Duration
	NextPageDelay       time.Duration
	TransientRetryDelay time.Duration
	MarkTTL             time.Duration
	SkipRandom          bool
	SkipPDF             bool
	ReverseOrder        bool
	FullAuto            bool
	AcceptPartial       bool
	// RequeueCancelled returns a cancelled row to the next scan instead of holding it until retried.
	RequeueCancelled    bool
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		MaxAgeHours:       DefaultMaxAgeHours,
		MinimumAmount:     DefaultMinimumAmount,
		PartMinimumAmount: DefaultPartMinimumAmount,
		Batch: BatchSettings{
			Concurrency:         1,
			RepeatLimit:         1,
			RemovalMaxPolls:     20,
			MaxTransientRetries: 3,
			MaxNextPageAttempts: 5,
			RowTimeout:          90 * time.Second,
			ScanInterval:        time.Second,
			SettleDelay:         2 * time.Second,
			ResumeDelay:         5 * time.Second,
			Cooldown:            60 * time.Second,
			RemovalPollInterval: 500 * time.Millisecond,
			NextPageDelay:       10 * time.Second,
			TransientRetryDelay: 5 * time.Second,
			MarkTTL:             12 * time.Hour,
		},
	}
}

// SkipRandomEffective reports whether unmatched-format rows are skipped. Full-auto forces it on.
func (s Settings) SkipRandomEffective() bool {
	return s.Batch.SkipRandom || s.Batch.FullAuto
}

// RepeatOverride reports whether repeats of a prior outcome are verified
// again once they reach the repeat limit, instead of being held for reject.
func (s Settings) RepeatOverride(prior model.Status) bool {
	return prior != "" && slices.Contains(s.Batch.RepeatOverrides, prior)
}

// ReverifyRepeat reports whether a sighting that brings a record with the
// given prior status to count repeats goes back to the bank.
func (s Settings) ReverifyRepeat(prior model.Status, count int) bool {
	return s.RepeatOverride(prior) && count >= max(s.Batch.RepeatLimit, 1)
}

// ShouldSkipName reports whether a sender matches the skip list (case-insensitive substring).
func (s Settings) ShouldSkipName(sender string) bool {
	sender = strings.ToLower(strings.Join(strings.Fields(sender), " "))
	if sender == "" {
		return false
	}
	for _, n := range s.SkipNames {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(sender, n) {
			return true
		}
	}
	return false
}

// Validate checks the snapshot for values the pipeline cannot work with.
func (s Settings) Validate() error {
	if s.MaxAgeHours <= 0 {
		return fmt.Errorf("%w: max age hours must be positive", common.ErrInvalidConfig)
	}
	if s.MinimumAmount < 0 || s.PartMinimumAmount < 0 {
		return fmt.Errorf("%w: minimum amounts must not be negative", common.ErrInvalidConfig)
	}
	for _, b := range s.Banks {
		if b.Name == "" {
			return fmt.Errorf("%w: bank without a name", common.ErrInvalidConfig)
		}
		if b.IDLength <= 0 || len(b.Prefixes) == 0 {
			return fmt.Errorf("%w: bank %q needs an id length and at least one prefix", common.ErrInvalidConfig, b.Name)
		}
		if b.LookupURLTemplate == "" {
			return fmt.Errorf("%w: bank %q has no lookup url", common.ErrInvalidConfig, b.Name)
		}
	}
	if s.Batch.Concurrency < 1 {
		return fmt.Errorf("%w: batch concurrency must be at least 1", common.ErrInvalidConfig)
	}
	if s.Batch.RowTimeout <= 0 {
		return fmt.Errorf("%w: row timeout must be positive", common.ErrInvalidConfig)
	}
	return nil
}

func (s Settings) clone() Settings {
	c := s
	c.Banks = make(model.BankSpecs, len(s.Banks))
	for i, b := range s.Banks {
		b.Prefixes = slices.Clone(b.Prefixes)
		c.Banks[i] = b
	}
	c.SkipNames = slices.Clone(s.SkipNames)
	c.Batch.RepeatOverrides = slices.Clone(s.Batch.RepeatOverrides)
	return c
}
