package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// SetDefaults registers default values for every key the application reads.
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.backend", "sqlite")
	v.SetDefault("database.path", "~/.local/share/sentinel/sentinel.db")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("vision.provider", "gemini")
	v.SetDefault("vision.min_interval", 4*time.Second)
	v.SetDefault("vision.cache_ttl", time.Hour)
	v.SetDefault("vision.active_index", 0)
	v.SetDefault("vision.state_path", "~/.local/share/sentinel/vision_state.json")

	v.SetDefault("bank.timeout", 20*time.Second)
	v.SetDefault("bank.timezone", "Africa/Addis_Ababa")
	v.SetDefault("bank.attempts", 3)

	v.SetDefault("verification.max_age_hours", d.MaxAgeHours)
	v.SetDefault("verification.minimum_amount", d.MinimumAmount)
	v.SetDefault("verification.part_minimum_amount", d.PartMinimumAmount)

	b := d.Batch
	v.SetDefault("batch.concurrency", b.Concurrency)
	v.SetDefault("batch.repeat_limit", b.RepeatLimit)
	v.SetDefault("batch.removal_max_polls", b.RemovalMaxPolls)
	v.SetDefault("batch.max_transient_retries", b.MaxTransientRetries)
	v.SetDefault("batch.max_next_page_attempts", b.MaxNextPageAttempts)
	v.SetDefault("batch.row_timeout", b.RowTimeout)
	v.SetDefault("batch.scan_interval", b.ScanInterval)
	v.SetDefault("batch.settle_delay", b.SettleDelay)
	v.SetDefault("batch.resume_delay", b.ResumeDelay)
	v.SetDefault("batch.cooldown", b.Cooldown)
	v.SetDefault("batch.removal_poll_interval", b.RemovalPollInterval)
	v.SetDefault("batch.next_page_delay", b.NextPageDelay)
	v.SetDefault("batch.transient_retry_delay", b.TransientRetryDelay)
	v.SetDefault("batch.mark_ttl", b.MarkTTL)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cert_dir", "~/.config/sentinel/certs")

	v.SetDefault("sheets.token_file", "~/.config/sentinel/sheets_token.json")
}

// FromViper builds a validated Settings snapshot from v.
func FromViper(v *viper.Viper) (Settings, error) {
	s := DefaultSettings()

	var banks model.BankSpecs
	if err := v.UnmarshalKey("banks", &banks); err != nil {
		return s, fmt.Errorf("%w: banks: %w", common.ErrInvalidConfig, err)
	}
	s.Banks = banks

	s.ExpectedRecipient = v.GetString("verification.expected_recipient")
	s.MaxAgeHours = v.GetFloat64("verification.max_age_hours")
	s.MinimumAmount = v.GetFloat64("verification.minimum_amount")
	s.PartMinimumAmount = v.GetFloat64("verification.part_minimum_amount")
	s.SkipNames = v.GetStringSlice("verification.skip_names")

	s.Batch = BatchSettings{
		Concurrency:         v.GetInt("batch.concurrency"),
		RepeatLimit:         v.GetInt("batch.repeat_limit"),
		RemovalMaxPolls:     v.GetInt("batch.removal_max_polls"),
		MaxTransientRetries: v.GetInt("batch.max_transient_retries"),
		MaxNextPageAttempts: v.GetInt("batch.max_next_page_attempts"),
		RowTimeout:          v.GetDuration("batch.row_timeout"),
		ScanInterval:        v.GetDuration("batch.scan_interval"),
		SettleDelay:         v.GetDuration("batch.settle_delay"),
		ResumeDelay:         v.GetDuration("batch.resume_delay"),
		Cooldown:            v.GetDuration("batch.cooldown"),
		RemovalPollInterval: v.GetDuration("batch.removal_poll_interval"),
		NextPageDelay:       v.GetDuration("batch.next_page_delay"),
		TransientRetryDelay: v.GetDuration("batch.transient_retry_delay"),
		MarkTTL:             v.GetDuration("batch.mark_ttl"),
		SkipRandom:          v.GetBool("batch.skip_random"),
		SkipPDF:             v.GetBool("batch.skip_pdf"),
		ReverseOrder:        v.GetBool("batch.reverse_order"),
		FullAuto:            v.GetBool("batch.full_auto"),
		AcceptPartial:       v.GetBool("batch.accept_partial"),
		RequeueCancelled:    v.GetBool("batch.requeue_cancelled"),
	}
	for _, st := range v.GetStringSlice("batch.repeat_overrides") {
		status := model.Status(st)
		if !status.Valid() {
			return s, fmt.Errorf("%w: unknown repeat override status %q", common.ErrInvalidConfig, st)
		}
		s.Batch.RepeatOverrides = append(s.Batch.RepeatOverrides, status)
	}

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// VisionConfig selects and tunes the vision provider.
type VisionConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	StatePath   string
	Keys        []string
	MinInterval time.Duration
	CacheTTL    time.Duration
	ActiveIndex int
}

// VisionFromViper reads the vision section. Keys from SENTINEL_VISION_KEY_N
// environment variables are appended after configured ones.
func VisionFromViper(v *viper.Viper) (VisionConfig, error) {
	vc := VisionConfig{
		Provider:    v.GetString("vision.provider"),
		Model:       v.GetString("vision.model"),
		BaseURL:     v.GetString("vision.base_url"),
		StatePath:   ExpandPath(v.GetString("vision.state_path")),
		Keys:        v.GetStringSlice("vision.keys"),
		MinInterval: v.GetDuration("vision.min_interval"),
		CacheTTL:    v.GetDuration("vision.cache_ttl"),
		ActiveIndex: v.GetInt("vision.active_index"),
	}

	envKeys, err := CredentialsFromEnv(EnvPrefix)
	if err != nil {
		return vc, err
	}
	vc.Keys = mergeKeys(vc.Keys, envKeys)
	return vc, nil
}

// BankConfig tunes receipt lookups.
type BankConfig struct {
	Timezone string
	Timeout  time.Duration
	Attempts int
}

// BankFromViper reads the bank section.
func BankFromViper(v *viper.Viper) BankConfig {
	return BankConfig{
		Timezone: v.GetString("bank.timezone"),
		Timeout:  v.GetDuration("bank.timeout"),
		Attempts: v.GetInt("bank.attempts"),
	}
}

func mergeKeys(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range append(append([]string{}, a...), b...) {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
