package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/Veraticus/receipt-sentinel/internal/common"
)

// EnvPrefix is the environment prefix shared by viper and the env loaders.
const EnvPrefix = "SENTINEL_"

// CredentialsFromEnv collects numbered vision keys (PREFIX + "VISION_KEY_1", "_2", ...)
// in numeric order.
func CredentialsFromEnv(prefix string) ([]string, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(prefix+"VISION_KEY_", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("loading vision keys from environment: %w", err)
	}

	type numbered struct {
		key string
		n   int
	}
	var found []numbered
	for _, name := range k.Keys() {
		n, err := strconv.Atoi(strings.TrimPrefix(name, prefix+"VISION_KEY_"))
		if err != nil || n < 1 {
			continue
		}
		if v := strings.TrimSpace(k.String(name)); v != "" {
			found = append(found, numbered{n: n, key: v})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	keys := make([]string, 0, len(found))
	for _, f := range found {
		keys = append(keys, f.key)
	}
	return keys, nil
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `koanf:"HOST"`
	Database string `koanf:"DB"`
	User     string `koanf:"USER"`
	Password string `koanf:"PASSWORD"`
	SSLMode  string `koanf:"SSLMODE"`
	Port     int    `koanf:"PORT"`
	MaxConns int    `koanf:"MAX_CONNS"`
}

// DSN renders the libpq keyword/value connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// PostgresFromEnv overlays PREFIX + "POSTGRES_*" variables onto base.
func PostgresFromEnv(prefix string, base PostgresConfig) (PostgresConfig, error) {
	p := prefix + "POSTGRES_"
	k := koanf.New(".")
	if err := k.Load(env.Provider(p, ".", func(s string) string {
		return strings.TrimPrefix(s, p)
	}), nil); err != nil {
		return base, fmt.Errorf("loading postgres settings from environment: %w", err)
	}

	cfg := base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return base, fmt.Errorf("%w: postgres environment: %w", common.ErrInvalidConfig, err)
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	return cfg, nil
}
