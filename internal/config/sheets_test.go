package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSheetsConfig(t *testing.T) {
	t.Setenv("HOME", "/home/ops")
	t.Setenv("GOOGLE_SHEETS_SPREADSHEET_ID", "from-env")

	v := viper.New()
	v.Set("sheets.service_account_path", "~/keys/sa.json")
	v.Set("sheets.spreadsheet_name", "Daily Receipts")
	v.Set("sheets.enable_formatting", false)

	cfg, err := LoadSheetsConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "/home/ops/keys/sa.json", cfg.ServiceAccountPath)
	assert.Equal(t, "from-env", cfg.SpreadsheetID)
	assert.Equal(t, "Daily Receipts", cfg.SpreadsheetName)
	assert.False(t, cfg.EnableFormatting)
	assert.Equal(t, "Africa/Addis_Ababa", cfg.TimeZone)
}

func TestLoadSheetsConfigWithoutAuth(t *testing.T) {
	for _, key := range []string{
		"GOOGLE_SHEETS_CLIENT_ID",
		"GOOGLE_SHEETS_CLIENT_SECRET",
		"GOOGLE_SHEETS_REFRESH_TOKEN",
		"GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH",
	} {
		t.Setenv(key, "")
	}

	_, err := LoadSheetsConfig(viper.New())
	require.Error(t, err)
}
