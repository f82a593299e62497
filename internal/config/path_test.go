package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("SENTINEL_TEST_DIR", "/var/lib/sentinel")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/.config/sentinel", filepath.Join(home, ".config/sentinel")},
		{"$SENTINEL_TEST_DIR/db.sqlite", "/var/lib/sentinel/db.sqlite"},
		{"~other/file", "~other/file"},
		{"/abs/path", "/abs/path"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandPath(tt.in), tt.in)
	}
}
