// Package config turns config files, flags and the environment into the
// settings snapshot the verifier and batch runner read.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands $VAR references and a leading ~ in path.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
