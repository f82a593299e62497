package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Veraticus/receipt-sentinel/internal/common"
)

// CredentialSet is an ordered list of API keys with a circular active index.
// The index that last succeeded is where the next call starts.
type CredentialSet struct {
	onChange func(active int)
	keys     []string
	active   int
	mu       sync.Mutex
}

// NewCredentialSet returns a set starting at active (taken modulo len(keys)).
// onChange, if set, is called whenever the active index moves.
func NewCredentialSet(keys []string, active int, onChange func(active int)) (*CredentialSet, error) {
	if len(keys) == 0 {
		return nil, common.ErrNoCredentials
	}
	c := &CredentialSet{keys: append([]string(nil), keys...), onChange: onChange}
	c.active = c.normalize(active)
	return c, nil
}

// Len returns the number of keys.
func (c *CredentialSet) Len() int {
	return len(c.keys)
}

// Active returns the current starting index.
func (c *CredentialSet) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Key returns the key at index i modulo the set size.
func (c *CredentialSet) Key(i int) string {
	return c.keys[c.normalize(i)]
}

// SetActive moves the starting index. It reports whether the index changed.
func (c *CredentialSet) SetActive(i int) bool {
	i = c.normalize(i)
	c.mu.Lock()
	if c.active == i {
		c.mu.Unlock()
		return false
	}
	c.active = i
	cb := c.onChange
	c.mu.Unlock()

	if cb != nil {
		cb(i)
	}
	return true
}

func (c *CredentialSet) normalize(i int) int {
	n := len(c.keys)
	return ((i % n) + n) % n
}

// Mask hides all but the last four characters of a key for display.
func Mask(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

type rotationState struct {
	ActiveIndex int `json:"active_index"`
}

// LoadActiveIndex reads the persisted rotation pointer. A missing file yields 0.
func LoadActiveIndex(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading rotation state: %w", err)
	}
	var st rotationState
	if err := json.Unmarshal(data, &st); err != nil {
		return 0, fmt.Errorf("parsing rotation state: %w", err)
	}
	return st.ActiveIndex, nil
}

// SaveActiveIndex persists the rotation pointer.
func SaveActiveIndex(path string, active int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.Marshal(rotationState{ActiveIndex: active})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing rotation state: %w", err)
	}
	return nil
}
