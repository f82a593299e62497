package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

type cacheEntry struct {
	expiry time.Time
	id     string
}

// extractionCache remembers ids extracted from identical screenshots.
type extractionCache struct {
	clock   clockwork.Clock
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

func newExtractionCache(clock clockwork.Clock, ttl time.Duration) *extractionCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	c := &extractionCache{
		clock:   clock,
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// cacheKey covers the image bytes and the accepted id shapes, so a bank list
// change never serves an id validated against stale formats.
func cacheKey(img []byte, banks model.BankSpecs) string {
	h := sha256.New()
	h.Write(img)
	lines := make([]string, 0, len(banks))
	for _, b := range banks {
		p := append([]string(nil), b.Prefixes...)
		sort.Strings(p)
		lines = append(lines, strconv.Itoa(b.IDLength)+":"+strings.Join(p, ","))
	}
	sort.Strings(lines)
	h.Write([]byte(strings.Join(lines, ";")))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *extractionCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.clock.Now().After(entry.expiry) {
		return "", false
	}
	return entry.id, true
}

func (c *extractionCache) set(key, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{id: id, expiry: c.clock.Now().Add(c.ttl)}
}

func (c *extractionCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *extractionCache) cleanup() {
	ticker := c.clock.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.Chan():
			c.purge()
		}
	}
}

func (c *extractionCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, key)
		}
	}
}

func (c *extractionCache) close() {
	c.once.Do(func() { close(c.stopCh) })
}
