package config

import (
	"sync"
)

// Holder owns the single live Settings instance. Every Update produces a new
// version and notifies subscribers with the new snapshot.
type Holder struct {
	subs []func(Settings)
	cur  Settings
	mu   sync.RWMutex
}

// NewHolder validates s and wraps it as version 1.
func NewHolder(s Settings) (*Holder, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s = s.clone()
	s.Version = 1
	return &Holder{cur: s}, nil
}

// Snapshot returns a copy of the current settings.
func (h *Holder) Snapshot() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur.clone()
}

// Update applies fn to a copy of the current settings. The change is
// discarded if the result does not validate.
func (h *Holder) Update(fn func(*Settings)) (Settings, error) {
	h.mu.Lock()
	next := h.cur.clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		h.mu.Unlock()
		return h.Snapshot(), err
	}
	next.Version = h.cur.Version + 1
	h.cur = next
	subs := append([]func(Settings){}, h.subs...)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(next.clone())
	}
	return next.clone(), nil
}

// Subscribe registers fn to be called after every successful Update.
func (h *Holder) Subscribe(fn func(Settings)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}
