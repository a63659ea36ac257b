// Package blacklist maintains the shared time-bounded symbol veto.
// Engines record stop-outs and order rejections; the gate and scanner
// consult it before proposing entries.
package blacklist

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one active blacklist record.
type Entry struct {
	Symbol    string    `json:"symbol"`
	EntryTime time.Time `json:"entryTime"`
	ExpiresAt time.Time `json:"expiresAt"`
	Reason    string    `json:"reason"`
}

// Config tunes the loss-feedback rules.
type Config struct {
	Duration             time.Duration // veto length after a trigger
	LossWindow           time.Duration // window over which losses accumulate
	MaxConsecutiveLosses int           // losses inside the window before a veto
	RejectionDuration    time.Duration // veto length after repeated order rejections
}

// DefaultConfig matches the production feedback rules.
func DefaultConfig() Config {
	return Config{
		Duration:             60 * time.Minute,
		LossWindow:           30 * time.Minute,
		MaxConsecutiveLosses: 1,
		RejectionDuration:    15 * time.Minute,
	}
}

// Manager is the shared blacklist. Safe for concurrent use.
type Manager struct {
	logger *zap.Logger
	config Config
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
	losses  map[string][]time.Time
}

// New creates a manager. now may be nil for the wall clock.
func New(logger *zap.Logger, config Config, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		logger:  logger.Named("blacklist"),
		config:  config,
		now:     now,
		entries: make(map[string]Entry),
		losses:  make(map[string][]time.Time),
	}
}

// IsBlacklisted reports whether symbol is currently vetoed.
func (m *Manager) IsBlacklisted(symbol string) bool {
	m.mu.RLock()
	e, ok := m.entries[symbol]
	m.mu.RUnlock()
	return ok && m.now().Before(e.ExpiresAt)
}

// Entry returns the active record for symbol, if any.
func (m *Manager) Entry(symbol string) (Entry, bool) {
	m.mu.RLock()
	e, ok := m.entries[symbol]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.ExpiresAt) {
		return Entry{}, false
	}
	return e, true
}

// RecordLoss registers a stop-loss exit. Once the consecutive-loss
// count inside the window exceeds the threshold, the symbol is vetoed
// for the configured duration.
func (m *Manager) RecordLoss(symbol string) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.config.LossWindow)
	recent := m.losses[symbol][:0]
	for _, t := range m.losses[symbol] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	m.losses[symbol] = recent

	if len(recent) >= m.config.MaxConsecutiveLosses {
		m.addLocked(symbol, now, m.config.Duration, "consecutive stop-loss exits")
		m.losses[symbol] = nil
	}
}

// RecordRejections vetoes a symbol after repeated order rejections in
// one scan cycle.
func (m *Manager) RecordRejections(symbol string) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(symbol, now, m.config.RejectionDuration, "repeated order rejections")
}

// Add vetoes a symbol explicitly.
func (m *Manager) Add(symbol, reason string, duration time.Duration) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(symbol, now, duration, reason)
}

func (m *Manager) addLocked(symbol string, now time.Time, duration time.Duration, reason string) {
	m.entries[symbol] = Entry{
		Symbol:    symbol,
		EntryTime: now,
		ExpiresAt: now.Add(duration),
		Reason:    reason,
	}
	m.logger.Info("symbol blacklisted",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.Duration("duration", duration),
	)
}

// Active returns all unexpired entries.
func (m *Manager) Active() []Entry {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if now.Before(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	return out
}

// Prune drops expired entries and stale loss records.
func (m *Manager) Prune() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for sym, e := range m.entries {
		if !now.Before(e.ExpiresAt) {
			delete(m.entries, sym)
		}
	}
	cutoff := now.Add(-m.config.LossWindow)
	for sym, times := range m.losses {
		recent := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(m.losses, sym)
		} else {
			m.losses[sym] = recent
		}
	}
}
