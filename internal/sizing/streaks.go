package sizing

import "sync"

// StreakTracker counts consecutive losses per symbol. A win resets the
// symbol's streak.
type StreakTracker struct {
	mu      sync.Mutex
	streaks map[string]int
}

// NewStreakTracker creates an empty tracker.
func NewStreakTracker() *StreakTracker {
	return &StreakTracker{streaks: make(map[string]int)}
}

// RecordLoss increments the symbol's streak.
func (t *StreakTracker) RecordLoss(symbol string) {
	t.mu.Lock()
	t.streaks[symbol]++
	t.mu.Unlock()
}

// RecordWin resets the symbol's streak.
func (t *StreakTracker) RecordWin(symbol string) {
	t.mu.Lock()
	delete(t.streaks, symbol)
	t.mu.Unlock()
}

// Streak returns the current consecutive-loss count.
func (t *StreakTracker) Streak(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streaks[symbol]
}
