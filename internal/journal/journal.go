// Package journal persists completed trades to an append-only JSONL
// file and serves the win-rate statistics the sizer's Kelly guard
// consumes.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

// winRateWindow is the number of most recent closed trades per symbol
// the win-rate statistic covers.
const winRateWindow = 20

// Exit reason codes recorded with each trade.
const (
	ReasonStopLoss       = "STOP_LOSS"
	ReasonTrailingStop   = "TRAILING_STOP"
	ReasonPartialTP      = "PARTIAL_TP"
	ReasonEmergency      = "EMERGENCY"
	ReasonExternalClose  = "EXTERNAL_CLOSE"
	ReasonShutdown       = "SHUTDOWN"
	ReasonTakeProfit     = "TAKE_PROFIT"
)

// TradeRecord is one completed (or partially completed) trade.
type TradeRecord struct {
	Symbol      string          `json:"symbol"`
	Engine      string          `json:"engine"`
	Side        types.Side      `json:"side"`
	EntryTime   time.Time       `json:"entryTime"`
	ExitTime    time.Time       `json:"exitTime"`
	EntryPrice  float64         `json:"entryPrice"`
	ExitPrice   float64         `json:"exitPrice"`
	Quantity    decimal.Decimal `json:"quantity"`
	Leverage    int             `json:"leverage"`
	RealizedPnl decimal.Decimal `json:"realizedPnl"`
	ExitReason  string          `json:"exitReason"`
}

// Win reports whether the trade closed profitable.
func (r TradeRecord) Win() bool { return r.RealizedPnl.Sign() > 0 }

// Stats summarizes a symbol's recent history.
type Stats struct {
	ClosedTrades int
	Wins         int
	WinRate      float64
}

// Journal is a single-writer append-only trade log with in-memory
// statistics. One journal per engine; no cross-engine contention.
type Journal struct {
	logger *zap.Logger
	path   string

	mu      sync.Mutex
	file    *os.File
	records []TradeRecord
}

// Open loads an existing journal file (creating it if absent) and
// positions the writer at its end.
func Open(logger *zap.Logger, path string) (*Journal, error) {
	j := &Journal{logger: logger.Named("journal"), path: path}
	if err := j.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	j.file = f
	return j, nil
}

func (j *Journal) load() error {
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading journal %s: %w", j.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var r TradeRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			// A torn final line from a crash is tolerated; anything
			// else in the middle is corruption worth surfacing.
			j.logger.Warn("skipping unreadable journal line",
				zap.Int("line", line), zap.Error(err))
			continue
		}
		j.records = append(j.records, r)
	}
	return scanner.Err()
}

// Append writes one record and syncs it to disk.
func (j *Journal) Append(r TradeRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding trade record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending trade record: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("syncing journal: %w", err)
	}
	j.records = append(j.records, r)
	return nil
}

// StatsFor computes the win rate over the last winRateWindow completed
// closes for one symbol. Partial exits are interim scale-outs, not
// completed trades, and do not count.
func (j *Journal) StatsFor(symbol string) Stats {
	j.mu.Lock()
	defer j.mu.Unlock()

	var recent []TradeRecord
	for i := len(j.records) - 1; i >= 0 && len(recent) < winRateWindow; i-- {
		if j.records[i].Symbol == symbol && j.records[i].ExitReason != ReasonPartialTP {
			recent = append(recent, j.records[i])
		}
	}

	s := Stats{ClosedTrades: len(recent)}
	for _, r := range recent {
		if r.Win() {
			s.Wins++
		}
	}
	if s.ClosedTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.ClosedTrades)
	}
	return s
}

// Len returns the total number of journaled trades.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Recent returns up to n most recent records, newest last.
func (j *Journal) Recent(n int) []TradeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n > len(j.records) {
		n = len(j.records)
	}
	out := make([]TradeRecord, n)
	copy(out, j.records[len(j.records)-n:])
	return out
}

// TotalPnl sums realized P&L across all journaled trades.
func (j *Journal) TotalPnl() decimal.Decimal {
	j.mu.Lock()
	defer j.mu.Unlock()
	total := decimal.Zero
	for _, r := range j.records {
		total = total.Add(r.RealizedPnl)
	}
	return total
}

// Close releases the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
