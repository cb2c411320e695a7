// Package snapshot persists each engine's closed candles to one JSON file
// per symbol, written atomically (tmp then rename) so a reader never sees
// a partial file. Open candles are never persisted; they rebuild from live
// ticks after a restart.
package snapshot

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Vishtheendodoc/orderflow-new/internal/app"
	"github.com/Vishtheendodoc/orderflow-new/internal/markethours"
	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

const (
	// First write lands shortly after startup, then the steady cadence.
	InitialDelay  = 60 * time.Second
	WriteInterval = 300 * time.Second
)

// Store writes and restores per-symbol candle snapshots.
type Store struct {
	dir     string
	state   *app.State
	enabled bool

	// OnWrite is called after every full write pass with its duration.
	OnWrite func(d time.Duration)
}

// NewStore creates the store and its directory. A directory that cannot be
// created disables persistence with a warning; it never blocks the data path.
func NewStore(dir string, state *app.State) *Store {
	s := &Store{dir: dir, state: state, enabled: true}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[snapshot] WARNING: cannot create %s: %v (persistence disabled)", dir, err)
		s.enabled = false
	}
	return s
}

// Run writes all engines once after the initial delay, then on the steady
// interval, until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	if !s.enabled {
		return
	}

	initial := time.NewTimer(InitialDelay)
	defer initial.Stop()
	select {
	case <-ctx.Done():
		return
	case <-initial.C:
		s.WriteAll()
	}

	ticker := time.NewTicker(WriteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.WriteAll()
		}
	}
}

// WriteAll serializes every engine's closed candles to its symbol file.
// Per-file errors are logged and skipped.
func (s *Store) WriteAll() {
	if !s.enabled {
		return
	}
	start := time.Now()
	for _, eng := range s.state.Engines() {
		views := eng.ClosedCandles()
		if len(views) == 0 {
			continue
		}
		if err := s.writeSymbol(eng.Symbol(), views); err != nil {
			log.Printf("[snapshot] write %s: %v", eng.Symbol(), err)
		}
	}
	if s.OnWrite != nil {
		s.OnWrite(time.Since(start))
	}
}

// writeSymbol writes one symbol's candle array via tmp+rename.
func (s *Store) writeSymbol(symbol string, views []model.CandleView) error {
	b, err := json.Marshal(views)
	if err != nil {
		return err
	}
	path := s.path(symbol)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RestoreAll reloads every engine's history from disk, keeping only candles
// belonging to the current IST trading day, and seeds each engine's CVD.
func (s *Store) RestoreAll(now time.Time) {
	if !s.enabled {
		return
	}
	cutoff := markethours.Midnight(now).UnixMilli()

	for _, eng := range s.state.Engines() {
		b, err := os.ReadFile(s.path(eng.Symbol()))
		if err != nil {
			continue // no snapshot for this symbol
		}
		var views []model.CandleView
		if err := json.Unmarshal(b, &views); err != nil {
			log.Printf("[snapshot] restore %s: %v", eng.Symbol(), err)
			continue
		}

		kept := views[:0]
		for _, v := range views {
			if v.OpenTime >= cutoff {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			continue
		}
		eng.Restore(kept)
		log.Printf("[snapshot] restored %d candles for %s", len(kept), eng.Symbol())
	}
}

// Clear removes every snapshot file. Called by the daily reset.
func (s *Store) Clear() {
	if !s.enabled {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("[snapshot] clear: %v", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			log.Printf("[snapshot] clear %s: %v", e.Name(), err)
		}
	}
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.dir, symbol+".json")
}
