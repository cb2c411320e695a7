// Package reset wipes all per-day engine state at the IST midnight
// boundary. The last-reset calendar date string is the idempotency token:
// a second check within the same IST date is a no-op.
package reset

import (
	"context"
	"log"
	"runtime/debug"
	"time"

	"github.com/Vishtheendodoc/orderflow-new/internal/app"
	"github.com/Vishtheendodoc/orderflow-new/internal/markethours"
	"github.com/Vishtheendodoc/orderflow-new/internal/snapshot"
)

// PollInterval is how often the boundary check runs.
const PollInterval = 300 * time.Second

// Scheduler owns the daily boundary detection.
type Scheduler struct {
	state *app.State
	store *snapshot.Store

	// OnReset is called after a completed reset (optional).
	OnReset func()
}

// NewScheduler creates the daily reset scheduler.
func NewScheduler(state *app.State, store *snapshot.Store) *Scheduler {
	return &Scheduler{state: state, store: store}
}

// Run polls the date boundary until ctx is cancelled. The first check only
// records today's date so that startup restore keeps the current day's data.
func (s *Scheduler) Run(ctx context.Context) {
	s.CheckAndReset(time.Now())

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckAndReset(time.Now())
		}
	}
}

// CheckAndReset performs the boundary check. Returns true when a reset ran.
func (s *Scheduler) CheckAndReset(now time.Time) bool {
	today := markethours.DateString(now)
	last := s.state.LastResetDate()

	if last == "" {
		// First call of the process: record the date, let restore run.
		s.state.SetLastResetDate(today)
		return false
	}
	if last == today {
		return false
	}

	log.Printf("[reset] trading day rolled %s -> %s, clearing state", last, today)

	for _, eng := range s.state.Engines() {
		eng.Reset()
	}
	if s.store != nil {
		s.store.Clear()
	}
	debug.FreeOSMemory()

	s.state.SetLastResetDate(today)
	if s.OnReset != nil {
		s.OnReset()
	}
	return true
}
