package reset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Vishtheendodoc/orderflow-new/internal/app"
	"github.com/Vishtheendodoc/orderflow-new/internal/engine"
	"github.com/Vishtheendodoc/orderflow-new/internal/markethours"
	"github.com/Vishtheendodoc/orderflow-new/internal/model"
	"github.com/Vishtheendodoc/orderflow-new/internal/snapshot"
)

func newTestState(t *testing.T) (*app.State, *engine.Engine) {
	t.Helper()
	state := app.NewState(app.Options{
		EngineConfig: engine.Config{
			CandleMs:       60_000,
			ImbalanceRatio: 3.0,
			MaxCandles:     100,
			MaxLevels:      100,
		},
		MaxEngines:     10,
		BroadcastLimit: 100,
	})
	eng, err := state.Subscribe(model.Instrument{
		Symbol: "NIFTY", SecurityID: "13", ExchangeSegment: "NSE_FO",
	})
	if err != nil {
		t.Fatal(err)
	}
	return state, eng
}

func TestFirstCheckOnlyRecordsDate(t *testing.T) {
	state, eng := newTestState(t)
	eng.ProcessTick(model.Tick{SecurityID: 13, LTP: 100, LTQ: 5, TSMs: 1000})

	s := NewScheduler(state, nil)
	now := time.Now()
	if s.CheckAndReset(now) {
		t.Error("first check performed a reset")
	}
	if state.LastResetDate() != markethours.DateString(now) {
		t.Errorf("date not recorded: %q", state.LastResetDate())
	}
	// Engine state survives so startup restore can run after this.
	if eng.CVD() == 0 {
		t.Error("first check wiped engine state")
	}
}

func TestSameDayIsIdempotent(t *testing.T) {
	state, eng := newTestState(t)
	s := NewScheduler(state, nil)

	now := time.Now()
	s.CheckAndReset(now)
	eng.ProcessTick(model.Tick{SecurityID: 13, LTP: 100, LTQ: 5, TSMs: 1000})

	for i := 0; i < 3; i++ {
		if s.CheckAndReset(now.Add(time.Duration(i) * time.Minute)) {
			t.Fatalf("same-day check %d reset", i)
		}
	}
	if eng.CVD() == 0 {
		t.Error("same-day check wiped engine state")
	}
}

func TestDayBoundaryResets(t *testing.T) {
	state, eng := newTestState(t)
	dir := t.TempDir()
	store := snapshot.NewStore(dir, state)
	s := NewScheduler(state, store)

	var resetFired bool
	s.OnReset = func() { resetFired = true }

	day1 := time.Date(2026, time.August, 24, 12, 0, 0, 0, markethours.IST)
	s.CheckAndReset(day1)

	eng.ProcessTick(model.Tick{SecurityID: 13, LTP: 100, LTQ: 5, TSMs: day1.UnixMilli()})
	if err := os.WriteFile(filepath.Join(dir, "NIFTY.json"), []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}

	day2 := day1.Add(24 * time.Hour)
	if !s.CheckAndReset(day2) {
		t.Fatal("boundary crossing did not reset")
	}

	if eng.CVD() != 0 {
		t.Errorf("CVD after reset = %v", eng.CVD())
	}
	if got := len(eng.Snapshot(0).Candles); got != 0 {
		t.Errorf("candles after reset = %d", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "NIFTY.json")); !os.IsNotExist(err) {
		t.Error("snapshot files survived the reset")
	}
	if !resetFired {
		t.Error("OnReset hook not fired")
	}
	if state.LastResetDate() != markethours.DateString(day2) {
		t.Errorf("reset date = %q", state.LastResetDate())
	}

	// The new day is idempotent too.
	if s.CheckAndReset(day2.Add(time.Hour)) {
		t.Error("second check on the new day reset again")
	}
}

func TestSubscriptionSurvivesReset(t *testing.T) {
	state, _ := newTestState(t)
	s := NewScheduler(state, nil)

	day1 := time.Date(2026, time.August, 24, 12, 0, 0, 0, markethours.IST)
	s.CheckAndReset(day1)
	s.CheckAndReset(day1.Add(24 * time.Hour))

	if state.EngineCount() != 1 {
		t.Errorf("engines after reset = %d, want 1", state.EngineCount())
	}
	if _, ok := state.EngineBySecurityID(13); !ok {
		t.Error("security id mapping lost across reset")
	}
}
