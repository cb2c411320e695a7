package app

import (
	"encoding/json"
	"log"
	"runtime"
	"time"

	"github.com/Vishtheendodoc/orderflow-new/internal/engine"
	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

// orderflowEnvelope is the viewer-socket message wrapper.
type orderflowEnvelope struct {
	Type string       `json:"type"`
	Data engine.State `json:"data"`
}

// Route feeds one normalized tick into its engine and rate-gates the
// resulting broadcast. Ticks for unmapped instruments and non-positive
// prices are dropped before they reach an engine.
func (s *State) Route(t model.Tick) {
	if t.LTP <= 0 {
		if s.OnDroppedTick != nil {
			s.OnDroppedTick()
		}
		return
	}
	eng, ok := s.EngineBySecurityID(t.SecurityID)
	if !ok {
		if s.OnDroppedTick != nil {
			s.OnDroppedTick()
		}
		return
	}

	eng.ProcessTick(t)
	if s.OnTick != nil {
		s.OnTick()
	}
	s.maybeGC()
	s.GateBroadcast(eng.Symbol(), eng)
}

// GateBroadcast serializes and fans out the engine snapshot, at most once
// per symbol per BroadcastMinGap. Serialization happens exactly once per
// broadcast regardless of viewer count.
func (s *State) GateBroadcast(symbol string, eng *engine.Engine) {
	broadcast := s.Broadcast
	if broadcast == nil {
		return
	}

	now := time.Now()
	s.gateMu.Lock()
	if last, ok := s.lastBroadcast[symbol]; ok && now.Sub(last) < s.opts.BroadcastMinGap {
		s.gateMu.Unlock()
		return
	}
	s.lastBroadcast[symbol] = now
	s.gateMu.Unlock()

	state := eng.Snapshot(s.opts.BroadcastLimit)
	data, err := json.Marshal(orderflowEnvelope{Type: "orderflow", Data: state})
	if err != nil {
		log.Printf("[router] snapshot marshal %s: %v", symbol, err)
		return
	}
	broadcast(symbol, data)
}

// SnapshotEnvelope builds the same envelope the broadcast path sends, used
// for initial per-symbol snapshots on viewer connect.
func (s *State) SnapshotEnvelope(eng *engine.Engine) ([]byte, error) {
	state := eng.Snapshot(s.opts.BroadcastLimit)
	return json.Marshal(orderflowEnvelope{Type: "orderflow", Data: state})
}

// maybeGC nudges the runtime to return memory every GCIntervalTicks ticks.
// Footprint level maps churn hard on busy days; without the hint RSS creeps
// between daily resets.
func (s *State) maybeGC() {
	if s.opts.GCIntervalTicks <= 0 {
		return
	}
	s.gateMu.Lock()
	s.tickSeq++
	hit := s.tickSeq%s.opts.GCIntervalTicks == 0
	s.gateMu.Unlock()
	if hit {
		runtime.GC()
	}
}
