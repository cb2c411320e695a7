// Package app holds the process-wide mutable state behind one typed handle.
// Everything that used to be a module-global in earlier revisions — the
// engine registry, the viewer fan-out hook, the last-reset date, the access
// token — lives here and is passed explicitly into the background loops.
package app

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Vishtheendodoc/orderflow-new/internal/engine"
	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

// Options configures the shared state.
type Options struct {
	EngineConfig     engine.Config
	MaxEngines       int
	BroadcastLimit   int           // candles per broadcast snapshot
	BroadcastMinGap  time.Duration // per-symbol broadcast floor
	GCIntervalTicks  int64         // memory reclamation hint cadence, 0 disables
}

// State is the application-wide registry and coordination point.
type State struct {
	opts Options

	mu          sync.RWMutex
	engines     map[string]*engine.Engine
	instruments map[string]model.Instrument
	bySecID     map[uint32]string // security id -> symbol

	gateMu        sync.Mutex
	lastBroadcast map[string]time.Time

	resetMu       sync.Mutex
	lastResetDate string

	tokenMu     sync.Mutex
	accessToken string
	tokenCh     chan struct{} // closed on token update, then replaced

	tickSeq int64 // guarded by gateMu; drives the GC hint cadence

	// Broadcast pushes a serialized snapshot to all viewers. Set by main.
	Broadcast func(symbol string, data []byte)

	// OnInstrumentsAdded notifies the upstream session of a subscription
	// delta so it can subscribe on the live socket. Set by main.
	OnInstrumentsAdded func([]model.Instrument)

	// OnCandleClose is installed on every engine this state creates.
	OnCandleClose func(symbol string, c model.CandleView)

	// Metrics hooks (optional).
	OnTick        func()
	OnDroppedTick func()
}

// NewState creates the shared state handle.
func NewState(opts Options) *State {
	return &State{
		opts:          opts,
		engines:       make(map[string]*engine.Engine),
		instruments:   make(map[string]model.Instrument),
		bySecID:       make(map[uint32]string),
		lastBroadcast: make(map[string]time.Time),
		tokenCh:       make(chan struct{}),
	}
}

// Subscribe registers an instrument and creates its engine if absent.
// Fails when the engine cap is reached.
func (s *State) Subscribe(inst model.Instrument) (*engine.Engine, error) {
	sym := strings.ToUpper(strings.TrimSpace(inst.Symbol))
	if sym == "" || inst.SecurityID == "" {
		return nil, fmt.Errorf("subscribe: symbol and security_id required")
	}
	inst.Symbol = sym

	s.mu.Lock()
	eng, exists := s.engines[sym]
	if !exists {
		if len(s.engines) >= s.opts.MaxEngines {
			s.mu.Unlock()
			return nil, fmt.Errorf("subscribe %s: engine capacity %d reached", sym, s.opts.MaxEngines)
		}
		eng = engine.New(sym, inst.SecurityID, s.opts.EngineConfig)
		eng.OnCandleClose = s.OnCandleClose
		s.engines[sym] = eng
	}
	// A resubscribe with a new security id retires the old reverse
	// mapping; ticks for the previous id must stop routing here.
	if prev, ok := s.instruments[sym]; ok && prev.SecurityID != inst.SecurityID {
		if id, err := strconv.ParseUint(prev.SecurityID, 10, 32); err == nil {
			delete(s.bySecID, uint32(id))
		}
	}
	s.instruments[sym] = inst
	if id, err := strconv.ParseUint(inst.SecurityID, 10, 32); err == nil {
		s.bySecID[uint32(id)] = sym
	}
	notify := s.OnInstrumentsAdded
	s.mu.Unlock()

	if !exists && notify != nil {
		notify([]model.Instrument{inst})
	}
	return eng, nil
}

// Unsubscribe removes the instrument mapping and discards its engine.
func (s *State) Unsubscribe(symbol string) {
	sym := strings.ToUpper(symbol)
	s.mu.Lock()
	if inst, ok := s.instruments[sym]; ok {
		if id, err := strconv.ParseUint(inst.SecurityID, 10, 32); err == nil {
			delete(s.bySecID, uint32(id))
		}
	}
	delete(s.instruments, sym)
	delete(s.engines, sym)
	s.mu.Unlock()

	s.gateMu.Lock()
	delete(s.lastBroadcast, sym)
	s.gateMu.Unlock()
}

// Engine returns the engine for a symbol.
func (s *State) Engine(symbol string) (*engine.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engines[strings.ToUpper(symbol)]
	return e, ok
}

// EngineBySecurityID resolves a decoded tick's numeric id to its engine.
func (s *State) EngineBySecurityID(id uint32) (*engine.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sym, ok := s.bySecID[id]
	if !ok {
		return nil, false
	}
	e, ok := s.engines[sym]
	return e, ok
}

// Engines returns a copy of the engine set. Safe to iterate while the
// subscribe path mutates the registry.
func (s *State) Engines() []*engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.Engine, 0, len(s.engines))
	for _, e := range s.engines {
		out = append(out, e)
	}
	return out
}

// Instruments returns a copy of the registered instruments.
func (s *State) Instruments() []model.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Instrument, 0, len(s.instruments))
	for _, in := range s.instruments {
		out = append(out, in)
	}
	return out
}

// EngineCount returns the number of registered engines.
func (s *State) EngineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.engines)
}

// SetToken installs a fresh access token and wakes the upstream session's
// auth-backoff wait. The new token takes effect on the next (re)connect.
func (s *State) SetToken(token string) {
	s.tokenMu.Lock()
	s.accessToken = token
	close(s.tokenCh)
	s.tokenCh = make(chan struct{})
	s.tokenMu.Unlock()
}

// Token returns the current access token.
func (s *State) Token() string {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	return s.accessToken
}

// TokenUpdated returns a channel closed on the next SetToken call.
func (s *State) TokenUpdated() <-chan struct{} {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	return s.tokenCh
}

// LastResetDate returns the calendar-date idempotency token of the daily
// reset scheduler.
func (s *State) LastResetDate() string {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	return s.lastResetDate
}

// SetLastResetDate records the reset date string.
func (s *State) SetLastResetDate(date string) {
	s.resetMu.Lock()
	s.lastResetDate = date
	s.resetMu.Unlock()
}
