// Package engine implements the per-symbol footprint engine: it classifies
// every trade as buyer- or seller-initiated, bins it onto the 0.05 price
// grid of the current candle, and maintains the running cumulative volume
// delta for the trading day.
package engine

import (
	"sync"

	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

// Config holds the per-engine tunables. All engines share one Config.
type Config struct {
	CandleMs       int64   // bucket width in milliseconds
	ImbalanceRatio float64 // level imbalance threshold (R)
	MaxCandles     int     // closed-candle history cap
	MaxLevels      int     // per-candle level cap
}

// Engine holds the footprint state for a single symbol. All mutation goes
// through the mutex; ticks for one symbol are processed serially.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	symbol     string
	securityID string

	candles []*model.FootprintCandle // closed, youngest at tail
	current  *model.FootprintCandle

	lastLTP    float64
	lastBid    float64
	lastAsk    float64
	cvd        float64
	tickCount  int64
	prevVolume float64 // previous cumulative session volume
	lastOI     float64 // OI of the most recently closed candle

	// OnCandleClose is invoked (outside the engine lock) with the view of
	// every candle finalized by a bucket roll. Optional.
	OnCandleClose func(symbol string, c model.CandleView)
}

// New creates an engine for one symbol.
func New(symbol, securityID string, cfg Config) *Engine {
	return &Engine{
		cfg:        cfg,
		symbol:     symbol,
		securityID: securityID,
	}
}

// Symbol returns the engine's symbol.
func (e *Engine) Symbol() string { return e.symbol }

// SecurityID returns the engine's numeric instrument id (string form).
func (e *Engine) SecurityID() string { return e.securityID }

// ProcessTick classifies one tick and folds it into the current candle.
func (e *Engine) ProcessTick(t model.Tick) {
	if t.LTP <= 0 {
		return
	}

	e.mu.Lock()

	// Traded volume: prefer the cumulative session volume diff, fall back
	// to last traded quantity when the frame carries no volume or this is
	// the first volume-bearing frame.
	traded := t.LTQ
	if t.Volume > 0 {
		if e.prevVolume > 0 {
			traded = t.Volume - e.prevVolume
			if traded < 0 {
				traded = 0
			}
		}
		e.prevVolume = t.Volume
	}

	buyVol, sellVol := e.classify(t.LTP, t.Bid, t.Ask, traded)

	bucket := (t.TSMs / e.cfg.CandleMs) * e.cfg.CandleMs
	var closed *model.CandleView
	if e.current == nil || e.current.OpenTime != bucket {
		closed = e.roll(bucket, t.LTP)
	}

	c := e.current
	if t.LTP > c.High {
		c.High = t.LTP
	}
	if t.LTP < c.Low {
		c.Low = t.LTP
	}
	c.Close = t.LTP

	if buyVol > 0 || sellVol > 0 {
		key := model.PriceKey(t.LTP)
		if _, exists := c.Levels[key]; !exists && len(c.Levels) >= e.cfg.MaxLevels {
			if low, ok := c.LowestLevelKey(); ok {
				delete(c.Levels, low)
			}
		}
		lv := c.Level(key)
		lv.BuyVol += buyVol
		lv.SellVol += sellVol
		c.BuyVol += buyVol
		c.SellVol += sellVol
		e.cvd += buyVol - sellVol
	}

	if d := c.Delta(); d < c.DeltaMin {
		c.DeltaMin = d
	} else if d > c.DeltaMax {
		c.DeltaMax = d
	}

	if t.OI > 0 {
		e.setOILocked(t.OI)
	}

	e.lastLTP = t.LTP
	if t.Bid > 0 {
		e.lastBid = t.Bid
	}
	if t.Ask > 0 {
		e.lastAsk = t.Ask
	}
	e.tickCount++

	hook := e.OnCandleClose
	e.mu.Unlock()

	if closed != nil && hook != nil {
		hook(e.symbol, *closed)
	}
}

// classify splits the traded volume between buy and sell. Tick rule first;
// flat prints fall to the quote spread, then the Lee-Ready mid comparison.
// The first tick of a fresh engine (lastLTP == 0) goes straight to the mid
// branch so the implicit 0 -> ltp jump is not read as a buy.
func (e *Engine) classify(ltp, bid, ask, traded float64) (buyVol, sellVol float64) {
	if traded <= 0 {
		return 0, 0
	}
	if e.lastLTP > 0 {
		if ltp > e.lastLTP {
			return traded, 0
		}
		if ltp < e.lastLTP {
			return 0, traded
		}
		if bid > 0 && ask > 0 && bid != ask {
			switch {
			case ltp >= ask:
				return traded, 0
			case ltp <= bid:
				return 0, traded
			default:
				return traded / 2, traded / 2
			}
		}
	}
	mid := ltp
	if bid > 0 && ask > 0 {
		mid = (bid + ask) / 2
	}
	if ltp >= mid {
		return traded, 0
	}
	return 0, traded
}

// roll finalizes the current candle (if any) and opens a new one at bucket.
// Returns the view of the closed candle for the close hook.
func (e *Engine) roll(bucket int64, ltp float64) *model.CandleView {
	var closed *model.CandleView
	if e.current != nil {
		c := e.current
		c.Closed = true
		switch d := c.Delta(); {
		case d > 0:
			c.Initiative = model.SideBuy
		case d < 0:
			c.Initiative = model.SideSell
		}
		e.candles = append(e.candles, c)
		if len(e.candles) > e.cfg.MaxCandles {
			e.candles = e.candles[len(e.candles)-e.cfg.MaxCandles:]
		}
		e.lastOI = c.OI
		v := c.View(e.cfg.ImbalanceRatio)
		closed = &v
	}
	e.current = model.NewFootprintCandle(bucket, ltp)
	return closed
}

// UpdateOI writes the latest open interest onto the current candle.
// Called by the REST OI poller between quote frames.
func (e *Engine) UpdateOI(oi float64) {
	if oi <= 0 {
		return
	}
	e.mu.Lock()
	e.setOILocked(oi)
	e.mu.Unlock()
}

func (e *Engine) setOILocked(oi float64) {
	if e.current == nil {
		return
	}
	e.current.OI = oi
	if e.lastOI > 0 {
		e.current.OIChange = oi - e.lastOI
	}
}

// CVD returns the engine's running cumulative volume delta since the last
// daily reset.
func (e *Engine) CVD() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cvd
}

// TickCount returns the number of ticks processed since creation/reset.
func (e *Engine) TickCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickCount
}

// Reset clears the day's state: candle history, open candle, CVD and the
// cumulative-volume baseline. The subscription itself survives.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.candles = nil
	e.current = nil
	e.cvd = 0
	e.prevVolume = 0
	e.lastOI = 0
	e.mu.Unlock()
}
