package engine

import "github.com/Vishtheendodoc/orderflow-new/internal/model"

// State is the broadcast snapshot of an engine: identity, top-of-book,
// lifetime counters and the candle window. The per-candle CVD field is a
// running sum over the emitted window (seeded at zero), not the engine's
// lifetime CVD.
type State struct {
	Symbol    string             `json:"symbol"`
	LTP       float64            `json:"ltp"`
	Bid       float64            `json:"bid"`
	Ask       float64            `json:"ask"`
	CVD       float64            `json:"cvd"`
	TickCount int64              `json:"tick_count"`
	Candles   []model.CandleView `json:"candles"`
}

// Snapshot returns the most recent limit closed candles followed by the
// open candle, with window-relative CVD filled in.
func (e *Engine) Snapshot(limit int) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	closed := e.candles
	if limit > 0 && len(closed) > limit {
		closed = closed[len(closed)-limit:]
	}

	views := make([]model.CandleView, 0, len(closed)+1)
	running := 0.0
	for _, c := range closed {
		v := c.View(e.cfg.ImbalanceRatio)
		running += v.Delta
		v.CVD = running
		views = append(views, v)
	}
	if e.current != nil {
		v := e.current.View(e.cfg.ImbalanceRatio)
		v.CVD = running + v.Delta
		views = append(views, v)
	}

	return State{
		Symbol:    e.symbol,
		LTP:       e.lastLTP,
		Bid:       e.lastBid,
		Ask:       e.lastAsk,
		CVD:       e.cvd,
		TickCount: e.tickCount,
		Candles:   views,
	}
}

// ClosedCandles returns the views of all closed candles with running CVD,
// oldest first. The open candle is never included: it rebuilds from live
// ticks after a restart.
func (e *Engine) ClosedCandles() []model.CandleView {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]model.CandleView, 0, len(e.candles))
	running := 0.0
	for _, c := range e.candles {
		v := c.View(e.cfg.ImbalanceRatio)
		running += v.Delta
		v.CVD = running
		views = append(views, v)
	}
	return views
}

// Restore replaces the closed-candle history from persisted views, capping
// to the configured history bound and seeding CVD from the restored deltas.
func (e *Engine) Restore(views []model.CandleView) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(views) > e.cfg.MaxCandles {
		views = views[len(views)-e.cfg.MaxCandles:]
	}

	e.candles = make([]*model.FootprintCandle, 0, len(views))
	e.cvd = 0
	for _, v := range views {
		c := v.Candle()
		c.Closed = true
		e.candles = append(e.candles, c)
		e.cvd += c.Delta()
	}
	if n := len(e.candles); n > 0 {
		e.lastOI = e.candles[n-1].OI
	}
}
