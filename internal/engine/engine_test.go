package engine

import (
	"math"
	"testing"

	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

func testConfig() Config {
	return Config{
		CandleMs:       60_000,
		ImbalanceRatio: 3.0,
		MaxCandles:     10,
		MaxLevels:      100,
	}
}

func tick(ltp, ltq float64, ts int64) model.Tick {
	return model.Tick{SecurityID: 1, LTP: ltp, LTQ: ltq, TSMs: ts}
}

func quoteTick(ltp, ltq, bid, ask float64, ts int64) model.Tick {
	t := tick(ltp, ltq, ts)
	t.Bid = bid
	t.Ask = ask
	return t
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func currentView(e *Engine) model.CandleView {
	s := e.Snapshot(0)
	if len(s.Candles) == 0 {
		return model.CandleView{}
	}
	return s.Candles[len(s.Candles)-1]
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name     string
		ticks    []model.Tick
		wantBuy  float64
		wantSell float64
	}{
		{
			name: "uptick is buyer initiated",
			ticks: []model.Tick{
				tick(100, 10, 1000),
				tick(100.05, 5, 2000),
			},
			wantBuy:  15, // first tick with no quotes goes buy via mid
			wantSell: 0,
		},
		{
			name: "downtick is seller initiated",
			ticks: []model.Tick{
				tick(100, 10, 1000),
				tick(99.95, 5, 2000),
			},
			wantBuy:  10,
			wantSell: 5,
		},
		{
			name: "flat at ask is a buy",
			ticks: []model.Tick{
				tick(100, 10, 1000),
				quoteTick(100, 5, 99.95, 100, 2000),
			},
			wantBuy:  15,
			wantSell: 0,
		},
		{
			name: "flat at bid is a sell",
			ticks: []model.Tick{
				tick(100, 10, 1000),
				quoteTick(100, 5, 100, 100.10, 2000),
			},
			wantBuy:  10,
			wantSell: 5,
		},
		{
			name: "flat inside the spread splits evenly",
			ticks: []model.Tick{
				tick(100, 10, 1000),
				quoteTick(100, 6, 99.95, 100.05, 2000),
			},
			wantBuy:  13,
			wantSell: 3,
		},
		{
			name: "flat with no quotes goes buy via mid",
			ticks: []model.Tick{
				tick(100, 10, 1000),
				tick(100, 5, 2000),
			},
			wantBuy:  15,
			wantSell: 0,
		},
		{
			name: "first tick below mid is a sell",
			ticks: []model.Tick{
				quoteTick(100, 10, 100.05, 100.15, 1000),
			},
			wantBuy:  0,
			wantSell: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("TEST", "1", testConfig())
			for _, tk := range tt.ticks {
				e.ProcessTick(tk)
			}
			v := currentView(e)
			if !almostEqual(v.BuyVol, tt.wantBuy) || !almostEqual(v.SellVol, tt.wantSell) {
				t.Errorf("buy/sell = %v/%v, want %v/%v", v.BuyVol, v.SellVol, tt.wantBuy, tt.wantSell)
			}
			if !almostEqual(e.CVD(), tt.wantBuy-tt.wantSell) {
				t.Errorf("CVD = %v, want %v", e.CVD(), tt.wantBuy-tt.wantSell)
			}
		})
	}
}

func TestLevelSumsMatchCandleTotals(t *testing.T) {
	e := New("TEST", "1", testConfig())
	e.ProcessTick(tick(100, 10, 1000))
	e.ProcessTick(tick(100.05, 5, 2000))
	e.ProcessTick(tick(100, 7, 3000))
	e.ProcessTick(quoteTick(100, 4, 99.95, 100.05, 4000))

	v := currentView(e)
	var buySum, sellSum float64
	for _, lv := range v.Levels {
		buySum += lv.BuyVol
		sellSum += lv.SellVol
	}
	if !almostEqual(buySum, v.BuyVol) {
		t.Errorf("level buy sum %v != candle buy %v", buySum, v.BuyVol)
	}
	if !almostEqual(sellSum, v.SellVol) {
		t.Errorf("level sell sum %v != candle sell %v", sellSum, v.SellVol)
	}
	if !almostEqual(v.Delta, v.BuyVol-v.SellVol) {
		t.Errorf("delta %v != buy-sell %v", v.Delta, v.BuyVol-v.SellVol)
	}
}

func TestOHLCSanity(t *testing.T) {
	e := New("TEST", "1", testConfig())
	prices := []float64{100, 101.5, 99.25, 100.75}
	for i, p := range prices {
		e.ProcessTick(tick(p, 1, int64(1000*(i+1))))
	}

	v := currentView(e)
	if v.Open != 100 || v.High != 101.5 || v.Low != 99.25 || v.Close != 100.75 {
		t.Errorf("OHLC = %v/%v/%v/%v", v.Open, v.High, v.Low, v.Close)
	}
	if v.Low > v.Open || v.Low > v.Close || v.High < v.Open || v.High < v.Close {
		t.Errorf("OHLC ordering violated: %+v", v)
	}
}

func TestBucketRollClosesCandle(t *testing.T) {
	e := New("TEST", "1", testConfig())

	var closedSymbol string
	var closed []model.CandleView
	e.OnCandleClose = func(sym string, c model.CandleView) {
		closedSymbol = sym
		closed = append(closed, c)
	}

	e.ProcessTick(tick(100, 10, 30_000))      // bucket 0
	e.ProcessTick(tick(100.05, 5, 45_000))    // bucket 0
	e.ProcessTick(tick(100.10, 3, 61_000))    // bucket 60000, rolls

	if len(closed) != 1 {
		t.Fatalf("closed %d candles, want 1", len(closed))
	}
	if closedSymbol != "TEST" {
		t.Errorf("close hook symbol = %q", closedSymbol)
	}
	c := closed[0]
	if !c.Closed {
		t.Error("closed candle not marked closed")
	}
	if c.OpenTime != 0 {
		t.Errorf("closed OpenTime = %d, want 0", c.OpenTime)
	}
	if c.Initiative != model.SideBuy {
		t.Errorf("initiative = %v, want buy", c.Initiative)
	}

	s := e.Snapshot(0)
	if len(s.Candles) != 2 {
		t.Fatalf("snapshot has %d candles, want 2", len(s.Candles))
	}
	open := s.Candles[1]
	if open.Closed {
		t.Error("current candle marked closed")
	}
	if open.OpenTime != 60_000 {
		t.Errorf("open candle OpenTime = %d, want 60000", open.OpenTime)
	}
	if open.Open != 100.10 {
		t.Errorf("new candle opens at %v, want 100.10", open.Open)
	}
}

func TestBucketOpenTimesMonotonic(t *testing.T) {
	e := New("TEST", "1", testConfig())
	for i := int64(0); i < 5; i++ {
		e.ProcessTick(tick(100, 1, i*60_000+1))
	}
	s := e.Snapshot(0)
	for i := 1; i < len(s.Candles); i++ {
		if s.Candles[i].OpenTime <= s.Candles[i-1].OpenTime {
			t.Fatalf("open times not increasing: %d then %d",
				s.Candles[i-1].OpenTime, s.Candles[i].OpenTime)
		}
	}
}

func TestClosedCandleImmutable(t *testing.T) {
	e := New("TEST", "1", testConfig())
	e.ProcessTick(tick(100, 10, 1000))
	e.ProcessTick(tick(100.05, 5, 61_000))

	before := e.Snapshot(0).Candles[0]
	e.ProcessTick(tick(100.10, 7, 62_000))
	e.ProcessTick(tick(100.15, 2, 63_000))
	after := e.Snapshot(0).Candles[0]

	if before.BuyVol != after.BuyVol || before.SellVol != after.SellVol ||
		before.Close != after.Close || before.High != after.High {
		t.Errorf("closed candle mutated: before %+v after %+v", before, after)
	}
}

func TestCumulativeVolumeDiff(t *testing.T) {
	e := New("TEST", "1", testConfig())

	// First volume-bearing frame establishes the baseline; LTQ is used.
	t1 := tick(100, 10, 1000)
	t1.Volume = 5000
	e.ProcessTick(t1)

	// Second frame trades the cumulative diff, not LTQ.
	t2 := tick(100.05, 99, 2000)
	t2.Volume = 5040
	e.ProcessTick(t2)

	v := currentView(e)
	if !almostEqual(v.BuyVol, 50) { // 10 + 40
		t.Errorf("buy vol = %v, want 50", v.BuyVol)
	}

	// Volume going backwards clamps to zero traded.
	t3 := tick(100.10, 20, 3000)
	t3.Volume = 5000
	e.ProcessTick(t3)
	v = currentView(e)
	if !almostEqual(v.BuyVol, 50) {
		t.Errorf("buy vol after backwards volume = %v, want 50", v.BuyVol)
	}
}

func TestDeltaExtrema(t *testing.T) {
	e := New("TEST", "1", testConfig())
	e.ProcessTick(tick(100, 10, 1000))   // delta 10
	e.ProcessTick(tick(99.95, 30, 2000)) // delta -20
	e.ProcessTick(tick(100, 15, 3000))   // delta -5

	v := currentView(e)
	if !almostEqual(v.DeltaMax, 10) {
		t.Errorf("DeltaMax = %v, want 10", v.DeltaMax)
	}
	if !almostEqual(v.DeltaMin, -20) {
		t.Errorf("DeltaMin = %v, want -20", v.DeltaMin)
	}
}

func TestLevelCapEvictsLowest(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLevels = 2
	e := New("TEST", "1", cfg)

	e.ProcessTick(tick(100, 1, 1000))
	e.ProcessTick(tick(100.05, 1, 2000))
	e.ProcessTick(tick(100.10, 1, 3000))

	v := currentView(e)
	if len(v.Levels) != 2 {
		t.Fatalf("levels = %d, want 2", len(v.Levels))
	}
	for _, lv := range v.Levels {
		if lv.Price == 100 {
			t.Error("lowest level survived eviction")
		}
	}
}

func TestImbalanceFlags(t *testing.T) {
	e := New("TEST", "1", testConfig())
	e.ProcessTick(tick(100, 10, 1000))   // seed, buy 10 at 100
	e.ProcessTick(tick(99.95, 3, 2000))  // sell 3 at 99.95
	e.ProcessTick(tick(100, 20, 3000))   // uptick, buy 20 at 100
	e.ProcessTick(tick(99.95, 12, 4000)) // sell 12 at 99.95

	v := currentView(e)
	for _, lv := range v.Levels {
		switch lv.Price {
		case 100:
			// buy 30 sell 0: zero opposing volume never flags
			if lv.Imbalance != model.SideNone {
				t.Errorf("level 100 imbalance = %v, want none", lv.Imbalance)
			}
		case 99.95:
			// buy 0 sell 15: sell dominance with zero buys also never flags
			if lv.Imbalance != model.SideNone {
				t.Errorf("level 99.95 imbalance = %v, want none", lv.Imbalance)
			}
		}
	}

	// Ratio boundary: 15 sell vs 5 buy is exactly 3x, flags sell.
	lv := model.FootprintLevel{Price: 99.9, BuyVol: 5, SellVol: 15}
	if got := lv.Imbalance(3.0); got != model.SideSell {
		t.Errorf("3x sell dominance = %v, want sell", got)
	}
	lv = model.FootprintLevel{Price: 99.9, BuyVol: 14.9, SellVol: 5}
	if got := lv.Imbalance(3.0); got != model.SideNone {
		t.Errorf("sub-3x dominance = %v, want none", got)
	}
}

func TestOpenInterest(t *testing.T) {
	e := New("TEST", "1", testConfig())
	e.ProcessTick(tick(100, 1, 1000))

	e.UpdateOI(50_000)
	v := currentView(e)
	if v.OI != 50_000 {
		t.Errorf("OI = %v, want 50000", v.OI)
	}
	// No prior closed-candle OI: change stays zero.
	if v.OIChange != 0 {
		t.Errorf("OIChange = %v, want 0", v.OIChange)
	}

	// Roll, then update: change is relative to the closed candle's OI.
	e.ProcessTick(tick(100, 1, 61_000))
	e.UpdateOI(50_500)
	v = currentView(e)
	if v.OIChange != 500 {
		t.Errorf("OIChange = %v, want 500", v.OIChange)
	}

	// Non-positive OI is ignored.
	e.UpdateOI(0)
	if currentView(e).OI != 50_500 {
		t.Error("zero OI overwrote the previous value")
	}
}

func TestSnapshotWindowCVD(t *testing.T) {
	e := New("TEST", "1", testConfig())
	// Three buckets: +10, -5, +3 deltas.
	e.ProcessTick(tick(100, 10, 1000))
	e.ProcessTick(tick(99.95, 5, 61_000))
	e.ProcessTick(tick(100, 3, 121_000)) // flat no quote -> buy

	s := e.Snapshot(0)
	if len(s.Candles) != 3 {
		t.Fatalf("candles = %d, want 3", len(s.Candles))
	}
	wantCVD := []float64{10, 5, 8}
	for i, v := range s.Candles {
		if !almostEqual(v.CVD, wantCVD[i]) {
			t.Errorf("candle %d CVD = %v, want %v", i, v.CVD, wantCVD[i])
		}
	}
	if !almostEqual(s.CVD, 8) {
		t.Errorf("engine CVD = %v, want 8", s.CVD)
	}

	// A limited window re-seeds the running sum at zero.
	s = e.Snapshot(1)
	if len(s.Candles) != 2 { // 1 closed + open
		t.Fatalf("limited candles = %d, want 2", len(s.Candles))
	}
	if !almostEqual(s.Candles[0].CVD, -5) {
		t.Errorf("window CVD = %v, want -5", s.Candles[0].CVD)
	}
}

func TestHistoryCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCandles = 3
	e := New("TEST", "1", cfg)

	for i := int64(0); i < 6; i++ {
		e.ProcessTick(tick(100, 1, i*60_000+1))
	}
	views := e.ClosedCandles()
	if len(views) != 3 {
		t.Fatalf("closed history = %d, want 3", len(views))
	}
	if views[0].OpenTime != 120_000 {
		t.Errorf("oldest kept OpenTime = %d, want 120000", views[0].OpenTime)
	}
}

func TestRestoreRebuildsState(t *testing.T) {
	e := New("TEST", "1", testConfig())
	e.ProcessTick(tick(100, 10, 1000))
	e.ProcessTick(tick(99.95, 4, 61_000))
	e.ProcessTick(tick(100, 1, 121_000))
	persisted := e.ClosedCandles()

	restored := New("TEST", "1", testConfig())
	restored.Restore(persisted)

	if got := len(restored.ClosedCandles()); got != 2 {
		t.Fatalf("restored %d candles, want 2", got)
	}
	if !almostEqual(restored.CVD(), 6) { // +10 -4
		t.Errorf("restored CVD = %v, want 6", restored.CVD())
	}

	// Levels survive the round trip.
	views := restored.ClosedCandles()
	if len(views[0].Levels) == 0 {
		t.Error("restored candle has no levels")
	}
}

func TestReset(t *testing.T) {
	e := New("TEST", "1", testConfig())
	e.ProcessTick(tick(100, 10, 1000))
	e.ProcessTick(tick(100.05, 5, 61_000))
	e.UpdateOI(1000)

	e.Reset()

	if e.CVD() != 0 {
		t.Errorf("CVD after reset = %v", e.CVD())
	}
	if got := len(e.Snapshot(0).Candles); got != 0 {
		t.Errorf("candles after reset = %d", got)
	}
	if got := len(e.ClosedCandles()); got != 0 {
		t.Errorf("closed candles after reset = %d", got)
	}

	// Engine keeps working after reset; the 0 -> ltp jump is not a buy
	// signal because the volume baseline was also cleared.
	e.ProcessTick(tick(200, 3, 121_000))
	if got := len(e.Snapshot(0).Candles); got != 1 {
		t.Errorf("candles after post-reset tick = %d, want 1", got)
	}
}

func TestNonPositivePriceIgnored(t *testing.T) {
	e := New("TEST", "1", testConfig())
	e.ProcessTick(tick(0, 10, 1000))
	e.ProcessTick(tick(-1, 10, 2000))
	if e.TickCount() != 0 {
		t.Errorf("tick count = %d, want 0", e.TickCount())
	}
	if got := len(e.Snapshot(0).Candles); got != 0 {
		t.Errorf("candles = %d, want 0", got)
	}
}
