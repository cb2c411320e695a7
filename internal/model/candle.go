package model

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// TicksPerRupee is the price grid density: levels are binned to 0.05.
const TicksPerRupee = 20

// PriceKey maps a price to its integer tick index on the 0.05 grid.
// Level maps are keyed by tick index rather than float64 to avoid
// float map-key equality hazards.
func PriceKey(price float64) int64 {
	return int64(math.Round(price * TicksPerRupee))
}

// KeyPrice converts a tick index back to the display price.
func KeyPrice(key int64) float64 {
	return float64(key) / TicksPerRupee
}

// FootprintLevel accumulates classified volume at one price bucket.
// Delta, total volume and imbalance are derived on read so they cannot
// drift from the stored sides.
type FootprintLevel struct {
	Price   float64 `json:"price"`
	BuyVol  float64 `json:"buy_vol"`
	SellVol float64 `json:"sell_vol"`
}

// Delta returns buy volume minus sell volume at this level.
func (l *FootprintLevel) Delta() float64 {
	return l.BuyVol - l.SellVol
}

// TotalVol returns the combined traded volume at this level.
func (l *FootprintLevel) TotalVol() float64 {
	return l.BuyVol + l.SellVol
}

// Imbalance flags the level when one side dominates the other by ratio.
// A side with zero opposing volume never flags.
func (l *FootprintLevel) Imbalance(ratio float64) Side {
	if l.SellVol > 0 && l.BuyVol/l.SellVol >= ratio {
		return SideBuy
	}
	if l.BuyVol > 0 && l.SellVol/l.BuyVol >= ratio {
		return SideSell
	}
	return SideNone
}

// FootprintCandle is one time bucket of classified flow.
// OpenTime is unix milliseconds floored to the bucket width.
type FootprintCandle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	BuyVol   float64 `json:"buy_vol"`
	SellVol  float64 `json:"sell_vol"`

	Levels map[int64]*FootprintLevel `json:"-"`

	Closed     bool    `json:"closed"`
	DeltaMin   float64 `json:"delta_min"`
	DeltaMax   float64 `json:"delta_max"`
	Initiative Side    `json:"initiative"`
	OI         float64 `json:"oi"`
	OIChange   float64 `json:"oi_change"`
}

// NewFootprintCandle opens a candle at the given bucket start with all
// OHLC fields seeded from the first trade price and zeroed flow.
func NewFootprintCandle(openTime int64, ltp float64) *FootprintCandle {
	return &FootprintCandle{
		OpenTime: openTime,
		Open:     ltp,
		High:     ltp,
		Low:      ltp,
		Close:    ltp,
		Levels:   make(map[int64]*FootprintLevel),
	}
}

// Delta returns the candle's buy volume minus sell volume.
func (c *FootprintCandle) Delta() float64 {
	return c.BuyVol - c.SellVol
}

// Level returns the level for the given tick index, creating it if absent.
func (c *FootprintCandle) Level(key int64) *FootprintLevel {
	lv, ok := c.Levels[key]
	if !ok {
		lv = &FootprintLevel{Price: KeyPrice(key)}
		c.Levels[key] = lv
	}
	return lv
}

// LowestLevelKey returns the smallest tick index present, or false when
// the candle has no levels. Used for eviction when the level cap is hit.
func (c *FootprintCandle) LowestLevelKey() (int64, bool) {
	if len(c.Levels) == 0 {
		return 0, false
	}
	first := true
	var min int64
	for k := range c.Levels {
		if first || k < min {
			min = k
			first = false
		}
	}
	return min, true
}

// LevelView is the serialized form of a level, with derived fields baked in.
type LevelView struct {
	Price     float64 `json:"price"`
	BuyVol    float64 `json:"buy_vol"`
	SellVol   float64 `json:"sell_vol"`
	Delta     float64 `json:"delta"`
	TotalVol  float64 `json:"total_vol"`
	Imbalance Side    `json:"imbalance"`
}

// OrderedLevels serializes as a JSON object keyed by display price in
// price-descending order (the order the frontend paints rows in).
type OrderedLevels []LevelView

// MarshalJSON writes the levels as an ordered JSON object.
func (ol OrderedLevels) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, lv := range ol {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strconv.FormatFloat(lv.Price, 'f', -1, 64))
		buf.WriteString(`":`)
		b, err := json.Marshal(lv)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the object form and restores price-descending order.
func (ol *OrderedLevels) UnmarshalJSON(b []byte) error {
	m := map[string]LevelView{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	out := make([]LevelView, 0, len(m))
	for _, lv := range m {
		out = append(out, lv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	*ol = out
	return nil
}

// CandleView is the wire and snapshot-file form of a candle. CVD is the
// running cumulative delta over the emitted window, filled by the caller.
type CandleView struct {
	OpenTime   int64         `json:"open_time"`
	Open       float64       `json:"open"`
	High       float64       `json:"high"`
	Low        float64       `json:"low"`
	Close      float64       `json:"close"`
	BuyVol     float64       `json:"buy_vol"`
	SellVol    float64       `json:"sell_vol"`
	Delta      float64       `json:"delta"`
	DeltaMin   float64       `json:"delta_min"`
	DeltaMax   float64       `json:"delta_max"`
	Initiative Side          `json:"initiative"`
	OI         float64       `json:"oi"`
	OIChange   float64       `json:"oi_change"`
	Levels     OrderedLevels `json:"levels"`
	Closed     bool          `json:"closed"`
	CVD        float64       `json:"cvd"`
}

// View materializes the candle for serialization, computing all derived
// fields. Levels come out price-descending.
func (c *FootprintCandle) View(imbalanceRatio float64) CandleView {
	keys := make([]int64, 0, len(c.Levels))
	for k := range c.Levels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })

	levels := make(OrderedLevels, 0, len(keys))
	for _, k := range keys {
		lv := c.Levels[k]
		levels = append(levels, LevelView{
			Price:     lv.Price,
			BuyVol:    lv.BuyVol,
			SellVol:   lv.SellVol,
			Delta:     lv.Delta(),
			TotalVol:  lv.TotalVol(),
			Imbalance: lv.Imbalance(imbalanceRatio),
		})
	}

	return CandleView{
		OpenTime:   c.OpenTime,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		BuyVol:     c.BuyVol,
		SellVol:    c.SellVol,
		Delta:      c.Delta(),
		DeltaMin:   c.DeltaMin,
		DeltaMax:   c.DeltaMax,
		Initiative: c.Initiative,
		OI:         c.OI,
		OIChange:   c.OIChange,
		Levels:     levels,
		Closed:     c.Closed,
	}
}

// Candle rebuilds a FootprintCandle from its view form. Used by snapshot
// restore; the CVD field is discarded (it is window-relative).
func (v CandleView) Candle() *FootprintCandle {
	c := &FootprintCandle{
		OpenTime:   v.OpenTime,
		Open:       v.Open,
		High:       v.High,
		Low:        v.Low,
		Close:      v.Close,
		BuyVol:     v.BuyVol,
		SellVol:    v.SellVol,
		Closed:     v.Closed,
		DeltaMin:   v.DeltaMin,
		DeltaMax:   v.DeltaMax,
		Initiative: v.Initiative,
		OI:         v.OI,
		OIChange:   v.OIChange,
		Levels:     make(map[int64]*FootprintLevel, len(v.Levels)),
	}
	for _, lv := range v.Levels {
		c.Levels[PriceKey(lv.Price)] = &FootprintLevel{
			Price:   lv.Price,
			BuyVol:  lv.BuyVol,
			SellVol: lv.SellVol,
		}
	}
	return c
}
