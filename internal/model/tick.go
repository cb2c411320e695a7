package model

// Tick is a normalized market data update decoded from the Dhan feed
// (or produced by the synthetic generator). Prices are in rupees; volumes
// in contracts/shares.
type Tick struct {
	SecurityID uint32  `json:"security_id"`
	Segment    uint8   `json:"segment"`
	LTP        float64 `json:"ltp"`
	LTQ        float64 `json:"ltq"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	TSMs       int64   `json:"ts_ms"` // exchange timestamp, unix milliseconds

	// Volume is the session-cumulative traded volume. Zero means the frame
	// did not carry it (ticker packets) and LTQ is used instead.
	Volume float64 `json:"volume,omitempty"`

	// OI is the open interest carried on quote frames when present. Zero
	// means absent.
	OI float64 `json:"oi,omitempty"`
}
