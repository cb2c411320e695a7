package model

// Instrument maps an uppercase trading symbol to its Dhan identity.
type Instrument struct {
	Symbol          string `json:"symbol"`
	SecurityID      string `json:"security_id"`
	ExchangeSegment string `json:"exchange_segment"` // e.g. "NSE_FO", "NSE_EQ"
}
