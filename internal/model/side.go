package model

// Side is the trade aggressor attribution for a tick, level imbalance,
// or candle initiative.
type Side int

const (
	SideNone Side = iota
	SideBuy
	SideSell
)

// String returns "buy", "sell" or "".
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return ""
	}
}

// MarshalJSON encodes SideBuy/SideSell as "buy"/"sell" and SideNone as null,
// matching the wire contract consumed by the frontend.
func (s Side) MarshalJSON() ([]byte, error) {
	switch s {
	case SideBuy:
		return []byte(`"buy"`), nil
	case SideSell:
		return []byte(`"sell"`), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts "buy", "sell", "" or null.
func (s *Side) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"buy"`:
		*s = SideBuy
	case `"sell"`:
		*s = SideSell
	default:
		*s = SideNone
	}
	return nil
}
