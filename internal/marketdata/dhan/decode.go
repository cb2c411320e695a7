// Package dhan implements the upstream market-data leg: the binary feed
// decoder, subscription request building, and the session manager that owns
// the single outbound socket.
package dhan

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

// Feed response codes (first header byte).
const (
	FeedCodeTicker = 2
	FeedCodeQuote  = 4
)

const headerSize = 8

// Packet sizes including the 8-byte header.
const (
	tickerPacketSize  = 16
	quotePacketSize   = 50
	quoteOIPacketSize = 54
)

// maxSaneOI bounds open interest values accepted off the wire. The feed
// occasionally carries garbage in the optional trailing field.
const maxSaneOI = 1e8

// header is the common 8-byte little-endian packet prefix:
// u8 feed code, u16 message length, u8 exchange segment, u32 security id.
type header struct {
	Code    uint8
	Len     uint16
	Segment uint8
	SecID   uint32
}

func parseHeader(data []byte) header {
	return header{
		Code:    data[0],
		Len:     binary.LittleEndian.Uint16(data[1:3]),
		Segment: data[3],
		SecID:   binary.LittleEndian.Uint32(data[4:8]),
	}
}

func f32(data []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(data)))
}

// tsToMs normalizes an exchange timestamp to unix milliseconds. The feed
// nominally sends seconds; values already in milliseconds pass through.
func tsToMs(v int64) int64 {
	if v < 1e12 {
		return v * 1000
	}
	return v
}

// Decode walks a binary websocket message and extracts the ticks it can.
// Unknown packet codes are skipped without error; a malformed length stops
// the walk and reports it so the caller can log and drop the remainder.
// The stream never aborts the session.
func Decode(data []byte) ([]model.Tick, error) {
	var ticks []model.Tick

	for len(data) >= headerSize {
		h := parseHeader(data)
		pktLen := int(h.Len)
		if pktLen < headerSize || pktLen > len(data) {
			return ticks, fmt.Errorf("decode: packet code=%d len=%d exceeds frame (%d bytes left)", h.Code, pktLen, len(data))
		}
		pkt := data[:pktLen]

		switch h.Code {
		case FeedCodeTicker:
			if t, ok := decodeTicker(h, pkt); ok {
				ticks = append(ticks, t)
			}
		case FeedCodeQuote:
			if t, ok := decodeQuote(h, pkt); ok {
				ticks = append(ticks, t)
			}
		}

		data = data[pktLen:]
	}

	return ticks, nil
}

// decodeTicker parses a ticker packet: f32 LTP + u32 trade time.
func decodeTicker(h header, pkt []byte) (model.Tick, bool) {
	if len(pkt) < tickerPacketSize {
		return model.Tick{}, false
	}
	return model.Tick{
		SecurityID: h.SecID,
		Segment:    h.Segment,
		LTP:        f32(pkt[8:12]),
		TSMs:       tsToMs(int64(binary.LittleEndian.Uint32(pkt[12:16]))),
	}, true
}

// decodeQuote parses a quote packet:
// f32 ltp, i16 ltq, u32 ltt, f32 atp, u32 volume (session cumulative),
// u32 total sell qty, u32 total buy qty, day OHLC f32×4, then an optional
// trailing u32 open interest when the message length allows it.
func decodeQuote(h header, pkt []byte) (model.Tick, bool) {
	if len(pkt) < quotePacketSize {
		return model.Tick{}, false
	}
	t := model.Tick{
		SecurityID: h.SecID,
		Segment:    h.Segment,
		LTP:        f32(pkt[8:12]),
		LTQ:        float64(int16(binary.LittleEndian.Uint16(pkt[12:14]))),
		TSMs:       tsToMs(int64(binary.LittleEndian.Uint32(pkt[14:18]))),
		Volume:     float64(binary.LittleEndian.Uint32(pkt[22:26])),
	}
	if int(h.Len) >= quoteOIPacketSize && len(pkt) >= quoteOIPacketSize {
		oi := float64(binary.LittleEndian.Uint32(pkt[50:54]))
		if oi > 0 && oi <= maxSaneOI {
			t.OI = oi
		}
	}
	return t, true
}
