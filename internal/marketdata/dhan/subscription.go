package dhan

import (
	"encoding/json"

	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

// RequestCodeSubscribeQuote asks the feed for quote packets (code 17).
const RequestCodeSubscribeQuote = 17

// maxInstrumentsPerMessage is the upstream cap per subscription message.
const maxInstrumentsPerMessage = 100

type subscriptionInstrument struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityID      string `json:"SecurityId"`
}

type subscriptionRequest struct {
	RequestCode     int                      `json:"RequestCode"`
	InstrumentCount int                      `json:"InstrumentCount"`
	InstrumentList  []subscriptionInstrument `json:"InstrumentList"`
}

// buildSubscribeMessages converts instruments into subscription frames,
// batched to at most 100 instruments per message.
func buildSubscribeMessages(instruments []model.Instrument) [][]byte {
	var msgs [][]byte
	for start := 0; start < len(instruments); start += maxInstrumentsPerMessage {
		end := start + maxInstrumentsPerMessage
		if end > len(instruments) {
			end = len(instruments)
		}

		list := make([]subscriptionInstrument, 0, end-start)
		for _, in := range instruments[start:end] {
			list = append(list, subscriptionInstrument{
				ExchangeSegment: in.ExchangeSegment,
				SecurityID:      in.SecurityID,
			})
		}

		b, err := json.Marshal(subscriptionRequest{
			RequestCode:     RequestCodeSubscribeQuote,
			InstrumentCount: len(list),
			InstrumentList:  list,
		})
		if err != nil {
			continue
		}
		msgs = append(msgs, b)
	}
	return msgs
}
