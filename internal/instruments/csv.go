// Package instruments loads the stock_list.csv instrument master used to
// auto-populate subscriptions and to answer symbol searches.
package instruments

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

// Record is one row of the instrument list.
type Record struct {
	Symbol     string `json:"symbol"`
	SecurityID string `json:"security_id"`
	Exchange   string `json:"exchange"`
	Segment    string `json:"segment"`
	Instrument string `json:"instrument"`
}

// ExchangeSegment maps the CSV exchange/segment pair onto the feed's
// segment names. Derivative rows ("D") subscribe on NSE_FO, everything
// else on the cash segment.
func (r Record) ExchangeSegment() string {
	ex := strings.ToUpper(r.Exchange)
	if ex == "" {
		ex = "NSE"
	}
	switch strings.ToUpper(r.Segment) {
	case "D", "FO", "FNO":
		return ex + "_FO"
	default:
		return ex + "_EQ"
	}
}

// Model converts the record into a registrable instrument.
func (r Record) Model() model.Instrument {
	return model.Instrument{
		Symbol:          strings.ToUpper(r.Symbol),
		SecurityID:      r.SecurityID,
		ExchangeSegment: r.ExchangeSegment(),
	}
}

// Load reads the CSV at path. Expected header columns: symbol,
// security_id, and optionally exchange, segment, instrument.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["symbol"]; !ok {
		return nil, fmt.Errorf("missing symbol column")
	}
	if _, ok := col["security_id"]; !ok {
		return nil, fmt.Errorf("missing security_id column")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return records, err
		}
		rec := Record{
			Symbol:     field(row, "symbol"),
			SecurityID: field(row, "security_id"),
			Exchange:   field(row, "exchange"),
			Segment:    field(row, "segment"),
			Instrument: field(row, "instrument"),
		}
		if rec.Symbol == "" || rec.SecurityID == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Filter narrows records by a symbol substring and/or exchange.
func Filter(records []Record, q, exchange string) []Record {
	q = strings.ToUpper(q)
	exchange = strings.ToUpper(exchange)

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if q != "" && !strings.Contains(strings.ToUpper(r.Symbol), q) {
			continue
		}
		if exchange != "" && strings.ToUpper(r.Exchange) != exchange {
			continue
		}
		out = append(out, r)
	}
	return out
}
