package instruments

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stock_list.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeCSV(t, `symbol,security_id,exchange,segment,instrument
NIFTY25AUGFUT,53001,NSE,D,FUTIDX
RELIANCE,2885,NSE,E,EQUITY

,9999,NSE,E,EQUITY
TCS,11536,NSE,E,EQUITY
`)
	records, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3 (blank symbol skipped)", len(records))
	}
	if records[0].Symbol != "NIFTY25AUGFUT" || records[0].SecurityID != "53001" {
		t.Errorf("first record = %+v", records[0])
	}
}

func TestLoadHeaderOrderIndependent(t *testing.T) {
	path := writeCSV(t, `security_id,symbol
2885,RELIANCE
`)
	records, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Symbol != "RELIANCE" {
		t.Errorf("records = %+v", records)
	}
}

func TestLoadMissingColumns(t *testing.T) {
	path := writeCSV(t, "symbol,exchange\nX,NSE\n")
	if _, err := Load(path); err == nil {
		t.Error("missing security_id column accepted")
	}
}

func TestExchangeSegment(t *testing.T) {
	tests := []struct {
		rec  Record
		want string
	}{
		{Record{Exchange: "NSE", Segment: "D"}, "NSE_FO"},
		{Record{Exchange: "NSE", Segment: "E"}, "NSE_EQ"},
		{Record{Exchange: "BSE", Segment: "d"}, "BSE_FO"},
		{Record{Exchange: "", Segment: ""}, "NSE_EQ"},
		{Record{Exchange: "nse", Segment: "FNO"}, "NSE_FO"},
	}
	for _, tt := range tests {
		if got := tt.rec.ExchangeSegment(); got != tt.want {
			t.Errorf("%+v -> %q, want %q", tt.rec, got, tt.want)
		}
	}
}

func TestModelUppercasesSymbol(t *testing.T) {
	m := Record{Symbol: "reliance", SecurityID: "2885", Segment: "E"}.Model()
	if m.Symbol != "RELIANCE" {
		t.Errorf("symbol = %q", m.Symbol)
	}
}

func TestFilter(t *testing.T) {
	records := []Record{
		{Symbol: "NIFTY25AUGFUT", Exchange: "NSE"},
		{Symbol: "BANKNIFTY25AUGFUT", Exchange: "NSE"},
		{Symbol: "SENSEX25AUGFUT", Exchange: "BSE"},
	}

	if got := Filter(records, "nifty", ""); len(got) != 2 {
		t.Errorf("q=nifty -> %d, want 2", len(got))
	}
	if got := Filter(records, "", "bse"); len(got) != 1 {
		t.Errorf("exchange=bse -> %d, want 1", len(got))
	}
	if got := Filter(records, "nifty", "BSE"); len(got) != 0 {
		t.Errorf("combined filter -> %d, want 0", len(got))
	}
	if got := Filter(records, "", ""); len(got) != 3 {
		t.Errorf("no filter -> %d, want 3", len(got))
	}
}
