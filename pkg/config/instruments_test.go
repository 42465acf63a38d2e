package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeInstrumentsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadInstruments(t *testing.T) {
	path := writeInstrumentsFile(t, `
instruments:
  - symbol: EURUSD
    min_size: 0.01
    commission_rate: 0.00002
    max_spread_pct: 0.0005
  - symbol: btcusd
    min_size: 0.001
  - min_size: 1.0
`)

	ins, err := LoadInstruments(path)
	if err != nil {
		t.Fatalf("LoadInstruments: %v", err)
	}
	// The symbol-less entry is skipped.
	if len(ins) != 2 {
		t.Fatalf("catalog size = %d, want 2", len(ins))
	}

	eur := ins.Get("EURUSD")
	if eur.MinSize != 0.01 || eur.CommissionRate != 0.00002 {
		t.Fatalf("EURUSD = %+v", eur)
	}

	// Lookup and catalog keys are both case-insensitive.
	if got := ins.MinSize("BtcUsd"); got != 0.001 {
		t.Fatalf("BTCUSD min size = %v, want 0.001", got)
	}
}

func TestLoadInstrumentsMissingFileIsEmptyCatalog(t *testing.T) {
	ins, err := LoadInstruments(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(ins) != 0 {
		t.Fatalf("catalog size = %d, want 0", len(ins))
	}
	if got := ins.MinSize("EURUSD"); got != 0 {
		t.Fatalf("uncatalogued min size = %v, want 0", got)
	}
}

func TestLoadInstrumentsRejectsMalformedYAML(t *testing.T) {
	path := writeInstrumentsFile(t, "instruments: [unclosed")
	if _, err := LoadInstruments(path); err == nil {
		t.Fatal("malformed YAML should error")
	}
}
