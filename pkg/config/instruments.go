package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instrument describes per-symbol trading constraints.
type Instrument struct {
	Symbol         string  `yaml:"symbol"`
	MinSize        float64 `yaml:"min_size"`
	CommissionRate float64 `yaml:"commission_rate"` // overrides global rate when > 0
	MaxSpreadPct   float64 `yaml:"max_spread_pct"`  // overrides global guard when > 0
}

// Instruments is a catalog keyed by upper-case symbol.
type Instruments map[string]Instrument

type instrumentsFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// LoadInstruments parses the YAML instrument catalog. A missing file is not
// an error; callers fall back to defaults for unknown symbols.
func LoadInstruments(path string) (Instruments, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Instruments{}, nil
		}
		return nil, fmt.Errorf("read instruments file: %w", err)
	}

	var f instrumentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse instruments file: %w", err)
	}

	out := make(Instruments, len(f.Instruments))
	for _, in := range f.Instruments {
		if in.Symbol == "" {
			continue
		}
		out[strings.ToUpper(in.Symbol)] = in
	}
	return out, nil
}

// Get returns the instrument for a symbol, or a zero-value entry when the
// symbol is not in the catalog.
func (ins Instruments) Get(symbol string) Instrument {
	return ins[strings.ToUpper(symbol)]
}

// MinSize returns the per-symbol order floor (0 when uncatalogued).
func (ins Instruments) MinSize(symbol string) float64 {
	return ins.Get(symbol).MinSize
}
