package account

import "math"

// Performance is derived from the closed-trade ledger; it is recomputed in
// full on every closed trade rather than updated incrementally.
type Performance struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	Sharpe        float64 `json:"sharpe"`
	PeakBalance   float64 `json:"peak_balance"`
}

// ComputePerformance recomputes statistics over the realized P&L sequence in
// close order. MaxDrawdown is the largest peak-to-trough decline of the
// cumulative P&L curve. Sharpe is mean/stddev of per-trade P&L, zero when
// fewer than two trades exist or the stddev is zero.
func ComputePerformance(pnls []float64, initialBalance float64) Performance {
	p := Performance{PeakBalance: initialBalance}

	cum := 0.0
	peak := 0.0
	for _, pnl := range pnls {
		p.TotalTrades++
		p.TotalPnL += pnl
		if pnl > 0 {
			p.WinningTrades++
		} else if pnl < 0 {
			p.LosingTrades++
		}

		cum += pnl
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > p.MaxDrawdown {
			p.MaxDrawdown = dd
		}
		if bal := initialBalance + cum; bal > p.PeakBalance {
			p.PeakBalance = bal
		}
	}

	if p.TotalTrades > 0 {
		p.WinRate = float64(p.WinningTrades) / float64(p.TotalTrades)
	}
	p.Sharpe = sharpeLike(pnls)
	return p
}

func sharpeLike(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range pnls {
		mean += v
	}
	mean /= float64(len(pnls))

	variance := 0.0
	for _, v := range pnls {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(pnls))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std
}
