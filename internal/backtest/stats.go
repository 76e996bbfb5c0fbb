package backtest

import (
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/indicator"
)

// CalculateStats computes performance statistics from closed trades. bars is
// the number of simulated bars and exposed the number of bars a position was
// held through.
func CalculateStats(trades []Trade, bars, exposed int) Stats {
	var s Stats
	if bars > 0 {
		s.Exposure = float64(exposed) / float64(bars)
	}
	if len(trades) == 0 {
		return s
	}

	returns := make([]float64, 0, len(trades))
	pnls := make([]float64, 0, len(trades))
	var held int

	for _, t := range trades {
		returns = append(returns, t.Return)
		pnls = append(pnls, t.PnL)
		held += t.Held

		s.CumulativePnL += t.PnL
		s.GrossPnL += t.GrossPnL
		s.TotalCost += t.Cost
		s.Turnover += t.Turnover()

		if t.IsWin() {
			s.WinningTrades++
		} else {
			s.LosingTrades++
		}
		if t.Side == core.SideShort {
			s.ShortTrades++
		} else {
			s.LongTrades++
		}
		switch t.Outcome {
		case core.OutcomeProfitTake:
			s.ProfitTakes++
		case core.OutcomeStopLoss:
			s.StopLosses++
		case core.OutcomeTimeExpiry:
			s.TimeExpiries++
		}
	}

	s.TotalTrades = len(trades)
	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)
	s.AvgHolding = float64(held) / float64(s.TotalTrades)
	s.MaxDrawdown = calculateMaxDrawdown(pnls)
	s.SharpeRatio = calculateSharpeRatio(returns)
	return s
}

// calculateMaxDrawdown finds the largest peak-to-trough decline of the
// cumulative PnL curve, which starts at zero.
func calculateMaxDrawdown(pnls []float64) float64 {
	var maxDD, peak, cumulative float64

	for _, p := range pnls {
		cumulative += p
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
	}

	return maxDD
}

// calculateSharpeRatio computes mean over sample standard deviation of
// per-trade returns. Trades have no fixed period, so it is not annualized.
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	stdDev := indicator.StdDev(returns)
	if stdDev == 0 {
		return 0
	}
	return indicator.Mean(returns) / stdDev
}
