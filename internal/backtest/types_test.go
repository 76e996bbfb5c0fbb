package backtest

import (
	"testing"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
)

func TestTrade_IsWin(t *testing.T) {
	tests := []struct {
		name  string
		trade Trade
		want  bool
	}{
		{"positive pnl", Trade{PnL: 0.05}, true},
		{"negative pnl", Trade{PnL: -0.02}, false},
		{"zero pnl", Trade{PnL: 0}, false},
		{"gross win eaten by fees", Trade{GrossPnL: 0.01, Cost: 0.02, PnL: -0.01}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trade.IsWin(); got != tt.want {
				t.Errorf("IsWin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeeSchedule_Cost(t *testing.T) {
	fees := FeeSchedule{MakerBps: 0, TakerBps: 7.5}

	if got := fees.Cost(10000, RoleTaker); got != 7.5 {
		t.Errorf("taker cost = %v, want 7.5", got)
	}
	if got := fees.Cost(10000, RoleMaker); got != 0 {
		t.Errorf("maker cost = %v, want 0", got)
	}
	if got := fees.Cost(-10000, RoleTaker); got != 7.5 {
		t.Errorf("cost of negative notional = %v, want 7.5", got)
	}
}

func TestExitRole(t *testing.T) {
	tests := []struct {
		outcome core.Outcome
		want    Role
	}{
		{core.OutcomeProfitTake, RoleMaker},
		{core.OutcomeStopLoss, RoleTaker},
		{core.OutcomeTimeExpiry, RoleTaker},
	}

	for _, tt := range tests {
		if got := ExitRole(tt.outcome); got != tt.want {
			t.Errorf("ExitRole(%s) = %s, want %s", tt.outcome, got, tt.want)
		}
	}
}
