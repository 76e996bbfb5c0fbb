package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSide_Sign(t *testing.T) {
	assert.Equal(t, 1.0, SideLong.Sign())
	assert.Equal(t, -1.0, SideShort.Sign())
	assert.Equal(t, 1.0, SideNone.Sign())
}

func TestBar_Mark(t *testing.T) {
	raw := Bar{Close: 100}
	assert.Equal(t, 100.0, raw.Mark())

	denoised := Bar{Close: 100, Denoised: 99.5}
	assert.Equal(t, 99.5, denoised.Mark())
}

func TestBar_VWAP(t *testing.T) {
	b := Bar{Close: 10, Volume: 4, Turnover: 42}
	assert.InDelta(t, 10.5, b.VWAP(), 1e-12)

	empty := Bar{Close: 10}
	assert.Equal(t, 10.0, empty.VWAP())
}

func TestLabel_Bin(t *testing.T) {
	tests := []struct {
		name  string
		label Label
		want  int
	}{
		{"profit take", Label{Outcome: OutcomeProfitTake, Return: 0.02}, 1},
		{"stop loss", Label{Outcome: OutcomeStopLoss, Return: -0.02}, -1},
		{"expiry up", Label{Outcome: OutcomeTimeExpiry, Return: 0.001}, 1},
		{"expiry down", Label{Outcome: OutcomeTimeExpiry, Return: -0.001}, -1},
		{"expiry flat", Label{Outcome: OutcomeTimeExpiry}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.label.Bin())
		})
	}
}

func TestTick_Notional(t *testing.T) {
	tk := Tick{Price: 20000, Size: 0.5}
	assert.Equal(t, 10000.0, tk.Notional())
}
