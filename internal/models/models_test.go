package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTradingHoursWindow(t *testing.T) {
	day := TradingHours{Open: "08:00", Close: "17:00"}
	assert.True(t, day.IsOpen(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)))
	assert.False(t, day.IsOpen(time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)))

	overnight := TradingHours{Open: "22:00", Close: "06:00"}
	assert.True(t, overnight.IsOpen(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)))
	assert.True(t, overnight.IsOpen(time.Date(2026, 3, 2, 5, 59, 0, 0, time.UTC)))
	assert.False(t, overnight.IsOpen(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)))

	weekdays := TradingHours{Days: []string{"Mon", "Tue", "Wed", "Thu", "Fri"}}
	// 2026-03-07 is a Saturday
	assert.False(t, weekdays.IsOpen(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)))
	assert.True(t, TradingHours{}.IsOpen(time.Now()))
}

func TestAssetAliases(t *testing.T) {
	a := Asset{
		ID: "GOLD",
		Aliases: map[string][]string{
			"mt5":   {"XAUUSD", "gold"},
			"oanda": {"XAU_USD"},
		},
	}
	aliases := a.AllAliases()
	assert.Contains(t, aliases, "GOLD")
	assert.Contains(t, aliases, "XAUUSD")
	assert.Contains(t, aliases, "XAU_USD")
	assert.Len(t, aliases, 3, "case-insensitive duplicates collapse")
	assert.Equal(t, "XAUUSD", a.SymbolFor("mt5"))
	assert.Equal(t, "GOLD", a.SymbolFor("unknown"))

	assert.NoError(t, a.Validate())
	assert.Error(t, Asset{ID: "SILVER", Aliases: map[string][]string{"mt5": {" "}}}.Validate())
}

func TestVetoErrorKinds(t *testing.T) {
	err := fmt.Errorf("execute: %w", Veto(ErrStaleCooldown, "wait %dm", 12))
	assert.True(t, errors.Is(err, ErrStaleCooldown))
	assert.True(t, IsRecoverable(err))
	assert.Equal(t, "StaleCooldown", KindName(err))

	assert.False(t, IsRecoverable(fmt.Errorf("load: %w", ErrCorruptWeights)))
	assert.True(t, IsRecoverable(nil))
}

func TestPositionPnLPercent(t *testing.T) {
	long := Position{Direction: Long, EntryPrice: 100, ExitPrice: 102}
	assert.InDelta(t, 2.0, long.PnLPercent(), 1e-9)
	short := Position{Direction: Short, EntryPrice: 100, ExitPrice: 102}
	assert.InDelta(t, -2.0, short.PnLPercent(), 1e-9)
	assert.InDelta(t, 30.0, Position{EntryPrice: 2000, StopLoss: 1970, Quantity: 1}.RiskAtStake(1), 1e-9)
}
