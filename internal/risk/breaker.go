package risk

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// BreakerState represents the loss breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // New entries halted
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// BreakerConfig holds loss breaker configuration
type BreakerConfig struct {
	Enabled              bool    `json:"enabled" default:"true"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses" default:"4"` // Losing trades in a row
	MaxLossPerHour       float64 `json:"max_loss_per_hour" default:"3"`      // Summed loss % per hour
	MaxDailyLoss         float64 `json:"max_daily_loss" default:"5"`         // Summed loss % per UTC day
	CooldownMinutes      int     `json:"cooldown_minutes" default:"60"`      // Pause after a trip
}

// DefaultBreakerConfig returns safe defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:              true,
		MaxConsecutiveLosses: 4,
		MaxLossPerHour:       3.0,
		MaxDailyLoss:         5.0,
		CooldownMinutes:      60,
	}
}

// LossBreaker halts new entries after a run of losing closes
type LossBreaker struct {
	config            BreakerConfig
	state             BreakerState
	consecutiveLosses int
	hourlyLoss        float64
	dailyLoss         float64
	lastTripTime      time.Time
	hourlyResetTime   time.Time
	dailyResetTime    time.Time
	tripReason        string
	now               func() time.Time
	onTrip            func(reason string)
	mu                sync.Mutex
}

// NewLossBreaker creates a loss breaker
func NewLossBreaker(config BreakerConfig) *LossBreaker {
	b := &LossBreaker{config: config, state: StateClosed, now: time.Now}
	b.resetWindows(b.now())
	return b
}

// SetClock overrides the time source
func (b *LossBreaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	b.resetWindows(now())
}

// OnTrip sets a callback for when the breaker opens
func (b *LossBreaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

func (b *LossBreaker) resetWindows(now time.Time) {
	b.hourlyResetTime = now.Add(time.Hour)
	b.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
}

func (b *LossBreaker) rollWindows(now time.Time) {
	if !now.Before(b.hourlyResetTime) {
		b.hourlyLoss = 0
		b.hourlyResetTime = now.Add(time.Hour)
	}
	if !now.Before(b.dailyResetTime) {
		b.dailyLoss = 0
		b.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// CanTrade checks whether new entries are allowed
func (b *LossBreaker) CanTrade() (bool, string) {
	if !b.config.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rollWindows(now)

	if b.state == StateOpen {
		cooldown := time.Duration(b.config.CooldownMinutes) * time.Minute
		if elapsed := now.Sub(b.lastTripTime); elapsed < cooldown {
			return false, fmt.Sprintf("loss breaker open, cooldown remaining: %v (reason: %s)",
				(cooldown - elapsed).Round(time.Second), b.tripReason)
		}
		// Cooldown passed, allow a probe trade
		b.state = StateHalfOpen
		b.consecutiveLosses = 0
	}

	if b.dailyLoss >= b.config.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%", b.dailyLoss, b.config.MaxDailyLoss)
	}
	return true, ""
}

// RecordClose records a closed trade's pnl percent
func (b *LossBreaker) RecordClose(pnlPercent float64) {
	if !b.config.Enabled || math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollWindows(b.now())

	if pnlPercent < 0 {
		b.consecutiveLosses++
		b.hourlyLoss += -pnlPercent
		b.dailyLoss += -pnlPercent
		if b.state == StateHalfOpen {
			b.trip("loss during recovery probe")
			return
		}
	} else {
		b.consecutiveLosses = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
	}

	switch {
	case b.consecutiveLosses >= b.config.MaxConsecutiveLosses:
		b.trip(fmt.Sprintf("consecutive losses: %d", b.consecutiveLosses))
	case b.hourlyLoss >= b.config.MaxLossPerHour:
		b.trip(fmt.Sprintf("hourly loss: %.2f%%", b.hourlyLoss))
	case b.dailyLoss >= b.config.MaxDailyLoss:
		b.trip(fmt.Sprintf("daily loss: %.2f%%", b.dailyLoss))
	}
}

func (b *LossBreaker) trip(reason string) {
	b.state = StateOpen
	b.lastTripTime = b.now()
	b.tripReason = reason
	if b.onTrip != nil {
		go b.onTrip(reason)
	}
}

// Stats returns the breaker counters
func (b *LossBreaker) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"state":              string(b.state),
		"consecutive_losses": b.consecutiveLosses,
		"hourly_loss":        b.hourlyLoss,
		"daily_loss":         b.dailyLoss,
		"trip_reason":        b.tripReason,
		"last_trip_time":     b.lastTripTime,
	}
}

// State returns the current state
func (b *LossBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
