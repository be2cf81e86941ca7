package strategy

import (
	"fmt"
	"sort"

	"trading-decision-engine/internal/models"
)

// TierName is an operator-selected risk appetite
type TierName string

const (
	Conservative TierName = "conservative"
	Standard     TierName = "standard"
	Aggressive   TierName = "aggressive"
)

// RiskTier adjusts gates, sizing and stop buffers
type RiskTier struct {
	Name TierName `json:"name" yaml:"name"`
	Rank int      `json:"rank" yaml:"rank"` // higher rank = more appetite

	// Normalized confidence (aggregate / ceiling) breakpoints
	MinConfidence    float64 `json:"min_confidence" yaml:"min_confidence" validate:"gte=0,lte=1"`
	MediumBreakpoint float64 `json:"medium_breakpoint" yaml:"medium_breakpoint" validate:"gte=0,lte=1"`
	HighBreakpoint   float64 `json:"high_breakpoint" yaml:"high_breakpoint" validate:"gte=0,lte=1"`

	// Fraction of balance risked per bucket
	LowRisk    float64 `json:"low_risk" yaml:"low_risk" validate:"gt=0,lt=1"`
	MediumRisk float64 `json:"medium_risk" yaml:"medium_risk" validate:"gt=0,lt=1"`
	HighRisk   float64 `json:"high_risk" yaml:"high_risk" validate:"gt=0,lt=1"`

	MaxLot         float64 `json:"max_lot" yaml:"max_lot" validate:"gt=0"`
	MaxExposurePct float64 `json:"max_exposure_pct" yaml:"max_exposure_pct" validate:"gt=0,lte=100"` // risk at stake across a broker

	ThresholdMultiplier float64 `json:"threshold_multiplier" yaml:"threshold_multiplier" validate:"gt=0"`
	SpreadMultiplier    float64 `json:"spread_multiplier" yaml:"spread_multiplier" validate:"gte=1"`
}

// Bucket is a discrete risk bucket
type Bucket string

const (
	BucketLow    Bucket = "low"
	BucketMedium Bucket = "medium"
	BucketHigh   Bucket = "high"
)

// DefaultTiers returns the built-in tiers
func DefaultTiers() map[TierName]RiskTier {
	return map[TierName]RiskTier{
		Conservative: {
			Name:                Conservative,
			Rank:                0,
			MinConfidence:       0.65,
			MediumBreakpoint:    0.75,
			HighBreakpoint:      0.85,
			LowRisk:             0.005,
			MediumRisk:          0.0075,
			HighRisk:            0.01,
			MaxLot:              1.0,
			MaxExposurePct:      3.0,
			ThresholdMultiplier: 1.10,
			SpreadMultiplier:    2.0,
		},
		Standard: {
			Name:                Standard,
			Rank:                1,
			MinConfidence:       0.60,
			MediumBreakpoint:    0.70,
			HighBreakpoint:      0.82,
			LowRisk:             0.01,
			MediumRisk:          0.015,
			HighRisk:            0.02,
			MaxLot:              2.0,
			MaxExposurePct:      6.0,
			ThresholdMultiplier: 1.0,
			SpreadMultiplier:    1.5,
		},
		Aggressive: {
			Name:                Aggressive,
			Rank:                2,
			MinConfidence:       0.55,
			MediumBreakpoint:    0.65,
			HighBreakpoint:      0.78,
			LowRisk:             0.015,
			MediumRisk:          0.02,
			HighRisk:            0.03,
			MaxLot:              5.0,
			MaxExposurePct:      10.0,
			ThresholdMultiplier: 0.90,
			SpreadMultiplier:    1.2,
		},
	}
}

// BucketFor maps a normalized confidence to a bucket
func (t RiskTier) BucketFor(normalized float64) Bucket {
	switch {
	case normalized >= t.HighBreakpoint:
		return BucketHigh
	case normalized >= t.MediumBreakpoint:
		return BucketMedium
	default:
		return BucketLow
	}
}

// RiskFraction returns the balance fraction for a bucket
func (t RiskTier) RiskFraction(b Bucket) float64 {
	switch b {
	case BucketHigh:
		return t.HighRisk
	case BucketMedium:
		return t.MediumRisk
	default:
		return t.LowRisk
	}
}

func (t RiskTier) validate() error {
	if !(t.MinConfidence <= t.MediumBreakpoint && t.MediumBreakpoint <= t.HighBreakpoint) {
		return fmt.Errorf("%w: tier %s breakpoints must ascend", models.ErrMalformedProfile, t.Name)
	}
	if !(t.LowRisk <= t.MediumRisk && t.MediumRisk <= t.HighRisk) {
		return fmt.Errorf("%w: tier %s bucket risk must ascend", models.ErrMalformedProfile, t.Name)
	}
	return nil
}

// ValidateTiers checks each tier and that higher tiers never risk less than lower ones
func ValidateTiers(tiers map[TierName]RiskTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: no risk tiers configured", models.ErrMalformedProfile)
	}

	ordered := make([]RiskTier, 0, len(tiers))
	for name, t := range tiers {
		if t.Name != name {
			return fmt.Errorf("%w: tier key %s does not match name %s", models.ErrMalformedProfile, name, t.Name)
		}
		if err := validate.Struct(t); err != nil {
			return fmt.Errorf("%w: tier %s: %v", models.ErrMalformedProfile, name, err)
		}
		if err := t.validate(); err != nil {
			return err
		}
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Rank < ordered[j].Rank })

	for i := 1; i < len(ordered); i++ {
		lo, hi := ordered[i-1], ordered[i]
		if lo.Rank == hi.Rank {
			return fmt.Errorf("%w: tiers %s and %s share rank %d", models.ErrMalformedProfile, lo.Name, hi.Name, lo.Rank)
		}
		if hi.LowRisk < lo.LowRisk || hi.MediumRisk < lo.MediumRisk || hi.HighRisk < lo.HighRisk {
			return fmt.Errorf("%w: tier %s risks less than lower tier %s", models.ErrMalformedProfile, hi.Name, lo.Name)
		}
		if hi.MaxLot < lo.MaxLot {
			return fmt.Errorf("%w: tier %s max lot below lower tier %s", models.ErrMalformedProfile, hi.Name, lo.Name)
		}
	}
	return nil
}
