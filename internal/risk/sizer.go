package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/strategy"
)

// SizerConfig holds lot constraints shared by every tier
type SizerConfig struct {
	MinLot  float64 `json:"min_lot" default:"0.01"`
	LotStep float64 `json:"lot_step" default:"0.01"`
	// Profiles scale tier fractions by RiskPerTrade / ReferenceRisk
	ReferenceRisk float64 `json:"reference_risk" default:"0.01"`
}

// DefaultSizerConfig returns standard lot constraints
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{MinLot: 0.01, LotStep: 0.01, ReferenceRisk: 0.01}
}

// SizeRequest is everything the sizer needs for one candidate
type SizeRequest struct {
	AssetID            string
	Balance            float64
	Confidence         models.ConfidenceScore
	Tier               strategy.RiskTier
	Profile            strategy.Profile
	EntryPrice         float64
	StopLoss           float64
	UnitValue          float64 // account currency per 1.0 price move per lot
	CurrentExposurePct float64 // risk already at stake on this broker
}

// SizeResult is the bounded quantity and the risk it carries
type SizeResult struct {
	Quantity     float64         `json:"quantity"`
	Bucket       strategy.Bucket `json:"bucket"`
	RiskFraction float64         `json:"risk_fraction"`
	RiskBudget   float64         `json:"risk_budget"`  // balance * fraction
	RiskAmount   float64         `json:"risk_amount"`  // actual loss at the stop after clamping
	RiskPercent  float64         `json:"risk_percent"` // RiskAmount / balance * 100
	Clamp        string          `json:"clamp,omitempty"`
}

// Sizer turns confidence and account state into a bounded quantity
type Sizer struct {
	config SizerConfig
}

// NewSizer creates a position sizer
func NewSizer(config SizerConfig) *Sizer {
	if config.LotStep <= 0 {
		config.LotStep = config.MinLot
	}
	if config.ReferenceRisk <= 0 {
		config.ReferenceRisk = 0.01
	}
	return &Sizer{config: config}
}

// Size computes the quantity. Zero or negative stop distance is rejected before any division.
func (s *Sizer) Size(req SizeRequest) (SizeResult, error) {
	stopDistance := math.Abs(req.EntryPrice - req.StopLoss)
	if req.EntryPrice <= 0 || stopDistance <= 0 || math.IsNaN(stopDistance) || math.IsInf(stopDistance, 0) {
		return SizeResult{}, models.Veto(models.ErrInvalidSignal,
			"stop distance %.5f must be positive", stopDistance).WithDetail("asset", req.AssetID)
	}
	if req.Balance <= 0 {
		return SizeResult{}, models.Veto(models.ErrRiskLimitExceeded, "no balance available")
	}

	normalized := req.Confidence.Normalized()
	if normalized < req.Tier.MinConfidence {
		return SizeResult{}, models.Veto(models.ErrInvalidSignal,
			"confidence %.2f below %s tier floor %.2f", normalized, req.Tier.Name, req.Tier.MinConfidence)
	}

	unit := req.UnitValue
	if unit <= 0 {
		unit = 1
	}

	bucket := req.Tier.BucketFor(normalized)
	fraction := req.Tier.RiskFraction(bucket)
	if req.Profile.RiskPerTrade > 0 {
		fraction *= req.Profile.RiskPerTrade / s.config.ReferenceRisk
	}

	result := SizeResult{
		Bucket:       bucket,
		RiskFraction: fraction,
		RiskBudget:   req.Balance * fraction,
	}

	raw := result.RiskBudget / (stopDistance * unit)
	qty := s.roundLot(raw)
	switch {
	case qty < s.config.MinLot:
		qty = s.config.MinLot
		result.Clamp = "min_lot"
	case qty > req.Tier.MaxLot:
		qty = s.roundLot(req.Tier.MaxLot)
		result.Clamp = "max_lot"
	}

	result.Quantity = qty
	result.RiskAmount = qty * stopDistance * unit
	result.RiskPercent = result.RiskAmount / req.Balance * 100

	if req.CurrentExposurePct+result.RiskPercent > req.Tier.MaxExposurePct {
		return result, models.Veto(models.ErrRiskLimitExceeded,
			"exposure %.2f%% + %.2f%% exceeds %s tier max %.2f%%",
			req.CurrentExposurePct, result.RiskPercent, req.Tier.Name, req.Tier.MaxExposurePct)
	}
	return result, nil
}

// roundLot floors a quantity to the lot step
func (s *Sizer) roundLot(qty float64) float64 {
	step := decimal.NewFromFloat(s.config.LotStep)
	if step.IsZero() {
		return qty
	}
	lots := decimal.NewFromFloat(qty).Div(step).Floor()
	f, _ := lots.Mul(step).Float64()
	return f
}
