package strategy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trading-decision-engine/internal/models"
)

// ProfileOverride replaces selected fields of a built-in profile
type ProfileOverride struct {
	Weights       *models.PillarWeights `yaml:"weights"`
	Ceiling       *float64              `yaml:"ceiling" validate:"omitempty,gt=0"`
	MinConfidence *float64              `yaml:"min_confidence" validate:"omitempty,gt=0"`
	StopLossPct   *float64              `yaml:"stop_loss_pct" validate:"omitempty,gt=0"`
	TakeProfitPct *float64              `yaml:"take_profit_pct" validate:"omitempty,gt=0"`
	MaxConcurrent *int                  `yaml:"max_concurrent" validate:"omitempty,gt=0"`
	RiskPerTrade  *float64              `yaml:"risk_per_trade" validate:"omitempty,gt=0,lte=0.1"`
	Cooldown      *time.Duration        `yaml:"cooldown" validate:"omitempty,gte=0"`
}

// OverrideFile is the YAML layout for operator overrides
type OverrideFile struct {
	ActiveTier TierName                 `yaml:"active_tier"`
	Profiles   map[Name]ProfileOverride `yaml:"profiles" validate:"dive"`
	Tiers      map[TierName]RiskTier    `yaml:"tiers"`
}

// Apply merges an override onto a profile
func (o ProfileOverride) Apply(p Profile) Profile {
	if o.Weights != nil {
		p.Weights = *o.Weights
	}
	if o.Ceiling != nil {
		p.Ceiling = *o.Ceiling
	}
	if o.MinConfidence != nil {
		p.MinConfidence = *o.MinConfidence
	}
	if o.StopLossPct != nil {
		p.StopLossPct = *o.StopLossPct
	}
	if o.TakeProfitPct != nil {
		p.TakeProfitPct = *o.TakeProfitPct
	}
	if o.MaxConcurrent != nil {
		p.MaxConcurrent = *o.MaxConcurrent
	}
	if o.RiskPerTrade != nil {
		p.RiskPerTrade = *o.RiskPerTrade
	}
	if o.Cooldown != nil {
		p.Cooldown = *o.Cooldown
	}
	return p
}

// ParseOverrides decodes and applies YAML overrides onto the built-in catalogue
func ParseOverrides(data []byte, defaultTier TierName) (*Settings, error) {
	var file OverrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse overrides: %v", models.ErrMalformedProfile, err)
	}
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("%w: overrides: %v", models.ErrMalformedProfile, err)
	}

	profiles := DefaultProfiles()
	for name, o := range file.Profiles {
		p, ok := profiles[name]
		if !ok {
			return nil, fmt.Errorf("%w: override for unknown strategy %q", models.ErrMalformedProfile, name)
		}
		profiles[name] = o.Apply(p)
	}

	tiers := DefaultTiers()
	for name, t := range file.Tiers {
		t.Name = name
		tiers[name] = t
	}

	active := defaultTier
	if file.ActiveTier != "" {
		active = file.ActiveTier
	}
	return NewSettings(profiles, tiers, active)
}

// LoadOverrides reads a YAML override file. An empty path returns the defaults.
func LoadOverrides(path string, defaultTier TierName) (*Settings, error) {
	if path == "" {
		return DefaultSettings(defaultTier)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides %s: %w", path, err)
	}
	return ParseOverrides(data, defaultTier)
}
