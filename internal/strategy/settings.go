package strategy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"trading-decision-engine/internal/models"
)

var validate = validator.New()

// Settings is an immutable, versioned view of profiles and tiers.
// Every decision reads one Settings value; updates install a new version.
type Settings struct {
	Version    int64                 `json:"version"`
	Profiles   map[Name]Profile      `json:"profiles"`
	Tiers      map[TierName]RiskTier `json:"tiers"`
	ActiveTier TierName              `json:"active_tier"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// NewSettings validates and builds version 1
func NewSettings(profiles map[Name]Profile, tiers map[TierName]RiskTier, active TierName) (*Settings, error) {
	s := &Settings{
		Version:    1,
		Profiles:   copyProfiles(profiles),
		Tiers:      copyTiers(tiers),
		ActiveTier: active,
		UpdatedAt:  time.Now(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultSettings builds settings from the built-in catalogue
func DefaultSettings(active TierName) (*Settings, error) {
	return NewSettings(DefaultProfiles(), DefaultTiers(), active)
}

// Validate checks every profile and tier
func (s *Settings) Validate() error {
	for _, n := range AllNames() {
		p, ok := s.Profiles[n]
		if !ok {
			return fmt.Errorf("%w: profile %s missing", models.ErrMalformedProfile, n)
		}
		if p.Name != n {
			return fmt.Errorf("%w: profile key %s holds %s", models.ErrMalformedProfile, n, p.Name)
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if err := ValidateTiers(s.Tiers); err != nil {
		return err
	}
	if _, ok := s.Tiers[s.ActiveTier]; !ok {
		return fmt.Errorf("%w: active tier %q not configured", models.ErrMalformedProfile, s.ActiveTier)
	}
	return nil
}

// Profile returns a strategy profile
func (s *Settings) Profile(name Name) (Profile, error) {
	p, ok := s.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown strategy %q", name)
	}
	return p, nil
}

// RiskTier returns a tier by name
func (s *Settings) RiskTier(name TierName) (RiskTier, error) {
	t, ok := s.Tiers[name]
	if !ok {
		return RiskTier{}, fmt.Errorf("unknown risk tier %q", name)
	}
	return t, nil
}

// Active returns the active tier
func (s *Settings) Active() RiskTier {
	return s.Tiers[s.ActiveTier]
}

// WithProfile returns the next version with one profile replaced
func (s *Settings) WithProfile(p Profile) (*Settings, error) {
	next := s.next()
	next.Profiles[p.Name] = p
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// WithActiveTier returns the next version with a different active tier
func (s *Settings) WithActiveTier(name TierName) (*Settings, error) {
	next := s.next()
	next.ActiveTier = name
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Settings) next() *Settings {
	return &Settings{
		Version:    s.Version + 1,
		Profiles:   copyProfiles(s.Profiles),
		Tiers:      copyTiers(s.Tiers),
		ActiveTier: s.ActiveTier,
		UpdatedAt:  time.Now(),
	}
}

func copyProfiles(in map[Name]Profile) map[Name]Profile {
	out := make(map[Name]Profile, len(in))
	for k, v := range in {
		v.SuitableRegimes = append([]models.Regime(nil), v.SuitableRegimes...)
		out[k] = v
	}
	return out
}

func copyTiers(in map[TierName]RiskTier) map[TierName]RiskTier {
	out := make(map[TierName]RiskTier, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Store holds the current Settings version and notifies listeners on change
type Store struct {
	current   atomic.Pointer[Settings]
	mu        sync.Mutex // serializes writers
	listeners []func(prev, next *Settings)
}

// NewStore creates a store seeded with settings
func NewStore(initial *Settings) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Current returns the installed version
func (s *Store) Current() *Settings {
	return s.current.Load()
}

// GetStrategyProfile reads a profile from the current version
func (s *Store) GetStrategyProfile(name Name) (Profile, error) {
	return s.Current().Profile(name)
}

// GetRiskTier reads a tier from the current version
func (s *Store) GetRiskTier(name TierName) (RiskTier, error) {
	return s.Current().RiskTier(name)
}

// OnChange registers a listener called after each installed update
func (s *Store) OnChange(fn func(prev, next *Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// UpdateProfile installs a new version with the profile replaced
func (s *Store) UpdateProfile(p Profile) (*Settings, error) {
	return s.update(func(cur *Settings) (*Settings, error) { return cur.WithProfile(p) })
}

// SetActiveTier installs a new version with another tier active
func (s *Store) SetActiveTier(name TierName) (*Settings, error) {
	return s.update(func(cur *Settings) (*Settings, error) { return cur.WithActiveTier(name) })
}

func (s *Store) update(fn func(cur *Settings) (*Settings, error)) (*Settings, error) {
	s.mu.Lock()
	prev := s.current.Load()
	next, err := fn(prev)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.current.Store(next)
	listeners := append([]func(prev, next *Settings){}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(prev, next)
	}
	return next, nil
}
