package models

import (
	"errors"
	"fmt"
)

// Recoverable decision outcomes. None of these should stop the process.
var (
	ErrDataUnavailable    = errors.New("data unavailable")
	ErrBrokerUnavailable  = errors.New("broker unavailable")
	ErrInvalidSignal      = errors.New("invalid signal")
	ErrDuplicatePosition  = errors.New("duplicate position")
	ErrRiskLimitExceeded  = errors.New("risk limit exceeded")
	ErrStaleCooldown      = errors.New("asset in cooldown")
	ErrNoEligibleStrategy = errors.New("no eligible strategy") // CHAOS regime
)

// Defects that need operator attention
var (
	ErrCorruptWeights   = errors.New("corrupted weight data")
	ErrMalformedProfile = errors.New("malformed strategy profile")
)

var recoverable = []error{
	ErrDataUnavailable,
	ErrBrokerUnavailable,
	ErrInvalidSignal,
	ErrDuplicatePosition,
	ErrRiskLimitExceeded,
	ErrStaleCooldown,
	ErrNoEligibleStrategy,
}

// VetoError carries a recoverable kind plus the human reason behind it
type VetoError struct {
	Kind   error
	Reason string
	Detail map[string]interface{}
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *VetoError) Unwrap() error {
	return e.Kind
}

// Veto builds a VetoError
func Veto(kind error, format string, args ...interface{}) *VetoError {
	return &VetoError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a key/value for the audit record
func (e *VetoError) WithDetail(key string, value interface{}) *VetoError {
	if e.Detail == nil {
		e.Detail = make(map[string]interface{})
	}
	e.Detail[key] = value
	return e
}

// IsRecoverable reports whether err is one of the expected decision outcomes
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	for _, k := range recoverable {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// KindName returns a short label for metrics and audit records
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDataUnavailable):
		return "DataUnavailable"
	case errors.Is(err, ErrBrokerUnavailable):
		return "BrokerUnavailable"
	case errors.Is(err, ErrInvalidSignal):
		return "InvalidSignal"
	case errors.Is(err, ErrDuplicatePosition):
		return "DuplicatePosition"
	case errors.Is(err, ErrRiskLimitExceeded):
		return "RiskLimitExceeded"
	case errors.Is(err, ErrStaleCooldown):
		return "StaleCooldown"
	case errors.Is(err, ErrNoEligibleStrategy):
		return "NoEligibleStrategy"
	case errors.Is(err, ErrCorruptWeights):
		return "CorruptWeights"
	case errors.Is(err, ErrMalformedProfile):
		return "MalformedProfile"
	}
	return "Unknown"
}
