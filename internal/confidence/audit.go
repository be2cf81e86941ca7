package confidence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/strategy"
)

// NewAuditEntry builds the structured veto record for a scored candidate.
// Used for gate vetoes and for later vetoes (guard, sizing, risk) on the same score.
func NewAuditEntry(score models.ConfidenceScore, veto error, tier strategy.TierName) models.AuditLogEntry {
	reason := veto.Error()
	var ve *models.VetoError
	if errors.As(veto, &ve) {
		reason = ve.Reason
	}

	entry := models.AuditLogEntry{
		ID:           uuid.NewString(),
		AssetID:      score.AssetID,
		Strategy:     score.Strategy,
		Direction:    score.Direction,
		Kind:         models.KindName(veto),
		Reason:       reason,
		Pro:          append([]string{}, score.Pro...),
		Contra:       append([]string{}, score.Contra...),
		NetWeight:    score.Aggregate - score.Threshold,
		ConfidenceID: score.ID,
		Timestamp:    score.Timestamp,
	}
	if !errors.Is(veto, models.ErrInvalidSignal) || score.Passed {
		entry.Contra = append(entry.Contra, "veto: "+reason)
	}
	entry.RiskAssessment = riskAssessment(score, tier, entry.Kind, reason)
	return entry
}

func riskAssessment(score models.ConfidenceScore, tier strategy.TierName, kind, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s. ", kind, reason)
	fmt.Fprintf(&b, "%s/%s in %s, tier %s, confidence %.1f/%.1f (threshold %.1f).",
		score.AssetID, score.Strategy, score.Regime, tier, score.Aggregate, score.Ceiling, score.Threshold)

	weakest, weakestRatio := models.Pillar(""), 2.0
	for _, p := range models.AllPillars {
		w := score.Weights.Get(p)
		if w <= 0 {
			continue
		}
		if ratio := score.Pillars.Get(p) / w; ratio < weakestRatio {
			weakest, weakestRatio = p, ratio
		}
	}
	if weakest != "" {
		fmt.Fprintf(&b, " Weakest pillar %s at %.0f%% of its weight.", weakest, weakestRatio*100)
	}
	fmt.Fprintf(&b, " %d supporting, %d opposing factors.", len(score.Pro), len(score.Contra))
	return b.String()
}
