// Package classify maps a score, a confidence and red-flag counts onto one
// of the ordered compatibility categories.
//
// Classification never fails: any problem evaluating the configured
// thresholds falls back to score-only legacy bucketing and the result
// records why.
package classify

import (
	"errors"
	"fmt"
	"math"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/gating"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

// legacyBuckets are the score floors of legacy mode, most favorable first.
var legacyBuckets = []struct {
	min   float64
	class scan.Classification
}{
	{85, scan.ClassHighPotential},
	{65, scan.ClassWorthExploring},
	{45, scan.ClassMixedSignals},
	{25, scan.ClassCaution},
}

// Input is what a single classification looks at.
type Input struct {
	Score         float64
	Confidence    float64
	CriticalFlags int
	HighFlags     int
}

// InputWithFlags fills the red-flag counts from flags.
func InputWithFlags(score, confidence float64, flags []scan.RedFlag) Input {
	counts := scan.CountBySeverity(flags)
	return Input{
		Score:         score,
		Confidence:    confidence,
		CriticalFlags: counts[scan.SeverityCritical],
		HighFlags:     counts[scan.SeverityHigh],
	}
}

// Result is the chosen category and how it was reached.
type Result struct {
	Category       scan.Classification `json:"category"`
	Mode           string              `json:"mode"`
	FallbackReason string              `json:"fallback_reason,omitempty"`
}

var errNilConfig = errors.New("no scoring config")

// Classify evaluates thresholds in order and returns the first category
// whose every condition holds, or high_risk when none does.
func Classify(cfg *config.Scoring, in Input) Result {
	if cfg != nil && cfg.ClassificationMode == config.ModeLegacy {
		return Result{Category: Legacy(in.Score), Mode: config.ModeLegacy}
	}
	c, err := byThreshold(cfg, in)
	if err != nil {
		return Result{
			Category:       Legacy(in.Score),
			Mode:           config.ModeLegacy,
			FallbackReason: err.Error(),
		}
	}
	return Result{Category: c, Mode: config.ModeThreshold}
}

func byThreshold(cfg *config.Scoring, in Input) (scan.Classification, error) {
	if cfg == nil {
		return "", errNilConfig
	}
	if cfg.ClassificationMode != config.ModeThreshold {
		return "", fmt.Errorf("unknown classification mode %q", cfg.ClassificationMode)
	}
	if math.IsNaN(in.Score) || math.IsNaN(in.Confidence) {
		return "", fmt.Errorf("score or confidence is NaN")
	}
	for _, c := range scan.ClassificationOrder {
		th, ok := cfg.Threshold(c)
		if !ok {
			return "", fmt.Errorf("missing threshold for %s", c)
		}
		if math.IsNaN(th.MinScore) || math.IsNaN(th.MinConfidence) {
			return "", fmt.Errorf("threshold for %s is NaN", c)
		}
		if in.Score >= th.MinScore &&
			in.Confidence >= th.MinConfidence &&
			in.CriticalFlags <= th.MaxRedFlagsCritical &&
			in.HighFlags <= th.MaxRedFlagsHigh {
			return c, nil
		}
	}
	return scan.ClassHighRisk, nil
}

// Legacy buckets purely by score.
func Legacy(score float64) scan.Classification {
	for _, b := range legacyBuckets {
		if score >= b.min {
			return b.class
		}
	}
	return scan.ClassHighRisk
}

// Downgrade applies the gate to a provisional category. A forbidden
// high_potential becomes worth_exploring and a forbidden high_risk becomes
// caution; everything else passes through.
func Downgrade(provisional scan.Classification, gate gating.Decision) scan.Classification {
	switch {
	case provisional == scan.ClassHighPotential && !gate.CanClassifyHighPotential:
		return scan.ClassWorthExploring
	case provisional == scan.ClassHighRisk && !gate.CanClassifyHighRisk:
		return scan.ClassCaution
	default:
		return provisional
	}
}
