package classify

import (
	"math"
	"testing"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/gating"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtinConfig(t *testing.T) *config.Scoring {
	t.Helper()
	r, err := config.BuiltinRegistry()
	require.NoError(t, err)
	return r.Latest()
}

func TestClassify_Thresholds(t *testing.T) {
	cfg := builtinConfig(t)
	tests := []struct {
		name string
		in   Input
		want scan.Classification
	}{
		{"top", Input{Score: 90, Confidence: 0.9}, scan.ClassHighPotential},
		{"high score low confidence", Input{Score: 90, Confidence: 0.6}, scan.ClassWorthExploring},
		{"one high flag", Input{Score: 90, Confidence: 0.9, HighFlags: 1}, scan.ClassWorthExploring},
		{"one critical flag", Input{Score: 90, Confidence: 0.9, CriticalFlags: 1}, scan.ClassCaution},
		{"mid", Input{Score: 50, Confidence: 0.4}, scan.ClassMixedSignals},
		{"mid without confidence", Input{Score: 50, Confidence: 0.1}, scan.ClassCaution},
		{"low", Input{Score: 10, Confidence: 0.9}, scan.ClassHighRisk},
		{"two critical flags", Input{Score: 70, Confidence: 0.9, CriticalFlags: 2}, scan.ClassHighRisk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(cfg, tt.in)
			assert.Equal(t, tt.want, got.Category)
			assert.Equal(t, config.ModeThreshold, got.Mode)
			assert.Empty(t, got.FallbackReason)
		})
	}
}

func TestClassify_LegacyMode(t *testing.T) {
	cfg := *builtinConfig(t)
	cfg.ClassificationMode = config.ModeLegacy
	got := Classify(&cfg, Input{Score: 86, Confidence: 0})
	assert.Equal(t, scan.ClassHighPotential, got.Category)
	assert.Equal(t, config.ModeLegacy, got.Mode)
	assert.Empty(t, got.FallbackReason)
}

func TestClassify_ErrorsFallBackToLegacy(t *testing.T) {
	base := builtinConfig(t)

	missing := *base
	missing.CompatibilityThresholds = map[string]config.Threshold{}

	nan := *base
	nan.CompatibilityThresholds = map[string]config.Threshold{}
	for k, v := range base.CompatibilityThresholds {
		nan.CompatibilityThresholds[k] = v
	}
	th := nan.CompatibilityThresholds["high_potential"]
	th.MinScore = math.NaN()
	nan.CompatibilityThresholds["high_potential"] = th

	bogus := *base
	bogus.ClassificationMode = "astrology"

	tests := []struct {
		name string
		cfg  *config.Scoring
		in   Input
	}{
		{"nil config", nil, Input{Score: 70}},
		{"missing thresholds", &missing, Input{Score: 70}},
		{"nan threshold", &nan, Input{Score: 70}},
		{"unknown mode", &bogus, Input{Score: 70}},
		{"nan score", base, Input{Score: 70, Confidence: math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.cfg, tt.in)
			assert.Equal(t, config.ModeLegacy, got.Mode)
			assert.NotEmpty(t, got.FallbackReason)
			assert.Equal(t, scan.ClassWorthExploring, got.Category)
		})
	}
}

func TestLegacy(t *testing.T) {
	tests := []struct {
		score float64
		want  scan.Classification
	}{
		{100, scan.ClassHighPotential},
		{85, scan.ClassHighPotential},
		{84.9, scan.ClassWorthExploring},
		{65, scan.ClassWorthExploring},
		{45, scan.ClassMixedSignals},
		{25, scan.ClassCaution},
		{24, scan.ClassHighRisk},
		{0, scan.ClassHighRisk},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Legacy(tt.score), "score %v", tt.score)
	}
}

func TestDowngrade(t *testing.T) {
	open := gating.Decision{CanClassifyHighPotential: true, CanClassifyHighRisk: true}
	closed := gating.Decision{}

	tests := []struct {
		name        string
		provisional scan.Classification
		gate        gating.Decision
		want        scan.Classification
	}{
		{"high potential allowed", scan.ClassHighPotential, open, scan.ClassHighPotential},
		{"high potential forbidden", scan.ClassHighPotential, closed, scan.ClassWorthExploring},
		{"high risk allowed", scan.ClassHighRisk, open, scan.ClassHighRisk},
		{"high risk forbidden", scan.ClassHighRisk, closed, scan.ClassCaution},
		{"middle untouched", scan.ClassMixedSignals, closed, scan.ClassMixedSignals},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Downgrade(tt.provisional, tt.gate))
		})
	}
}

func TestInputWithFlags(t *testing.T) {
	in := InputWithFlags(70, 0.8, []scan.RedFlag{
		{Severity: scan.SeverityCritical},
		{Severity: scan.SeverityHigh},
		{Severity: scan.SeverityHigh},
		{Severity: scan.SeverityLow},
	})
	assert.Equal(t, 1, in.CriticalFlags)
	assert.Equal(t, 2, in.HighFlags)
}
