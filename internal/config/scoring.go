// Package config loads the versioned scoring configuration and the
// process environment.
//
// A scoring configuration is immutable once loaded: the pipeline receives
// a *Scoring by reference and only reads it. Changing scoring behavior
// means promoting a new version into the Registry, never editing one in
// place.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"gopkg.in/yaml.v3"
)

// Classification modes.
const (
	ModeThreshold = "threshold"
	ModeLegacy    = "legacy"
)

// weightSumTolerance is how far category_weights may drift from 1.0.
const weightSumTolerance = 0.01

// Threshold is the entry condition for one classification category.
type Threshold struct {
	MinScore            float64 `yaml:"min_score" json:"min_score"`
	MinConfidence       float64 `yaml:"min_confidence" json:"min_confidence"`
	MaxRedFlagsCritical int     `yaml:"max_red_flags_critical" json:"max_red_flags_critical"`
	MaxRedFlagsHigh     int     `yaml:"max_red_flags_high" json:"max_red_flags_high"`
}

// SeverityRule controls recurrence escalation for one severity.
type SeverityRule struct {
	MinOccurrences int  `yaml:"min_occurrences" json:"min_occurrences"`
	AutoEscalate   bool `yaml:"auto_escalate" json:"auto_escalate"`
}

// Scoring is one immutable version of the scoring logic.
type Scoring struct {
	LogicVersion              string                  `yaml:"logic_version" json:"logic_version"`
	CategoryWeights           map[string]float64      `yaml:"category_weights" json:"category_weights"`
	ExpectedCategoryCount     int                     `yaml:"expected_category_count" json:"expected_category_count"`
	GoalCategories            []string                `yaml:"goal_categories" json:"goal_categories"`
	MaturityCategories        []string                `yaml:"maturity_categories" json:"maturity_categories"`
	DealBreakerPenalties      map[string]float64      `yaml:"deal_breaker_penalties" json:"deal_breaker_penalties"`
	CompatibilityThresholds   map[string]Threshold    `yaml:"compatibility_thresholds" json:"compatibility_thresholds"`
	RedFlagSeverityThresholds map[string]SeverityRule `yaml:"red_flag_severity_thresholds" json:"red_flag_severity_thresholds"`
	ClassificationMode        string                  `yaml:"classification_mode" json:"classification_mode"`
	ApplyRedFlagLimits        *bool                   `yaml:"apply_red_flag_limits" json:"apply_red_flag_limits"`
}

// Parse decodes and validates one YAML scoring document.
func Parse(data []byte) (*Scoring, error) {
	var cfg Scoring
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding scoring config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and validates a scoring config from disk.
func LoadFile(path string) (*Scoring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scoring config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Scoring) {
	if cfg.ExpectedCategoryCount == 0 {
		cfg.ExpectedCategoryCount = 5
	}
	if len(cfg.GoalCategories) == 0 {
		cfg.GoalCategories = []string{"values_alignment", "future_goals"}
	}
	if len(cfg.MaturityCategories) == 0 {
		cfg.MaturityCategories = []string{"emotional_maturity"}
	}
	if cfg.ClassificationMode == "" {
		cfg.ClassificationMode = ModeThreshold
	}
	if cfg.ApplyRedFlagLimits == nil {
		on := true
		cfg.ApplyRedFlagLimits = &on
	}
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid scoring config")

// Validate checks required fields and value ranges.
func Validate(cfg *Scoring) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.LogicVersion) == "" {
		return fmt.Errorf("%w: logic_version must be set", ErrInvalidConfig)
	}
	if len(cfg.CategoryWeights) == 0 {
		return fmt.Errorf("%w: category_weights must define at least one category", ErrInvalidConfig)
	}

	sum := 0.0
	for _, name := range sortedKeys(cfg.CategoryWeights) {
		w := cfg.CategoryWeights[name]
		if w <= 0 || math.IsNaN(w) {
			return fmt.Errorf("%w: category_weights.%s must be > 0, got %v", ErrInvalidConfig, name, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: category_weights must sum to 1.0, got %.4f", ErrInvalidConfig, sum)
	}

	if cfg.DealBreakerPenalties == nil {
		return fmt.Errorf("%w: deal_breaker_penalties must be set", ErrInvalidConfig)
	}
	for _, name := range sortedKeys(cfg.DealBreakerPenalties) {
		if _, err := scan.ParseSeverity(name); err != nil {
			return fmt.Errorf("%w: deal_breaker_penalties: %v", ErrInvalidConfig, err)
		}
	}

	if len(cfg.CompatibilityThresholds) == 0 {
		return fmt.Errorf("%w: compatibility_thresholds must be set", ErrInvalidConfig)
	}
	for _, c := range scan.ClassificationOrder {
		th, ok := cfg.CompatibilityThresholds[string(c)]
		if !ok {
			return fmt.Errorf("%w: compatibility_thresholds.%s is missing", ErrInvalidConfig, c)
		}
		if th.MinConfidence < 0 || th.MinConfidence > 1 {
			return fmt.Errorf("%w: compatibility_thresholds.%s.min_confidence must be in [0,1]", ErrInvalidConfig, c)
		}
		if th.MaxRedFlagsCritical < 0 || th.MaxRedFlagsHigh < 0 {
			return fmt.Errorf("%w: compatibility_thresholds.%s red flag limits must be >= 0", ErrInvalidConfig, c)
		}
	}
	for _, name := range sortedKeys(cfg.CompatibilityThresholds) {
		if _, err := scan.ParseClassification(name); err != nil {
			return fmt.Errorf("%w: compatibility_thresholds: %v", ErrInvalidConfig, err)
		}
	}

	if len(cfg.RedFlagSeverityThresholds) == 0 {
		return fmt.Errorf("%w: red_flag_severity_thresholds must be set", ErrInvalidConfig)
	}
	for _, s := range scan.Severities {
		rule, ok := cfg.RedFlagSeverityThresholds[s.String()]
		if !ok {
			return fmt.Errorf("%w: red_flag_severity_thresholds.%s is missing", ErrInvalidConfig, s)
		}
		if rule.MinOccurrences < 1 {
			return fmt.Errorf("%w: red_flag_severity_thresholds.%s.min_occurrences must be >= 1", ErrInvalidConfig, s)
		}
	}

	if cfg.ExpectedCategoryCount < 1 {
		return fmt.Errorf("%w: expected_category_count must be >= 1", ErrInvalidConfig)
	}
	for _, c := range append(append([]string(nil), cfg.GoalCategories...), cfg.MaturityCategories...) {
		if _, ok := cfg.CategoryWeights[c]; !ok {
			return fmt.Errorf("%w: profile category %q is not in category_weights", ErrInvalidConfig, c)
		}
	}

	switch cfg.ClassificationMode {
	case ModeThreshold, ModeLegacy:
	default:
		return fmt.Errorf("%w: classification_mode must be threshold or legacy, got %q", ErrInvalidConfig, cfg.ClassificationMode)
	}

	return nil
}

// --- Read-only accessors ---

// KnownCategories returns a fresh set of the configured category names.
func (s *Scoring) KnownCategories() map[string]bool {
	known := make(map[string]bool, len(s.CategoryWeights))
	for name := range s.CategoryWeights {
		known[name] = true
	}
	return known
}

// Categories returns the configured category names in lexical order.
func (s *Scoring) Categories() []string {
	return sortedKeys(s.CategoryWeights)
}

// DefaultWeight returns the configured default weight for category.
func (s *Scoring) DefaultWeight(category string) (float64, bool) {
	w, ok := s.CategoryWeights[category]
	return w, ok
}

// Threshold returns the thresholds for a classification category.
func (s *Scoring) Threshold(c scan.Classification) (Threshold, bool) {
	th, ok := s.CompatibilityThresholds[string(c)]
	return th, ok
}

// SeverityRule returns the escalation rule for a severity.
func (s *Scoring) SeverityRule(sev scan.Severity) (SeverityRule, bool) {
	rule, ok := s.RedFlagSeverityThresholds[sev.String()]
	return rule, ok
}

// RedFlagLimitsEnabled reports whether computed red flags feed back into
// classification.
func (s *Scoring) RedFlagLimitsEnabled() bool {
	return s.ApplyRedFlagLimits == nil || *s.ApplyRedFlagLimits
}

// DealBreakerAutoEscalate reports whether a red-flag rating on a
// deal-breaker is reported as critical rather than high.
func (s *Scoring) DealBreakerAutoEscalate() bool {
	rule, ok := s.SeverityRule(scan.SeverityCritical)
	return !ok || rule.AutoEscalate
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
