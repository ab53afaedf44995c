// Package gating lowers base confidence when the data behind a scan is
// thin or self-contradictory, and decides which extreme classifications
// the resulting confidence can support.
//
// It plays the same role as a quality gate in front of a pipeline stage:
// nothing here changes scores, it only decides how much they can be trusted.
package gating

import (
	"fmt"
	"strings"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scoring"
)

// Gate thresholds on adjusted confidence.
const (
	HighPotentialMinConfidence = 0.7
	HighRiskMinConfidence      = 0.5
	LimitedDataConfidence      = 0.6
)

// Sufficiency rules.
const (
	MinTotalAnswers       = 10
	MinAnswersPerCategory = 2
	MinCategories         = 3

	lowAnswerPenalty      = 0.3
	thinCategoryPenalty   = 0.2
	fewCategoriesPenalty  = 0.25
	maxSufficiencyPenalty = 0.8
)

// Conflict rules.
const (
	// ConflictVariance is the intra-category population variance at which
	// a category counts as conflicting (std-dev 50 on the 0-100 scale).
	ConflictVariance = 2500.0
	// GlobalSpreadLimit is the max-min category score gap above which the
	// scan as a whole counts as conflicting.
	GlobalSpreadLimit  = 60.0
	ConflictScoreLimit = 0.4
	maxConflictPenalty = 0.5
)

// ─── Data sufficiency ────────────────────────────────────────────────────────

// Sufficiency reports whether there is enough data to classify confidently.
type Sufficiency struct {
	IsSufficient      bool     `json:"is_sufficient"`
	Reason            string   `json:"reason"`
	MissingSignals    []string `json:"missing_signals"`
	Penalty           float64  `json:"penalty"`
	TotalAnswers      int      `json:"total_answers"`
	CategoriesCovered int      `json:"categories_covered"`
	ThinCategories    []string `json:"thin_categories,omitempty"`
}

// CheckDataSufficiency computes the additive data penalty, capped at 0.8.
func CheckDataSufficiency(answers []scan.Answer) Sufficiency {
	groups := scan.GroupByCategory(answers)
	cats := scan.SortedCategories(answers)

	s := Sufficiency{
		TotalAnswers:      len(answers),
		CategoriesCovered: len(cats),
		MissingSignals:    []string{},
	}

	if s.TotalAnswers < MinTotalAnswers {
		s.Penalty += lowAnswerPenalty
		s.MissingSignals = append(s.MissingSignals,
			fmt.Sprintf("answer at least %d more questions (have %d of %d)", MinTotalAnswers-s.TotalAnswers, s.TotalAnswers, MinTotalAnswers))
	}

	for _, c := range cats {
		if len(groups[c]) < MinAnswersPerCategory {
			s.ThinCategories = append(s.ThinCategories, c)
		}
	}
	if len(cats) > 0 && len(s.ThinCategories) > 0 {
		s.Penalty += thinCategoryPenalty * float64(len(s.ThinCategories)) / float64(len(cats))
		s.MissingSignals = append(s.MissingSignals,
			fmt.Sprintf("add answers in thin categories: %s", strings.Join(s.ThinCategories, ", ")))
	}

	if len(cats) < MinCategories {
		s.Penalty += fewCategoriesPenalty
		s.MissingSignals = append(s.MissingSignals,
			fmt.Sprintf("cover at least %d categories (have %d)", MinCategories, len(cats)))
	}

	if s.Penalty > maxSufficiencyPenalty {
		s.Penalty = maxSufficiencyPenalty
	}
	s.Penalty = scoring.Round(s.Penalty, 4)

	s.IsSufficient = s.TotalAnswers >= MinTotalAnswers && len(cats) >= MinCategories
	switch {
	case s.TotalAnswers == 0:
		s.Reason = "no answers submitted"
	case s.IsSufficient && len(s.ThinCategories) == 0:
		s.Reason = fmt.Sprintf("%d answers across %d categories", s.TotalAnswers, len(cats))
	case s.IsSufficient:
		s.Reason = fmt.Sprintf("%d answers across %d categories, %d thin", s.TotalAnswers, len(cats), len(s.ThinCategories))
	default:
		s.Reason = fmt.Sprintf("limited data: %d answers across %d categories", s.TotalAnswers, len(cats))
	}
	return s
}

// ─── Conflict density ────────────────────────────────────────────────────────

// ConflictDensity measures how much the answers disagree with themselves.
type ConflictDensity struct {
	HasConflicts          bool     `json:"has_conflicts"`
	ConflictScore         float64  `json:"conflict_score"`
	ConflictingCategories []string `json:"conflicting_categories"`
	GlobalConflict        bool     `json:"global_conflict"`
	Spread                float64  `json:"spread"`
	Indicators            int      `json:"indicators"`
	Penalty               float64  `json:"penalty"`
}

// CheckConflictDensity evaluates one indicator per category with at least
// two answers plus one global indicator when two or more categories were
// scored.
func CheckConflictDensity(answers []scan.Answer, categoryScores map[string]float64) ConflictDensity {
	d := ConflictDensity{ConflictingCategories: []string{}}
	groups := scan.GroupByCategory(answers)

	conflicting := 0
	for _, c := range scan.SortedCategories(answers) {
		if len(groups[c]) < MinAnswersPerCategory {
			continue
		}
		d.Indicators++
		if scoring.PopulationVariance(scoring.RatingScores(groups[c])) >= ConflictVariance {
			conflicting++
			d.ConflictingCategories = append(d.ConflictingCategories, c)
		}
	}

	if len(categoryScores) >= 2 {
		d.Indicators++
		lo, hi := 100.0, 0.0
		for _, s := range categoryScores {
			lo = min(lo, s)
			hi = max(hi, s)
		}
		d.Spread = hi - lo
		if d.Spread > GlobalSpreadLimit {
			d.GlobalConflict = true
			conflicting++
		}
	}

	if d.Indicators == 0 {
		return d
	}
	d.ConflictScore = scoring.Round(float64(conflicting)/float64(d.Indicators), 4)
	d.HasConflicts = d.ConflictScore > ConflictScoreLimit
	if d.HasConflicts {
		d.Penalty = scoring.Round(min(d.ConflictScore*0.5, maxConflictPenalty), 4)
	}
	return d
}

// ─── Gate ────────────────────────────────────────────────────────────────────

// Input is everything the gate needs for one decision.
type Input struct {
	BaseConfidence float64
	Answers        []scan.Answer
	CategoryScores map[string]float64
	Sufficiency    Sufficiency
	// Target is the classification being considered. Empty means none.
	Target scan.Classification
}

// Decision is the gated confidence and what it allows.
type Decision struct {
	BaseConfidence           float64             `json:"base_confidence"`
	AdjustedConfidence       float64             `json:"adjusted_confidence"`
	Reason                   string              `json:"reason"`
	CanClassifyHighPotential bool                `json:"can_classify_high_potential"`
	CanClassifyHighRisk      bool                `json:"can_classify_high_risk"`
	Target                   scan.Classification `json:"target,omitempty"`
	Advisories               []string            `json:"advisories"`
	Sufficiency              Sufficiency         `json:"data_sufficiency"`
	Conflict                 ConflictDensity     `json:"conflict_density"`
}

// Allows reports whether the decision permits classifying as c. Only the
// two extremes are ever gated.
func (d Decision) Allows(c scan.Classification) bool {
	switch c {
	case scan.ClassHighPotential:
		return d.CanClassifyHighPotential
	case scan.ClassHighRisk:
		return d.CanClassifyHighRisk
	default:
		return true
	}
}

// Gate subtracts the sufficiency and conflict penalties from the base
// confidence and derives the category gates.
func Gate(in Input) Decision {
	conflict := CheckConflictDensity(in.Answers, in.CategoryScores)
	adjusted := scoring.Clamp(in.BaseConfidence-in.Sufficiency.Penalty-conflict.Penalty, 0, 1)
	adjusted = scoring.Round(adjusted, 4)

	d := Decision{
		BaseConfidence:           in.BaseConfidence,
		AdjustedConfidence:       adjusted,
		CanClassifyHighPotential: adjusted >= HighPotentialMinConfidence,
		CanClassifyHighRisk:      adjusted >= HighRiskMinConfidence,
		Target:                   in.Target,
		Advisories:               []string{},
		Sufficiency:              in.Sufficiency,
		Conflict:                 conflict,
	}
	d.Reason = reason(d)

	switch {
	case in.Target == scan.ClassHighPotential && !d.CanClassifyHighPotential:
		d.Advisories = append(d.Advisories, fmt.Sprintf(
			"high_potential needs confidence >= %.2f (have %.2f); treat this as worth_exploring until more consistent data is collected",
			HighPotentialMinConfidence, adjusted))
	case in.Target == scan.ClassHighRisk && !d.CanClassifyHighRisk:
		d.Advisories = append(d.Advisories, fmt.Sprintf(
			"high_risk needs confidence >= %.2f (have %.2f); reported as caution, review the flagged areas directly",
			HighRiskMinConfidence, adjusted))
	}
	if len(d.Advisories) > 0 {
		d.Advisories = append(d.Advisories, in.Sufficiency.MissingSignals...)
		if conflict.HasConflicts && len(conflict.ConflictingCategories) > 0 {
			d.Advisories = append(d.Advisories,
				"revisit contradictory answers in: "+strings.Join(conflict.ConflictingCategories, ", "))
		}
	}
	return d
}

func reason(d Decision) string {
	var parts []string
	if d.Sufficiency.Penalty > 0 {
		parts = append(parts, fmt.Sprintf("%s (-%.2f)", d.Sufficiency.Reason, d.Sufficiency.Penalty))
	}
	if d.Conflict.Penalty > 0 {
		what := "conflicting responses"
		if len(d.Conflict.ConflictingCategories) > 0 {
			what += " in " + strings.Join(d.Conflict.ConflictingCategories, ", ")
		}
		if d.Conflict.GlobalConflict {
			what += fmt.Sprintf("; category spread %.0f", d.Conflict.Spread)
		}
		parts = append(parts, fmt.Sprintf("%s (-%.2f)", what, d.Conflict.Penalty))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("confidence %.2f: sufficient, consistent data", d.AdjustedConfidence)
	}
	return fmt.Sprintf("confidence %.2f from base %.2f: %s", d.AdjustedConfidence, d.BaseConfidence, strings.Join(parts, "; "))
}

// ShouldForceLimitedDataAcknowledgment reports whether downstream layers
// must acknowledge limited data when presenting the result.
func ShouldForceLimitedDataAcknowledgment(confidence float64, s Sufficiency) bool {
	return confidence < LimitedDataConfidence || !s.IsSufficient
}
