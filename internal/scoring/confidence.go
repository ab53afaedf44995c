package scoring

import (
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

// Component ceilings of the base confidence.
const (
	maxConsistencyComponent = 0.3
	neutralConsistency      = 0.15
	maxCoverageComponent    = 0.2
	notesComponent          = 0.1

	// MaxRatingVariance is the population variance of a 100/0 split, the
	// widest spread two rating scores can have.
	MaxRatingVariance = 2500.0
)

// answerTiers maps minimum answer counts to the answer component.
var answerTiers = []struct {
	min   int
	value float64
}{
	{20, 0.4},
	{15, 0.35},
	{10, 0.3},
	{5, 0.2},
	{1, 0.1},
}

// ConfidenceBreakdown is the base (pre-gating) confidence and its parts.
type ConfidenceBreakdown struct {
	Score        float64 `json:"score"`
	AnswerCount  float64 `json:"answer_count"`
	Consistency  float64 `json:"consistency"`
	Coverage     float64 `json:"coverage"`
	Notes        float64 `json:"notes"`
	MeanVariance float64 `json:"mean_variance"`
}

// BaseConfidence scores how much the answers can be trusted before any
// gating penalty. The result is in [0,1].
func BaseConfidence(answers []scan.Answer, notes scan.ReflectionNotes, expectedCategories int) ConfidenceBreakdown {
	var b ConfidenceBreakdown

	for _, tier := range answerTiers {
		if len(answers) >= tier.min {
			b.AnswerCount = tier.value
			break
		}
	}

	groups := scan.GroupByCategory(answers)
	var variances []float64
	for _, cat := range sortedKeys(groups) {
		if len(groups[cat]) >= 2 {
			variances = append(variances, PopulationVariance(RatingScores(groups[cat])))
		}
	}
	if len(variances) == 0 {
		b.Consistency = neutralConsistency
	} else {
		b.MeanVariance = Mean(variances)
		b.Consistency = maxConsistencyComponent * (1 - clamp(b.MeanVariance/MaxRatingVariance, 0, 1))
	}
	if len(answers) == 0 {
		b.Consistency = 0
	}

	if expectedCategories < 1 {
		expectedCategories = 1
	}
	b.Coverage = maxCoverageComponent * clamp(float64(len(groups))/float64(expectedCategories), 0, 1)

	if !notes.IsEmpty() {
		b.Notes = notesComponent
	}

	b.Score = Round(clamp(b.AnswerCount+b.Consistency+b.Coverage+b.Notes, 0, 1), 4)
	return b
}
