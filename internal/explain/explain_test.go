package explain

import (
	"testing"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput() Input {
	answers := []scan.Answer{
		{QuestionID: "c4", Category: "communication_fit", Rating: scan.RatingGood},
		{QuestionID: "c1", Category: "communication_fit", Rating: scan.RatingStrongMatch},
		{QuestionID: "c2", Category: "communication_fit", Rating: scan.RatingGood},
		{QuestionID: "c3", Category: "communication_fit", Rating: scan.RatingYellowFlag},
		{QuestionID: "v1", Category: "values_alignment", Rating: scan.RatingNeutral},
	}
	bp := scan.Blueprint{CategoryWeights: map[string]float64{"communication_fit": 0.75, "values_alignment": 0.25}}
	scores := scoring.CategoryScores(answers, bp)
	overall := scoring.OverallScore(scoring.OverallInput{
		CategoryScores: scores,
		Blueprint:      bp,
		Sentiment:      scoring.NewKeywordSentiment(),
		Notes:          scan.ReflectionNotes{WhatWentWell: "kind"},
	})
	return Input{
		Answers:             answers,
		Blueprint:           bp,
		Overall:             overall,
		BaseConfidence:      0.5,
		AdjustedConfidence:  0.25,
		ConfidenceReason:    "limited data",
		ProvisionalCategory: scan.ClassWorthExploring,
		FinalCategory:       scan.ClassWorthExploring,
		ClassificationMode:  "threshold",
		Flags:               []scan.RedFlag{{Severity: scan.SeverityHigh}},
		LogicVersion:        "1.0.0",
	}
}

func TestGenerate_CategoryContributions(t *testing.T) {
	m := Generate(sampleInput())
	require.Len(t, m.Categories, 2)

	comm := m.Categories[0]
	assert.Equal(t, "communication_fit", comm.Category)
	assert.Equal(t, 68.75, comm.Score)
	require.Len(t, comm.Answers, 4)
	assert.Equal(t, 0.75, comm.Answers[0].Weight)
	assert.Equal(t, 56.25, comm.Answers[0].WeightedScore)

	sum := 0.0
	for _, a := range comm.Answers {
		sum += a.ContributionPct
	}
	assert.InDelta(t, 100, sum, 0.05)

	// c2 and c4 tie at 75; question id breaks the tie.
	require.Len(t, comm.TopContributors, 3)
	assert.Equal(t, []string{"c1", "c2", "c4"}, []string{
		comm.TopContributors[0].QuestionID,
		comm.TopContributors[1].QuestionID,
		comm.TopContributors[2].QuestionID,
	})
}

func TestGenerate_OverallContributions(t *testing.T) {
	m := Generate(sampleInput())
	require.Len(t, m.Overall, 2)
	assert.Equal(t, scoring.WeightFromBlueprint, m.Overall[0].WeightBasis)

	sum := 0.0
	for _, c := range m.Overall {
		sum += c.ContributionPct
	}
	assert.InDelta(t, 100, sum, 0.05)

	require.Len(t, m.Adjustments, 1)
	assert.Equal(t, "reflection_sentiment", m.Adjustments[0].Name)
}

func TestGenerate_TraceIsDeterministicAndFormatted(t *testing.T) {
	a := Generate(sampleInput())
	b := Generate(sampleInput())
	assert.Equal(t, a.CalculationTrace, b.CalculationTrace)

	assert.Equal(t, "logic version 1.0.0", a.CalculationTrace[0])
	assert.Contains(t, a.CalculationTrace, "category communication_fit: 4 answers, weight 0.75 (blueprint), score 68.75")
	assert.Contains(t, a.CalculationTrace, "  c1 strong_match: 100.00 x 0.75 = 75.00 (36.36%)")
	assert.Contains(t, a.CalculationTrace, "classification: provisional worth_exploring, final worth_exploring (mode threshold)")
	assert.Contains(t, a.CalculationTrace, "red flags: 0 critical, 1 high, 0 medium, 0 low")
}

func TestGenerate_CategoryWeightFollowsOverallWhenBlueprintOmitsIt(t *testing.T) {
	answers := []scan.Answer{
		{QuestionID: "c1", Category: "communication_fit", Rating: scan.RatingStrongMatch},
		{QuestionID: "t1", Category: "trust_safety", Rating: scan.RatingGood},
	}
	bp := scan.Blueprint{CategoryWeights: map[string]float64{"communication_fit": 0.5}}
	overall := scoring.OverallBreakdown{
		BaseScore: 85,
		Weights:   map[string]float64{"communication_fit": 0.6, "trust_safety": 0.4},
		WeightBasis: map[string]string{
			"communication_fit": scoring.WeightFromBlueprint,
			"trust_safety":      scoring.WeightFromConfig,
		},
	}

	m := Generate(Input{Answers: answers, Blueprint: bp, Overall: overall})
	require.Len(t, m.Categories, 2)

	require.Len(t, m.Overall, 2)
	for i, ce := range m.Categories {
		assert.Equal(t, m.Overall[i].Weight, ce.Weight, ce.Category)
		assert.Equal(t, m.Overall[i].WeightBasis, ce.WeightBasis, ce.Category)
	}
	trust := m.Categories[1]
	assert.Equal(t, 0.4, trust.Weight)
	assert.Equal(t, scoring.WeightFromConfig, trust.WeightBasis)
	assert.Equal(t, 0.4, trust.Answers[0].Weight)
	assert.Contains(t, m.CalculationTrace, "category trust_safety: 1 answers, weight 0.40 (config_default), score 75.00")

	// Without an overall breakdown the blueprint weight applies, then 1.
	bare := Generate(Input{Answers: answers, Blueprint: bp})
	require.Len(t, bare.Categories, 2)
	assert.Equal(t, 0.5, bare.Categories[0].Weight)
	assert.Equal(t, scoring.WeightFromBlueprint, bare.Categories[0].WeightBasis)
	assert.Equal(t, 1.0, bare.Categories[1].Weight)
	assert.Equal(t, scoring.WeightEqual, bare.Categories[1].WeightBasis)
}

func TestGenerate_AllRedCategoryHasZeroShares(t *testing.T) {
	in := Input{Answers: []scan.Answer{
		{QuestionID: "a", Category: "trust_safety", Rating: scan.RatingRedFlag},
		{QuestionID: "b", Category: "trust_safety", Rating: scan.RatingRedFlag},
	}}
	m := Generate(in)
	require.Len(t, m.Categories, 1)
	for _, a := range m.Categories[0].Answers {
		assert.Equal(t, 0.0, a.ContributionPct)
	}
}

func TestGenerate_Empty(t *testing.T) {
	m := Generate(Input{})
	assert.Empty(t, m.Categories)
	assert.NotEmpty(t, m.CalculationTrace)
}
