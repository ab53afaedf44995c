package alignment

import (
	"testing"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionalAlignment(t *testing.T) {
	answers := []scan.Answer{
		{QuestionID: "1", Category: "communication_fit", Rating: scan.RatingStrongMatch},
		{QuestionID: "2", Category: "communication_fit", Rating: scan.RatingGood},
		{QuestionID: "3", Category: "values_alignment", Rating: scan.RatingNeutral},
		{QuestionID: "4", Category: "hobbies", Rating: scan.RatingRedFlag},
	}
	bp := scan.Blueprint{CategoryWeights: map[string]float64{"communication_fit": 0.6, "values_alignment": 0.4}}

	// (87.5*0.6 + 50*0.4) / 1.0; hobbies has no weight and is skipped.
	assert.InDelta(t, 72.5, DirectionalAlignment(answers, bp), 1e-9)
	// No blueprint: plain mean of category means.
	assert.InDelta(t, (87.5+50+0)/3, DirectionalAlignment(answers, scan.Blueprint{}), 1e-4)
	assert.Equal(t, 0.0, DirectionalAlignment(nil, bp))
}

func TestMutualScore_Symmetric(t *testing.T) {
	pairs := [][2]float64{{80, 45}, {100, 0}, {0, 0}, {33.3, 66.6}, {75, 75}}
	for _, p := range pairs {
		assert.Equal(t, MutualScore(p[0], p[1]), MutualScore(p[1], p[0]))
	}
	assert.Equal(t, 60.0, MutualScore(80, 45))
	assert.Equal(t, 0.0, MutualScore(100, 0))
}

func TestMutualDealBreakers(t *testing.T) {
	a := Party{
		Blueprint: scan.Blueprint{DealBreakers: []scan.DealBreaker{{Category: "trust_safety"}, {Category: "future_goals"}}},
		Answers:   []scan.Answer{{QuestionID: "1", Category: "future_goals", Rating: scan.RatingRedFlag}},
	}
	b := Party{
		Blueprint: scan.Blueprint{DealBreakers: []scan.DealBreaker{{Category: "trust_safety"}, {Category: "future_goals"}}},
		Answers:   []scan.Answer{{QuestionID: "1", Category: "trust_safety", Rating: scan.RatingYellowFlag}},
	}
	assert.Equal(t, []string{"future_goals"}, MutualDealBreakers(a, b))
	assert.Equal(t, []string{"future_goals"}, MutualDealBreakers(b, a))
}

func TestComplementaryAreas(t *testing.T) {
	mine := scan.Blueprint{CategoryImportance: map[string]float64{
		"communication_fit": 1.0,
		"values_alignment":  0.67,
		"future_goals":      1.0,
	}}
	other := map[string]float64{"communication_fit": 80, "values_alignment": 100, "future_goals": 70}
	assert.Equal(t, []string{"communication_fit"}, ComplementaryAreas(mine, other))
}

func TestComplementaryAreas_WeightsOnlyBlueprint(t *testing.T) {
	other := map[string]float64{"communication_fit": 90, "values_alignment": 90, "emotional_maturity": 90}
	weights := map[string]float64{"communication_fit": 0.6, "values_alignment": 0.3, "emotional_maturity": 0.1}

	tests := []struct {
		name string
		bp   scan.Blueprint
		want []string
	}{
		{
			name: "scaled against the heaviest weight",
			bp:   scan.Blueprint{CategoryWeights: weights},
			want: []string{"communication_fit"},
		},
		{
			name: "top priority counts as fully important",
			bp:   scan.Blueprint{CategoryWeights: weights, TopPriorities: []string{"emotional_maturity"}},
			want: []string{"communication_fit", "emotional_maturity"},
		},
		{
			name: "explicit importance wins over weights",
			bp: scan.Blueprint{
				CategoryWeights:    weights,
				CategoryImportance: map[string]float64{"values_alignment": 1.0},
			},
			want: []string{"values_alignment"},
		},
		{
			name: "empty blueprint",
			bp:   scan.Blueprint{},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComplementaryAreas(tt.bp, other))
		})
	}
}

func TestCategoryImportance_FromWeights(t *testing.T) {
	got := CategoryImportance(scan.Blueprint{CategoryWeights: map[string]float64{
		"communication_fit": 0.6, "values_alignment": 0.3, "hobbies": 0,
	}})
	assert.Len(t, got, 2)
	assert.InDelta(t, 1.0, got["communication_fit"], 1e-9)
	assert.InDelta(t, 0.5, got["values_alignment"], 1e-9)
}

func TestDetectAsymmetry(t *testing.T) {
	assert.Nil(t, DetectAsymmetry(70, 51))

	med := DetectAsymmetry(50, 70)
	require.NotNil(t, med)
	assert.Equal(t, scan.SeverityMedium, med.Severity)
	assert.Equal(t, "b_to_a", med.Favors)

	high := DetectAsymmetry(90, 60)
	require.NotNil(t, high)
	assert.Equal(t, scan.SeverityHigh, high.Severity)
	assert.Equal(t, "a_to_b", high.Favors)
}

func TestCalculate(t *testing.T) {
	a := Party{
		Answers:        []scan.Answer{{QuestionID: "1", Category: "communication_fit", Rating: scan.RatingStrongMatch}},
		Blueprint:      scan.Blueprint{CategoryWeights: map[string]float64{"communication_fit": 1}},
		CategoryScores: map[string]float64{"communication_fit": 100},
		BaseConfidence: 0.8,
	}
	b := Party{
		Answers:        []scan.Answer{{QuestionID: "1", Category: "communication_fit", Rating: scan.RatingGood}},
		Blueprint:      scan.Blueprint{CategoryWeights: map[string]float64{"communication_fit": 1}},
		CategoryScores: map[string]float64{"communication_fit": 75},
		BaseConfidence: 0.4,
	}
	r := Calculate(a, b)
	assert.Equal(t, 100.0, r.AToB)
	assert.Equal(t, 75.0, r.BToA)
	assert.InDelta(t, 86.6025, r.MutualScore, 1e-4)
	assert.Equal(t, Calculate(b, a).MutualScore, r.MutualScore)
	assert.InDelta(t, 0.6, r.Confidence, 1e-9)
	assert.Nil(t, r.Asymmetry)
}
