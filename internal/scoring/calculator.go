package scoring

import (
	"fmt"
	"math"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

// Profile adjustment magnitudes.
const (
	GoalAlignedBonus          = 5.0
	GoalMisalignedPenalty     = -10.0
	MaturityAge               = 30
	MaturityAlignedBonus      = 3.0
	MaturityMisalignedPenalty = -8.0
	alignedCategoryFloor      = 75.0
	misalignedCategoryCeil    = 50.0
)

// seriousGoals are the dating goals that make value and future-goal
// alignment matter for the overall score.
var seriousGoals = map[string]bool{
	"long_term":            true,
	"marriage":             true,
	"life_partner":         true,
	"serious_relationship": true,
}

// IsSeriousGoal reports whether goal triggers the dating-goal adjustment.
func IsSeriousGoal(goal string) bool {
	return seriousGoals[goal]
}

// --- Category scores ---

// CategoryScore is the weighted mean of rating scores using weight as a
// uniform multiplier. Because the weight is constant inside a category it
// cancels out, so the result equals the plain mean. Empty input scores 0.
func CategoryScore(answers []scan.Answer, weight float64) float64 {
	if len(answers) == 0 {
		return 0
	}
	if weight <= 0 || math.IsNaN(weight) {
		weight = 1
	}
	var num, den float64
	for _, a := range answers {
		num += a.Rating.Score() * weight
		den += weight
	}
	return num / den
}

// CategoryScores scores every category present in answers.
func CategoryScores(answers []scan.Answer, bp scan.Blueprint) map[string]float64 {
	groups := scan.GroupByCategory(answers)
	scores := make(map[string]float64, len(groups))
	for _, cat := range sortedKeys(groups) {
		w, _ := bp.Weight(cat)
		scores[cat] = CategoryScore(groups[cat], w)
	}
	return scores
}

// --- Overall score ---

// Adjustment is one additive change applied after the weighted mean.
type Adjustment struct {
	Source    string  `json:"source"` // profile | reflection
	Name      string  `json:"name"`
	Delta     float64 `json:"delta"`
	Rationale string  `json:"rationale"`
}

// OverallInput collects what OverallScore needs.
type OverallInput struct {
	CategoryScores map[string]float64
	Blueprint      scan.Blueprint
	Config         *config.Scoring // may be nil
	Profile        scan.UserProfile
	Notes          scan.ReflectionNotes
	Sentiment      SentimentScorer // nil uses NewKeywordSentiment
}

// OverallBreakdown is the overall score plus everything needed to explain it.
type OverallBreakdown struct {
	Score       int                `json:"score"`
	BaseScore   float64            `json:"base_score"`
	Unclamped   float64            `json:"unclamped"`
	Weights     map[string]float64 `json:"weights"`
	WeightBasis map[string]string  `json:"weight_basis"`
	Adjustments []Adjustment       `json:"adjustments"`
	Sentiment   SentimentResult    `json:"sentiment"`
}

// Weight sources recorded in OverallBreakdown.WeightBasis.
const (
	WeightFromBlueprint = "blueprint"
	WeightFromConfig    = "config_default"
	WeightEqual         = "equal"
)

// OverallScore combines category scores into the 0-100 overall score.
//
// Steps: weighted mean, profile adjustments, reflection sentiment (capped
// at ±10), clamp to [0,100], round half away from zero. With no category
// scores the result is 0 and no adjustments are applied.
func OverallScore(in OverallInput) OverallBreakdown {
	out := OverallBreakdown{
		Weights:     make(map[string]float64),
		WeightBasis: make(map[string]string),
		Adjustments: []Adjustment{},
	}
	cats := sortedKeys(in.CategoryScores)
	if len(cats) == 0 {
		return out
	}

	raw := make(map[string]float64, len(cats))
	total := 0.0
	for _, c := range cats {
		w, basis := effectiveWeight(c, in.Blueprint, in.Config, len(cats))
		raw[c] = w
		out.WeightBasis[c] = basis
		total += w
	}
	base := 0.0
	for _, c := range cats {
		w := raw[c] / total
		out.Weights[c] = w
		base += in.CategoryScores[c] * w
	}
	out.BaseScore = base

	score := base
	for _, adj := range profileAdjustments(in) {
		out.Adjustments = append(out.Adjustments, adj)
		score += adj.Delta
	}

	scorer := in.Sentiment
	if scorer == nil {
		scorer = NewKeywordSentiment()
	}
	out.Sentiment = scorer.Score(in.Notes)
	if out.Sentiment.Delta != 0 {
		rationale := fmt.Sprintf("reflection keywords net %+.2f", out.Sentiment.Raw)
		if out.Sentiment.Raw != out.Sentiment.Delta {
			rationale += fmt.Sprintf(", capped to %+.2f", out.Sentiment.Delta)
		}
		out.Adjustments = append(out.Adjustments, Adjustment{
			Source:    "reflection",
			Name:      "reflection_sentiment",
			Delta:     out.Sentiment.Delta,
			Rationale: rationale,
		})
		score += out.Sentiment.Delta
	}

	out.Unclamped = score
	out.Score = int(math.Round(clamp(score, 0, 100)))
	return out
}

func effectiveWeight(cat string, bp scan.Blueprint, cfg *config.Scoring, n int) (float64, string) {
	if w, ok := bp.Weight(cat); ok && w > 0 {
		return w, WeightFromBlueprint
	}
	if cfg != nil {
		if w, ok := cfg.DefaultWeight(cat); ok && w > 0 {
			return w, WeightFromConfig
		}
	}
	return 1.0 / float64(n), WeightEqual
}

func profileAdjustments(in OverallInput) []Adjustment {
	goalCats := []string{"values_alignment", "future_goals"}
	maturityCats := []string{"emotional_maturity"}
	if in.Config != nil {
		goalCats = in.Config.GoalCategories
		maturityCats = in.Config.MaturityCategories
	}

	var adjs []Adjustment
	if IsSeriousGoal(in.Profile.DatingGoal) {
		if avg, ok := averageOf(in.CategoryScores, goalCats); ok {
			switch {
			case avg >= alignedCategoryFloor:
				adjs = append(adjs, Adjustment{
					Source:    "profile",
					Name:      "dating_goal_alignment",
					Delta:     GoalAlignedBonus,
					Rationale: fmt.Sprintf("goal %q with goal categories averaging %.2f (>= %.0f)", in.Profile.DatingGoal, avg, alignedCategoryFloor),
				})
			case avg < misalignedCategoryCeil:
				adjs = append(adjs, Adjustment{
					Source:    "profile",
					Name:      "dating_goal_misalignment",
					Delta:     GoalMisalignedPenalty,
					Rationale: fmt.Sprintf("goal %q with goal categories averaging %.2f (< %.0f)", in.Profile.DatingGoal, avg, misalignedCategoryCeil),
				})
			}
		}
	}

	if in.Profile.Age >= MaturityAge {
		if avg, ok := averageOf(in.CategoryScores, maturityCats); ok {
			switch {
			case avg >= alignedCategoryFloor:
				adjs = append(adjs, Adjustment{
					Source:    "profile",
					Name:      "maturity_alignment",
					Delta:     MaturityAlignedBonus,
					Rationale: fmt.Sprintf("age %d with maturity categories averaging %.2f (>= %.0f)", in.Profile.Age, avg, alignedCategoryFloor),
				})
			case avg < misalignedCategoryCeil:
				adjs = append(adjs, Adjustment{
					Source:    "profile",
					Name:      "maturity_misalignment",
					Delta:     MaturityMisalignedPenalty,
					Rationale: fmt.Sprintf("age %d with maturity categories averaging %.2f (< %.0f)", in.Profile.Age, avg, misalignedCategoryCeil),
				})
			}
		}
	}
	return adjs
}

// averageOf averages the scores of the listed categories that were scored.
func averageOf(scores map[string]float64, cats []string) (float64, bool) {
	sum, n := 0.0, 0
	for _, c := range cats {
		if s, ok := scores[c]; ok {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// --- Numeric helpers shared with gating and alignment ---

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// PopulationVariance returns the population variance of xs.
func PopulationVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

// RatingScores extracts the numeric scores of answers in order.
func RatingScores(answers []scan.Answer) []float64 {
	out := make([]float64, len(answers))
	for i, a := range answers {
		out[i] = a.Rating.Score()
	}
	return out
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}

// Clamp bounds x to [lo, hi]. NaN maps to lo.
func Clamp(x, lo, hi float64) float64 { return clamp(x, lo, hi) }
