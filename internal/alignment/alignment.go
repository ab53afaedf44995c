// Package alignment combines two independently scored parties into a
// mutual compatibility view.
package alignment

import (
	"math"
	"sort"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scoring"
)

// Thresholds.
const (
	ComplementaryImportance = 0.7
	ComplementaryScore      = 75.0
	AsymmetryGap            = 20.0
	AsymmetryHighGap        = 30.0
)

// Party is one side of a dual scan: the answers they gave about the other
// person, their own blueprint, and their pipeline results.
type Party struct {
	Answers        []scan.Answer
	Blueprint      scan.Blueprint
	CategoryScores map[string]float64
	BaseConfidence float64
}

// Asymmetry reports a large gap between the two directions.
type Asymmetry struct {
	Gap      float64       `json:"gap"`
	Favors   string        `json:"favors"` // a_to_b | b_to_a
	Severity scan.Severity `json:"severity"`
}

// Result is the dual-scan alignment.
type Result struct {
	AToB               float64    `json:"a_to_b"`
	BToA               float64    `json:"b_to_a"`
	MutualScore        float64    `json:"mutual_score"`
	MutualDealBreakers []string   `json:"mutual_deal_breakers"`
	ComplementaryForA  []string   `json:"complementary_for_a"`
	ComplementaryForB  []string   `json:"complementary_for_b"`
	Asymmetry          *Asymmetry `json:"asymmetry,omitempty"`
	Confidence         float64    `json:"confidence"`
}

// DirectionalAlignment is how well the other party's rated behavior meets
// my priorities: the mean rating score per category, averaged with my
// blueprint weights. Categories missing from my blueprint are skipped;
// with no weighted category at all every category counts equally.
func DirectionalAlignment(myAnswers []scan.Answer, myBlueprint scan.Blueprint) float64 {
	groups := scan.GroupByCategory(myAnswers)
	cats := scan.SortedCategories(myAnswers)
	if len(cats) == 0 {
		return 0
	}

	var num, den float64
	var means []float64
	for _, c := range cats {
		m := scoring.Mean(scoring.RatingScores(groups[c]))
		means = append(means, m)
		if w, ok := myBlueprint.Weight(c); ok && w > 0 {
			num += m * w
			den += w
		}
	}
	if den == 0 {
		return scoring.Round(scoring.Mean(means), 4)
	}
	return scoring.Round(num/den, 4)
}

// MutualScore is the geometric mean of both directions, 0 if either is 0.
// It is symmetric by construction.
func MutualScore(aToB, bToA float64) float64 {
	if aToB <= 0 || bToA <= 0 {
		return 0
	}
	return scoring.Round(math.Sqrt(aToB*bToA), 4)
}

// MutualDealBreakers lists categories that are deal-breakers in both
// blueprints where either party recorded a red_flag rating.
func MutualDealBreakers(a, b Party) []string {
	out := []string{}
	for _, c := range dealBreakerCategories(a.Blueprint) {
		if !b.Blueprint.IsDealBreakerCategory(c) {
			continue
		}
		if hasRedFlag(a.Answers, c) || hasRedFlag(b.Answers, c) {
			out = append(out, c)
		}
	}
	return out
}

// ComplementaryAreas lists categories I care about (importance >= 0.7)
// where the other party's category score is at least 75.
func ComplementaryAreas(mine scan.Blueprint, otherScores map[string]float64) []string {
	out := []string{}
	importance := CategoryImportance(mine)
	cats := make([]string, 0, len(importance))
	for c := range importance {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		if importance[c] < ComplementaryImportance {
			continue
		}
		if s, ok := otherScores[c]; ok && s >= ComplementaryScore {
			out = append(out, c)
		}
	}
	return out
}

// CategoryImportance returns the blueprint's per-category importance in
// [0, 1]. A blueprint carrying only weights is scaled against its largest
// weight, and top priorities count as fully important.
func CategoryImportance(bp scan.Blueprint) map[string]float64 {
	if len(bp.CategoryImportance) > 0 {
		return bp.CategoryImportance
	}
	maxWeight := 0.0
	for _, w := range bp.CategoryWeights {
		if w > maxWeight {
			maxWeight = w
		}
	}
	out := make(map[string]float64, len(bp.CategoryWeights)+len(bp.TopPriorities))
	if maxWeight > 0 {
		for c, w := range bp.CategoryWeights {
			if w > 0 {
				out[c] = w / maxWeight
			}
		}
	}
	for _, c := range bp.TopPriorities {
		out[c] = 1
	}
	return out
}

// DetectAsymmetry reports a gap of at least 20 points between directions.
func DetectAsymmetry(aToB, bToA float64) *Asymmetry {
	gap := math.Abs(aToB - bToA)
	if gap < AsymmetryGap {
		return nil
	}
	a := &Asymmetry{Gap: scoring.Round(gap, 4), Favors: "a_to_b", Severity: scan.SeverityMedium}
	if bToA > aToB {
		a.Favors = "b_to_a"
	}
	if gap >= AsymmetryHighGap {
		a.Severity = scan.SeverityHigh
	}
	return a
}

// Calculate builds the full alignment for two parties.
func Calculate(a, b Party) Result {
	r := Result{
		AToB: DirectionalAlignment(a.Answers, a.Blueprint),
		BToA: DirectionalAlignment(b.Answers, b.Blueprint),
	}
	r.MutualScore = MutualScore(r.AToB, r.BToA)
	r.MutualDealBreakers = MutualDealBreakers(a, b)
	r.ComplementaryForA = ComplementaryAreas(a.Blueprint, b.CategoryScores)
	r.ComplementaryForB = ComplementaryAreas(b.Blueprint, a.CategoryScores)
	r.Asymmetry = DetectAsymmetry(r.AToB, r.BToA)
	r.Confidence = scoring.Round((a.BaseConfidence+b.BaseConfidence)/2, 4)
	return r
}

func dealBreakerCategories(bp scan.Blueprint) []string {
	seen := map[string]bool{}
	var out []string
	for _, db := range bp.DealBreakers {
		if !seen[db.Category] {
			seen[db.Category] = true
			out = append(out, db.Category)
		}
	}
	sort.Strings(out)
	return out
}

func hasRedFlag(answers []scan.Answer, category string) bool {
	for _, a := range answers {
		if a.Category == category && a.Rating == scan.RatingRedFlag {
			return true
		}
	}
	return false
}
