// Package explain builds the audit metadata behind a scored scan: which
// answers drove each category, how categories combined into the overall
// score, every adjustment applied, and an ordered calculation trace.
//
// The trace is for audit and downstream narrative generation. It is not
// meant to be shown to end users verbatim.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scoring"
)

// topContributors is how many answers are surfaced per category.
const topContributors = 3

// AnswerContribution is one answer's share of its category score.
type AnswerContribution struct {
	QuestionID      string      `json:"question_id"`
	Rating          scan.Rating `json:"rating"`
	RatingScore     float64     `json:"rating_score"`
	Weight          float64     `json:"weight"`
	WeightedScore   float64     `json:"weighted_score"`
	ContributionPct float64     `json:"contribution_pct"`
}

// CategoryExplanation breaks one category score down by answer.
type CategoryExplanation struct {
	Category        string               `json:"category"`
	Score           float64              `json:"score"`
	Weight          float64              `json:"weight"`
	WeightBasis     string               `json:"weight_basis"`
	Answers         []AnswerContribution `json:"answers"`
	TopContributors []AnswerContribution `json:"top_contributors"`
}

// CategoryContribution is one category's share of the overall base score.
type CategoryContribution struct {
	Category        string  `json:"category"`
	Score           float64 `json:"score"`
	Weight          float64 `json:"weight"`
	WeightBasis     string  `json:"weight_basis"`
	Contribution    float64 `json:"contribution"`
	ContributionPct float64 `json:"contribution_pct"`
}

// Metadata is the full explanation of one scan.
type Metadata struct {
	Categories       []CategoryExplanation  `json:"categories"`
	Overall          []CategoryContribution `json:"overall"`
	BaseScore        float64                `json:"base_score"`
	Adjustments      []scoring.Adjustment   `json:"adjustments"`
	FinalScore       int                    `json:"final_score"`
	CalculationTrace []string               `json:"calculation_trace"`
}

// Input carries every intermediate result the trace reports on.
type Input struct {
	Answers   []scan.Answer
	Blueprint scan.Blueprint
	Overall   scoring.OverallBreakdown

	BaseConfidence     float64
	AdjustedConfidence float64
	ConfidenceReason   string

	ProvisionalCategory scan.Classification
	FinalCategory       scan.Classification
	ClassificationMode  string
	FallbackReason      string

	Flags            []scan.RedFlag
	EscalationReason string
	LogicVersion     string
}

// Generate builds the explanation. Numbers in the trace use two decimals.
func Generate(in Input) Metadata {
	m := Metadata{
		Categories:       []CategoryExplanation{},
		Overall:          []CategoryContribution{},
		BaseScore:        in.Overall.BaseScore,
		Adjustments:      append([]scoring.Adjustment{}, in.Overall.Adjustments...),
		FinalScore:       in.Overall.Score,
		CalculationTrace: []string{},
	}
	trace := func(format string, args ...any) {
		m.CalculationTrace = append(m.CalculationTrace, fmt.Sprintf(format, args...))
	}

	if in.LogicVersion != "" {
		trace("logic version %s", in.LogicVersion)
	}

	groups := scan.GroupByCategory(in.Answers)
	cats := scan.SortedCategories(in.Answers)
	for _, c := range cats {
		w, basis := categoryWeight(in, c)
		ce := explainCategory(c, groups[c], w)
		ce.WeightBasis = basis
		m.Categories = append(m.Categories, ce)

		trace("category %s: %d answers, weight %.2f (%s), score %.2f", c, len(ce.Answers), ce.Weight, ce.WeightBasis, ce.Score)
		for _, a := range ce.Answers {
			trace("  %s %s: %.2f x %.2f = %.2f (%.2f%%)", a.QuestionID, a.Rating, a.RatingScore, a.Weight, a.WeightedScore, a.ContributionPct)
		}
	}

	for _, c := range cats {
		if _, ok := in.Overall.Weights[c]; !ok {
			continue
		}
		cc := CategoryContribution{
			Category:    c,
			Score:       scoreOf(m.Categories, c),
			Weight:      in.Overall.Weights[c],
			WeightBasis: in.Overall.WeightBasis[c],
		}
		cc.Contribution = cc.Score * cc.Weight
		if in.Overall.BaseScore > 0 {
			cc.ContributionPct = scoring.Round(cc.Contribution/in.Overall.BaseScore*100, 2)
		}
		cc.Contribution = scoring.Round(cc.Contribution, 4)
		m.Overall = append(m.Overall, cc)
	}

	trace("base score: weighted mean %.2f over %d categories", in.Overall.BaseScore, len(m.Overall))
	for _, cc := range m.Overall {
		trace("  %s: %.2f x %.2f (%s) = %.2f (%.2f%%)", cc.Category, cc.Score, cc.Weight, cc.WeightBasis, cc.Contribution, cc.ContributionPct)
	}
	for _, adj := range in.Overall.Adjustments {
		trace("adjustment %s/%s: %+.2f (%s)", adj.Source, adj.Name, adj.Delta, adj.Rationale)
	}
	trace("overall score: %d (unclamped %.2f)", in.Overall.Score, in.Overall.Unclamped)

	trace("confidence: base %.2f, gated %.2f (%s)", in.BaseConfidence, in.AdjustedConfidence, in.ConfidenceReason)

	mode := in.ClassificationMode
	if in.FallbackReason != "" {
		mode += ", fallback: " + in.FallbackReason
	}
	trace("classification: provisional %s, final %s (mode %s)", in.ProvisionalCategory, in.FinalCategory, mode)

	counts := scan.CountBySeverity(in.Flags)
	parts := make([]string, 0, len(scan.Severities))
	for _, s := range scan.Severities {
		parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
	}
	trace("red flags: %s", strings.Join(parts, ", "))
	if in.EscalationReason != "" {
		trace("escalation: %s", in.EscalationReason)
	}
	return m
}

// categoryWeight picks the weight a category's answers are shown with: the
// weight the overall score applied, else the blueprint's own weight.
func categoryWeight(in Input, category string) (float64, string) {
	if w := in.Overall.Weights[category]; w > 0 {
		basis := in.Overall.WeightBasis[category]
		if basis == "" {
			basis = scoring.WeightEqual
		}
		return w, basis
	}
	if w, ok := in.Blueprint.Weight(category); ok && w > 0 {
		return w, scoring.WeightFromBlueprint
	}
	return 1, scoring.WeightEqual
}

func explainCategory(category string, answers []scan.Answer, weight float64) CategoryExplanation {
	ce := CategoryExplanation{
		Category:        category,
		Score:           scoring.CategoryScore(answers, weight),
		Weight:          weight,
		Answers:         make([]AnswerContribution, 0, len(answers)),
		TopContributors: []AnswerContribution{},
	}
	total := 0.0
	for _, a := range answers {
		total += a.Rating.Score() * weight
	}
	for _, a := range answers {
		ac := AnswerContribution{
			QuestionID:    a.QuestionID,
			Rating:        a.Rating,
			RatingScore:   a.Rating.Score(),
			Weight:        weight,
			WeightedScore: a.Rating.Score() * weight,
		}
		if total > 0 {
			ac.ContributionPct = scoring.Round(ac.WeightedScore/total*100, 2)
		}
		ce.Answers = append(ce.Answers, ac)
	}

	top := append([]AnswerContribution(nil), ce.Answers...)
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].ContributionPct != top[j].ContributionPct {
			return top[i].ContributionPct > top[j].ContributionPct
		}
		return top[i].QuestionID < top[j].QuestionID
	})
	if len(top) > topContributors {
		top = top[:topContributors]
	}
	ce.TopContributors = append(ce.TopContributors, top...)
	return ce
}

func scoreOf(cats []CategoryExplanation, name string) float64 {
	for _, c := range cats {
		if c.Category == name {
			return c.Score
		}
	}
	return 0
}
