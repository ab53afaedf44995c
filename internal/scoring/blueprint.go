// Package scoring turns rated answers into category scores, an overall
// compatibility score and a base confidence.
//
// Every function here is pure: the same inputs always produce the same
// numbers, and map iteration never leaks into results.
package scoring

import (
	"sort"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

// dealBreakerMultiplier scales a deal-breaker item before normalization.
const dealBreakerMultiplier = 2.0

// maxTopPriorities is how many categories become TopPriorities.
const maxTopPriorities = 3

// CalculateBlueprint normalizes raw blueprint answers into category
// weights that sum to 1.0.
//
// Weights of items in the same category add up before normalization.
// CategoryImportance keeps the highest raw importance seen per category.
func CalculateBlueprint(answers []scan.BlueprintAnswer) scan.Blueprint {
	bp := scan.Blueprint{
		CategoryWeights:    make(map[string]float64),
		CategoryImportance: make(map[string]float64),
		DealBreakers:       []scan.DealBreaker{},
		TopPriorities:      []string{},
	}

	raw := make(map[string]float64)
	for _, a := range answers {
		if a.Category == "" {
			continue
		}
		w := a.Importance.Weight()
		if w > bp.CategoryImportance[a.Category] {
			bp.CategoryImportance[a.Category] = w
		}
		if a.IsDealBreaker {
			w *= dealBreakerMultiplier
			bp.DealBreakers = append(bp.DealBreakers, scan.DealBreaker{
				Category:    a.Category,
				QuestionID:  a.QuestionID,
				Description: a.Description,
			})
		}
		raw[a.Category] += w
	}

	total := 0.0
	for _, c := range sortedKeys(raw) {
		total += raw[c]
	}
	if total == 0 {
		return bp
	}
	for _, c := range sortedKeys(raw) {
		bp.CategoryWeights[c] = raw[c] / total
	}

	bp.TopPriorities = topCategories(bp.CategoryWeights, maxTopPriorities)
	return bp
}

// topCategories returns up to n categories by descending weight, ties
// broken by name.
func topCategories(weights map[string]float64, n int) []string {
	cats := sortedKeys(weights)
	sort.SliceStable(cats, func(i, j int) bool {
		return weights[cats[i]] > weights[cats[j]]
	})
	if len(cats) > n {
		cats = cats[:n]
	}
	return cats
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
