package scan

import "fmt"

// Classification is the discrete compatibility verdict.
type Classification string

const (
	ClassHighPotential  Classification = "high_potential"
	ClassWorthExploring Classification = "worth_exploring"
	ClassMixedSignals   Classification = "mixed_signals"
	ClassCaution        Classification = "caution"
	ClassHighRisk       Classification = "high_risk"
)

// ClassificationOrder lists categories from most to least favorable.
// The classifier evaluates thresholds in this order.
var ClassificationOrder = []Classification{
	ClassHighPotential,
	ClassWorthExploring,
	ClassMixedSignals,
	ClassCaution,
	ClassHighRisk,
}

// Rank returns the position in ClassificationOrder, or -1 if unknown.
// A lower rank is more favorable.
func (c Classification) Rank() int {
	for i, v := range ClassificationOrder {
		if v == c {
			return i
		}
	}
	return -1
}

// Valid reports whether c is a known classification.
func (c Classification) Valid() bool {
	return c.Rank() >= 0
}

// LessFavorable returns whichever of a and b is ranked lower.
func LessFavorable(a, b Classification) Classification {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// ParseClassification validates a classification name.
func ParseClassification(s string) (Classification, error) {
	c := Classification(s)
	if !c.Valid() {
		return "", fmt.Errorf("invalid classification %q", s)
	}
	return c, nil
}
