package redflags

import (
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/textnorm"
)

// Pattern is one named safety pattern.
type Pattern struct {
	Name       string
	Signal     string
	Keywords   []string
	Categories []string
	Severity   scan.Severity

	phrases    []textnorm.Phrase
	categories map[string]bool
}

// Pattern names double as red-flag types.
const (
	PatternControllingBehavior   = "controlling_behavior"
	PatternInconsistency         = "inconsistency"
	PatternBoundaryDisrespect    = "boundary_disrespect"
	PatternEmotionalManipulation = "emotional_manipulation"
	PatternIsolationAttempts     = "isolation_attempts"
	PatternIntensityRushing      = "intensity_rushing"
)

// ReflectionCategory is the category of flags raised from reflection notes.
const ReflectionCategory = "reflection"

// SafetyPatterns is the fixed detection table, in evaluation order.
var SafetyPatterns = compilePatterns([]Pattern{
	{
		Name:   PatternControllingBehavior,
		Signal: "Controlling behavior",
		Keywords: []string{
			"controlling", "control freak", "possessive", "jealous", "jealousy",
			"checked my phone", "checks my phone", "told me what to wear",
			"told me what to do", "demanding", "tracked my location",
		},
		Categories: []string{"trust_safety", "communication_fit", "emotional_maturity"},
		Severity:   scan.SeverityHigh,
	},
	{
		Name:   PatternInconsistency,
		Signal: "Inconsistent words and actions",
		Keywords: []string{
			"inconsistent", "contradicted", "contradicts", "changed their story",
			"changed his story", "changed her story", "hot and cold",
			"mixed messages", "flaky", "unreliable", "said one thing",
		},
		Categories: []string{"communication_fit", "trust_safety", "values_alignment"},
		Severity:   scan.SeverityMedium,
	},
	{
		Name:   PatternBoundaryDisrespect,
		Signal: "Boundaries not respected",
		Keywords: []string{
			"pushy", "pushed", "pressured", "ignored my no",
			"wouldn't take no", "didn't take no", "crossed my boundaries",
			"crossed a boundary", "ignored my boundaries", "didn't respect",
		},
		Categories: []string{"trust_safety", "communication_fit", "emotional_maturity"},
		Severity:   scan.SeverityHigh,
	},
	{
		Name:   PatternEmotionalManipulation,
		Signal: "Emotional manipulation",
		Keywords: []string{
			"manipulative", "manipulated", "manipulation", "manipulating",
			"gaslighting", "gaslit", "gaslight", "guilt trip", "guilt tripped",
			"blamed me", "made me feel crazy", "silent treatment",
		},
		Categories: []string{"emotional_maturity", "trust_safety", "communication_fit"},
		Severity:   scan.SeverityCritical,
	},
	{
		Name:   PatternIsolationAttempts,
		Signal: "Attempts to isolate",
		Keywords: []string{
			"isolate", "isolated", "isolating", "isolation",
			"away from my friends", "away from my family", "cut me off",
			"cut off from", "only spend time with", "don't need your friends",
		},
		Categories: []string{"trust_safety", "lifestyle_compatibility", "values_alignment"},
		Severity:   scan.SeverityCritical,
	},
	{
		Name:   PatternIntensityRushing,
		Signal: "Rushing intensity",
		Keywords: []string{
			"rushing", "rushed", "too fast", "moving fast", "love bombing",
			"love bombed", "future faking", "too intense", "soulmate",
			"moving in together", "already talking about marriage",
		},
		Categories: []string{"emotional_maturity", "future_goals", "lifestyle_compatibility"},
		Severity:   scan.SeverityMedium,
	},
})

func compilePatterns(ps []Pattern) []Pattern {
	for i := range ps {
		ps[i].phrases = textnorm.Compile(ps[i].Keywords)
		ps[i].categories = make(map[string]bool, len(ps[i].Categories))
		for _, c := range ps[i].Categories {
			ps[i].categories[c] = true
		}
	}
	return ps
}

// AppliesTo reports whether category is one of the pattern's categories.
func (p Pattern) AppliesTo(category string) bool {
	return p.categories[category]
}

// Matches reports whether tokenized text mentions any pattern keyword.
func (p Pattern) Matches(tokens []string) bool {
	return textnorm.ContainsAny(tokens, p.phrases)
}
