// Package redflags detects safety signals in one submission: deal-breaker
// violations, named safety patterns, internal inconsistencies and
// profile mismatches.
//
// Detectors are independent and pure. AggregateAndPrioritize merges their
// flag output into one deduplicated, severity-ordered list.
package redflags

import (
	"fmt"
	"sort"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scoring"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/textnorm"
)

// Inconsistency and mismatch types.
const (
	InconsistencyContradictory = "contradictory_responses"
	InconsistencyIsolatedRed   = "isolated_red_flag"
	MismatchDatingGoal         = "dating_goal_mismatch"
	MismatchMaturity           = "maturity_mismatch"
)

// Detection thresholds.
const (
	contradictoryRange    = 75.0
	isolatedMinAnswers    = 3
	isolatedOthersMean    = 75.0
	goalMismatchRatio     = 0.5
	maturityMismatchRatio = 0.4
	maturityMismatchAge   = 30
)

// ─── Deal-breakers ───────────────────────────────────────────────────────────

// DetectDealBreakerViolations checks every deal-breaker against the answers
// in its category (and question, when the deal-breaker names one).
//
// A red_flag answer is critical, or high when autoEscalate is off. A
// yellow_flag answer only counts on a deal-breaker bound to that exact
// question and is high.
func DetectDealBreakerViolations(answers []scan.Answer, dealBreakers []scan.DealBreaker, autoEscalate bool) []scan.RedFlag {
	redSeverity := scan.SeverityCritical
	if !autoEscalate {
		redSeverity = scan.SeverityHigh
	}

	var flags []scan.RedFlag
	for _, db := range dealBreakers {
		var red, yellow []string
		for _, a := range answers {
			if a.Category != db.Category {
				continue
			}
			if db.QuestionID != "" && a.QuestionID != db.QuestionID {
				continue
			}
			switch a.Rating {
			case scan.RatingRedFlag:
				red = append(red, a.QuestionID)
			case scan.RatingYellowFlag:
				if db.QuestionID != "" {
					yellow = append(yellow, a.QuestionID)
				}
			}
		}
		if len(red) > 0 {
			flags = append(flags, scan.RedFlag{
				Type:     scan.FlagTypeDealBreaker,
				Category: db.Category,
				Signal:   dealBreakerSignal(db),
				Severity: redSeverity,
				Evidence: red,
			})
		}
		if len(yellow) > 0 {
			flags = append(flags, scan.RedFlag{
				Type:     scan.FlagTypeDealBreaker,
				Category: db.Category,
				Signal:   dealBreakerSignal(db) + " (concern)",
				Severity: scan.SeverityHigh,
				Evidence: yellow,
			})
		}
	}
	return flags
}

func dealBreakerSignal(db scan.DealBreaker) string {
	if db.Description != "" {
		return "Deal-breaker violated: " + db.Description
	}
	return "Deal-breaker violated in " + db.Category
}

// ─── Safety patterns ─────────────────────────────────────────────────────────

// DetectSafetyPatterns matches flagged answers and reflection notes against
// SafetyPatterns.
//
// An answer matches a pattern when it is rated yellow_flag or red_flag,
// sits in one of the pattern's categories and its question text mentions a
// keyword. Matches are grouped per pattern and category: any red_flag gives
// the base severity, yellow_flag alone gives one tier lower. Notes are
// matched at base severity under the "reflection" category.
func DetectSafetyPatterns(answers []scan.Answer, notes scan.ReflectionNotes) []scan.RedFlag {
	type hit struct {
		evidence []string
		anyRed   bool
	}

	tokens := make([][]string, len(answers))
	for i, a := range answers {
		if a.Rating.IsFlag() && a.QuestionText != "" {
			tokens[i] = textnorm.Tokens(a.QuestionText)
		}
	}

	var noteFields []scan.NoteField
	var noteTokens [][]string
	for _, f := range notes.Fields() {
		if f.Text == "" {
			continue
		}
		noteFields = append(noteFields, f)
		noteTokens = append(noteTokens, textnorm.Tokens(f.Text))
	}

	var flags []scan.RedFlag
	for _, p := range SafetyPatterns {
		hits := make(map[string]*hit)
		for i, a := range answers {
			if tokens[i] == nil || !p.AppliesTo(a.Category) || !p.Matches(tokens[i]) {
				continue
			}
			h := hits[a.Category]
			if h == nil {
				h = &hit{}
				hits[a.Category] = h
			}
			h.evidence = append(h.evidence, a.QuestionID)
			h.anyRed = h.anyRed || a.Rating == scan.RatingRedFlag
		}

		cats := make([]string, 0, len(hits))
		for c := range hits {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			h := hits[c]
			sev := p.Severity
			if !h.anyRed {
				sev = sev.Lower()
			}
			flags = append(flags, scan.RedFlag{
				Type:     p.Name,
				Category: c,
				Signal:   p.Signal,
				Severity: sev,
				Evidence: h.evidence,
			})
		}

		var noteEvidence []string
		for i, f := range noteFields {
			if p.Matches(noteTokens[i]) {
				noteEvidence = append(noteEvidence, "notes."+f.Name)
			}
		}
		if len(noteEvidence) > 0 {
			flags = append(flags, scan.RedFlag{
				Type:     p.Name,
				Category: ReflectionCategory,
				Signal:   p.Signal + " (from reflection notes)",
				Severity: p.Severity,
				Evidence: noteEvidence,
			})
		}
	}
	return flags
}

// ─── Inconsistencies ─────────────────────────────────────────────────────────

// DetectInconsistencies reports contradictions inside one submission.
// Output is ordered by category, then by type.
func DetectInconsistencies(answers []scan.Answer) []scan.Inconsistency {
	out := []scan.Inconsistency{}
	groups := scan.GroupByCategory(answers)
	for _, c := range scan.SortedCategories(answers) {
		group := groups[c]
		if len(group) < 2 {
			continue
		}

		hi, lo := group[0], group[0]
		for _, a := range group[1:] {
			if a.Rating.Score() > hi.Rating.Score() {
				hi = a
			}
			if a.Rating.Score() < lo.Rating.Score() {
				lo = a
			}
		}
		if spread := hi.Rating.Score() - lo.Rating.Score(); spread >= contradictoryRange {
			out = append(out, scan.Inconsistency{
				Type:        InconsistencyContradictory,
				Category:    c,
				Description: fmt.Sprintf("ratings in %s range %.0f points (%s vs %s)", c, spread, hi.Rating, lo.Rating),
				Evidence:    []string{hi.QuestionID, lo.QuestionID},
				Severity:    scan.SeverityMedium,
			})
		}

		if len(group) < isolatedMinAnswers {
			continue
		}
		var reds []scan.Answer
		var others []float64
		for _, a := range group {
			if a.Rating == scan.RatingRedFlag {
				reds = append(reds, a)
			} else {
				others = append(others, a.Rating.Score())
			}
		}
		if len(reds) == 1 && scoring.Mean(others) >= isolatedOthersMean {
			out = append(out, scan.Inconsistency{
				Type:        InconsistencyIsolatedRed,
				Category:    c,
				Description: fmt.Sprintf("single red flag in otherwise positive %s (others average %.2f)", c, scoring.Mean(others)),
				Evidence:    []string{reds[0].QuestionID},
				Severity:    scan.SeverityMedium,
			})
		}
	}
	return out
}

// ─── Profile mismatches ──────────────────────────────────────────────────────

// DetectProfileMismatches compares the profile with the answers in the
// goal and maturity categories.
func DetectProfileMismatches(answers []scan.Answer, profile scan.UserProfile, goalCategories, maturityCategories []string) []scan.ProfileMismatch {
	out := []scan.ProfileMismatch{}

	if profile.DatingGoal != "" {
		if ratio, evidence, ok := flaggedRatio(answers, goalCategories); ok && ratio > goalMismatchRatio {
			out = append(out, scan.ProfileMismatch{
				Type:        MismatchDatingGoal,
				Description: fmt.Sprintf("%.0f%% of goal answers are flagged while dating goal is %q", ratio*100, profile.DatingGoal),
				Ratio:       scoring.Round(ratio, 4),
				Evidence:    evidence,
				Severity:    scan.SeverityHigh,
			})
		}
	}

	if profile.Age >= maturityMismatchAge {
		if ratio, evidence, ok := flaggedRatio(answers, maturityCategories); ok && ratio > maturityMismatchRatio {
			out = append(out, scan.ProfileMismatch{
				Type:        MismatchMaturity,
				Description: fmt.Sprintf("%.0f%% of maturity answers are flagged at age %d", ratio*100, profile.Age),
				Ratio:       scoring.Round(ratio, 4),
				Evidence:    evidence,
				Severity:    scan.SeverityMedium,
			})
		}
	}
	return out
}

// flaggedRatio is the share of yellow/red answers among answers in cats.
func flaggedRatio(answers []scan.Answer, cats []string) (float64, []string, bool) {
	in := make(map[string]bool, len(cats))
	for _, c := range cats {
		in[c] = true
	}
	total := 0
	var flagged []string
	for _, a := range answers {
		if !in[a.Category] {
			continue
		}
		total++
		if a.Rating.IsFlag() {
			flagged = append(flagged, a.QuestionID)
		}
	}
	if total == 0 {
		return 0, nil, false
	}
	return float64(len(flagged)) / float64(total), flagged, true
}

// ─── Aggregation ─────────────────────────────────────────────────────────────

// AggregateAndPrioritize concatenates flag lists in order, drops later
// flags whose signal and evidence set repeat an earlier one, and sorts
// critical first. Flags of equal severity keep their first-seen order.
func AggregateAndPrioritize(groups ...[]scan.RedFlag) []scan.RedFlag {
	seen := make(map[string]bool)
	out := []scan.RedFlag{}
	for _, g := range groups {
		for _, f := range g {
			key := f.DedupeKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, f)
		}
	}
	scan.SortBySeverity(out)
	return out
}
