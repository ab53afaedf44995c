// Package escalation raises red flags whose pattern keeps recurring across
// a user's scan history.
//
// History is read through HistoryReader, an injected capability. The
// engine never reads the wall clock: every window is measured back from
// Request.AsOf.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

// History windows in days.
const (
	DefaultWindowDays  = 90
	CriticalWindowDays = 180
)

// maxReasonPatterns caps how many patterns the summary names.
const maxReasonPatterns = 3

// ReasonPrefix starts every machine-readable escalation reason.
const ReasonPrefix = "recurring_pattern"

// HistoryQuery selects a user's past flags.
type HistoryQuery struct {
	UserID        string
	ExcludeScanID string
	AsOf          time.Time
	WindowDays    int
}

// Since returns the start of the query window.
func (q HistoryQuery) Since() time.Time {
	return q.AsOf.AddDate(0, 0, -q.WindowDays)
}

// HistoryReader returns the red flags recorded for a user in a window.
// Each prior scan contributes at most one flag per pattern key, so a
// pattern's occurrence count is the number of scans it appeared in.
type HistoryReader interface {
	FlagsForUser(ctx context.Context, q HistoryQuery) ([]scan.RedFlag, error)
}

// HistoryWriter records the final flags of a scan so later scans can
// escalate against them.
type HistoryWriter interface {
	RecordFlags(ctx context.Context, userID, scanID string, at time.Time, flags []scan.RedFlag) error
}

// ErrNoHistory means the engine has no reader configured.
var ErrNoHistory = errors.New("no flag history configured")

// Request is one escalation pass over a scan's flags.
type Request struct {
	UserID string
	ScanID string
	AsOf   time.Time
	Flags  []scan.RedFlag
}

// Outcome is the escalated flag set and a summary of what changed.
type Outcome struct {
	Flags     []scan.RedFlag           `json:"flags"`
	Escalated int                      `json:"escalated"`
	Patterns  []scan.HistoricalPattern `json:"historical_patterns"`
	Reason    string                   `json:"reason,omitempty"`
}

// Engine applies recurrence escalation using one scoring config.
type Engine struct {
	history HistoryReader
	cfg     *config.Scoring
}

// New creates an Engine. history may be nil, in which case Escalate
// returns ErrNoHistory alongside the unchanged flags.
func New(history HistoryReader, cfg *config.Scoring) *Engine {
	return &Engine{history: history, cfg: cfg}
}

// Escalate raises every current flag whose pattern key already occurred in
// the window and whose total occurrences reach the severity's threshold.
//
// On any error the returned Outcome still carries the unchanged input
// flags, so callers can deliver them and report the error separately.
func (e *Engine) Escalate(ctx context.Context, req Request) (Outcome, error) {
	base := Outcome{
		Flags:    append([]scan.RedFlag{}, req.Flags...),
		Patterns: []scan.HistoricalPattern{},
	}
	if len(req.Flags) == 0 {
		return base, nil
	}
	if e == nil || e.history == nil {
		return base, ErrNoHistory
	}
	if e.cfg == nil {
		return base, fmt.Errorf("escalation: %w", config.ErrInvalidConfig)
	}
	if req.UserID == "" {
		return base, fmt.Errorf("escalation: user id is required")
	}
	if req.AsOf.IsZero() {
		return base, fmt.Errorf("escalation: as-of time is required")
	}

	recent, err := e.history.FlagsForUser(ctx, HistoryQuery{
		UserID:        req.UserID,
		ExcludeScanID: req.ScanID,
		AsOf:          req.AsOf,
		WindowDays:    DefaultWindowDays,
	})
	if err != nil {
		return base, fmt.Errorf("reading %d-day flag history: %w", DefaultWindowDays, err)
	}
	recentPatterns := groupPatterns(recent)

	criticalPatterns := recentPatterns
	if hasCritical(req.Flags) {
		long, err := e.history.FlagsForUser(ctx, HistoryQuery{
			UserID:        req.UserID,
			ExcludeScanID: req.ScanID,
			AsOf:          req.AsOf,
			WindowDays:    CriticalWindowDays,
		})
		if err != nil {
			return base, fmt.Errorf("reading %d-day flag history: %w", CriticalWindowDays, err)
		}
		criticalPatterns = groupPatterns(long)
	}

	out := Outcome{
		Flags:    make([]scan.RedFlag, 0, len(req.Flags)),
		Patterns: sortedPatterns(recentPatterns),
	}
	escalatedKeys := map[string]int{}
	var keyOrder []string

	for _, f := range req.Flags {
		patterns, window := recentPatterns, DefaultWindowDays
		if f.Severity == scan.SeverityCritical {
			patterns, window = criticalPatterns, CriticalWindowDays
		}
		prior := 0
		if p, ok := patterns[f.PatternKey()]; ok {
			prior = p.OccurrenceCount
		}

		if e.shouldEscalate(f.Severity, prior) {
			f = escalate(f, prior+1, window)
			out.Escalated++
			if _, seen := escalatedKeys[f.PatternKey()]; !seen {
				keyOrder = append(keyOrder, f.PatternKey())
			}
			escalatedKeys[f.PatternKey()] = f.OccurrenceCount
		}
		out.Flags = append(out.Flags, f)
	}

	scan.SortBySeverity(out.Flags)
	out.Reason = summarize(keyOrder, escalatedKeys)
	return out, nil
}

// shouldEscalate applies the per-severity occurrence rule. The current
// scan counts as one occurrence and at least one prior occurrence is
// always required.
func (e *Engine) shouldEscalate(sev scan.Severity, prior int) bool {
	if prior < 1 {
		return false
	}
	rule, ok := e.cfg.SeverityRule(sev)
	if !ok || !rule.AutoEscalate {
		return false
	}
	return prior+1 >= rule.MinOccurrences
}

func escalate(f scan.RedFlag, occurrences, window int) scan.RedFlag {
	original := f.Severity
	if f.OriginalSeverity != nil {
		original = *f.OriginalSeverity
	}
	next := f.Severity.Raise()

	f.Evidence = append([]string(nil), f.Evidence...)
	f.OriginalSeverity = &original
	f.IsEscalated = true
	f.OccurrenceCount = occurrences
	f.EscalationReason = fmt.Sprintf("%s:%s:occurrences=%d:window=%dd:%s->%s",
		ReasonPrefix, f.PatternKey(), occurrences, window, f.Severity, next)
	f.Severity = next
	return f
}

func hasCritical(flags []scan.RedFlag) bool {
	for _, f := range flags {
		if f.Severity == scan.SeverityCritical {
			return true
		}
	}
	return false
}

// groupPatterns counts history flags per pattern key, keeping the
// severities in the order the reader returned them.
func groupPatterns(history []scan.RedFlag) map[string]*scan.HistoricalPattern {
	out := make(map[string]*scan.HistoricalPattern)
	for _, f := range history {
		key := f.PatternKey()
		p := out[key]
		if p == nil {
			p = &scan.HistoricalPattern{Key: key}
			out[key] = p
		}
		p.OccurrenceCount++
		p.SeverityHistory = append(p.SeverityHistory, f.Severity)
	}
	return out
}

func sortedPatterns(m map[string]*scan.HistoricalPattern) []scan.HistoricalPattern {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]scan.HistoricalPattern, 0, len(keys))
	for _, k := range keys {
		out = append(out, *m[k])
	}
	return out
}

// summarize names up to three escalated patterns in first-seen order and
// counts the rest.
func summarize(order []string, counts map[string]int) string {
	if len(order) == 0 {
		return ""
	}
	shown := order
	if len(shown) > maxReasonPatterns {
		shown = shown[:maxReasonPatterns]
	}
	parts := make([]string, 0, len(shown))
	for _, k := range shown {
		parts = append(parts, fmt.Sprintf("%s (%d occurrences)", k, counts[k]))
	}
	s := "escalated recurring patterns: " + strings.Join(parts, ", ")
	if rest := len(order) - len(shown); rest > 0 {
		s += fmt.Sprintf(" and %d more", rest)
	}
	return s
}
