package scan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// --- Severity enum ---

// Severity is a totally ordered red-flag severity. The zero value is not a
// valid severity; use the named constants.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// String returns the lowercase severity name.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Valid reports whether s is one of the four named severities.
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// Raise returns the next tier up. Critical stays critical.
func (s Severity) Raise() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

// Lower returns the next tier down. Low stays low.
func (s Severity) Lower() Severity {
	if s <= SeverityLow {
		return SeverityLow
	}
	return s - 1
}

// ParseSeverity converts a string into a Severity.
func ParseSeverity(v string) (Severity, error) {
	key := strings.ToLower(strings.TrimSpace(v))
	for s, name := range severityNames {
		if name == key {
			return s, nil
		}
	}
	return 0, fmt.Errorf("invalid severity %q: must be one of: low, medium, high, critical", v)
}

// MarshalJSON encodes the severity as its name.
func (s Severity) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid severity %d", int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseSeverity(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText lets Severity be used as a map key in JSON and YAML.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// --- Red flags ---

// Flag types that are not safety-pattern names.
const (
	FlagTypeDealBreaker = "deal_breaker"
)

// RedFlag is one detected safety or deal-breaker signal.
type RedFlag struct {
	Type     string   `json:"type"`
	Category string   `json:"category"`
	Signal   string   `json:"signal"`
	Severity Severity `json:"severity"`
	Evidence []string `json:"evidence"`

	// Escalation fields, set only by the escalation engine.
	OriginalSeverity *Severity `json:"original_severity,omitempty"`
	IsEscalated      bool      `json:"is_escalated,omitempty"`
	OccurrenceCount  int       `json:"occurrence_count,omitempty"`
	EscalationReason string    `json:"escalation_reason,omitempty"`
}

// PatternKey groups flags of the same kind across scans.
func (f RedFlag) PatternKey() string {
	return f.Type + ":" + f.Category
}

// DedupeKey identifies a flag by signal text and its evidence set.
func (f RedFlag) DedupeKey() string {
	ev := append([]string(nil), f.Evidence...)
	sort.Strings(ev)
	return f.Signal + "|" + strings.Join(ev, ",")
}

// CountBySeverity tallies flags per severity.
func CountBySeverity(flags []RedFlag) map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, f := range flags {
		counts[f.Severity]++
	}
	return counts
}

// SortBySeverity orders flags critical first. The sort is stable so flags
// of equal severity keep their detection order.
func SortBySeverity(flags []RedFlag) {
	sort.SliceStable(flags, func(i, j int) bool {
		return flags[i].Severity > flags[j].Severity
	})
}

// --- Inconsistencies & mismatches ---

// Inconsistency is a contradiction inside a single submission. It is
// reported next to red flags, never merged into them.
type Inconsistency struct {
	Type        string   `json:"type"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence"`
	Severity    Severity `json:"severity"`
}

// ProfileMismatch is a conflict between the user's profile and answers.
type ProfileMismatch struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Ratio       float64  `json:"ratio"`
	Evidence    []string `json:"evidence"`
	Severity    Severity `json:"severity"`
}

// HistoricalPattern summarizes how often a pattern key recurred.
type HistoricalPattern struct {
	Key             string     `json:"key"`
	OccurrenceCount int        `json:"occurrence_count"`
	SeverityHistory []Severity `json:"severity_history"`
}
