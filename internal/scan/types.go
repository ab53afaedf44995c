// Package scan holds the value types shared by every stage of the scoring
// pipeline: rated answers, the user's blueprint, red flags and the
// classification categories.
//
// Everything here is a plain value. Nothing in this package performs I/O
// or reads the clock, so results built from these types are reproducible.
package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// --- Rating enum ---

// Rating is the rater's verdict on one answer.
type Rating string

const (
	RatingStrongMatch Rating = "strong_match"
	RatingGood        Rating = "good"
	RatingNeutral     Rating = "neutral"
	RatingYellowFlag  Rating = "yellow_flag"
	RatingRedFlag     Rating = "red_flag"
)

// ratingScores maps every rating to its fixed numeric score.
var ratingScores = map[Rating]float64{
	RatingStrongMatch: 100,
	RatingGood:        75,
	RatingNeutral:     50,
	RatingYellowFlag:  25,
	RatingRedFlag:     0,
}

// Score returns the fixed 0-100 score for the rating.
// Unknown ratings score as neutral.
func (r Rating) Score() float64 {
	if s, ok := ratingScores[r]; ok {
		return s
	}
	return ratingScores[RatingNeutral]
}

// IsFlag reports whether the rating is a yellow or red flag.
func (r Rating) IsFlag() bool {
	return r == RatingYellowFlag || r == RatingRedFlag
}

// ParseRating converts a string into a Rating.
func ParseRating(s string) (Rating, error) {
	r := Rating(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := ratingScores[r]; !ok {
		return "", fmt.Errorf("invalid rating %q: must be one of: strong_match, good, neutral, yellow_flag, red_flag", s)
	}
	return r, nil
}

// UnmarshalJSON rejects ratings outside the enumerated set.
func (r *Rating) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRating(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// --- Answers ---

// Answer is one rated survey answer about the other party.
type Answer struct {
	QuestionID   string `json:"question_id"`
	Category     string `json:"category"`
	Rating       Rating `json:"rating"`
	QuestionText string `json:"question_text,omitempty"`
}

// GroupByCategory buckets answers by category, preserving submission order
// inside each bucket.
func GroupByCategory(answers []Answer) map[string][]Answer {
	groups := make(map[string][]Answer)
	for _, a := range answers {
		groups[a.Category] = append(groups[a.Category], a)
	}
	return groups
}

// SortedCategories returns the distinct categories of answers in
// lexical order.
func SortedCategories(answers []Answer) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range answers {
		if !seen[a.Category] {
			seen[a.Category] = true
			out = append(out, a.Category)
		}
	}
	sort.Strings(out)
	return out
}

// --- Input validation ---

// ErrUnknownCategory is returned when an answer names a category that the
// active scoring configuration does not know.
var ErrUnknownCategory = errors.New("unknown category")

// ErrDuplicateQuestion is returned when two answers share a question_id.
var ErrDuplicateQuestion = errors.New("duplicate question_id")

// ValidateAnswers checks answers against the known category set.
// It returns every problem found joined into one error, or nil.
func ValidateAnswers(answers []Answer, known map[string]bool) error {
	var errs []error
	seen := make(map[string]bool, len(answers))
	for _, a := range answers {
		if a.QuestionID != "" {
			if seen[a.QuestionID] {
				errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateQuestion, a.QuestionID))
			}
			seen[a.QuestionID] = true
		}
		if known != nil && !known[a.Category] {
			errs = append(errs, fmt.Errorf("%w %q (question %s)", ErrUnknownCategory, a.Category, a.QuestionID))
		}
	}
	return errors.Join(errs...)
}

// --- Blueprint ---

// Importance is how much a blueprint item matters to the user.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// importanceWeights are the pre-normalization weights per importance level.
var importanceWeights = map[Importance]float64{
	ImportanceLow:    0.33,
	ImportanceMedium: 0.67,
	ImportanceHigh:   1.0,
}

// Weight returns the raw weight for the importance level.
// Unknown levels weigh as medium.
func (i Importance) Weight() float64 {
	if w, ok := importanceWeights[i]; ok {
		return w
	}
	return importanceWeights[ImportanceMedium]
}

// BlueprintAnswer is one item of the blueprint questionnaire.
type BlueprintAnswer struct {
	Category      string     `json:"category"`
	Importance    Importance `json:"importance"`
	IsDealBreaker bool       `json:"is_deal_breaker,omitempty"`
	QuestionID    string     `json:"question_id,omitempty"`
	Description   string     `json:"description,omitempty"`
}

// DealBreaker is a non-negotiable blueprint item. An empty QuestionID
// applies the deal-breaker to the whole category.
type DealBreaker struct {
	Category    string `json:"category"`
	QuestionID  string `json:"question_id,omitempty"`
	Description string `json:"description"`
}

// Blueprint is the user's normalized statement of priorities.
type Blueprint struct {
	CategoryWeights    map[string]float64 `json:"category_weights"`
	CategoryImportance map[string]float64 `json:"category_importance,omitempty"`
	DealBreakers       []DealBreaker      `json:"deal_breakers"`
	TopPriorities      []string           `json:"top_priorities"`
}

// Weight returns the blueprint weight for a category and whether the
// blueprint defines one.
func (b Blueprint) Weight(category string) (float64, bool) {
	w, ok := b.CategoryWeights[category]
	return w, ok
}

// IsDealBreakerCategory reports whether any deal-breaker targets category.
func (b Blueprint) IsDealBreakerCategory(category string) bool {
	for _, db := range b.DealBreakers {
		if db.Category == category {
			return true
		}
	}
	return false
}

// --- Profile & reflection ---

// UserProfile carries the profile fields that adjust the overall score.
type UserProfile struct {
	Age        int    `json:"age"`
	DatingGoal string `json:"dating_goal"`
}

// ReflectionNotes are the optional free-text notes written after a date.
type ReflectionNotes struct {
	WhatWentWell    string `json:"what_went_well,omitempty"`
	WhatFeltOff     string `json:"what_felt_off,omitempty"`
	Boundaries      string `json:"boundaries,omitempty"`
	EmotionalState  string `json:"emotional_state,omitempty"`
	AdditionalNotes string `json:"additional_notes,omitempty"`
}

// NoteField is one named reflection field.
type NoteField struct {
	Name string
	Text string
}

// Fields returns the five note fields in a fixed order.
func (n ReflectionNotes) Fields() []NoteField {
	return []NoteField{
		{Name: "what_went_well", Text: n.WhatWentWell},
		{Name: "what_felt_off", Text: n.WhatFeltOff},
		{Name: "boundaries", Text: n.Boundaries},
		{Name: "emotional_state", Text: n.EmotionalState},
		{Name: "additional_notes", Text: n.AdditionalNotes},
	}
}

// IsEmpty reports whether every field is blank.
func (n ReflectionNotes) IsEmpty() bool {
	for _, f := range n.Fields() {
		if strings.TrimSpace(f.Text) != "" {
			return false
		}
	}
	return true
}
