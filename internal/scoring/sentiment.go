package scoring

import (
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/textnorm"
)

// MaxSentimentDelta caps the reflection adjustment in either direction.
const MaxSentimentDelta = 10.0

// SentimentScorer turns reflection notes into an additive score delta.
type SentimentScorer interface {
	Score(notes scan.ReflectionNotes) SentimentResult
}

// FieldSentiment is the keyword tally for one reflection field.
type FieldSentiment struct {
	Field      string  `json:"field"`
	Positive   int     `json:"positive"`
	Negative   int     `json:"negative"`
	Multiplier float64 `json:"multiplier"`
	Delta      float64 `json:"delta"`
}

// SentimentResult is the capped delta plus its per-field breakdown.
type SentimentResult struct {
	Delta  float64          `json:"delta"`
	Raw    float64          `json:"raw"`
	Fields []FieldSentiment `json:"fields,omitempty"`
}

// KeywordSentiment is the default scorer: it counts positive and negative
// keywords per field and weighs each field by a fixed multiplier.
type KeywordSentiment struct {
	positive    []textnorm.Phrase
	negative    []textnorm.Phrase
	multipliers map[string]float64
	cap         float64
}

var _ SentimentScorer = (*KeywordSentiment)(nil)

// DefaultPositiveKeywords and DefaultNegativeKeywords seed KeywordSentiment.
var (
	DefaultPositiveKeywords = []string{
		"respectful", "respected", "kind", "listened", "honest", "comfortable",
		"safe", "fun", "genuine", "thoughtful", "laughed", "relaxed",
		"considerate", "curious", "warm", "patient", "attentive", "easy",
	}
	DefaultNegativeKeywords = []string{
		"pushy", "rude", "uncomfortable", "unsafe", "dismissive", "lied",
		"pressured", "anxious", "ignored", "disrespected", "controlling",
		"jealous", "angry", "awkward", "cold", "scared", "uneasy", "drained",
	}
)

// DefaultFieldMultipliers weigh what felt off and boundaries heavier than
// the general fields.
var DefaultFieldMultipliers = map[string]float64{
	"what_went_well":   1.0,
	"what_felt_off":    1.5,
	"boundaries":       2.0,
	"emotional_state":  1.0,
	"additional_notes": 0.5,
}

// NewKeywordSentiment builds the default keyword scorer.
func NewKeywordSentiment() *KeywordSentiment {
	return NewKeywordSentimentWith(DefaultPositiveKeywords, DefaultNegativeKeywords, DefaultFieldMultipliers)
}

// NewKeywordSentimentWith builds a scorer from custom keyword lists.
// Fields missing from multipliers weigh 1.0.
func NewKeywordSentimentWith(positive, negative []string, multipliers map[string]float64) *KeywordSentiment {
	m := make(map[string]float64, len(multipliers))
	for k, v := range multipliers {
		m[k] = v
	}
	return &KeywordSentiment{
		positive:    textnorm.Compile(positive),
		negative:    textnorm.Compile(negative),
		multipliers: m,
		cap:         MaxSentimentDelta,
	}
}

// Score implements SentimentScorer.
func (k *KeywordSentiment) Score(notes scan.ReflectionNotes) SentimentResult {
	var res SentimentResult
	for _, f := range notes.Fields() {
		if f.Text == "" {
			continue
		}
		toks := textnorm.Tokens(f.Text)
		fs := FieldSentiment{Field: f.Name, Multiplier: k.multiplier(f.Name)}
		for _, p := range k.positive {
			fs.Positive += textnorm.Count(toks, p)
		}
		for _, p := range k.negative {
			fs.Negative += textnorm.Count(toks, p)
		}
		if fs.Positive == 0 && fs.Negative == 0 {
			continue
		}
		fs.Delta = float64(fs.Positive-fs.Negative) * fs.Multiplier
		res.Raw += fs.Delta
		res.Fields = append(res.Fields, fs)
	}
	res.Delta = clamp(res.Raw, -k.cap, k.cap)
	return res
}

func (k *KeywordSentiment) multiplier(field string) float64 {
	if m, ok := k.multipliers[field]; ok {
		return m
	}
	return 1.0
}
