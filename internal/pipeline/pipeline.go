// Package pipeline runs one scan end to end:
// scoring → gating → classification → red flags → escalation → explanation.
//
// The pipeline holds no per-scan state. A single Pipeline is safe for
// concurrent use; every Evaluate call works only on its own Request and
// the immutable config version it selects.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/alignment"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/classify"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/escalation"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/explain"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/gating"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/redflags"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scoring"
)

// ─── Request / Result ────────────────────────────────────────────────────────

// Request is one party's scan.
type Request struct {
	UserID       string `json:"user_id,omitempty"`
	ScanID       string `json:"scan_id,omitempty"`
	LogicVersion string `json:"logic_version,omitempty"`
	// AsOf anchors the escalation history window. Zero skips escalation.
	AsOf time.Time `json:"as_of,omitempty"`

	Answers          []scan.Answer          `json:"answers"`
	Blueprint        scan.Blueprint         `json:"blueprint"`
	BlueprintAnswers []scan.BlueprintAnswer `json:"blueprint_answers,omitempty"`
	Profile          scan.UserProfile       `json:"profile"`
	Notes            scan.ReflectionNotes   `json:"reflection_notes"`

	// TargetCategory asks the gate whether a specific category is allowed.
	TargetCategory scan.Classification `json:"target_category,omitempty"`
}

// EscalationSummary reports what the escalation pass did.
type EscalationSummary struct {
	Applied            bool                     `json:"applied"`
	Escalated          int                      `json:"escalated"`
	Reason             string                   `json:"reason,omitempty"`
	Skipped            string                   `json:"skipped,omitempty"`
	HistoricalPatterns []scan.HistoricalPattern `json:"historical_patterns"`
}

// Result is the full output of one scan.
type Result struct {
	ScanID              string                      `json:"scan_id,omitempty"`
	OverallScore        int                         `json:"overall_score"`
	Category            scan.Classification         `json:"category"`
	ProvisionalCategory scan.Classification         `json:"provisional_category"`
	ClassificationMode  string                      `json:"classification_mode"`
	CategoryScores      map[string]float64          `json:"category_scores"`
	ConfidenceScore     float64                     `json:"confidence_score"`
	ConfidenceReason    string                      `json:"confidence_reason"`
	BaseConfidence      scoring.ConfidenceBreakdown `json:"base_confidence"`
	DataSufficiency     gating.Sufficiency          `json:"data_sufficiency"`
	ConflictDensity     gating.ConflictDensity      `json:"conflict_density"`
	GatingAllows        GateFlags                   `json:"gating"`

	GatingRecommendations []string               `json:"gating_recommendations"`
	RedFlags              []scan.RedFlag         `json:"red_flags"`
	EscalationSummary     EscalationSummary      `json:"escalation_summary"`
	Inconsistencies       []scan.Inconsistency   `json:"inconsistencies"`
	ProfileMismatches     []scan.ProfileMismatch `json:"profile_mismatches"`
	ExplanationMetadata   explain.Metadata       `json:"explanation_metadata"`

	ForceLimitedDataAcknowledgment bool     `json:"force_limited_data_acknowledgment"`
	InputWarnings                  []string `json:"input_warnings"`
	LogicVersion                   string   `json:"logic_version"`
}

// GateFlags are the category gates of the final gate decision.
type GateFlags struct {
	CanClassifyHighPotential bool `json:"can_classify_high_potential"`
	CanClassifyHighRisk      bool `json:"can_classify_high_risk"`
}

// ─── Pipeline ────────────────────────────────────────────────────────────────

// Pipeline evaluates scans against a config registry.
type Pipeline struct {
	registry       *config.Registry
	defaultVersion string
	history        escalation.HistoryReader
	recorder       escalation.HistoryWriter
	sentiment      scoring.SentimentScorer
	logger         *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHistory enables recurrence escalation against r.
func WithHistory(r escalation.HistoryReader) Option {
	return func(p *Pipeline) { p.history = r }
}

// WithRecorder stores each scan's final flags in w.
func WithRecorder(w escalation.HistoryWriter) Option {
	return func(p *Pipeline) { p.recorder = w }
}

// WithDefaultVersion sets the logic version used when a request names
// none. Empty means the latest registered version.
func WithDefaultVersion(v string) Option {
	return func(p *Pipeline) { p.defaultVersion = v }
}

// WithSentiment replaces the default keyword sentiment scorer.
func WithSentiment(s scoring.SentimentScorer) Option {
	return func(p *Pipeline) { p.sentiment = s }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// ErrNoRegistry is returned by New without a config registry.
var ErrNoRegistry = errors.New("pipeline: config registry is required")

// New creates a Pipeline.
func New(registry *config.Registry, opts ...Option) (*Pipeline, error) {
	if registry == nil {
		return nil, ErrNoRegistry
	}
	p := &Pipeline{
		registry:  registry,
		sentiment: scoring.NewKeywordSentiment(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Registry returns the registry the pipeline reads configs from.
func (p *Pipeline) Registry() *config.Registry { return p.registry }

// Config resolves version the way Evaluate does: empty means the default
// version, and an unknown version falls back to the latest.
func (p *Pipeline) Config(version string) (cfg *config.Scoring, exact bool) {
	if version == "" {
		version = p.defaultVersion
	}
	return p.registry.Get(version)
}

// evaluation is a Result plus the cleaned inputs dual scans need.
type evaluation struct {
	result    Result
	answers   []scan.Answer
	blueprint scan.Blueprint
}

// Evaluate scores one scan. It only fails when ctx is already done;
// every per-request problem degrades into warnings or fallbacks instead.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) (Result, error) {
	ev, err := p.evaluate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return ev.result, nil
}

func (p *Pipeline) evaluate(ctx context.Context, req Request) (evaluation, error) {
	if err := ctx.Err(); err != nil {
		return evaluation{}, fmt.Errorf("evaluate scan: %w", err)
	}

	if req.LogicVersion == "" {
		req.LogicVersion = p.defaultVersion
	}
	cfg, exact := p.Config(req.LogicVersion)
	warnings := []string{}
	if !exact && req.LogicVersion != "" {
		warnings = append(warnings, fmt.Sprintf("logic version %q not found, using %s", req.LogicVersion, cfg.LogicVersion))
		p.logger.Warn("logic version not found, using latest",
			zap.String("requested", req.LogicVersion),
			zap.String("using", cfg.LogicVersion))
	}

	answers, inputWarnings := sanitizeAnswers(req.Answers, cfg.KnownCategories())
	warnings = append(warnings, inputWarnings...)

	bp := req.Blueprint
	if len(bp.CategoryWeights) == 0 && len(req.BlueprintAnswers) > 0 {
		bp = scoring.CalculateBlueprint(req.BlueprintAnswers)
	}

	// Scoring.
	categoryScores := scoring.CategoryScores(answers, bp)
	overall := scoring.OverallScore(scoring.OverallInput{
		CategoryScores: categoryScores,
		Blueprint:      bp,
		Config:         cfg,
		Profile:        req.Profile,
		Notes:          req.Notes,
		Sentiment:      p.sentiment,
	})
	base := scoring.BaseConfidence(answers, req.Notes, cfg.ExpectedCategoryCount)
	sufficiency := gating.CheckDataSufficiency(answers)

	// Pass 1: gate against the caller's target, classify without flags.
	gateIn := gating.Input{
		BaseConfidence: base.Score,
		Answers:        answers,
		CategoryScores: categoryScores,
		Sufficiency:    sufficiency,
		Target:         req.TargetCategory,
	}
	baseGate := gating.Gate(gateIn)
	provisional := classify.Classify(cfg, classify.Input{
		Score:      float64(overall.Score),
		Confidence: baseGate.AdjustedConfidence,
	})

	// Pass 2: gate against the provisional category and downgrade.
	gateIn.Target = provisional.Category
	gate := gating.Gate(gateIn)
	final := classify.Downgrade(provisional.Category, gate)

	// Red flags.
	flags := redflags.AggregateAndPrioritize(
		redflags.DetectDealBreakerViolations(answers, bp.DealBreakers, cfg.DealBreakerAutoEscalate()),
		redflags.DetectSafetyPatterns(answers, req.Notes),
	)
	summary := EscalationSummary{HistoricalPatterns: []scan.HistoricalPattern{}}
	flags, summary = p.escalate(ctx, cfg, req, flags, summary)

	// Flag-aware pass: configured red-flag limits can only lower the category.
	mode, fallback := provisional.Mode, provisional.FallbackReason
	if cfg.RedFlagLimitsEnabled() && len(flags) > 0 {
		flagged := classify.Classify(cfg, classify.InputWithFlags(float64(overall.Score), gate.AdjustedConfidence, flags))
		final = classify.Downgrade(scan.LessFavorable(final, flagged.Category), gate)
		if flagged.FallbackReason != "" {
			mode, fallback = flagged.Mode, flagged.FallbackReason
		}
	}

	meta := explain.Generate(explain.Input{
		Answers:             answers,
		Blueprint:           bp,
		Overall:             overall,
		BaseConfidence:      base.Score,
		AdjustedConfidence:  gate.AdjustedConfidence,
		ConfidenceReason:    gate.Reason,
		ProvisionalCategory: provisional.Category,
		FinalCategory:       final,
		ClassificationMode:  mode,
		FallbackReason:      fallback,
		Flags:               flags,
		EscalationReason:    summary.Reason,
		LogicVersion:        cfg.LogicVersion,
	})

	res := Result{
		ScanID:              req.ScanID,
		OverallScore:        overall.Score,
		Category:            final,
		ProvisionalCategory: provisional.Category,
		ClassificationMode:  mode,
		CategoryScores:      categoryScores,
		ConfidenceScore:     gate.AdjustedConfidence,
		ConfidenceReason:    gate.Reason,
		BaseConfidence:      base,
		DataSufficiency:     sufficiency,
		ConflictDensity:     gate.Conflict,
		GatingAllows: GateFlags{
			CanClassifyHighPotential: gate.CanClassifyHighPotential,
			CanClassifyHighRisk:      gate.CanClassifyHighRisk,
		},
		GatingRecommendations:          mergeUnique(baseGate.Advisories, gate.Advisories),
		RedFlags:                       flags,
		EscalationSummary:              summary,
		Inconsistencies:                redflags.DetectInconsistencies(answers),
		ProfileMismatches:              redflags.DetectProfileMismatches(answers, req.Profile, cfg.GoalCategories, cfg.MaturityCategories),
		ExplanationMetadata:            meta,
		ForceLimitedDataAcknowledgment: gating.ShouldForceLimitedDataAcknowledgment(gate.AdjustedConfidence, sufficiency),
		InputWarnings:                  warnings,
		LogicVersion:                   cfg.LogicVersion,
	}

	p.record(ctx, req, flags)

	p.logger.Debug("scan evaluated",
		zap.String("scan_id", req.ScanID),
		zap.String("logic_version", cfg.LogicVersion),
		zap.Int("overall_score", res.OverallScore),
		zap.String("category", string(res.Category)),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.Int("red_flags", len(res.RedFlags)))

	return evaluation{result: res, answers: answers, blueprint: bp}, nil
}

// escalate runs the escalation engine. Any failure keeps the base flags.
func (p *Pipeline) escalate(ctx context.Context, cfg *config.Scoring, req Request, flags []scan.RedFlag, summary EscalationSummary) ([]scan.RedFlag, EscalationSummary) {
	switch {
	case len(flags) == 0:
		return flags, summary
	case p.history == nil:
		summary.Skipped = "no flag history configured"
		return flags, summary
	case req.UserID == "" || req.AsOf.IsZero():
		summary.Skipped = "user id and as-of time are required for escalation"
		return flags, summary
	}

	out, err := escalation.New(p.history, cfg).Escalate(ctx, escalation.Request{
		UserID: req.UserID,
		ScanID: req.ScanID,
		AsOf:   req.AsOf,
		Flags:  flags,
	})
	if err != nil {
		p.logger.Warn("escalation skipped, returning base flags",
			zap.String("user_id", req.UserID),
			zap.String("scan_id", req.ScanID),
			zap.Error(err))
		summary.Skipped = "flag history unavailable"
		return flags, summary
	}

	summary.Applied = true
	summary.Escalated = out.Escalated
	summary.Reason = out.Reason
	summary.HistoricalPatterns = out.Patterns
	return out.Flags, summary
}

// record stores the final flags for future escalation. Failures are logged.
func (p *Pipeline) record(ctx context.Context, req Request, flags []scan.RedFlag) {
	if p.recorder == nil || req.UserID == "" || req.ScanID == "" || req.AsOf.IsZero() {
		return
	}
	if err := p.recorder.RecordFlags(ctx, req.UserID, req.ScanID, req.AsOf, flags); err != nil {
		p.logger.Warn("recording red flags failed",
			zap.String("user_id", req.UserID),
			zap.String("scan_id", req.ScanID),
			zap.Error(err))
	}
}

// ─── Dual scans ──────────────────────────────────────────────────────────────

// DualRequest pairs both parties' scans.
type DualRequest struct {
	A Request `json:"party_a"`
	B Request `json:"party_b"`
}

// DualResult is each party's result plus the combined alignment.
type DualResult struct {
	A         Result           `json:"party_a"`
	B         Result           `json:"party_b"`
	Alignment alignment.Result `json:"alignment"`
}

// EvaluateDual runs the single-party pipeline for each party and combines
// the two.
func (p *Pipeline) EvaluateDual(ctx context.Context, req DualRequest) (DualResult, error) {
	a, err := p.evaluate(ctx, req.A)
	if err != nil {
		return DualResult{}, fmt.Errorf("party a: %w", err)
	}
	b, err := p.evaluate(ctx, req.B)
	if err != nil {
		return DualResult{}, fmt.Errorf("party b: %w", err)
	}
	return DualResult{
		A: a.result,
		B: b.result,
		Alignment: alignment.Calculate(
			alignment.Party{
				Answers:        a.answers,
				Blueprint:      a.blueprint,
				CategoryScores: a.result.CategoryScores,
				BaseConfidence: a.result.BaseConfidence.Score,
			},
			alignment.Party{
				Answers:        b.answers,
				Blueprint:      b.blueprint,
				CategoryScores: b.result.CategoryScores,
				BaseConfidence: b.result.BaseConfidence.Score,
			},
		),
	}, nil
}

// ─── Input cleanup ───────────────────────────────────────────────────────────

// sanitizeAnswers drops answers the pipeline cannot score and explains
// each drop: unknown categories, invalid ratings and repeated question ids
// (the first answer wins).
func sanitizeAnswers(answers []scan.Answer, known map[string]bool) ([]scan.Answer, []string) {
	out := make([]scan.Answer, 0, len(answers))
	warnings := []string{}
	seen := make(map[string]bool, len(answers))
	for _, a := range answers {
		if !known[a.Category] {
			warnings = append(warnings, fmt.Sprintf("answer %s: %v %q, excluded", a.QuestionID, scan.ErrUnknownCategory, a.Category))
			continue
		}
		r, err := scan.ParseRating(string(a.Rating))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("answer %s: %v, excluded", a.QuestionID, err))
			continue
		}
		a.Rating = r
		if a.QuestionID != "" {
			if seen[a.QuestionID] {
				warnings = append(warnings, fmt.Sprintf("answer %s: %v, later answer excluded", a.QuestionID, scan.ErrDuplicateQuestion))
				continue
			}
			seen[a.QuestionID] = true
		}
		out = append(out, a)
	}
	return out, warnings
}

func mergeUnique(lists ...[]string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, l := range lists {
		for _, s := range l {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
