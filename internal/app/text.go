// Package app holds the application services that sit between the HTTP
// surface and the response cache.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/cache"
)

const (
	maxFieldLen     = 4000
	defaultLanguage = "English"
)

// Recorder receives one ledger record per upstream generation call.
type Recorder interface {
	Record(r respcache.GenerationRecord)
}

// FeedbackRequest asks for feedback on a learner's answer.
type FeedbackRequest struct {
	Exercise string `json:"exercise"`
	Answer   string `json:"answer"`
	Expected string `json:"expected,omitempty"`
	Language string `json:"language,omitempty"` // language being learned
	Level    string `json:"level,omitempty"`    // e.g. "A2", "B1"
}

// HintRequest asks for a hint on an exercise.
type HintRequest struct {
	Exercise string `json:"exercise"`
	Language string `json:"language,omitempty"`
	Level    string `json:"level,omitempty"`
	Attempt  int    `json:"attempt,omitempty"` // hints get more direct as attempts grow
}

// InsightRequest asks for a progress insight on a topic.
type InsightRequest struct {
	Topic    string  `json:"topic"`
	Language string  `json:"language,omitempty"`
	Level    string  `json:"level,omitempty"`
	Accuracy float64 `json:"accuracy"` // 0..1
	Attempts int     `json:"attempts"`
}

// TextResponse is the generated (or cached) text.
type TextResponse struct {
	Category respcache.Category `json:"category"`
	Text     string             `json:"text"`
	Cached   bool               `json:"cached"`
	Outcome  string             `json:"outcome"` // hit, computed or shared
}

// TextService produces feedback, hint and insight text through the response
// cache, so identical requests reach the upstream at most once per TTL.
type TextService struct {
	cache    *cache.Manager
	gen      respcache.Generator
	recorder Recorder // nil = no ledger
	model    string
	logger   *slog.Logger
}

// NewTextService wires a TextService. recorder may be nil.
func NewTextService(m *cache.Manager, gen respcache.Generator, recorder Recorder, model string, logger *slog.Logger) *TextService {
	return &TextService{cache: m, gen: gen, recorder: recorder, model: model, logger: logger}
}

// Feedback returns feedback on req.Answer.
func (s *TextService) Feedback(ctx context.Context, req FeedbackRequest) (*TextResponse, error) {
	if err := required("exercise", req.Exercise, "answer", req.Answer); err != nil {
		return nil, err
	}
	if err := bounded(req.Expected); err != nil {
		return nil, err
	}
	lang, level := normalize(req.Language, req.Level)

	params := map[string]any{
		"exercise": req.Exercise,
		"answer":   strings.TrimSpace(req.Answer),
		"expected": req.Expected,
		"language": lang,
		"level":    level,
	}
	user := fmt.Sprintf("Exercise: %s\nLearner's answer: %s\n", req.Exercise, strings.TrimSpace(req.Answer))
	if req.Expected != "" {
		user += fmt.Sprintf("Expected answer: %s\n", req.Expected)
	}
	user += "Say whether the answer is correct, point out each mistake and explain the rule behind it."

	return s.generate(ctx, respcache.CategoryFeedback, params, respcache.Prompt{
		Category:    respcache.CategoryFeedback,
		System:      tutorPrompt(lang, level, "Give concise, encouraging feedback in at most four sentences."),
		User:        user,
		MaxTokens:   300,
		Temperature: 0.3,
	})
}

// Hint returns a hint that does not give away the answer.
func (s *TextService) Hint(ctx context.Context, req HintRequest) (*TextResponse, error) {
	if err := required("exercise", req.Exercise); err != nil {
		return nil, err
	}
	if req.Attempt < 0 {
		return nil, fmt.Errorf("%w: attempt must not be negative", respcache.ErrBadRequest)
	}
	lang, level := normalize(req.Language, req.Level)
	// Attempts beyond the third share one cache entry.
	attempt := min(req.Attempt, 3)

	params := map[string]any{
		"exercise": req.Exercise,
		"language": lang,
		"level":    level,
		"attempt":  attempt,
	}
	directness := [...]string{"very subtle", "subtle", "fairly direct", "direct"}[attempt]
	return s.generate(ctx, respcache.CategoryHint, params, respcache.Prompt{
		Category:    respcache.CategoryHint,
		System:      tutorPrompt(lang, level, "Never reveal the answer."),
		User:        fmt.Sprintf("Exercise: %s\nGive one %s hint.", req.Exercise, directness),
		MaxTokens:   120,
		Temperature: 0.5,
	})
}

// Insight returns a short progress insight for a topic.
func (s *TextService) Insight(ctx context.Context, req InsightRequest) (*TextResponse, error) {
	if err := required("topic", req.Topic); err != nil {
		return nil, err
	}
	if req.Accuracy < 0 || req.Accuracy > 1 || req.Attempts < 0 {
		return nil, fmt.Errorf("%w: accuracy must be within [0, 1] and attempts non-negative", respcache.ErrBadRequest)
	}
	lang, level := normalize(req.Language, req.Level)
	// Accuracy is bucketed to 5% steps so near-identical progress shares an entry.
	bucket := int(req.Accuracy*20+0.5) * 5

	params := map[string]any{
		"topic":    req.Topic,
		"language": lang,
		"level":    level,
		"accuracy": bucket,
		"attempts": attemptsBand(req.Attempts),
	}
	return s.generate(ctx, respcache.CategoryInsight, params, respcache.Prompt{
		Category: respcache.CategoryInsight,
		System:   tutorPrompt(lang, level, "Write one motivating insight and one concrete next step."),
		User: fmt.Sprintf("Topic: %s\nAccuracy: %d%%\nAttempts: %s\nSummarize the learner's progress.",
			req.Topic, bucket, attemptsBand(req.Attempts)),
		MaxTokens:   200,
		Temperature: 0.7,
	})
}

func (s *TextService) generate(ctx context.Context, c respcache.Category, params map[string]any, p respcache.Prompt) (*TextResponse, error) {
	key, err := s.cache.Key(c, params)
	if err != nil {
		return nil, err
	}

	text, outcome, err := s.cache.GetOrComputeText(ctx, c, params, func(ctx context.Context) (string, error) {
		start := time.Now()
		text, err := s.gen.Generate(ctx, p)
		s.record(ctx, c, key, start, text, err)
		return text, err
	})
	if err != nil {
		if cache.IsCacheFailure(err) {
			s.logger.LogAttrs(ctx, slog.LevelError, "cache failure",
				slog.String("category", c.String()),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}
	return &TextResponse{
		Category: c,
		Text:     text,
		Cached:   outcome == cache.OutcomeHit,
		Outcome:  outcome.String(),
	}, nil
}

func (s *TextService) record(ctx context.Context, c respcache.Category, key string, start time.Time, text string, err error) {
	if s.recorder == nil {
		return
	}
	r := respcache.GenerationRecord{
		Category:  c,
		CacheKey:  key,
		Model:     s.model,
		LatencyMs: int(time.Since(start).Milliseconds()),
		Status:    "ok",
		Chars:     len([]rune(text)),
		RequestID: respcache.RequestIDFromContext(ctx),
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		r.Status = "error"
		r.Error = err.Error()
	}
	s.recorder.Record(r)
}

// Model returns the upstream model name recorded in the ledger.
func (s *TextService) Model() string { return s.model }

// UpstreamHealth checks the generator.
func (s *TextService) UpstreamHealth(ctx context.Context) error {
	return s.gen.HealthCheck(ctx)
}

func tutorPrompt(lang, level, rule string) string {
	return fmt.Sprintf("You are a patient %s tutor for a learner at CEFR level %s. %s", lang, level, rule)
}

func normalize(lang, level string) (string, string) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		lang = defaultLanguage
	}
	level = strings.ToUpper(strings.TrimSpace(level))
	if level == "" {
		level = "B1"
	}
	return lang, level
}

func attemptsBand(n int) string {
	switch {
	case n < 5:
		return "few"
	case n < 20:
		return "some"
	default:
		return "many"
	}
}

// required checks name/value pairs for non-empty, bounded values.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%w: %s is required", respcache.ErrBadRequest, pairs[i])
		}
		if err := bounded(pairs[i+1]); err != nil {
			return fmt.Errorf("%w (%s)", err, pairs[i])
		}
	}
	return nil
}

func bounded(v string) error {
	if len(v) > maxFieldLen {
		return fmt.Errorf("%w: field longer than %d bytes", respcache.ErrBadRequest, maxFieldLen)
	}
	return nil
}
