// Package respcache defines domain types and interfaces for the response cache
// that fronts AI-generated feedback, hint and insight text.
// This package has no project imports -- it is the dependency root.
package respcache

import (
	"context"
	"fmt"
	"time"
)

// --- Categories ---

// Category classifies cached content. It selects the entry TTL and is part
// of the cache key, so content of different categories never collides.
type Category uint8

const (
	// CategoryFeedback is feedback text on a learner's answer.
	CategoryFeedback Category = iota
	// CategoryHint is a hint for an exercise.
	CategoryHint
	// CategoryInsight is a progress insight for a learner.
	CategoryInsight
	// CategoryOther is any other generated content.
	CategoryOther

	numCategories
)

var categoryNames = [numCategories]string{
	CategoryFeedback: "feedback",
	CategoryHint:     "hint",
	CategoryInsight:  "insight",
	CategoryOther:    "other",
}

// Categories returns all categories in declaration order.
func Categories() []Category {
	return []Category{CategoryFeedback, CategoryHint, CategoryInsight, CategoryOther}
}

// String returns the wire name of the category.
func (c Category) String() string {
	if c < numCategories {
		return categoryNames[c]
	}
	return "unknown"
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool { return c < numCategories }

// ParseCategory maps a wire name to a Category. Unknown names are an error
// rather than a fallback to CategoryOther.
func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown cache category %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid cache category %d", c)
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TTLTable maps every category to its default entry lifetime.
type TTLTable [numCategories]time.Duration

// DefaultTTLs returns the built-in per-category TTLs.
func DefaultTTLs() TTLTable {
	return TTLTable{
		CategoryFeedback: time.Hour,
		CategoryHint:     30 * time.Minute,
		CategoryInsight:  2 * time.Hour,
		CategoryOther:    15 * time.Minute,
	}
}

// TTL returns the lifetime for c. Invalid categories get the CategoryOther TTL.
func (t *TTLTable) TTL(c Category) time.Duration {
	if !c.Valid() {
		return t[CategoryOther]
	}
	return t[c]
}

// --- Tiers ---

// Tier identifies one of the two cache backends.
type Tier uint8

const (
	TierLocal Tier = iota
	TierRemote
)

// String returns the tier name used in logs and metric labels.
func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// --- Upstream generation ---

// Prompt is a single text generation request to the upstream model.
type Prompt struct {
	Category    Category `json:"category"`
	System      string   `json:"system"`
	User        string   `json:"user"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
}

// Generator is the expensive, rate-limited upstream text generation call.
type Generator interface {
	// Generate returns the generated text for p.
	Generate(ctx context.Context, p Prompt) (string, error)
	// HealthCheck verifies connectivity to the upstream.
	HealthCheck(ctx context.Context) error
}

// GenerationRecord is a ledger entry for one upstream generation call.
type GenerationRecord struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	CacheKey  string    `json:"cache_key"`
	Model     string    `json:"model"`
	LatencyMs int       `json:"latency_ms"`
	Status    string    `json:"status"` // "ok" or "error"
	Error     string    `json:"error,omitempty"`
	Chars     int       `json:"chars"`
	RequestID string    `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerationFilter narrows ledger queries.
type GenerationFilter struct {
	Category string
	Status   string
	Since    string // RFC3339
	Limit    int
	Offset   int
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
