// Package summary turns raw ticks and prior bars into structured natural
// language via a tool-forced LLM call: BarSummary per closed bar,
// TopicDigest over a lookback window. Provider selection mirrors
// manifold's llm/providers factory.
package summary

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"barwatch/internal/ratelimit"
	"barwatch/internal/search"
)

// SchemaError means the model's structured output decoded but failed
// validation against the target schema (missing field, sentiment out of
// [0,1], an engagement_level outside the enum, ...). Per spec.md §4.3 the
// provider must reject and surface this rather than accept a malformed
// response.
type SchemaError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("summary: schema error: field %q: %s", e.Field, e.Message)
}

// ProviderError wraps a non-schema failure surfaced by the backing LLM SDK
// (transport error, API error response, no tool_use block returned, ...).
type ProviderError struct {
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("summary: provider error: %s: %v", e.Message, e.Cause)
	}
	return "summary: provider error: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Sentiment is a continuous score in [0, 1]; 0 is most negative, 1 most
// positive, 0.5 is neutral. Chosen over a closed enum so digests over many
// bars can average sentiment meaningfully (see SPEC_FULL.md Open Questions).
type Sentiment = float64

const NeutralSentiment Sentiment = 0.5

// EngagementLevel buckets a bar's aggregate activity for quick scanning.
type EngagementLevel string

const (
	EngagementLow    EngagementLevel = "low"
	EngagementMedium EngagementLevel = "medium"
	EngagementHigh   EngagementLevel = "high"
)

// BarSummary is the structured output produced for one closed bar.
type BarSummary struct {
	Summary         string          `json:"summary"`
	KeyThemes       []string        `json:"key_themes"`
	Sentiment       Sentiment       `json:"sentiment"`
	PostCount       int             `json:"post_count"`
	EngagementLevel EngagementLevel `json:"engagement_level"`
	HighlightPosts  []string        `json:"highlight_posts,omitempty"`
}

// TopicDigest is the structured output produced over a lookback window of
// bars for a topic.
type TopicDigest struct {
	Topic             string    `json:"topic"`
	GeneratedAt       time.Time `json:"generated_at"`
	TimeRange         string    `json:"time_range"`
	OverallSummary    string    `json:"overall_summary"`
	KeyDevelopments   []string  `json:"key_developments"`
	TrendingElements  []string  `json:"trending_elements"`
	SentimentTrend    string    `json:"sentiment_trend"`
	Recommendations   []string  `json:"recommendations"`
}

// validateBarSummary rejects a decoded BarSummary with an empty summary,
// sentiment outside [0,1], or an engagement_level outside the enum. A
// missing key_themes or sentiment is not detected: each decodes to its zero
// value and passes.
func validateBarSummary(b BarSummary) error {
	if b.Summary == "" {
		return &SchemaError{Field: "summary", Message: "required, got empty string"}
	}
	if b.Sentiment < 0 || b.Sentiment > 1 {
		return &SchemaError{Field: "sentiment", Message: fmt.Sprintf("must be in [0,1], got %v", b.Sentiment)}
	}
	switch b.EngagementLevel {
	case EngagementLow, EngagementMedium, EngagementHigh:
	default:
		return &SchemaError{Field: "engagement_level", Message: fmt.Sprintf("must be one of low/medium/high, got %q", b.EngagementLevel)}
	}
	return nil
}

// validateTopicDigest rejects a decoded TopicDigest missing its required
// narrative field. time_range/topic/generated_at are populated locally
// after decode, not part of the model's schema, so they aren't checked here.
func validateTopicDigest(d TopicDigest) error {
	if d.OverallSummary == "" {
		return &SchemaError{Field: "overall_summary", Message: "required, got empty string"}
	}
	return nil
}

// BarInput is the digest's view of one already-summarized bar.
type BarInput struct {
	Start     time.Time
	Summary   string
	PostCount int
}

// emptyBarSummary is returned for bars with zero ticks, never calling the
// model.
func emptyBarSummary() BarSummary {
	return BarSummary{
		Summary:         "No posts in this time window",
		KeyThemes:       []string{},
		Sentiment:       NeutralSentiment,
		PostCount:       0,
		EngagementLevel: EngagementLow,
	}
}

// emptyDigest is returned for topics with no recent bars, never calling the
// model.
func emptyDigest(topic string, lookback time.Duration, now time.Time) TopicDigest {
	return TopicDigest{
		Topic:            topic,
		GeneratedAt:      now,
		TimeRange:        fmt.Sprintf("Last %s", lookback),
		OverallSummary:   "No recent activity to summarize",
		KeyDevelopments:  []string{},
		TrendingElements: []string{},
		SentimentTrend:   "stable",
		Recommendations:  []string{"Continue monitoring for activity"},
	}
}

// Engagement weights mirror the original adapter's highlight-selection
// scoring; they are used only by SelectHighlights.
const (
	weightLike    = 2
	weightRetweet = 3
	weightReply   = 4
	weightQuote   = 2
)

func engagementScore(t search.Tick) int64 {
	return weightLike*t.Metrics[search.MetricLikes] +
		weightRetweet*t.Metrics[search.MetricRetweets] +
		weightReply*t.Metrics[search.MetricReplies] +
		weightQuote*t.Metrics[search.MetricQuotes]
}

// SelectHighlights returns up to two tick IDs, the top ones by (engagement
// desc, timestamp desc, id asc).
func SelectHighlights(ticks []search.Tick) []string {
	sorted := make([]search.Tick, len(ticks))
	copy(sorted, ticks)
	sort.Slice(sorted, func(i, j int) bool {
		si, sj := engagementScore(sorted[i]), engagementScore(sorted[j])
		if si != sj {
			return si > sj
		}
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.After(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})
	n := len(sorted)
	if n > 2 {
		n = 2
	}
	out := make([]string, n)
	for i := range out {
		out[i] = sorted[i].ID
	}
	return out
}

func engagementLevel(postCount int) EngagementLevel {
	switch {
	case postCount >= 50:
		return EngagementHigh
	case postCount >= 10:
		return EngagementMedium
	default:
		return EngagementLow
	}
}

// Rate limit categories: fast model summarization is cheap and frequent
// (one per closed bar), reasoning model digests are rarer and heavier.
const (
	CategoryFast      = "summary_fast"
	CategoryReasoning = "summary_reasoning"
)

// Provider is the structured-output backend: one call per closed bar, one
// call per digest request.
type Provider interface {
	SummarizeBar(ctx context.Context, topic string, ticks []search.Tick, start, end time.Time) (BarSummary, error)
	SynthesizeDigest(ctx context.Context, topic string, bars []BarInput, lookback time.Duration, now time.Time) (TopicDigest, error)
}

// Config selects and configures a Provider backend.
type Config struct {
	ProviderName   string // "anthropic" or "openai"
	APIKey         string
	FastModel      string
	ReasoningModel string
}

// Build constructs a Provider from cfg, installing its rate-limit
// categories on limiter if not already configured.
func Build(cfg Config, httpClient *http.Client, limiter *ratelimit.Limiter) (Provider, error) {
	installDefaultCategories(limiter)
	switch cfg.ProviderName {
	case "", "anthropic":
		return NewAnthropicProvider(cfg, httpClient, limiter), nil
	case "openai":
		return NewOpenAIProvider(cfg, httpClient, limiter), nil
	default:
		return nil, fmt.Errorf("summary: unsupported provider %q", cfg.ProviderName)
	}
}

func installDefaultCategories(limiter *ratelimit.Limiter) {
	if limiter == nil {
		return
	}
	limiter.Configure(CategoryFast, ratelimit.Config{RequestsPerWindow: 60, WindowSeconds: 60, Strategy: ratelimit.SlidingWindow})
	limiter.Configure(CategoryReasoning, ratelimit.Config{RequestsPerWindow: 10, WindowSeconds: 60, Strategy: ratelimit.SlidingWindow})
}

// categoryFor picks the rate-limit category for a model name.
func categoryFor(model, reasoningModel string) string {
	if model == reasoningModel {
		return CategoryReasoning
	}
	return CategoryFast
}
