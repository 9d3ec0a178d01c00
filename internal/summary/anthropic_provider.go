package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"barwatch/internal/logging"
	"barwatch/internal/ratelimit"
	"barwatch/internal/search"
)

const defaultMaxTokens int64 = 1024

// barSummaryToolName is the tool Anthropic is forced to call so its
// response parses directly into BarSummary.
const barSummaryToolName = "emit_bar_summary"
const topicDigestToolName = "emit_topic_digest"

// AnthropicProvider produces structured summaries via tool-forced calls.
type AnthropicProvider struct {
	sdk            anthropic.Client
	fastModel      string
	reasoningModel string
	limiter        *ratelimit.Limiter
}

// NewAnthropicProvider constructs an AnthropicProvider. httpClient may be
// nil, in which case http.DefaultClient is used.
func NewAnthropicProvider(cfg Config, httpClient *http.Client, limiter *ratelimit.Limiter) *AnthropicProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	fast := strings.TrimSpace(cfg.FastModel)
	if fast == "" {
		fast = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	reasoning := strings.TrimSpace(cfg.ReasoningModel)
	if reasoning == "" {
		reasoning = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicProvider{
		sdk:            anthropic.NewClient(opts...),
		fastModel:      fast,
		reasoningModel: reasoning,
		limiter:        limiter,
	}
}

var barSummarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary":          map[string]any{"type": "string"},
		"key_themes":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"sentiment":        map[string]any{"type": "number"},
		"engagement_level": map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
	},
	"required": []string{"summary", "key_themes", "sentiment", "engagement_level"},
}

var topicDigestSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"overall_summary":   map[string]any{"type": "string"},
		"key_developments":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"trending_elements": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"sentiment_trend":   map[string]any{"type": "string"},
		"recommendations":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"overall_summary", "key_developments", "trending_elements", "sentiment_trend", "recommendations"},
}

func (p *AnthropicProvider) SummarizeBar(ctx context.Context, topic string, ticks []search.Tick, start, end time.Time) (BarSummary, error) {
	if len(ticks) == 0 {
		return emptyBarSummary(), nil
	}
	if err := p.acquire(ctx, p.fastModel); err != nil {
		return BarSummary{}, err
	}

	sysPrompt := "You are summarizing a time window of social media posts for a live monitoring dashboard. Create a brief, structured summary focused on what happened in this specific time window."
	userPrompt := buildBarPrompt(topic, ticks, start, end)

	raw, err := p.structuredCall(ctx, p.fastModel, sysPrompt, userPrompt, barSummaryToolName, barSummarySchema)
	if err != nil {
		return BarSummary{}, err
	}

	var out BarSummary
	if err := json.Unmarshal(raw, &out); err != nil {
		return BarSummary{}, &ProviderError{Message: "decoding bar summary", Cause: err}
	}
	if err := validateBarSummary(out); err != nil {
		return BarSummary{}, err
	}
	out.PostCount = len(ticks)
	out.EngagementLevel = engagementLevel(out.PostCount)
	out.HighlightPosts = SelectHighlights(ticks)
	return out, nil
}

func (p *AnthropicProvider) SynthesizeDigest(ctx context.Context, topic string, bars []BarInput, lookback time.Duration, now time.Time) (TopicDigest, error) {
	if len(bars) == 0 {
		return emptyDigest(topic, lookback, now), nil
	}
	if err := p.acquire(ctx, p.reasoningModel); err != nil {
		return TopicDigest{}, err
	}

	sysPrompt := "You are creating an executive digest for a topic's recent activity across multiple time windows. Provide contextual analysis of trends, developments, and recommendations for monitoring."
	userPrompt := buildDigestPrompt(topic, bars, lookback)

	raw, err := p.structuredCall(ctx, p.reasoningModel, sysPrompt, userPrompt, topicDigestToolName, topicDigestSchema)
	if err != nil {
		return TopicDigest{}, err
	}

	var out TopicDigest
	if err := json.Unmarshal(raw, &out); err != nil {
		return TopicDigest{}, &ProviderError{Message: "decoding digest", Cause: err}
	}
	if err := validateTopicDigest(out); err != nil {
		return TopicDigest{}, err
	}
	out.Topic = topic
	out.GeneratedAt = now
	out.TimeRange = fmt.Sprintf("Last %s", lookback)
	return out, nil
}

func (p *AnthropicProvider) acquire(ctx context.Context, model string) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Acquire(ctx, categoryFor(model, p.reasoningModel))
}

func (p *AnthropicProvider) structuredCall(ctx context.Context, model, systemPrompt, userPrompt, toolName string, schema map[string]any) (json.RawMessage, error) {
	tool := anthropic.ToolParam{
		Name:        toolName,
		Description: anthropic.String("Emit the structured result for this request."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Type:       constant.ValueOf[constant.Object](),
			Properties: schema["properties"],
		},
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
		Tools: []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: toolName},
		},
	}

	resp, err := p.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, &ProviderError{Message: "anthropic call failed", Cause: err}
	}

	for _, block := range resp.Content {
		if block.Type == "tool_use" && block.Name == toolName {
			return block.Input, nil
		}
	}
	logging.For("summary").Warn().Str("model", model).Msg("anthropic response had no matching tool_use block")
	return nil, &ProviderError{Message: fmt.Sprintf("anthropic call for %s returned no structured output", toolName)}
}

func buildBarPrompt(topic string, ticks []search.Tick, start, end time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	fmt.Fprintf(&b, "Time Window: %s-%s\n", start.Format("15:04"), end.Format("15:04"))
	fmt.Fprintf(&b, "Posts (%d total):\n\n", len(ticks))
	limit := len(ticks)
	if limit > 10 {
		limit = 10
	}
	for _, t := range ticks[:limit] {
		text := t.Text
		if len(text) > 200 {
			text = text[:200]
		}
		fmt.Fprintf(&b, "@%s: %s...\n", t.Author, text)
	}
	if len(ticks) > 10 {
		fmt.Fprintf(&b, "\n... and %d more posts", len(ticks)-10)
	}
	return b.String()
}

func buildDigestPrompt(topic string, bars []BarInput, lookback time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	fmt.Fprintf(&b, "Time Period: Last %s\n", lookback)
	fmt.Fprintf(&b, "Bar Summaries (%d total bars):\n\n", len(bars))
	start := 0
	if len(bars) > 12 {
		start = len(bars) - 12
	}
	for i, bar := range bars[start:] {
		fmt.Fprintf(&b, "Bar %d (%s): %s (%d posts)\n", i+1, bar.Start.Format(time.RFC3339), bar.Summary, bar.PostCount)
	}
	return b.String()
}
