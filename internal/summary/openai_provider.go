package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"barwatch/internal/logging"
	"barwatch/internal/ratelimit"
	"barwatch/internal/search"
)

// OpenAIProvider produces structured summaries via a function-call-forced
// chat completion: the model has exactly one tool available and is required
// to call it, so its arguments decode directly into our result types.
type OpenAIProvider struct {
	sdk            sdk.Client
	fastModel      string
	reasoningModel string
	limiter        *ratelimit.Limiter
}

func NewOpenAIProvider(cfg Config, httpClient *http.Client, limiter *ratelimit.Limiter) *OpenAIProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	fast := strings.TrimSpace(cfg.FastModel)
	if fast == "" {
		fast = "gpt-4o-mini"
	}
	reasoning := strings.TrimSpace(cfg.ReasoningModel)
	if reasoning == "" {
		reasoning = "gpt-4o"
	}
	return &OpenAIProvider{
		sdk:            sdk.NewClient(opts...),
		fastModel:      fast,
		reasoningModel: reasoning,
		limiter:        limiter,
	}
}

func (p *OpenAIProvider) SummarizeBar(ctx context.Context, topic string, ticks []search.Tick, start, end time.Time) (BarSummary, error) {
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

func (p *OpenAIProvider) SynthesizeDigest(ctx context.Context, topic string, bars []BarInput, lookback time.Duration, now time.Time) (TopicDigest, error) {
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

func (p *OpenAIProvider) acquire(ctx context.Context, model string) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Acquire(ctx, categoryFor(model, p.reasoningModel))
}

func (p *OpenAIProvider) structuredCall(ctx context.Context, model, systemPrompt, userPrompt, toolName string, schema map[string]any) (json.RawMessage, error) {
	tool := sdk.ChatCompletionFunctionTool(sdk.FunctionDefinitionParam{
		Name:        toolName,
		Description: sdk.String("Emit the structured result for this request."),
		Parameters:  schema,
	})

	resp, err := p.sdk.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model: model,
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(systemPrompt),
			sdk.UserMessage(userPrompt),
		},
		Tools: []sdk.ChatCompletionToolUnionParam{tool},
		ToolChoice: sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: toolName},
			},
		},
	})
	if err != nil {
		return nil, &ProviderError{Message: "openai call failed", Cause: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Message: fmt.Sprintf("openai call for %s returned no choices", toolName)}
	}
	calls := resp.Choices[0].Message.ToolCalls
	for _, tc := range calls {
		if tc.Function.Name == toolName {
			return json.RawMessage(tc.Function.Arguments), nil
		}
	}
	logging.For("summary").Warn().Str("model", model).Msg("openai response had no matching tool call")
	return nil, &ProviderError{Message: fmt.Sprintf("openai call for %s returned no structured output", toolName)}
}
