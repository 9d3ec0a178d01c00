// Package search defines the abstract upstream search provider: it issues
// time-bounded queries and parses responses into Ticks. Wire formats of any
// concrete upstream are intentionally out of scope; HTTPProvider below is
// one concrete shape a deployment can point at a bearer-token search API,
// and FakeProvider is a deterministic in-memory stand-in for dev/test.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"barwatch/internal/logging"
	"barwatch/internal/ratelimit"
)

// Category is the rate-limit category RateLimitedProvider acquires from
// before every delegated call. The Limiter itself is shared with the summary
// provider, which charges its own categories.
const Category = "search"

// Tick is one observed post. Immutable after construction.
type Tick struct {
	ID        string
	Author    string
	Text      string
	Timestamp time.Time
	Metrics   map[string]int64
	Topic     string
}

// Recognized engagement metric names.
const (
	MetricLikes       = "like_count"
	MetricRetweets    = "retweet_count"
	MetricReplies     = "reply_count"
	MetricQuotes      = "quote_count"
	MetricImpressions = "impression_count"
)

// freshnessBuffer is the minimum distance end must sit behind "now" for a
// search window to be considered safe to send upstream.
const freshnessBuffer = 15 * time.Second

// AuthError means the provider rejected our credentials outright (HTTP 401).
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "search: auth error: " + e.Message }

// RateLimitError means the upstream itself throttled us (HTTP 429), carrying
// whatever reset/remaining/limit state it reported.
type RateLimitError struct {
	Message   string
	ResetAt   time.Time
	Remaining int
	Limit     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("search: rate limited: %s (reset at %s, remaining %d/%d)",
		e.Message, e.ResetAt.Format(time.RFC3339), e.Remaining, e.Limit)
}

// ProviderError wraps any other non-2xx response from the upstream.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("search: provider error: status=%d body=%s", e.StatusCode, e.Body)
}

// TransportError means the request never got a response at all: timeout,
// connection refused, DNS failure, context cancellation.
type TransportError struct {
	Message string
	Cause   error
}

func (e *TransportError) Error() string { return "search: transport error: " + e.Message }
func (e *TransportError) Unwrap() error { return e.Cause }

// Provider issues time-bounded search queries against an upstream source.
type Provider interface {
	// Search returns ticks matching query under topicLabel observed in the
	// half-open window [start, end). maxResults must be in [10, 100]; the
	// implementations in this package clamp it via ClampMaxResults.
	Search(ctx context.Context, query, topicLabel string, start, end time.Time, maxResults int) ([]Tick, error)
}

// WithinDeadBand reports whether end is too close to (or past) "now" for the
// call to be issued upstream at all; callers MUST return an empty result
// without contacting upstream when this is true.
func WithinDeadBand(end, now time.Time) bool {
	return now.Sub(end) < freshnessBuffer
}

// NormalizeQuery appends the "-is:retweet" marker once if the caller's query
// doesn't already carry it. Queries are otherwise opaque to this layer.
func NormalizeQuery(query string) string {
	if strings.Contains(strings.ToLower(query), "-is:retweet") {
		return query
	}
	return strings.TrimSpace(query) + " -is:retweet"
}

// ClampMaxResults enforces the [10, 100] contract the provider owes upstream.
func ClampMaxResults(n int) int {
	if n < 10 {
		return 10
	}
	if n > 100 {
		return 100
	}
	return n
}

// HTTPProvider queries a bearer-token-authenticated search endpoint over
// HTTP. It does not retry and does not rate-limit; wrap it in
// RateLimitedProvider to charge the shared limiter before each call.
type HTTPProvider struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
}

// NewHTTPProvider constructs an HTTPProvider. httpClient may be nil, in which
// case http.DefaultClient is used.
func NewHTTPProvider(baseURL, bearerToken string, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPProvider{baseURL: strings.TrimRight(baseURL, "/"), bearerToken: bearerToken, httpClient: httpClient}
}

type searchResponseBody struct {
	Data []struct {
		ID            string `json:"id"`
		Author        string `json:"author"`
		Text          string `json:"text"`
		Timestamp     string `json:"timestamp"`
		LikeCount     int64  `json:"like_count"`
		RetweetCount  int64  `json:"retweet_count"`
		ReplyCount    int64  `json:"reply_count"`
		QuoteCount    int64  `json:"quote_count"`
		Impressions   int64  `json:"impression_count"`
	} `json:"data"`
}

func (p *HTTPProvider) Search(ctx context.Context, query, topicLabel string, start, end time.Time, maxResults int) ([]Tick, error) {
	if WithinDeadBand(end, time.Now()) {
		return nil, nil
	}
	maxResults = ClampMaxResults(maxResults)
	q := NormalizeQuery(query)

	u, err := url.Parse(p.baseURL + "/search")
	if err != nil {
		return nil, &TransportError{Message: "invalid base URL", Cause: err}
	}
	values := u.Query()
	values.Set("query", q)
	values.Set("start_time", start.UTC().Format(time.RFC3339))
	values.Set("end_time", end.UTC().Format(time.RFC3339))
	values.Set("max_results", strconv.Itoa(maxResults))
	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Message: "building request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.bearerToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthError{Message: string(body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			Message:   string(body),
			ResetAt:   parseResetHeader(resp.Header.Get("x-rate-limit-reset")),
			Remaining: parseIntHeader(resp.Header.Get("x-rate-limit-remaining")),
			Limit:     parseIntHeader(resp.Header.Get("x-rate-limit-limit")),
		}
	case resp.StatusCode >= 400:
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed searchResponseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: "unparseable response: " + err.Error()}
	}

	ticks := make([]Tick, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		ts, err := time.Parse(time.RFC3339, d.Timestamp)
		if err != nil {
			logging.For("search").Warn().Str("id", d.ID).Msg("dropping tick with unparseable timestamp")
			continue
		}
		ticks = append(ticks, Tick{
			ID:        d.ID,
			Author:    d.Author,
			Text:      d.Text,
			Timestamp: ts,
			Topic:     topicLabel,
			Metrics: map[string]int64{
				MetricLikes:       d.LikeCount,
				MetricRetweets:    d.RetweetCount,
				MetricReplies:     d.ReplyCount,
				MetricQuotes:      d.QuoteCount,
				MetricImpressions: d.Impressions,
			},
		})
	}
	return ticks, nil
}

func parseIntHeader(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}

func parseResetHeader(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0)
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	return time.Time{}
}

// FakeProvider returns canned ticks without contacting any upstream. It
// exists for dev/test deployments that don't carry real provider
// credentials (see AUTO_START in internal/config).
type FakeProvider struct {
	Ticks []Tick
}

// RateLimitedProvider wraps another Provider, acquiring from the shared
// limiter's Category before every delegated call. The poller invokes
// Provider.Search without itself knowing about rate limiting (see
// internal/poller): per spec, "search... which acquires from the shared
// rate limiter before issuing the upstream call" is the provider's job.
type RateLimitedProvider struct {
	Inner   Provider
	Limiter *ratelimit.Limiter
}

func NewRateLimitedProvider(inner Provider, limiter *ratelimit.Limiter) *RateLimitedProvider {
	limiter.Configure(Category, ratelimit.Config{RequestsPerWindow: 1000, WindowSeconds: 60, Strategy: ratelimit.SlidingWindow})
	return &RateLimitedProvider{Inner: inner, Limiter: limiter}
}

func (p *RateLimitedProvider) Search(ctx context.Context, query, topicLabel string, start, end time.Time, maxResults int) ([]Tick, error) {
	if err := p.Limiter.Acquire(ctx, Category); err != nil {
		return nil, err
	}
	return p.Inner.Search(ctx, query, topicLabel, start, end, maxResults)
}

func (p *FakeProvider) Search(ctx context.Context, query, topicLabel string, start, end time.Time, maxResults int) ([]Tick, error) {
	if WithinDeadBand(end, time.Now()) {
		return nil, nil
	}
	maxResults = ClampMaxResults(maxResults)
	out := make([]Tick, 0, len(p.Ticks))
	for _, t := range p.Ticks {
		if t.Timestamp.Before(start) || !t.Timestamp.Before(end) {
			continue
		}
		t.Topic = topicLabel
		out = append(out, t)
		if len(out) >= maxResults {
			break
		}
	}
	return out, nil
}
