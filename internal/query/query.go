// Package query implements the read path: serving bar/digest requests from
// the bar store with a generation fallback, independent of any HTTP
// framework (see cmd/barwatch for the thin wiring).
package query

import (
	"context"
	"fmt"
	"time"

	"barwatch/internal/bars"
	"barwatch/internal/barstore"
	"barwatch/internal/digest"
	"barwatch/internal/poller"
	"barwatch/internal/summary"
	"barwatch/internal/ticks"
	"barwatch/internal/topics"
)

// Service is the read/control surface a thin HTTP layer wraps.
type Service struct {
	registry  *topics.Registry
	ticks     *ticks.Store
	barStore  *barstore.Store
	generator *bars.Generator
	digest    *digest.Service
	poller    *poller.Poller
}

func NewService(registry *topics.Registry, tickStore *ticks.Store, barStore *barstore.Store, generator *bars.Generator, digestSvc *digest.Service, p *poller.Poller) *Service {
	return &Service{registry: registry, ticks: tickStore, barStore: barStore, generator: generator, digest: digestSvc, poller: p}
}

// Registry exposes the underlying topic registry for lifecycle operations
// (add/list/get/pause/resume) that need no orchestration across stores.
func (s *Service) Registry() *topics.Registry {
	return s.registry
}

// RemoveTopic stops watching a topic and cascades the clear to its ticks
// and bars, so a subsequent Get returns ErrNotFound and no stale data
// lingers in either store.
func (s *Service) RemoveTopic(topicID string) error {
	topic, err := s.registry.Get(topicID)
	if err != nil {
		return err
	}
	if err := s.registry.Remove(topicID); err != nil {
		return err
	}
	s.ticks.Clear(topic.Label)
	s.barStore.ClearTopic(topic.Label)
	return nil
}

// SetResolution changes a topic's default resolution.
func (s *Service) SetResolution(topicID, resolution string) (topics.Topic, error) {
	return s.registry.SetResolution(topicID, resolution)
}

// GetBars implements §4.11: consult the store; if it's empty for this key
// but ticks exist, synthesize metrics-only bars without storing them.
func (s *Service) GetBars(ctx context.Context, topicID, resolution string, limit int, withSummaries bool) ([]bars.Bar, error) {
	topic, err := s.registry.Get(topicID)
	if err != nil {
		return nil, err
	}
	if resolution == "" {
		resolution = topic.Resolution
	}
	res, ok := bars.LookupResolution(resolution)
	if !ok {
		return nil, fmt.Errorf("%w: unknown resolution %q", topics.ErrInvalidArgument, resolution)
	}
	if limit <= 0 {
		limit = 50
	}

	stored := s.barStore.Recent(topic.Label, res.Name, limit)
	if len(stored) > 0 {
		if !withSummaries {
			stored = stripSummaries(stored)
		}
		return stored, nil
	}

	if _, _, hasTicks := s.ticks.TimeRange(topic.Label); !hasTicks {
		return s.emptyBars(topic.Label, res, limit), nil
	}

	return s.synthesizeBars(ctx, topic.Label, res, limit)
}

// synthesizeBars builds metrics-only bars from raw ticks on a BarStore miss.
// It never invokes the SummaryProvider: per spec.md §4.11 the read path must
// never block on a summary call, so with_summaries only ever reflects
// summaries already cached on a stored bar (the step-3 fast path above),
// never one generated here.
func (s *Service) synthesizeBars(ctx context.Context, label string, res bars.Resolution, limit int) ([]bars.Bar, error) {
	end, _ := bars.Window(res, time.Now())
	out := make([]bars.Bar, 0, limit)
	for i := 0; i < limit; i++ {
		start := end.Add(-res.Duration())
		tickList := s.ticks.Get(label, start, end)
		bar, _ := s.generator.GenerateBar(ctx, label, res.Name, tickList, start, end, false)
		out = append(out, bar)
		end = start
	}
	return out, nil
}

// stripSummaries returns a copy of bars with Summary cleared, so a caller
// passing with_summaries=false doesn't pay to serialize them.
func stripSummaries(in []bars.Bar) []bars.Bar {
	out := make([]bars.Bar, len(in))
	for i, b := range in {
		b.Summary = nil
		out[i] = b
	}
	return out
}

func (s *Service) emptyBars(label string, res bars.Resolution, limit int) []bars.Bar {
	end, _ := bars.Window(res, time.Now())
	out := make([]bars.Bar, 0, limit)
	for i := 0; i < limit; i++ {
		start := end.Add(-res.Duration())
		out = append(out, bars.Bar{Topic: label, Resolution: res.Name, Start: start, End: end})
		end = start
	}
	return out
}

// GetLatestBar returns the first bar GetBars yields for a limit of 1: the
// newest stored bar, or else the newest synthesized bar, which has a zero
// PostCount when the topic has no ticks. For a known topic a bar is always
// returned; ok is false only if GetBars returns no bars.
func (s *Service) GetLatestBar(ctx context.Context, topicID, resolution string) (bars.Bar, bool, error) {
	got, err := s.GetBars(ctx, topicID, resolution, 1, true)
	if err != nil {
		return bars.Bar{}, false, err
	}
	if len(got) == 0 {
		return bars.Bar{}, false, nil
	}
	return got[0], true, nil
}

// PollResult is the response shape for a manually triggered poll.
type PollResult struct {
	Success    bool
	NewTicks   int
	TotalTicks int
}

// TriggerPoll runs one poll for topicID synchronously and reports counts.
func (s *Service) TriggerPoll(ctx context.Context, topicID string) (PollResult, error) {
	topic, err := s.registry.Get(topicID)
	if err != nil {
		return PollResult{}, err
	}
	before := s.ticks.Count(topic.Label)
	s.poller.PollTopic(ctx, topicID)
	after, err := s.registry.Get(topicID)
	if err != nil {
		return PollResult{}, err
	}
	total := s.ticks.Count(topic.Label)
	return PollResult{Success: after.Status != topics.StatusError, NewTicks: total - before, TotalTicks: total}, nil
}

// CreateDigest delegates to the digest service using the topic's default
// resolution.
func (s *Service) CreateDigest(ctx context.Context, topicID string, lookbackBars int) (summary.TopicDigest, error) {
	topic, err := s.registry.Get(topicID)
	if err != nil {
		return summary.TopicDigest{}, err
	}
	return s.digest.CreateDigest(ctx, topic.Label, topic.Resolution, lookbackBars)
}

// Health reports a lightweight liveness summary.
type Health struct {
	Status       string
	TopicsCount  int
	ActiveTopics int
}

func (s *Service) Health() Health {
	all := s.registry.List()
	active := s.registry.ActiveTopics()
	return Health{Status: "ok", TopicsCount: len(all), ActiveTopics: len(active)}
}

// Resolutions returns every supported resolution token and its seconds.
func (s *Service) Resolutions() []bars.Resolution {
	return bars.Resolutions
}
