// Package digest synthesizes a run of recent bars into an executive
// narrative via a SummaryProvider call.
package digest

import (
	"context"
	"time"

	"barwatch/internal/bars"
	"barwatch/internal/barstore"
	"barwatch/internal/summary"
)

// Service computes a TopicDigest from recently stored bars.
type Service struct {
	store      *barstore.Store
	summarizer summary.Provider
}

func NewService(store *barstore.Store, summarizer summary.Provider) *Service {
	return &Service{store: store, summarizer: summarizer}
}

// CreateDigest builds a digest for topic from up to lookbackBars recent
// bars at resolution. If no bars are available, the provider is still called,
// with an empty bar list and a one-hour lookback; the summary providers in
// this repository answer that with a canned empty digest without making a
// model call or charging the rate limiter.
func (s *Service) CreateDigest(ctx context.Context, topic, resolution string, lookbackBars int) (summary.TopicDigest, error) {
	recent := s.store.Recent(topic, resolution, lookbackBars)
	now := time.Now().UTC()

	if len(recent) == 0 {
		return s.summarizer.SynthesizeDigest(ctx, topic, nil, time.Hour, now)
	}

	oldestStart := recent[len(recent)-1].Start
	newestEnd := recent[0].End
	for _, b := range recent {
		if b.Start.Before(oldestStart) {
			oldestStart = b.Start
		}
		if b.End.After(newestEnd) {
			newestEnd = b.End
		}
	}
	lookback := newestEnd.Sub(oldestStart)
	if lookback < time.Hour {
		lookback = time.Hour
	}

	inputs := make([]summary.BarInput, 0, len(recent))
	for _, b := range recent {
		inputs = append(inputs, barToInput(b))
	}

	return s.summarizer.SynthesizeDigest(ctx, topic, inputs, lookback, now)
}

func barToInput(b bars.Bar) summary.BarInput {
	text := "No summary"
	if b.Summary != nil {
		text = b.Summary.Summary
	}
	return summary.BarInput{Start: b.Start, Summary: text, PostCount: b.PostCount}
}
