// Package poller implements the periodic multi-topic fetch loop: for every
// active topic, pull the safe polling window from the search provider and
// feed accepted ticks into the tick store.
package poller

import (
	"context"
	"sync"
	"time"

	"barwatch/internal/logging"
	"barwatch/internal/search"
	"barwatch/internal/ticks"
	"barwatch/internal/topics"
)

// minResolutionSeconds is the fundamental polling cadence (matches the
// shortest supported bar width).
const minResolutionSeconds = 15

// safetyMargin keeps the polling window's end comfortably behind "now" so
// the search provider never has to apply its own dead-band rejection.
const safetyMargin = 15 * time.Second

// Poller periodically fetches ticks for every active topic.
type Poller struct {
	registry *topics.Registry
	store    *ticks.Store
	provider search.Provider

	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Poller. interval <= 0 defaults to minResolutionSeconds.
func New(registry *topics.Registry, store *ticks.Store, provider search.Provider, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = minResolutionSeconds * time.Second
	}
	return &Poller{registry: registry, store: store, provider: provider, interval: interval}
}

// Start launches the background polling loop. No-op if already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		logging.For("poller").Warn().Msg("poller already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.loop(loopCtx)
	logging.For("poller").Info().Dur("interval", p.interval).Msg("poller started")
}

// Stop cancels the loop and waits for any in-flight topic poll to finish
// (so accepted ticks are never lost), then returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	logging.For("poller").Info().Msg("poller stopped")
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pollAllTopics(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollAllTopics(ctx context.Context) {
	active := p.registry.ActiveTopics()
	if len(active) == 0 {
		logging.For("poller").Debug().Msg("no active topics to poll")
		return
	}

	for _, topic := range active {
		if err := ctx.Err(); err != nil {
			return
		}
		p.PollTopic(ctx, topic.ID)
		// Yield briefly between topics so one slow topic doesn't starve the
		// shared rate-limit category's fairness across the rest.
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// PollTopic fetches and stores ticks for one topic's safe polling window.
// Errors are recorded on the topic and logged; they are never returned to
// the caller so the surrounding loop never dies.
func (p *Poller) PollTopic(ctx context.Context, topicID string) {
	log := logging.For("poller")

	topic, err := p.registry.Get(topicID)
	if err != nil {
		log.Warn().Str("topic", topicID).Err(err).Msg("topic not found")
		return
	}
	if topic.Status != topics.StatusActive {
		log.Debug().Str("topic", topicID).Msg("topic not active, skipping poll")
		return
	}

	now := time.Now().UTC()
	end := now.Add(-safetyMargin)
	start := end.Add(-minResolutionSeconds * time.Second)

	fetched, err := p.provider.Search(ctx, topic.Query, topic.Label, start, end, 100)
	if err != nil {
		p.recordFailure(topic.ID, err)
		return
	}

	newCount, err := p.store.Add(ctx, topic.Label, fetched)
	if err != nil {
		p.recordFailure(topic.ID, err)
		return
	}

	if err := p.registry.RecordPoll(topic.ID, newCount, now); err != nil {
		log.Warn().Str("topic", topic.ID).Err(err).Msg("failed to record poll bookkeeping")
	}
	log.Info().Str("topic", topic.ID).Int("new_ticks", newCount).Time("start", start).Time("end", end).Msg("polled topic")
}

func (p *Poller) recordFailure(topicID string, err error) {
	msg := err.Error()
	logging.For("poller").Error().Str("topic", topicID).Err(err).Msg("poll failed")
	if markErr := p.registry.MarkError(topicID, msg); markErr != nil {
		logging.For("poller").Warn().Str("topic", topicID).Err(markErr).Msg("failed to mark topic error")
	}
}
