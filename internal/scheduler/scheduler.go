// Package scheduler runs one periodic task per supported resolution: on
// each bar-close boundary it projects the just-closed bar for every active
// topic and stores it, backfilling historical metrics-only bars on
// startup so reads are never empty.
package scheduler

import (
	"context"
	"sync"
	"time"

	"barwatch/internal/barstore"
	"barwatch/internal/bars"
	"barwatch/internal/logging"
	"barwatch/internal/ticks"
	"barwatch/internal/topics"
)

// closeSafetyMargin gives the search/ticks pipeline a moment to finish
// writing a window's ticks before the scheduler projects it.
const closeSafetyMargin = 2 * time.Second

// InitialBackfillCount is how many historical metrics-only bars are
// generated per (active topic, resolution) at startup.
const InitialBackfillCount = 50

// Scheduler owns one goroutine per resolution.
type Scheduler struct {
	registry  *topics.Registry
	ticks     *ticks.Store
	store     *barstore.Store
	generator *bars.Generator

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(registry *topics.Registry, tickStore *ticks.Store, barStore *barstore.Store, generator *bars.Generator) *Scheduler {
	return &Scheduler{registry: registry, ticks: tickStore, store: barStore, generator: generator}
}

// Start backfills every active (topic, resolution) pair, then launches one
// goroutine per resolution that fires on each resolution's close boundary.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		logging.For("scheduler").Warn().Msg("scheduler already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.backfillAll()

	for _, res := range bars.Resolutions {
		res := res
		s.wg.Add(1)
		go s.runResolution(loopCtx, res)
	}
	logging.For("scheduler").Info().Int("resolutions", len(bars.Resolutions)).Msg("scheduler started")
}

// Stop cancels every resolution's loop and waits for in-flight bar writes
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	logging.For("scheduler").Info().Msg("scheduler stopped")
}

func (s *Scheduler) backfillAll() {
	topics := s.registry.ActiveTopics()
	for _, res := range bars.Resolutions {
		for _, topic := range topics {
			s.backfillTopic(topic.Label, res)
		}
	}
}

func (s *Scheduler) backfillTopic(label string, res bars.Resolution) {
	end, _ := bars.Window(res, time.Now())
	for i := 0; i < InitialBackfillCount; i++ {
		start := end.Add(-res.Duration())
		tickList := s.ticks.Get(label, start, end)
		bar, err := s.generator.GenerateBar(context.Background(), label, res.Name, tickList, start, end, false)
		if err != nil {
			logging.For("scheduler").Warn().Str("topic", label).Str("resolution", res.Name).Err(err).Msg("backfill bar generation failed")
		} else {
			s.store.Put(bar)
		}
		end = start
	}
}

func (s *Scheduler) runResolution(ctx context.Context, res bars.Resolution) {
	defer s.wg.Done()
	log := logging.For("scheduler").With().Str("resolution", res.Name).Logger()

	for {
		next := nextBoundary(res, time.Now())
		wait := time.Until(next.Add(closeSafetyMargin))
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if ctx.Err() != nil {
			return
		}

		windowEnd := next
		windowStart := windowEnd.Add(-res.Duration())
		s.closeWindow(ctx, res, windowStart, windowEnd)
		log.Debug().Time("start", windowStart).Time("end", windowEnd).Msg("closed bar window")
	}
}

func (s *Scheduler) closeWindow(ctx context.Context, res bars.Resolution, start, end time.Time) {
	for _, topic := range s.registry.ActiveTopics() {
		if existing, ok := s.store.Latest(topic.Label, res.Name); ok && existing.Start.Equal(start) && existing.Summary != nil {
			continue
		}
		tickList := s.ticks.Get(topic.Label, start, end)
		bar, err := s.generator.GenerateBar(ctx, topic.Label, res.Name, tickList, start, end, true)
		if err != nil {
			logging.For("scheduler").Warn().Str("topic", topic.Label).Err(err).Msg("bar generation failed, storing metrics-only bar")
		}
		s.store.Put(bar)
	}
}

// nextBoundary returns the next instant that is a multiple of res after at.
func nextBoundary(res bars.Resolution, at time.Time) time.Time {
	secs := res.Seconds
	next := ((at.Unix() / secs) + 1) * secs
	return time.Unix(next, 0).UTC()
}
