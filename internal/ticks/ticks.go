// Package ticks holds the per-topic, deduplicated, time-indexed tick
// container: the source of truth bars are projected from.
package ticks

import (
	"context"
	"sort"
	"sync"
	"time"

	"barwatch/internal/search"
)

// DefaultMaxPerTopic is used when Store is constructed with maxPerTopic <= 0.
const DefaultMaxPerTopic = 10000

type topicShard struct {
	mu    sync.Mutex
	byID  map[string]search.Tick
	order []search.Tick // kept sorted by (timestamp, id)
}

// Store is the per-topic tick container. Operations on distinct topics run
// without mutual exclusion; operations on the same topic are linearizable.
type Store struct {
	mu           sync.RWMutex // guards the shards map itself, not shard contents
	shards       map[string]*topicShard
	maxPerTopic  int
	dedupe       DedupeStore
	dedupeTTL    time.Duration
}

// New returns a Store. maxPerTopic <= 0 uses DefaultMaxPerTopic. dedupe may
// be nil, in which case only the in-process id index is used (sufficient
// for a single-process deployment).
func New(maxPerTopic int, dedupe DedupeStore, dedupeTTL time.Duration) *Store {
	if maxPerTopic <= 0 {
		maxPerTopic = DefaultMaxPerTopic
	}
	if dedupe == nil {
		dedupe = noopDedupeStore{}
	}
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}
	return &Store{shards: make(map[string]*topicShard), maxPerTopic: maxPerTopic, dedupe: dedupe, dedupeTTL: dedupeTTL}
}

func (s *Store) shardFor(topic string) *topicShard {
	s.mu.RLock()
	sh, ok := s.shards[topic]
	s.mu.RUnlock()
	if ok {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[topic]; ok {
		return sh
	}
	sh = &topicShard{byID: make(map[string]search.Tick)}
	s.shards[topic] = sh
	return sh
}

// Add inserts ticks not already present (dedup by id), returning the count
// of newly accepted ticks. If the post-insert count exceeds maxPerTopic, the
// oldest by timestamp are pruned back down to exactly maxPerTopic.
func (s *Store) Add(ctx context.Context, topic string, incoming []search.Tick) (int, error) {
	if len(incoming) == 0 {
		return 0, nil
	}
	sh := s.shardFor(topic)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	newCount := 0
	stored := 0
	for _, t := range incoming {
		if _, exists := sh.byID[t.ID]; exists {
			continue
		}
		if seen, err := s.dedupe.SeenTick(ctx, topic, t.ID); err == nil && seen {
			// Record locally so in-process reads still see it, without
			// counting it as newly accepted.
			sh.byID[t.ID] = t
			sh.order = append(sh.order, t)
			stored++
			continue
		}
		sh.byID[t.ID] = t
		sh.order = append(sh.order, t)
		newCount++
		stored++
		_ = s.dedupe.RememberTick(ctx, topic, t.ID, s.dedupeTTL)
	}

	if stored > 0 {
		sort.Slice(sh.order, func(i, j int) bool {
			if !sh.order[i].Timestamp.Equal(sh.order[j].Timestamp) {
				return sh.order[i].Timestamp.Before(sh.order[j].Timestamp)
			}
			return sh.order[i].ID < sh.order[j].ID
		})
		if len(sh.order) > s.maxPerTopic {
			excess := sh.order[:len(sh.order)-s.maxPerTopic]
			for _, t := range excess {
				delete(sh.byID, t.ID)
			}
			sh.order = sh.order[len(sh.order)-s.maxPerTopic:]
		}
	}

	return newCount, nil
}

// Get returns ticks for topic whose timestamp falls in [start, end), sorted
// ascending by timestamp then id. A zero start/end means unbounded on that
// side.
func (s *Store) Get(topic string, start, end time.Time) []search.Tick {
	sh := s.shardFor(topic)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	out := make([]search.Tick, 0, len(sh.order))
	for _, t := range sh.order {
		if !start.IsZero() && t.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && !t.Timestamp.Before(end) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Count returns the number of ticks currently held for topic.
func (s *Store) Count(topic string) int {
	sh := s.shardFor(topic)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.order)
}

// TimeRange returns the oldest and newest tick timestamps for topic, and
// ok=false if topic holds no ticks.
func (s *Store) TimeRange(topic string) (oldest, newest time.Time, ok bool) {
	sh := s.shardFor(topic)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if len(sh.order) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return sh.order[0].Timestamp, sh.order[len(sh.order)-1].Timestamp, true
}

// Clear removes every tick for topic and the topic's shard itself.
func (s *Store) Clear(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shards, topic)
}
