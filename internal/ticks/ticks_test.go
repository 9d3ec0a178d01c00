package ticks

import (
	"context"
	"testing"
	"time"

	"barwatch/internal/search"
)

func tickAt(id string, ts time.Time) search.Tick {
	return search.Tick{ID: id, Timestamp: ts, Metrics: map[string]int64{}}
}

func TestAddDedupsByID(t *testing.T) {
	s := New(0, nil, 0)
	base := time.Now()
	ctx := context.Background()

	n, err := s.Add(ctx, "tsla", []search.Tick{tickAt("1", base), tickAt("2", base.Add(time.Second))})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 new, got %d err=%v", n, err)
	}

	n, err = s.Add(ctx, "tsla", []search.Tick{tickAt("1", base), tickAt("3", base.Add(2*time.Second))})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 new on second add (S3/property 5), got %d err=%v", n, err)
	}
	if s.Count("tsla") != 3 {
		t.Fatalf("expected count 3, got %d", s.Count("tsla"))
	}
}

func TestAddSameTicksTwiceIsNoop(t *testing.T) {
	s := New(0, nil, 0)
	ctx := context.Background()
	batch := []search.Tick{tickAt("1", time.Now()), tickAt("2", time.Now())}
	s.Add(ctx, "tsla", batch)
	n, _ := s.Add(ctx, "tsla", batch)
	if n != 0 {
		t.Fatalf("expected 0 new on repeat add, got %d", n)
	}
}

func TestGetFiltersHalfOpenWindow(t *testing.T) {
	s := New(0, nil, 0)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Add(ctx, "tsla", []search.Tick{
		tickAt("a", base),
		tickAt("b", base.Add(17*time.Second)),
		tickAt("c", base.Add(59*time.Second)),
		tickAt("d", base.Add(time.Minute)), // excluded: at end boundary
	})
	got := s.Get("tsla", base, base.Add(time.Minute))
	if len(got) != 3 {
		t.Fatalf("expected 3 ticks in window, got %d", len(got))
	}
}

func TestGetSortsByTimestampThenID(t *testing.T) {
	s := New(0, nil, 0)
	ctx := context.Background()
	base := time.Now()
	s.Add(ctx, "tsla", []search.Tick{
		tickAt("z", base),
		tickAt("a", base),
		tickAt("m", base.Add(-time.Second)),
	})
	got := s.Get("tsla", time.Time{}, time.Time{})
	if len(got) != 3 || got[0].ID != "m" || got[1].ID != "a" || got[2].ID != "z" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestMaxPerTopicPrunesOldest(t *testing.T) {
	s := New(3, nil, 0)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		s.Add(ctx, "tsla", []search.Tick{tickAt(string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))})
	}
	if s.Count("tsla") != 3 {
		t.Fatalf("expected count capped at 3, got %d", s.Count("tsla"))
	}
	got := s.Get("tsla", time.Time{}, time.Time{})
	if got[0].ID != "c" {
		t.Fatalf("expected oldest two pruned, remaining should start at 'c', got %+v", got)
	}
}

func TestClearResetsCountAndTimeRange(t *testing.T) {
	s := New(0, nil, 0)
	ctx := context.Background()
	s.Add(ctx, "tsla", []search.Tick{tickAt("1", time.Now())})
	s.Clear("tsla")
	if s.Count("tsla") != 0 {
		t.Fatalf("expected count 0 after clear, got %d", s.Count("tsla"))
	}
	if _, _, ok := s.TimeRange("tsla"); ok {
		t.Fatal("expected no time range after clear")
	}
}

type fakeDedupeStore struct {
	seen map[string]bool
}

func newFakeDedupeStore() *fakeDedupeStore { return &fakeDedupeStore{seen: make(map[string]bool)} }

func (f *fakeDedupeStore) SeenTick(ctx context.Context, topic, tickID string) (bool, error) {
	return f.seen[topic+"/"+tickID], nil
}

func (f *fakeDedupeStore) RememberTick(ctx context.Context, topic, tickID string, ttl time.Duration) error {
	f.seen[topic+"/"+tickID] = true
	return nil
}

func TestAddRespectsExternalDedupeStore(t *testing.T) {
	dedupe := newFakeDedupeStore()
	s := New(0, dedupe, time.Hour)
	ctx := context.Background()

	dedupe.seen["tsla/1"] = true // simulate a sibling process having already recorded this id
	n, err := s.Add(ctx, "tsla", []search.Tick{tickAt("1", time.Now()), tickAt("2", time.Now())})
	if err != nil || n != 1 {
		t.Fatalf("expected only the externally-unseen tick to count as new, got %d err=%v", n, err)
	}
	if s.Count("tsla") != 2 {
		t.Fatalf("expected both ticks retained locally, got count %d", s.Count("tsla"))
	}
}

func TestDistinctTopicsAreIndependent(t *testing.T) {
	s := New(0, nil, 0)
	ctx := context.Background()
	s.Add(ctx, "tsla", []search.Tick{tickAt("1", time.Now())})
	s.Add(ctx, "aapl", []search.Tick{tickAt("1", time.Now()), tickAt("2", time.Now())})
	if s.Count("tsla") != 1 || s.Count("aapl") != 2 {
		t.Fatalf("expected independent counts, got tsla=%d aapl=%d", s.Count("tsla"), s.Count("aapl"))
	}
}
