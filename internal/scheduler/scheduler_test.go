package scheduler

import (
	"context"
	"testing"
	"time"

	"barwatch/internal/bars"
	"barwatch/internal/barstore"
	"barwatch/internal/ticks"
	"barwatch/internal/topics"
)

func TestNextBoundaryIsAlignedAndInTheFuture(t *testing.T) {
	res, _ := bars.LookupResolution("1m")
	at := time.Date(2026, 1, 1, 10, 0, 42, 0, time.UTC)
	next := nextBoundary(res, at)
	if next.Unix()%res.Seconds != 0 {
		t.Fatalf("expected aligned boundary, got %v", next)
	}
	if !next.After(at) {
		t.Fatalf("expected boundary strictly after at, got %v vs %v", next, at)
	}
}

func TestBackfillPopulatesStoreWithoutSummaries(t *testing.T) {
	registry := topics.NewRegistry("1m")
	topic, _ := registry.Add("golang", "golang", "1m")
	tickStore := ticks.New(0, nil, 0)
	barStore := barstore.New(0)
	gen := bars.NewGenerator(nil)
	s := New(registry, tickStore, barStore, gen)

	s.backfillTopic(topic.Label, mustRes(t, "1m"))

	recent := barStore.Recent(topic.Label, "1m", 1000)
	if len(recent) != InitialBackfillCount {
		t.Fatalf("expected %d backfilled bars, got %d", InitialBackfillCount, len(recent))
	}
	for _, b := range recent {
		if b.Summary != nil {
			t.Fatal("expected backfilled bars to have no summary")
		}
	}
}

func TestCloseWindowMaterializesEveryActiveTopicRegardlessOfDefaultResolution(t *testing.T) {
	registry := topics.NewRegistry("1m")
	fast, _ := registry.Add("golang", "golang", "1m")
	slow, _ := registry.Add("rust", "rust", "5m")
	tickStore := ticks.New(0, nil, 0)
	barStore := barstore.New(0)
	gen := bars.NewGenerator(nil)
	s := New(registry, tickStore, barStore, gen)

	res, _ := bars.LookupResolution("1m")
	start, end := bars.PreviousWindow(res, time.Now())
	s.closeWindow(context.Background(), res, start, end)

	if _, ok := barStore.Latest(fast.Label, "1m"); !ok {
		t.Fatal("expected a bar for the topic whose default resolution matches")
	}
	if _, ok := barStore.Latest(slow.Label, "1m"); !ok {
		t.Fatal("expected a bar for every active topic at this resolution, not just its own default")
	}
}

func TestBackfillAllCoversEveryActiveTopicAtEveryResolution(t *testing.T) {
	registry := topics.NewRegistry("1m")
	registry.Add("golang", "golang", "1m")
	registry.Add("rust", "rust", "5m")
	tickStore := ticks.New(0, nil, 0)
	barStore := barstore.New(0)
	gen := bars.NewGenerator(nil)
	s := New(registry, tickStore, barStore, gen)

	s.backfillAll()

	for _, res := range bars.Resolutions {
		for _, label := range []string{"golang", "rust"} {
			if got := barStore.Recent(label, res.Name, 1000); len(got) != InitialBackfillCount {
				t.Fatalf("expected %d backfilled bars for (%s, %s), got %d", InitialBackfillCount, label, res.Name, len(got))
			}
		}
	}
}

func mustRes(t *testing.T, name string) bars.Resolution {
	t.Helper()
	res, ok := bars.LookupResolution(name)
	if !ok {
		t.Fatalf("resolution %q should exist", name)
	}
	return res
}
