package query

import (
	"context"
	"testing"
	"time"

	"barwatch/internal/bars"
	"barwatch/internal/barstore"
	"barwatch/internal/digest"
	"barwatch/internal/poller"
	"barwatch/internal/search"
	"barwatch/internal/summary"
	"barwatch/internal/ticks"
	"barwatch/internal/topics"
)

type fakeProvider struct{}

func (fakeProvider) Search(ctx context.Context, query, topicLabel string, start, end time.Time, maxResults int) ([]search.Tick, error) {
	return nil, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) SummarizeBar(ctx context.Context, topic string, t []search.Tick, start, end time.Time) (summary.BarSummary, error) {
	return summary.BarSummary{}, nil
}

func (fakeSummarizer) SynthesizeDigest(ctx context.Context, topic string, b []summary.BarInput, lookback time.Duration, now time.Time) (summary.TopicDigest, error) {
	return summary.TopicDigest{Topic: topic}, nil
}

func newTestService(t *testing.T) (*Service, *topics.Registry, *ticks.Store, *barstore.Store) {
	t.Helper()
	registry := topics.NewRegistry("1m")
	tickStore := ticks.New(0, nil, 0)
	barStore := barstore.New(0)
	gen := bars.NewGenerator(fakeSummarizer{})
	digestSvc := digest.NewService(barStore, fakeSummarizer{})
	p := poller.New(registry, tickStore, fakeProvider{}, time.Minute)
	svc := NewService(registry, tickStore, barStore, gen, digestSvc, p)
	return svc, registry, tickStore, barStore
}

func TestGetBarsReturnsEmptyMetricsWhenNoTicksOrBars(t *testing.T) {
	svc, registry, _, _ := newTestService(t)
	topic, _ := registry.Add("golang", "golang", "1m")

	got, err := svc.GetBars(context.Background(), topic.ID, "", 3, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 empty bars, got %d", len(got))
	}
	for _, b := range got {
		if b.PostCount != 0 {
			t.Fatalf("expected zero post count, got %+v", b)
		}
	}
}

func TestGetBarsPrefersStoredBars(t *testing.T) {
	svc, registry, _, barStore := newTestService(t)
	topic, _ := registry.Add("golang", "golang", "1m")
	barStore.Put(bars.Bar{Topic: topic.Label, Resolution: "1m", Start: time.Now(), End: time.Now().Add(time.Minute), PostCount: 7})

	got, err := svc.GetBars(context.Background(), topic.ID, "", 5, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].PostCount != 7 {
		t.Fatalf("expected the stored bar to be returned, got %+v", got)
	}
}

func TestGetBarsSynthesizesFromTicksWhenStoreEmpty(t *testing.T) {
	svc, registry, tickStore, _ := newTestService(t)
	topic, _ := registry.Add("golang", "golang", "1m")
	tickStore.Add(context.Background(), topic.Label, []search.Tick{
		{ID: "1", Timestamp: time.Now(), Metrics: map[string]int64{}},
	})

	got, err := svc.GetBars(context.Background(), topic.ID, "", 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 synthesized bars, got %d", len(got))
	}
}

func TestGetBarsUnknownTopicReturnsNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.GetBars(context.Background(), "missing", "", 1, false)
	if err == nil {
		t.Fatal("expected error for unknown topic")
	}
}

func TestGetBarsInvalidResolution(t *testing.T) {
	svc, registry, _, _ := newTestService(t)
	topic, _ := registry.Add("golang", "golang", "1m")
	_, err := svc.GetBars(context.Background(), topic.ID, "7m", 1, false)
	if err == nil {
		t.Fatal("expected error for invalid resolution")
	}
}

func TestHealthReportsTopicCounts(t *testing.T) {
	svc, registry, _, _ := newTestService(t)
	t1, _ := registry.Add("golang", "golang", "1m")
	registry.Add("rust", "rust", "1m")
	registry.Pause(t1.ID)

	h := svc.Health()
	if h.TopicsCount != 2 || h.ActiveTopics != 1 {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestRemoveTopicCascadesClearToTicksAndBars(t *testing.T) {
	svc, registry, tickStore, barStore := newTestService(t)
	topic, _ := registry.Add("golang", "golang", "1m")
	tickStore.Add(context.Background(), topic.Label, []search.Tick{
		{ID: "1", Timestamp: time.Now(), Metrics: map[string]int64{}},
	})
	barStore.Put(bars.Bar{Topic: topic.Label, Resolution: "1m", Start: time.Now(), End: time.Now().Add(time.Minute), PostCount: 1})

	if err := svc.RemoveTopic(topic.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Get(topic.ID); err == nil {
		t.Fatal("expected topic to be gone")
	}
	if tickStore.Count(topic.Label) != 0 {
		t.Fatalf("expected ticks cleared, got count %d", tickStore.Count(topic.Label))
	}
	if got := barStore.Recent(topic.Label, "1m", 10); len(got) != 0 {
		t.Fatalf("expected bars cleared, got %+v", got)
	}
}

func TestSetResolutionUpdatesTopic(t *testing.T) {
	svc, registry, _, _ := newTestService(t)
	topic, _ := registry.Add("golang", "golang", "1m")
	updated, err := svc.SetResolution(topic.ID, "5m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Resolution != "5m" {
		t.Fatalf("expected resolution updated, got %q", updated.Resolution)
	}
}

func TestCreateDigestWithNoBarsIsCanned(t *testing.T) {
	svc, registry, _, _ := newTestService(t)
	topic, _ := registry.Add("golang", "golang", "1m")
	d, err := svc.CreateDigest(context.Background(), topic.ID, 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Topic != topic.Label {
		t.Fatalf("expected digest topic to be the label, got %q", d.Topic)
	}
}
