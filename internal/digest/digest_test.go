package digest

import (
	"context"
	"testing"
	"time"

	"barwatch/internal/bars"
	"barwatch/internal/barstore"
	"barwatch/internal/search"
	"barwatch/internal/summary"
)

type fakeSummarizer struct {
	digestCalls int
	lastBars    []summary.BarInput
}

func (f *fakeSummarizer) SummarizeBar(ctx context.Context, topic string, t []search.Tick, start, end time.Time) (summary.BarSummary, error) {
	return summary.BarSummary{}, nil
}

func (f *fakeSummarizer) SynthesizeDigest(ctx context.Context, topic string, b []summary.BarInput, lookback time.Duration, now time.Time) (summary.TopicDigest, error) {
	f.digestCalls++
	f.lastBars = b
	if len(b) == 0 {
		return summary.TopicDigest{Topic: topic, OverallSummary: "No recent activity to summarize", SentimentTrend: "stable"}, nil
	}
	return summary.TopicDigest{Topic: topic, OverallSummary: "synthesized"}, nil
}

func TestCreateDigestWithNoBarsReturnsCannedWithoutExtraCall(t *testing.T) {
	store := barstore.New(0)
	fs := &fakeSummarizer{}
	svc := NewService(store, fs)

	got, err := svc.CreateDigest(context.Background(), "golang", "1m", 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OverallSummary != "No recent activity to summarize" {
		t.Fatalf("expected canned empty digest, got %+v", got)
	}
	if fs.digestCalls != 1 {
		t.Fatalf("expected exactly one call (the provider itself short-circuits), got %d", fs.digestCalls)
	}
}

func TestCreateDigestPassesRecentBars(t *testing.T) {
	store := barstore.New(0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Put(bars.Bar{Topic: "golang", Resolution: "1m", Start: base, End: base.Add(time.Minute), PostCount: 3})
	store.Put(bars.Bar{Topic: "golang", Resolution: "1m", Start: base.Add(time.Minute), End: base.Add(2 * time.Minute), PostCount: 5})

	fs := &fakeSummarizer{}
	svc := NewService(store, fs)

	got, err := svc.CreateDigest(context.Background(), "golang", "1m", 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OverallSummary != "synthesized" {
		t.Fatalf("expected synthesized digest, got %+v", got)
	}
	if len(fs.lastBars) != 2 {
		t.Fatalf("expected 2 bars passed to provider, got %d", len(fs.lastBars))
	}
}
