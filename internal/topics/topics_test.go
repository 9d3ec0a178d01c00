package topics

import (
	"errors"
	"testing"
)

func TestDeriveID(t *testing.T) {
	cases := map[string]string{
		"$TSLA":      "tsla",
		"  Golang ":  "golang",
		"Foo Bar":    "foobar",
		"multi  gap": "multigap",
	}
	for in, want := range cases {
		if got := DeriveID(in); got != want {
			t.Errorf("DeriveID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	r := NewRegistry("5m")
	if _, err := r.Add("$TSLA", "$TSLA OR Tesla", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.Add("$TSLA", "different query", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAddRejectsInvalidResolution(t *testing.T) {
	r := NewRegistry("5m")
	_, err := r.Add("golang", "golang", "7m")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestAddDefaultsResolution(t *testing.T) {
	r := NewRegistry("5m")
	topic, err := r.Add("golang", "golang", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if topic.Resolution != "5m" {
		t.Fatalf("expected default resolution 5m, got %q", topic.Resolution)
	}
	if topic.Status != StatusActive {
		t.Fatalf("expected new topic to be active, got %q", topic.Status)
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	r := NewRegistry("5m")
	topic, _ := r.Add("golang", "golang", "")
	if err := r.Pause(topic.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := r.Get(topic.ID)
	if got.Status != StatusPaused {
		t.Fatalf("expected paused, got %q", got.Status)
	}
	if err := r.Resume(topic.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = r.Get(topic.ID)
	if got.Status != StatusActive {
		t.Fatalf("expected active, got %q", got.Status)
	}
}

func TestMarkErrorRecordsMessageAndExcludesFromActive(t *testing.T) {
	r := NewRegistry("5m")
	topic, _ := r.Add("golang", "golang", "")
	if err := r.MarkError(topic.ID, "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := r.Get(topic.ID)
	if got.Status != StatusError || got.LastError != "boom" {
		t.Fatalf("unexpected state: %+v", got)
	}
	if len(r.ActiveTopics()) != 0 {
		t.Fatal("expected no active topics after error")
	}
}

func TestOperationsOnUnknownIDReturnNotFound(t *testing.T) {
	r := NewRegistry("5m")
	if err := r.Pause("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Remove("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordPollAccumulatesCounts(t *testing.T) {
	r := NewRegistry("5m")
	topic, _ := r.Add("golang", "golang", "")
	now := topic.CreatedAt
	if err := r.RecordPoll(topic.ID, 3, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.RecordPoll(topic.ID, 2, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := r.Get(topic.ID)
	if got.PollCount != 2 || got.TickCount != 5 {
		t.Fatalf("unexpected accumulation: %+v", got)
	}
}
