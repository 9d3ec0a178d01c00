// Package bars aggregates ticks observed in a resolution-aligned time
// window into a Bar, delegating narrative summarization to
// barwatch/internal/summary.
package bars

import (
	"context"
	"time"

	"barwatch/internal/search"
	"barwatch/internal/summary"
)

// Resolution is a named bar width. The string form is the external wire
// representation (e.g. "5m"); Seconds is its duration.
type Resolution struct {
	Name    string
	Seconds int64
}

// Resolutions lists every supported bar width, in ascending order. 15s is
// the system's fundamental polling cadence and the shortest bar width
// permitted; every wider resolution is an integer multiple of it, so every
// higher-resolution boundary coincides with a lower-resolution one.
var Resolutions = []Resolution{
	{"15s", 15},
	{"30s", 30},
	{"1m", 60},
	{"5m", 300},
	{"15m", 900},
	{"30m", 1800},
	{"1h", 3600},
}

// LookupResolution returns the Resolution named name, or ok=false.
func LookupResolution(name string) (Resolution, bool) {
	for _, r := range Resolutions {
		if r.Name == name {
			return r, true
		}
	}
	return Resolution{}, false
}

func (r Resolution) Duration() time.Duration { return time.Duration(r.Seconds) * time.Second }

// Bar is a time-bucketed aggregate for a single topic.
type Bar struct {
	Topic         string
	Resolution    string
	Start         time.Time
	End           time.Time
	PostCount     int
	TotalLikes    int64
	TotalRetweets int64
	TotalReplies  int64
	TotalQuotes   int64
	SamplePostIDs []string
	Summary       *summary.BarSummary
}

// alignment invariant: Start.Unix() % resolutionSeconds == 0 and
// End == Start + resolution. Window returns the aligned window containing
// at (the current bar, not necessarily closed).
func Window(res Resolution, at time.Time) (start, end time.Time) {
	secs := res.Seconds
	floored := (at.Unix() / secs) * secs
	start = time.Unix(floored, 0).UTC()
	end = start.Add(res.Duration())
	return start, end
}

// PreviousWindow returns the most recently closed window relative to at.
func PreviousWindow(res Resolution, at time.Time) (start, end time.Time) {
	curStart, _ := Window(res, at)
	start = curStart.Add(-res.Duration())
	end = curStart
	return start, end
}

// Generator turns ticks into Bars, invoking a summary.Provider when ticks
// are present.
type Generator struct {
	Summarizer summary.Provider
}

func NewGenerator(s summary.Provider) *Generator {
	return &Generator{Summarizer: s}
}

const sampleSize = 5

// GenerateBar aggregates ticks into a Bar for [start, end) at the given
// resolution. If summarize is false, or ticks is empty, no summary call is
// made and Summary stays nil — callers render the empty/canned state
// themselves (see internal/query).
func (g *Generator) GenerateBar(ctx context.Context, topic, resolution string, ticks []search.Tick, start, end time.Time, summarize bool) (Bar, error) {
	bar := Bar{
		Topic:      topic,
		Resolution: resolution,
		Start:      start,
		End:        end,
		PostCount:  len(ticks),
	}
	for _, t := range ticks {
		bar.TotalLikes += t.Metrics[search.MetricLikes]
		bar.TotalRetweets += t.Metrics[search.MetricRetweets]
		bar.TotalReplies += t.Metrics[search.MetricReplies]
		bar.TotalQuotes += t.Metrics[search.MetricQuotes]
	}
	n := len(ticks)
	if n > sampleSize {
		n = sampleSize
	}
	for _, t := range ticks[:n] {
		bar.SamplePostIDs = append(bar.SamplePostIDs, t.ID)
	}

	if !summarize || len(ticks) == 0 || g.Summarizer == nil {
		return bar, nil
	}

	s, err := g.Summarizer.SummarizeBar(ctx, topic, ticks, start, end)
	if err != nil {
		return bar, err
	}
	bar.Summary = &s
	return bar, nil
}
