// Package availability implements the interval arithmetic behind free/busy
// and slot search. All functions are pure and treat intervals as half-open.
package availability

import (
	"sort"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

// Merge returns the minimal sorted list of intervals covering in, coalescing
// overlapping and adjacent intervals. Empty intervals are dropped.
func Merge(in []model.Interval) []model.Interval {
	sorted := make([]model.Interval, 0, len(in))
	for _, iv := range in {
		if iv.End.After(iv.Start) {
			sorted = append(sorted, iv)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	out := make([]model.Interval, 0, len(sorted))
	for _, iv := range sorted {
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].End) {
			if iv.End.After(out[n-1].End) {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Clip trims each interval to [from, to), dropping those left empty.
func Clip(in []model.Interval, from, to time.Time) []model.Interval {
	out := make([]model.Interval, 0, len(in))
	for _, iv := range in {
		if iv.Start.Before(from) {
			iv.Start = from
		}
		if iv.End.After(to) {
			iv.End = to
		}
		if iv.End.After(iv.Start) {
			out = append(out, iv)
		}
	}
	return out
}

// Complement returns the gaps of [from, to) not covered by busy.
func Complement(busy []model.Interval, from, to time.Time) []model.Interval {
	var free []model.Interval
	cursor := from
	for _, iv := range Merge(Clip(busy, from, to)) {
		if iv.Start.After(cursor) {
			free = append(free, model.Interval{Start: cursor, End: iv.Start})
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
	}
	if to.After(cursor) {
		free = append(free, model.Interval{Start: cursor, End: to})
	}
	return free
}

// FindSlots returns every maximal free gap in [from, to) that is at least d
// long, in chronological order.
func FindSlots(busy []model.Interval, from, to time.Time, d time.Duration) []model.Interval {
	slots := []model.Interval{}
	for _, gap := range Complement(busy, from, to) {
		if gap.Duration() >= d {
			slots = append(slots, gap)
		}
	}
	return slots
}
