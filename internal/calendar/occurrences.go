package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/recurrence"
	"github.com/dukerupert/homebase/internal/store"
)

// OccurrenceFilter selects occurrences in [From, To). Empty UserIDs means
// every series in the household; empty Kinds means any participation.
type OccurrenceFilter struct {
	HouseholdID int64
	From        time.Time
	To          time.Time
	SeriesID    int64
	UserIDs     []int64
	Kinds       []model.ParticipationKind
}

// GetOccurrences returns the effective occurrences overlapping the window,
// ordered by start.
func (s *Service) GetOccurrences(ctx context.Context, f OccurrenceFilter) ([]model.Occurrence, error) {
	if err := validateRange(f.From, f.To); err != nil {
		return nil, err
	}

	series, err := s.series.List(ctx, store.SeriesQuery{
		HouseholdID: f.HouseholdID,
		SeriesID:    f.SeriesID,
		UserIDs:     uniqueIDs(f.UserIDs),
		Kinds:       f.Kinds,
		From:        f.From,
		To:          f.To,
	})
	if err != nil {
		return nil, err
	}

	return s.expandAll(ctx, series, f.From, f.To)
}

// expandAll expands every series over the window, ordered by start.
func (s *Service) expandAll(ctx context.Context, series []model.Series, from, to time.Time) ([]model.Occurrence, error) {
	out := []model.Occurrence{}
	if len(series) == 0 {
		return out, nil
	}

	ids := make([]int64, len(series))
	for i, sr := range series {
		ids[i] = sr.ID
	}
	exceptions, err := s.exceptions.ListBySeriesIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, sr := range series {
		occs, err := s.expandSeries(sr, exceptions[sr.ID], from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, occs...)
	}

	sortOccurrences(out)
	s.metrics.AddOccurrences(len(out))
	return out, nil
}

// expandSeries runs the expander and the exception overlay for one series.
// Occurrences an exception moved into the window from outside it are
// included once their original start is confirmed to be generated by the rule.
func (s *Service) expandSeries(series model.Series, exceptions []model.Exception, from, to time.Time) ([]model.Occurrence, error) {
	rule, err := seriesRule(series)
	if err != nil {
		return nil, err
	}

	raw, err := s.expander.Expand(rule, series.StartTime, series.EndTime, series.RecurrenceEnd, from, to)
	if err != nil {
		return nil, s.expansionError(series, err)
	}

	var out []model.Occurrence
	for _, occ := range applyExceptions(series, raw, exceptions) {
		if overlapsWindow(occ.Start, occ.End, from, to) {
			out = append(out, occ)
		}
	}

	generated := make(map[int64]bool, len(raw))
	for _, r := range raw {
		generated[r.OriginalStart.UnixNano()] = true
	}

	duration := series.Duration()
	for _, e := range exceptions {
		if e.Deleted || (e.StartTime == nil && e.EndTime == nil) || generated[e.OriginalStart.UnixNano()] {
			continue
		}
		at := recurrence.Occurrence{OriginalStart: e.OriginalStart, Start: e.OriginalStart, End: e.OriginalStart.Add(duration)}
		occ := overlay(baseOccurrence(series, at), e)
		if !overlapsWindow(occ.Start, occ.End, from, to) {
			continue
		}
		ok, err := s.expander.Contains(rule, series.StartTime, series.EndTime, series.RecurrenceEnd, e.OriginalStart)
		if err != nil {
			return nil, s.expansionError(series, err)
		}
		if ok {
			out = append(out, occ)
		}
	}

	return out, nil
}

func (s *Service) expansionError(series model.Series, err error) error {
	if errors.Is(err, recurrence.ErrExpansionLimit) {
		s.metrics.ExpansionLimitHit()
		return fmt.Errorf("%w: series %d: %v", ErrRangeTooLarge, series.ID, err)
	}
	return err
}

// checkOccurrence verifies that the series generates an occurrence at originalStart.
func (s *Service) checkOccurrence(series model.Series, originalStart time.Time) error {
	rule, err := seriesRule(series)
	if err != nil {
		return err
	}
	ok, err := s.expander.Contains(rule, series.StartTime, series.EndTime, series.RecurrenceEnd, originalStart)
	if err != nil {
		return s.expansionError(series, err)
	}
	if !ok {
		return fmt.Errorf("%w: series %d has no occurrence at %s",
			ErrOccurrenceNotFound, series.ID, originalStart.UTC().Format(time.RFC3339))
	}
	return nil
}

func overlapsWindow(start, end, from, to time.Time) bool {
	if !end.After(start) {
		return !start.Before(from) && start.Before(to)
	}
	return start.Before(to) && end.After(from)
}

func sortOccurrences(occs []model.Occurrence) {
	sort.SliceStable(occs, func(i, j int) bool {
		if !occs[i].Start.Equal(occs[j].Start) {
			return occs[i].Start.Before(occs[j].Start)
		}
		if occs[i].SeriesID != occs[j].SeriesID {
			return occs[i].SeriesID < occs[j].SeriesID
		}
		return occs[i].OriginalStart.Before(occs[j].OriginalStart)
	})
}
