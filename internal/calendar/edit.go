package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/recurrence"
	"github.com/dukerupert/homebase/internal/store"
)

// Scope is the breadth of an edit to a recurring series.
type Scope int

const (
	ThisEventOnly Scope = iota
	ThisAndFuture
	AllEvents
)

var scopeNames = map[Scope]string{
	ThisEventOnly: "this",
	ThisAndFuture: "this_and_future",
	AllEvents:     "all",
}

func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Scope(%d)", int(s))
}

func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "this", "this_event_only":
		return ThisEventOnly, nil
	case "this_and_future", "future":
		return ThisAndFuture, nil
	case "all", "all_events":
		return AllEvents, nil
	}
	return 0, fmt.Errorf("%w: unknown scope %q", ErrInvalidEdit, s)
}

// Changes is a partial update. Absent options leave the field as it is.
type Changes struct {
	Title           mo.Option[string]
	Description     mo.Option[string]
	Location        mo.Option[string]
	Start           mo.Option[time.Time]
	End             mo.Option[time.Time]
	AllDay          mo.Option[bool]
	RecurrenceRule  mo.Option[string]
	Color           mo.Option[string]
	ReminderMinutes mo.Option[*int]
}

func (c Changes) IsEmpty() bool {
	return c.Title.IsAbsent() && c.Description.IsAbsent() && c.Location.IsAbsent() &&
		c.Start.IsAbsent() && c.End.IsAbsent() && c.AllDay.IsAbsent() &&
		c.RecurrenceRule.IsAbsent() && c.Color.IsAbsent() && c.ReminderMinutes.IsAbsent()
}

// EditRequest targets the occurrence of SeriesID that originally started at
// OriginalStart. OriginalStart is ignored for AllEvents.
type EditRequest struct {
	HouseholdID   int64
	SeriesID      int64
	OriginalStart time.Time
	Scope         Scope
	Changes       Changes
	Delete        bool
}

// EditResult describes the rows an edit produced. Series is nil when the
// edit removed the series; Continuation is set by a ThisAndFuture update.
type EditResult struct {
	Series       *model.Series    `json:"series,omitempty"`
	Continuation *model.Series    `json:"continuation,omitempty"`
	Exception    *model.Exception `json:"exception,omitempty"`
}

// ApplyEdit updates or deletes one occurrence, an occurrence and everything
// after it, or the whole series.
func (s *Service) ApplyEdit(ctx context.Context, req EditRequest) (*EditResult, error) {
	if !req.Delete && req.Changes.IsEmpty() {
		return nil, fmt.Errorf("%w: no changes", ErrInvalidEdit)
	}

	series, err := s.GetSeries(ctx, req.HouseholdID, req.SeriesID)
	if err != nil {
		return nil, err
	}

	scope := req.Scope
	orig := req.OriginalStart.UTC()

	if scope != AllEvents && !series.IsRecurring() {
		if !orig.Equal(series.StartTime) {
			return nil, fmt.Errorf("%w: series %d has no occurrence at %s",
				ErrOccurrenceNotFound, series.ID, orig.Format(time.RFC3339))
		}
		scope = AllEvents
	}

	switch scope {
	case AllEvents:
		return s.editAllEvents(ctx, series, req)
	case ThisEventOnly, ThisAndFuture:
	default:
		return nil, fmt.Errorf("%w: unknown scope %d", ErrInvalidEdit, int(scope))
	}

	if err := s.checkOccurrence(*series, orig); err != nil {
		return nil, err
	}
	target, err := s.exceptions.Get(ctx, series.ID, orig)
	if err != nil {
		return nil, err
	}
	deleted := target != nil && target.Deleted

	if scope == ThisEventOnly {
		if deleted {
			return nil, fmt.Errorf("%w: occurrence at %s was deleted", ErrOccurrenceNotFound, orig.Format(time.RFC3339))
		}
		return s.editThisEvent(ctx, series, orig, target, req)
	}
	if deleted && !req.Delete {
		return nil, fmt.Errorf("%w: occurrence at %s was deleted", ErrOccurrenceNotFound, orig.Format(time.RFC3339))
	}
	return s.editThisAndFuture(ctx, series, orig, target, req)
}

func (s *Service) editThisEvent(ctx context.Context, series *model.Series, orig time.Time, target *model.Exception, req EditRequest) (*EditResult, error) {
	if req.Delete {
		e, err := s.exceptions.Upsert(ctx, &model.Exception{SeriesID: series.ID, OriginalStart: orig, Deleted: true})
		if err != nil {
			return nil, err
		}
		s.notify(req.HouseholdID, "exception", "deleted", series.ID, map[string]any{"original_start": orig})
		return &EditResult{Series: series, Exception: e}, nil
	}

	c := req.Changes
	if c.RecurrenceRule.IsPresent() || c.Color.IsPresent() || c.ReminderMinutes.IsPresent() {
		return nil, fmt.Errorf("%w: recurrence rule, color and reminder apply to the whole series", ErrInvalidEdit)
	}

	e := model.Exception{SeriesID: series.ID, OriginalStart: orig}
	current := baseOccurrence(*series, recurrence.Occurrence{OriginalStart: orig, Start: orig, End: orig.Add(series.Duration())})
	if target != nil {
		e = *target
		current = overlay(current, *target)
	}

	if v, ok := c.Title.Get(); ok {
		e.Title = &v
	}
	if v, ok := c.Description.Get(); ok {
		e.Description = &v
	}
	if v, ok := c.Location.Get(); ok {
		e.Location = &v
	}
	if v, ok := c.AllDay.Get(); ok {
		e.AllDay = &v
	}
	if c.Start.IsPresent() || c.End.IsPresent() {
		start, end := shiftSpan(current.Start, current.End, c)
		if err := validateSpan(start, end); err != nil {
			return nil, err
		}
		e.StartTime, e.EndTime = &start, &end
	}

	saved, err := s.exceptions.Upsert(ctx, &e)
	if err != nil {
		return nil, err
	}
	s.notify(req.HouseholdID, "exception", "upserted", series.ID, map[string]any{"original_start": orig})
	return &EditResult{Series: series, Exception: saved}, nil
}

func (s *Service) editAllEvents(ctx context.Context, series *model.Series, req EditRequest) (*EditResult, error) {
	if req.Delete {
		if err := s.series.Delete(ctx, series.ID); err != nil {
			return nil, err
		}
		s.notify(req.HouseholdID, "series", "deleted", series.ID, nil)
		return &EditResult{}, nil
	}

	next, err := applySeriesChanges(*series, req.Changes)
	if err != nil {
		return nil, err
	}
	updated, err := s.series.Update(ctx, &next)
	if err != nil {
		return nil, err
	}
	s.notify(req.HouseholdID, "series", "updated", series.ID, nil)
	return &EditResult{Series: updated}, nil
}

// editThisAndFuture ends the series just before orig and, for an update,
// continues it from orig as a new series. Every row change happens in one
// transaction.
func (s *Service) editThisAndFuture(ctx context.Context, series *model.Series, orig time.Time, target *model.Exception, req EditRequest) (*EditResult, error) {
	first := orig.Equal(series.StartTime)

	if req.Delete {
		if first {
			return s.editAllEvents(ctx, series, req)
		}
		if err := s.series.SetRecurrenceEnd(ctx, series.ID, capBefore(series.RecurrenceEnd, orig)); err != nil {
			return nil, err
		}
		updated, err := s.series.GetByID(ctx, series.ID)
		if err != nil {
			return nil, err
		}
		s.notify(req.HouseholdID, "series", "updated", series.ID, nil)
		return &EditResult{Series: updated}, nil
	}

	cont, err := s.continuation(*series, orig, target, req.Changes)
	if err != nil {
		return nil, err
	}
	delta := cont.StartTime.Sub(orig)

	exceptions, err := s.exceptions.ListBySeries(ctx, series.ID)
	if err != nil {
		return nil, err
	}

	var created *model.Series
	err = store.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		seriesTx := s.series.WithTx(tx)
		exceptionsTx := s.exceptions.WithTx(tx)

		if !first {
			if err := seriesTx.SetRecurrenceEnd(ctx, series.ID, capBefore(series.RecurrenceEnd, orig)); err != nil {
				return err
			}
		}

		var err error
		created, err = seriesTx.Create(ctx, &cont)
		if err != nil {
			return err
		}

		for _, e := range exceptions {
			switch {
			case e.OriginalStart.Equal(orig):
				if err := exceptionsTx.Delete(ctx, e.ID); err != nil {
					return err
				}
			case e.OriginalStart.After(orig):
				if err := exceptionsTx.Move(ctx, e.ID, created.ID, e.OriginalStart.Add(delta)); err != nil {
					return err
				}
			}
		}

		if first {
			return seriesTx.Delete(ctx, series.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("split series %d: %w", series.ID, err)
	}

	result := &EditResult{Continuation: created}
	if first {
		s.notify(req.HouseholdID, "series", "deleted", series.ID, nil)
	} else {
		result.Series, err = s.series.GetByID(ctx, series.ID)
		if err != nil {
			return nil, err
		}
		s.notify(req.HouseholdID, "series", "updated", series.ID, nil)
	}
	s.notify(req.HouseholdID, "series", "created", created.ID, map[string]any{"parent_series_id": series.ID})

	s.logger.Info("series split", "series_id", series.ID, "continuation_id", created.ID, "at", orig)
	return result, nil
}

// continuation builds the series that carries the occurrences from orig
// onward: the target occurrence as currently rendered, with the changes on top.
func (s *Service) continuation(series model.Series, orig time.Time, target *model.Exception, c Changes) (model.Series, error) {
	occ := baseOccurrence(series, recurrence.Occurrence{OriginalStart: orig, Start: orig, End: orig.Add(series.Duration())})
	if target != nil {
		occ = overlay(occ, *target)
	}

	cont := series
	cont.ID = 0
	parent := series.ID
	cont.ParentSeriesID = &parent
	cont.Title = occ.Title
	cont.Description = occ.Description
	cont.Location = occ.Location
	cont.AllDay = occ.AllDay
	cont.StartTime = occ.Start
	cont.EndTime = occ.End
	cont.Members = append([]model.Member(nil), series.Members...)

	if c.RecurrenceRule.IsAbsent() {
		rule, err := seriesRule(series)
		if err != nil {
			return model.Series{}, err
		}
		if rule != nil && rule.Count > 0 {
			before, err := s.expander.CountBefore(*rule, series.StartTime, orig)
			if err != nil {
				return model.Series{}, s.expansionError(series, err)
			}
			rule.Count -= before
			cont.RecurrenceRule = rule.String()
		}
	}

	next, err := applySeriesChanges(cont, c)
	if err != nil {
		return model.Series{}, err
	}
	if next.RecurrenceEnd != nil {
		end := next.RecurrenceEnd.Add(next.StartTime.Sub(orig))
		next.RecurrenceEnd = &end
	}
	return next, nil
}

// applySeriesChanges returns base with the changes applied and validated.
func applySeriesChanges(base model.Series, c Changes) (model.Series, error) {
	out := base
	if v, ok := c.Title.Get(); ok {
		out.Title = v
	}
	if v, ok := c.Description.Get(); ok {
		out.Description = v
	}
	if v, ok := c.Location.Get(); ok {
		out.Location = v
	}
	if v, ok := c.AllDay.Get(); ok {
		out.AllDay = v
	}
	if v, ok := c.Color.Get(); ok {
		out.Color = v
	}
	if v, ok := c.ReminderMinutes.Get(); ok {
		out.ReminderMinutes = v
	}
	if v, ok := c.RecurrenceRule.Get(); ok {
		rule, err := normalizeRule(v)
		if err != nil {
			return model.Series{}, err
		}
		out.RecurrenceRule = rule
	}
	out.StartTime, out.EndTime = shiftSpan(base.StartTime, base.EndTime, c)

	if err := validateSpan(out.StartTime, out.EndTime); err != nil {
		return model.Series{}, err
	}
	return out, nil
}

// shiftSpan applies start/end changes to [start, end). A new start without a
// new end keeps the duration.
func shiftSpan(start, end time.Time, c Changes) (time.Time, time.Time) {
	duration := end.Sub(start)
	if v, ok := c.Start.Get(); ok {
		start = v.UTC()
		end = start.Add(duration)
	}
	if v, ok := c.End.Get(); ok {
		end = v.UTC()
	}
	return start, end
}

// capBefore returns the recurrence end that stops a series just before orig,
// never extending an earlier cap.
func capBefore(current *time.Time, orig time.Time) *time.Time {
	end := orig.Add(-time.Nanosecond)
	if current != nil && current.Before(end) {
		return current
	}
	return &end
}
