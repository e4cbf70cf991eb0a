package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/homebase/internal/availability"
	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
)

// GetFreeBusy returns one record per requested user, in request order, with
// the user's busy time in [from, to). Involved memberships and external
// events count as busy; Aware memberships never do.
func (s *Service) GetFreeBusy(ctx context.Context, householdID int64, userIDs []int64, from, to time.Time) ([]model.FreeBusy, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	ids := uniqueIDs(userIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one user is required", ErrInvalidRange)
	}

	series, err := s.series.List(ctx, store.SeriesQuery{
		HouseholdID: householdID,
		UserIDs:     ids,
		Kinds:       []model.ParticipationKind{model.Involved},
		From:        from,
		To:          to,
	})
	if err != nil {
		return nil, err
	}

	occs, err := s.expandAll(ctx, series, from, to)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	involved := make(map[int64][]int64, len(series))
	for _, sr := range series {
		for _, m := range sr.Members {
			if m.Kind == model.Involved && wanted[m.UserID] {
				involved[sr.ID] = append(involved[sr.ID], m.UserID)
			}
		}
	}

	busy := make(map[int64][]model.Interval, len(ids))
	for _, occ := range occs {
		for _, userID := range involved[occ.SeriesID] {
			busy[userID] = append(busy[userID], model.Interval{Start: occ.Start, End: occ.End})
		}
	}

	events, err := s.subs.ListEvents(ctx, householdID, ids, from, to)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		busy[ev.UserID] = append(busy[ev.UserID], model.Interval{Start: ev.StartTime, End: ev.EndTime})
	}

	out := make([]model.FreeBusy, 0, len(ids))
	for _, id := range ids {
		merged := availability.Merge(availability.Clip(busy[id], from, to))
		out = append(out, model.FreeBusy{UserID: id, Busy: merged})
	}
	return out, nil
}

// FindSlots returns every maximal gap in [from, to) at least duration long
// during which none of the users is busy. No gap yields an empty slice.
func (s *Service) FindSlots(ctx context.Context, householdID int64, userIDs []int64, duration time.Duration, from, to time.Time) ([]model.Interval, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidRange)
	}

	records, err := s.GetFreeBusy(ctx, householdID, userIDs, from, to)
	if err != nil {
		return nil, err
	}

	var busy []model.Interval
	for _, r := range records {
		busy = append(busy, r.Busy...)
	}
	return availability.FindSlots(busy, from, to, duration), nil
}
