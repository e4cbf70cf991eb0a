package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
)

func (f *fixture) createSpan(t *testing.T, ownerID int64, title string, start, end time.Time, members ...model.Member) *model.Series {
	t.Helper()
	s, err := f.svc.CreateSeries(context.Background(), household, ownerID, SeriesInput{
		Title: title, Start: start, End: end, Members: members,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) importEvent(t *testing.T, userID int64, uid string, start, end time.Time) {
	t.Helper()
	ctx := context.Background()
	subs := store.NewSubscriptionStore(f.db)
	list, err := subs.ListByUser(ctx, household, userID)
	require.NoError(t, err)

	var subID int64
	if len(list) > 0 {
		subID = list[0].ID
	} else {
		sub, err := subs.Create(ctx, household, userID, "School", "https://example.com/school.ics")
		require.NoError(t, err)
		subID = sub.ID
	}
	require.NoError(t, subs.UpsertEvent(ctx, &model.ExternalEvent{
		SubscriptionID: subID, ExternalUID: uid, Title: "Imported", StartTime: start, EndTime: end,
	}))
}

func TestFreeBusyMergesOverlappingEvents(t *testing.T) {
	f := newFixture(t, Options{})
	f.createSpan(t, 10, "Call", at(2, 9), at(2, 10))
	f.createSpan(t, 10, "Review", at(2, 9).Add(30*time.Minute), at(2, 11))
	f.createSpan(t, 10, "Lunch", at(2, 11), at(2, 12))
	f.createSpan(t, 10, "Gym", at(2, 15), at(2, 16))

	records, err := f.svc.GetFreeBusy(context.Background(), household, []int64{10}, at(2, 0), at(3, 0))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(10), records[0].UserID)
	assert.Equal(t, []model.Interval{
		{Start: at(2, 9), End: at(2, 12)},
		{Start: at(2, 15), End: at(2, 16)},
	}, records[0].Busy)
}

func TestFreeBusyAwareIsNeverBusy(t *testing.T) {
	f := newFixture(t, Options{})
	f.createSpan(t, 10, "School open evening", at(2, 18), at(2, 20), model.Member{UserID: 11, Kind: model.Aware})

	records, err := f.svc.GetFreeBusy(context.Background(), household, []int64{10, 11}, at(2, 0), at(3, 0))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []model.Interval{{Start: at(2, 18), End: at(2, 20)}}, records[0].Busy)
	assert.Equal(t, int64(11), records[1].UserID)
	assert.NotNil(t, records[1].Busy)
	assert.Empty(t, records[1].Busy)

	// The event is still visible to the aware member.
	occs, err := f.svc.GetOccurrences(context.Background(), OccurrenceFilter{
		HouseholdID: household, From: at(2, 0), To: at(3, 0), UserIDs: []int64{11},
	})
	require.NoError(t, err)
	assert.Len(t, occs, 1)
}

func TestFreeBusyIncludesExternalEventsAndRecurrences(t *testing.T) {
	f := newFixture(t, Options{})
	f.create(t, "Standup", "FREQ=DAILY", at(1, 9), model.Member{UserID: 11, Kind: model.Involved})
	f.importEvent(t, 11, "dentist-1", at(2, 14), at(2, 15))
	f.importEvent(t, 12, "other-user", at(2, 8), at(2, 9))

	records, err := f.svc.GetFreeBusy(context.Background(), household, []int64{11}, at(2, 0), at(3, 0))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []model.Interval{
		{Start: at(2, 9), End: at(2, 10)},
		{Start: at(2, 14), End: at(2, 15)},
	}, records[0].Busy)
}

func TestFreeBusyClipsToRange(t *testing.T) {
	f := newFixture(t, Options{})
	f.createSpan(t, 10, "Trip", at(1, 0), at(4, 0))

	records, err := f.svc.GetFreeBusy(context.Background(), household, []int64{10}, at(2, 0), at(3, 0))
	require.NoError(t, err)
	assert.Equal(t, []model.Interval{{Start: at(2, 0), End: at(3, 0)}}, records[0].Busy)
}

func TestFreeBusyValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.GetFreeBusy(ctx, household, nil, at(2, 0), at(3, 0))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = f.svc.GetFreeBusy(ctx, household, []int64{10}, at(3, 0), at(2, 0))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestFindSlots(t *testing.T) {
	f := newFixture(t, Options{})
	f.createSpan(t, 10, "Call", at(2, 9), at(2, 10))
	f.createSpan(t, 11, "Piano", at(2, 12), at(2, 13))
	f.createSpan(t, 11, "Break", at(2, 14), at(2, 14).Add(30*time.Minute))

	slots, err := f.svc.FindSlots(context.Background(), household, []int64{10, 11}, time.Hour, at(2, 9), at(2, 17))
	require.NoError(t, err)
	assert.Equal(t, []model.Interval{
		{Start: at(2, 10), End: at(2, 12)},
		{Start: at(2, 13), End: at(2, 14)},
		{Start: at(2, 14).Add(30 * time.Minute), End: at(2, 17)},
	}, slots)
}

func TestFindSlotsFullyBusy(t *testing.T) {
	f := newFixture(t, Options{})
	f.createSpan(t, 10, "Workshop", at(2, 8), at(2, 18))

	slots, err := f.svc.FindSlots(context.Background(), household, []int64{10}, 30*time.Minute, at(2, 9), at(2, 17))
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)

	_, err = f.svc.FindSlots(context.Background(), household, []int64{10}, 0, at(2, 9), at(2, 17))
	assert.ErrorIs(t, err, ErrInvalidRange)
}
