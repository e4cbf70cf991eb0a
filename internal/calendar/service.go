// Package calendar is the recurrence and availability engine: it expands
// series into occurrences, overlays exceptions, applies scoped edits and
// computes free/busy, open slots and the ICS feed.
package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/homebase/internal/metrics"
	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/recurrence"
	"github.com/dukerupert/homebase/internal/store"
	"github.com/dukerupert/homebase/internal/websocket"
)

const (
	DefaultFeedLookback  = 30 * 24 * time.Hour
	DefaultFeedLookahead = 180 * 24 * time.Hour
)

// Notifier receives change notifications scoped to a household.
type Notifier interface {
	Publish(householdID int64, msg websocket.Message)
}

type Options struct {
	MaxOccurrences int
	FeedLookback   time.Duration
	FeedLookahead  time.Duration
	Now            func() time.Time
	Notifier       Notifier
	Metrics        *metrics.Metrics
}

type Service struct {
	db         *sql.DB
	series     *store.SeriesStore
	exceptions *store.ExceptionStore
	subs       *store.SubscriptionStore
	tokens     *store.FeedTokenStore
	expander   recurrence.Expander
	lookback   time.Duration
	lookahead  time.Duration
	now        func() time.Time
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewService(db *sql.DB, logger *slog.Logger, opts Options) *Service {
	s := &Service{
		db:         db,
		series:     store.NewSeriesStore(db),
		exceptions: store.NewExceptionStore(db),
		subs:       store.NewSubscriptionStore(db),
		tokens:     store.NewFeedTokenStore(db),
		expander:   recurrence.Expander{Limit: opts.MaxOccurrences},
		lookback:   opts.FeedLookback,
		lookahead:  opts.FeedLookahead,
		now:        opts.Now,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		logger:     logger,
	}
	if s.lookback <= 0 {
		s.lookback = DefaultFeedLookback
	}
	if s.lookahead <= 0 {
		s.lookahead = DefaultFeedLookahead
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) notify(householdID int64, entity, action string, id int64, extra map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(householdID, websocket.NewMessage(entity, action, id, extra))
}

// SeriesInput carries the fields of a new series.
type SeriesInput struct {
	Title           string
	Description     string
	Location        string
	Start           time.Time
	End             time.Time
	AllDay          bool
	RecurrenceRule  string
	ReminderMinutes *int
	Color           string
	Members         []model.Member
}

// CreateSeries validates and stores a new series. The owner is added as an
// involved member unless listed explicitly.
func (s *Service) CreateSeries(ctx context.Context, householdID, ownerID int64, in SeriesInput) (*model.Series, error) {
	rule, err := normalizeRule(in.RecurrenceRule)
	if err != nil {
		return nil, err
	}
	if err := validateSpan(in.Start, in.End); err != nil {
		return nil, err
	}

	members, err := withOwner(in.Members, ownerID)
	if err != nil {
		return nil, err
	}

	series := &model.Series{
		HouseholdID:     householdID,
		OwnerID:         ownerID,
		Title:           in.Title,
		Description:     in.Description,
		Location:        in.Location,
		StartTime:       in.Start.UTC(),
		EndTime:         in.End.UTC(),
		AllDay:          in.AllDay,
		RecurrenceRule:  rule,
		ReminderMinutes: in.ReminderMinutes,
		Color:           in.Color,
		Members:         members,
	}

	var created *model.Series
	err = store.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		created, err = s.series.WithTx(tx).Create(ctx, series)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create series: %w", err)
	}

	s.notify(householdID, "series", "created", created.ID, nil)
	return created, nil
}

// GetSeries returns the series if it belongs to the household.
func (s *Service) GetSeries(ctx context.Context, householdID, id int64) (*model.Series, error) {
	series, err := s.series.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if series == nil || series.HouseholdID != householdID {
		return nil, fmt.Errorf("%w: %d", ErrSeriesNotFound, id)
	}
	return series, nil
}

// UpdateSeries is the AllEvents update path.
func (s *Service) UpdateSeries(ctx context.Context, householdID, id int64, changes Changes) (*model.Series, error) {
	res, err := s.ApplyEdit(ctx, EditRequest{HouseholdID: householdID, SeriesID: id, Scope: AllEvents, Changes: changes})
	if err != nil {
		return nil, err
	}
	return res.Series, nil
}

// DeleteSeries removes the series with its exceptions and members.
func (s *Service) DeleteSeries(ctx context.Context, householdID, id int64) error {
	_, err := s.ApplyEdit(ctx, EditRequest{HouseholdID: householdID, SeriesID: id, Scope: AllEvents, Delete: true})
	return err
}

// SetMember adds a member or changes their participation kind.
func (s *Service) SetMember(ctx context.Context, householdID, seriesID, userID int64, kind model.ParticipationKind) (*model.Series, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown participation kind %q", ErrInvalidEdit, kind)
	}
	if _, err := s.GetSeries(ctx, householdID, seriesID); err != nil {
		return nil, err
	}
	if err := s.series.AddMember(ctx, seriesID, userID, kind); err != nil {
		return nil, err
	}
	s.notify(householdID, "series", "updated", seriesID, map[string]any{"member": userID})
	return s.series.GetByID(ctx, seriesID)
}

func (s *Service) RemoveMember(ctx context.Context, householdID, seriesID, userID int64) error {
	if _, err := s.GetSeries(ctx, householdID, seriesID); err != nil {
		return err
	}
	removed, err := s.series.RemoveMember(ctx, seriesID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: user %d on series %d", ErrMemberNotFound, userID, seriesID)
	}
	s.notify(householdID, "series", "updated", seriesID, map[string]any{"member": userID})
	return nil
}

// normalizeRule parses rule text and returns its canonical form; "" stays "".
func normalizeRule(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	rule, err := recurrence.Parse(text)
	if err != nil {
		return "", err
	}
	return rule.String(), nil
}

// seriesRule parses the stored rule; nil means a single occurrence.
func seriesRule(series model.Series) (*recurrence.Rule, error) {
	if !series.IsRecurring() {
		return nil, nil
	}
	rule, err := recurrence.Parse(series.RecurrenceRule)
	if err != nil {
		return nil, fmt.Errorf("series %d: %w", series.ID, err)
	}
	return &rule, nil
}

func validateSpan(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidRange)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end must be after start", ErrInvalidRange)
	}
	return nil
}

func validateRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return fmt.Errorf("%w: from must be before to", ErrInvalidRange)
	}
	return nil
}

func withOwner(members []model.Member, ownerID int64) ([]model.Member, error) {
	out := make([]model.Member, 0, len(members)+1)
	seen := make(map[int64]bool)
	for _, m := range members {
		if !m.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown participation kind %q", ErrInvalidEdit, m.Kind)
		}
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		out = append(out, m)
	}
	if !seen[ownerID] {
		out = append(out, model.Member{UserID: ownerID, Kind: model.Involved})
	}
	return out, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
