// Package icssync imports events from remote ICS subscriptions so that they
// count toward their owner's free/busy time.
package icssync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/homebase/internal/metrics"
	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
	"github.com/dukerupert/homebase/internal/websocket"
)

const DefaultHorizon = 90 * 24 * time.Hour

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrForbidden            = errors.New("forbidden")
)

// Notifier receives change notifications scoped to a household.
type Notifier interface {
	Publish(householdID int64, msg websocket.Message)
}

type Options struct {
	Timeout  time.Duration
	Horizon  time.Duration
	Now      func() time.Time
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Service manages subscriptions and keeps their imported events current.
type Service struct {
	db       *sql.DB
	subs     *store.SubscriptionStore
	fetcher  *Fetcher
	horizon  time.Duration
	now      func() time.Time
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(db *sql.DB, logger *slog.Logger, opts Options) *Service {
	s := &Service{
		db:       db,
		subs:     store.NewSubscriptionStore(db),
		fetcher:  NewFetcher(opts.Timeout),
		horizon:  opts.Horizon,
		now:      opts.Now,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   logger,
	}
	if s.horizon <= 0 {
		s.horizon = DefaultHorizon
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func parseFeedURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	switch u.Scheme {
	case "http", "https":
		return u, nil
	case "webcal":
		u.Scheme = "https"
		return u, nil
	}
	return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
}

// Create adds a subscription for the user. webcal:// URLs are stored as https.
func (s *Service) Create(ctx context.Context, householdID, userID int64, name, rawURL string) (*model.ExternalSubscription, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSubscription)
	}
	u, err := parseFeedURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: url: %v", ErrInvalidSubscription, err)
	}

	sub, err := s.subs.Create(ctx, householdID, userID, name, u.String())
	if err != nil {
		return nil, err
	}
	s.notify(householdID, "created", sub.ID)
	return sub, nil
}

func (s *Service) List(ctx context.Context, householdID, userID int64) ([]model.ExternalSubscription, error) {
	subs, err := s.subs.ListByUser(ctx, householdID, userID)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []model.ExternalSubscription{}
	}
	return subs, nil
}

// Delete removes a subscription and, by cascade, its imported events.
func (s *Service) Delete(ctx context.Context, householdID, userID, id int64) error {
	if _, err := s.owned(ctx, householdID, userID, id); err != nil {
		return err
	}
	if err := s.subs.Delete(ctx, id); err != nil {
		return err
	}
	s.notify(householdID, "deleted", id)
	return nil
}

// SyncNow syncs one of the user's subscriptions immediately.
func (s *Service) SyncNow(ctx context.Context, householdID, userID, id int64) (*model.ExternalSubscription, error) {
	sub, err := s.owned(ctx, householdID, userID, id)
	if err != nil {
		return nil, err
	}
	syncErr := s.Sync(ctx, sub)
	updated, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrSubscriptionNotFound
	}
	return updated, syncErr
}

func (s *Service) owned(ctx context.Context, householdID, userID, id int64) (*model.ExternalSubscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.HouseholdID != householdID {
		return nil, ErrSubscriptionNotFound
	}
	if sub.UserID != userID {
		return nil, ErrForbidden
	}
	return sub, nil
}

// SyncAll syncs every active subscription. Failures are recorded on the
// subscription and logged; they do not stop the run.
func (s *Service) SyncAll(ctx context.Context) {
	subs, err := s.subs.ListActive(ctx)
	if err != nil {
		s.logger.Error("list subscriptions", "error", err)
		return
	}
	for i := range subs {
		if ctx.Err() != nil {
			return
		}
		_ = s.Sync(ctx, &subs[i])
	}
}

// Sync fetches one subscription and replaces its imported events with the
// instances in [now-horizon, now+horizon). Events are only pruned after a
// successful parse, so a broken feed never empties the calendar.
func (s *Service) Sync(ctx context.Context, sub *model.ExternalSubscription) error {
	now := s.now().UTC()
	log := s.logger.With("subscription_id", sub.ID, "url", redactURL(sub.URL))

	res, err := s.fetcher.Fetch(ctx, sub.URL, sub.ETag, sub.LastModified)
	if err != nil {
		return s.fail(ctx, log, sub, now, err)
	}
	if res.NotModified {
		s.metrics.SyncRun("not_modified", 0)
		log.Debug("subscription not modified")
		return s.subs.RecordSync(ctx, sub.ID, store.SyncResult{
			Status: model.SyncStatusOK, ETag: res.ETag, LastModified: res.LastModified, At: now,
		})
	}

	instances, skipped, err := Parse(res.Body, now.Add(-s.horizon), now.Add(s.horizon))
	if err != nil {
		return s.fail(ctx, log, sub, now, err)
	}

	var pruned int64
	err = store.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		txSubs := s.subs.WithTx(tx)
		keep := make([]string, 0, len(instances))
		for _, in := range instances {
			if err := txSubs.UpsertEvent(ctx, in.event(sub.ID)); err != nil {
				return err
			}
			keep = append(keep, in.UID)
		}
		n, err := txSubs.PruneEvents(ctx, sub.ID, keep)
		if err != nil {
			return err
		}
		pruned = n
		return txSubs.RecordSync(ctx, sub.ID, store.SyncResult{
			Status: model.SyncStatusOK, ETag: res.ETag, LastModified: res.LastModified, At: now,
		})
	})
	if err != nil {
		return s.fail(ctx, log, sub, now, fmt.Errorf("store events: %w", err))
	}

	s.metrics.SyncRun("ok", len(instances))
	log.Info("subscription synced", "events", len(instances), "pruned", pruned, "skipped", skipped)
	s.notify(sub.HouseholdID, "synced", sub.ID)
	return nil
}

func (s *Service) fail(ctx context.Context, log *slog.Logger, sub *model.ExternalSubscription, at time.Time, cause error) error {
	s.metrics.SyncRun("error", 0)
	log.Warn("subscription sync failed", "error", cause)
	err := s.subs.RecordSync(ctx, sub.ID, store.SyncResult{
		Status: model.SyncStatusError, Error: cause.Error(), ETag: sub.ETag, LastModified: sub.LastModified, At: at,
	})
	if err != nil {
		log.Error("record sync failure", "error", err)
	}
	return fmt.Errorf("sync subscription %d: %w", sub.ID, cause)
}

func (s *Service) notify(householdID int64, action string, id int64) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(householdID, websocket.NewMessage("subscription", action, id, nil))
}
