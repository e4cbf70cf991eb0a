package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dukerupert/homebase/internal/model"
)

type SubscriptionStore struct {
	db DBTX
}

func NewSubscriptionStore(db DBTX) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) WithTx(tx *sql.Tx) *SubscriptionStore {
	return &SubscriptionStore{db: tx}
}

const subscriptionCols = `id, household_id, user_id, name, url, active, etag, last_modified, last_synced_at,
	last_sync_status, last_sync_error, created_at, updated_at`

func scanSubscription(sc scanner) (*model.ExternalSubscription, error) {
	var sub model.ExternalSubscription
	var active int
	var lastSynced sql.NullTime

	err := sc.Scan(&sub.ID, &sub.HouseholdID, &sub.UserID, &sub.Name, &sub.URL, &active, &sub.ETag,
		&sub.LastModified, &lastSynced, &sub.LastSyncStatus, &sub.LastSyncError, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Active = active != 0
	sub.LastSyncedAt = timePtr(lastSynced)
	return &sub, nil
}

func (s *SubscriptionStore) Create(ctx context.Context, householdID, userID int64, name, url string) (*model.ExternalSubscription, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO external_subscriptions (household_id, user_id, name, url) VALUES (?, ?, ?, ?)`,
		householdID, userID, name, url,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SubscriptionStore) GetByID(ctx context.Context, id int64) (*model.ExternalSubscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionCols+` FROM external_subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) ListByUser(ctx context.Context, householdID, userID int64) ([]model.ExternalSubscription, error) {
	return s.list(ctx,
		`SELECT `+subscriptionCols+` FROM external_subscriptions WHERE household_id = ? AND user_id = ? ORDER BY id`,
		householdID, userID)
}

// ListActive returns every active subscription across households.
func (s *SubscriptionStore) ListActive(ctx context.Context) ([]model.ExternalSubscription, error) {
	return s.list(ctx, `SELECT `+subscriptionCols+` FROM external_subscriptions WHERE active = 1 ORDER BY id`)
}

func (s *SubscriptionStore) list(ctx context.Context, query string, args ...any) ([]model.ExternalSubscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.ExternalSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SubscriptionStore) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE external_subscriptions SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set subscription active: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM external_subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// SyncResult is the outcome of one sync attempt recorded on the subscription.
type SyncResult struct {
	Status       string
	Error        string
	ETag         string
	LastModified string
	At           time.Time
}

func (s *SubscriptionStore) RecordSync(ctx context.Context, id int64, r SyncResult) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE external_subscriptions
		 SET last_sync_status = ?, last_sync_error = ?, etag = ?, last_modified = ?, last_synced_at = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		r.Status, r.Error, r.ETag, r.LastModified, r.At.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	return nil
}

const externalEventCols = `e.id, e.subscription_id, s.user_id, e.external_uid, e.title, e.location, e.start_time,
	e.end_time, e.all_day, e.updated_at`

func scanExternalEvent(sc scanner) (*model.ExternalEvent, error) {
	var ev model.ExternalEvent
	var allDay int
	err := sc.Scan(&ev.ID, &ev.SubscriptionID, &ev.UserID, &ev.ExternalUID, &ev.Title, &ev.Location,
		&ev.StartTime, &ev.EndTime, &allDay, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ev.StartTime = ev.StartTime.UTC()
	ev.EndTime = ev.EndTime.UTC()
	ev.AllDay = allDay != 0
	return &ev, nil
}

// UpsertEvent inserts the event or updates the row with the same
// (subscription, external UID), so re-imports never duplicate.
func (s *SubscriptionStore) UpsertEvent(ctx context.Context, ev *model.ExternalEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO external_events (subscription_id, external_uid, title, location, start_time, end_time, all_day)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subscription_id, external_uid) DO UPDATE SET
		   title = excluded.title, location = excluded.location, start_time = excluded.start_time,
		   end_time = excluded.end_time, all_day = excluded.all_day, updated_at = CURRENT_TIMESTAMP`,
		ev.SubscriptionID, ev.ExternalUID, ev.Title, ev.Location, ev.StartTime.UTC(), ev.EndTime.UTC(), boolToInt(ev.AllDay),
	)
	if err != nil {
		return fmt.Errorf("upsert external event: %w", err)
	}
	return nil
}

// PruneEvents deletes the subscription's events whose UIDs are not in keep.
func (s *SubscriptionStore) PruneEvents(ctx context.Context, subscriptionID int64, keep []string) (int64, error) {
	query := `DELETE FROM external_events WHERE subscription_id = ?`
	args := []any{subscriptionID}
	if len(keep) > 0 {
		query += ` AND external_uid NOT IN (?)`
		args = append(args, keep)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return 0, fmt.Errorf("expand prune query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune external events: %w", err)
	}
	return result.RowsAffected()
}

// ListEvents returns the events of active subscriptions owned by userIDs that
// overlap [from, to).
func (s *SubscriptionStore) ListEvents(ctx context.Context, householdID int64, userIDs []int64, from, to time.Time) ([]model.ExternalEvent, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT `+externalEventCols+`
		 FROM external_events e JOIN external_subscriptions s ON s.id = e.subscription_id
		 WHERE s.household_id = ? AND s.active = 1 AND s.user_id IN (?) AND e.start_time < ? AND e.end_time > ?
		 ORDER BY e.start_time, e.id`,
		householdID, userIDs, to.UTC(), from.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("expand external events query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query external events: %w", err)
	}
	defer rows.Close()

	var events []model.ExternalEvent
	for rows.Next() {
		ev, err := scanExternalEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan external event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}
