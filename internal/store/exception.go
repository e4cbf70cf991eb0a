package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dukerupert/homebase/internal/model"
)

type ExceptionStore struct {
	db DBTX
}

func NewExceptionStore(db DBTX) *ExceptionStore {
	return &ExceptionStore{db: db}
}

func (s *ExceptionStore) WithTx(tx *sql.Tx) *ExceptionStore {
	return &ExceptionStore{db: tx}
}

const exceptionCols = `id, series_id, original_start, deleted, title, description, location, start_time, end_time,
	all_day, created_at, updated_at`

func scanException(sc scanner) (*model.Exception, error) {
	var e model.Exception
	var deleted int
	var title, description, location sql.NullString
	var start, end sql.NullTime
	var allDay sql.NullInt64

	err := sc.Scan(&e.ID, &e.SeriesID, &e.OriginalStart, &deleted, &title, &description, &location,
		&start, &end, &allDay, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.OriginalStart = e.OriginalStart.UTC()
	e.Deleted = deleted != 0
	e.Title = stringPtr(title)
	e.Description = stringPtr(description)
	e.Location = stringPtr(location)
	e.StartTime = timePtr(start)
	e.EndTime = timePtr(end)
	if allDay.Valid {
		v := allDay.Int64 != 0
		e.AllDay = &v
	}
	return &e, nil
}

// Upsert writes the exception keyed by (series, original start), replacing
// any existing row for that key.
func (s *ExceptionStore) Upsert(ctx context.Context, e *model.Exception) (*model.Exception, error) {
	var allDay sql.NullInt64
	if e.AllDay != nil {
		allDay = sql.NullInt64{Int64: int64(boolToInt(*e.AllDay)), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO series_exceptions (series_id, original_start, deleted, title, description, location, start_time, end_time, all_day)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (series_id, original_start) DO UPDATE SET
		   deleted = excluded.deleted, title = excluded.title, description = excluded.description,
		   location = excluded.location, start_time = excluded.start_time, end_time = excluded.end_time,
		   all_day = excluded.all_day, updated_at = CURRENT_TIMESTAMP`,
		e.SeriesID, e.OriginalStart.UTC(), boolToInt(e.Deleted), nullString(e.Title), nullString(e.Description),
		nullString(e.Location), nullTime(e.StartTime), nullTime(e.EndTime), allDay,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert exception: %w", err)
	}

	return s.Get(ctx, e.SeriesID, e.OriginalStart)
}

// Get returns the exception for the occurrence that originally started at
// originalStart, or nil when there is none.
func (s *ExceptionStore) Get(ctx context.Context, seriesID int64, originalStart time.Time) (*model.Exception, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+exceptionCols+` FROM series_exceptions WHERE series_id = ? AND original_start = ?`,
		seriesID, originalStart.UTC(),
	)
	e, err := scanException(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get exception: %w", err)
	}
	return e, nil
}

func (s *ExceptionStore) ListBySeries(ctx context.Context, seriesID int64) ([]model.Exception, error) {
	m, err := s.ListBySeriesIDs(ctx, []int64{seriesID})
	if err != nil {
		return nil, err
	}
	return m[seriesID], nil
}

// ListBySeriesIDs returns exceptions grouped by series, each group ordered by
// original start.
func (s *ExceptionStore) ListBySeriesIDs(ctx context.Context, seriesIDs []int64) (map[int64][]model.Exception, error) {
	out := make(map[int64][]model.Exception, len(seriesIDs))
	if len(seriesIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		`SELECT `+exceptionCols+` FROM series_exceptions WHERE series_id IN (?) ORDER BY series_id, original_start`,
		seriesIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("expand exceptions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		out[e.SeriesID] = append(out[e.SeriesID], *e)
	}
	return out, rows.Err()
}

// Move re-parents an exception onto another series under a new key.
func (s *ExceptionStore) Move(ctx context.Context, id, seriesID int64, originalStart time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE series_exceptions SET series_id = ?, original_start = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		seriesID, originalStart.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("move exception: %w", err)
	}
	return nil
}

func (s *ExceptionStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM series_exceptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	return nil
}
