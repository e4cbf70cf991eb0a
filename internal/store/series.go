package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dukerupert/homebase/internal/model"
)

type SeriesStore struct {
	db DBTX
}

func NewSeriesStore(db DBTX) *SeriesStore {
	return &SeriesStore{db: db}
}

// WithTx returns a store bound to tx.
func (s *SeriesStore) WithTx(tx *sql.Tx) *SeriesStore {
	return &SeriesStore{db: tx}
}

const seriesCols = `id, household_id, owner_id, parent_series_id, title, description, location, start_time, end_time,
	all_day, recurrence_rule, recurrence_end, reminder_minutes, color, created_at, updated_at`

const memberCols = `series_id, user_id, kind, created_at`

func scanSeries(sc scanner) (*model.Series, error) {
	var m model.Series
	var allDay int
	var parentID, reminder sql.NullInt64
	var recurrenceEnd sql.NullTime

	err := sc.Scan(&m.ID, &m.HouseholdID, &m.OwnerID, &parentID, &m.Title, &m.Description, &m.Location,
		&m.StartTime, &m.EndTime, &allDay, &m.RecurrenceRule, &recurrenceEnd, &reminder, &m.Color,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	m.StartTime = m.StartTime.UTC()
	m.EndTime = m.EndTime.UTC()
	m.AllDay = allDay != 0
	m.RecurrenceEnd = timePtr(recurrenceEnd)
	if parentID.Valid {
		m.ParentSeriesID = &parentID.Int64
	}
	if reminder.Valid {
		v := int(reminder.Int64)
		m.ReminderMinutes = &v
	}
	m.Members = []model.Member{}
	return &m, nil
}

func scanMember(sc scanner) (*model.Member, error) {
	var m model.Member
	var kind string
	if err := sc.Scan(&m.SeriesID, &m.UserID, &kind, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Kind = model.ParticipationKind(kind)
	return &m, nil
}

// Create inserts the series and its members.
func (s *SeriesStore) Create(ctx context.Context, in *model.Series) (*model.Series, error) {
	var parentID, reminder sql.NullInt64
	if in.ParentSeriesID != nil {
		parentID = sql.NullInt64{Int64: *in.ParentSeriesID, Valid: true}
	}
	if in.ReminderMinutes != nil {
		reminder = sql.NullInt64{Int64: int64(*in.ReminderMinutes), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO series (household_id, owner_id, parent_series_id, title, description, location, start_time, end_time,
		 all_day, recurrence_rule, recurrence_end, reminder_minutes, color)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.HouseholdID, in.OwnerID, parentID, in.Title, in.Description, in.Location, in.StartTime.UTC(), in.EndTime.UTC(),
		boolToInt(in.AllDay), in.RecurrenceRule, nullTime(in.RecurrenceEnd), reminder, in.Color,
	)
	if err != nil {
		return nil, fmt.Errorf("insert series: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	for _, m := range in.Members {
		if err := s.AddMember(ctx, id, m.UserID, m.Kind); err != nil {
			return nil, err
		}
	}

	return s.GetByID(ctx, id)
}

func (s *SeriesStore) GetByID(ctx context.Context, id int64) (*model.Series, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+seriesCols+` FROM series WHERE id = ?`, id)
	m, err := scanSeries(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get series: %w", err)
	}

	members, err := s.ListMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Members = members
	return m, nil
}

// Update rewrites the series' own fields. Ownership, lineage and members are
// left untouched.
func (s *SeriesStore) Update(ctx context.Context, in *model.Series) (*model.Series, error) {
	var reminder sql.NullInt64
	if in.ReminderMinutes != nil {
		reminder = sql.NullInt64{Int64: int64(*in.ReminderMinutes), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE series
		 SET title = ?, description = ?, location = ?, start_time = ?, end_time = ?, all_day = ?,
		     recurrence_rule = ?, recurrence_end = ?, reminder_minutes = ?, color = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		in.Title, in.Description, in.Location, in.StartTime.UTC(), in.EndTime.UTC(), boolToInt(in.AllDay),
		in.RecurrenceRule, nullTime(in.RecurrenceEnd), reminder, in.Color, in.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update series: %w", err)
	}

	return s.GetByID(ctx, in.ID)
}

// SetRecurrenceEnd caps (or uncaps, with nil) the series.
func (s *SeriesStore) SetRecurrenceEnd(ctx context.Context, id int64, end *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE series SET recurrence_end = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nullTime(end), id,
	)
	if err != nil {
		return fmt.Errorf("set recurrence end: %w", err)
	}
	return nil
}

// Delete removes the series; members and exceptions cascade.
func (s *SeriesStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM series WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete series: %w", err)
	}
	return nil
}

// SeriesQuery selects the series that may produce occurrences in [From, To).
// Recurring series are matched on start only, since their occurrences extend
// past the anchor.
type SeriesQuery struct {
	HouseholdID int64
	SeriesID    int64
	UserIDs     []int64
	Kinds       []model.ParticipationKind
	From        time.Time
	To          time.Time
}

func (s *SeriesStore) List(ctx context.Context, q SeriesQuery) ([]model.Series, error) {
	// A series also matches when one of its exceptions moved an occurrence
	// into the window, possibly to before the series' own start.
	query := `SELECT ` + seriesCols + ` FROM series
		WHERE household_id = ?
		AND ((start_time < ? AND (recurrence_rule != '' OR end_time > ?))
			OR EXISTS (SELECT 1 FROM series_exceptions x
				WHERE x.series_id = series.id AND x.deleted = 0 AND (x.start_time < ? OR x.end_time > ?)))`
	args := []any{q.HouseholdID, q.To.UTC(), q.From.UTC(), q.To.UTC(), q.From.UTC()}

	if q.SeriesID != 0 {
		query += ` AND id = ?`
		args = append(args, q.SeriesID)
	}
	if len(q.UserIDs) > 0 {
		query += ` AND id IN (SELECT series_id FROM series_members WHERE user_id IN (?)`
		args = append(args, q.UserIDs)
		if len(q.Kinds) > 0 {
			kinds := make([]string, len(q.Kinds))
			for i, k := range q.Kinds {
				kinds[i] = string(k)
			}
			query += ` AND kind IN (?)`
			args = append(args, kinds)
		}
		query += `)`
	}
	query += ` ORDER BY start_time ASC, id ASC`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expand series query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	var list []model.Series
	var ids []int64
	for rows.Next() {
		m, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		list = append(list, *m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := s.membersFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if ms, ok := members[list[i].ID]; ok {
			list[i].Members = ms
		}
	}
	return list, nil
}

// AddMember adds userID to the series, or changes their kind if already a member.
func (s *SeriesStore) AddMember(ctx context.Context, seriesID, userID int64, kind model.ParticipationKind) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO series_members (series_id, user_id, kind) VALUES (?, ?, ?)
		 ON CONFLICT (series_id, user_id) DO UPDATE SET kind = excluded.kind`,
		seriesID, userID, string(kind),
	)
	if err != nil {
		return fmt.Errorf("upsert series member: %w", err)
	}
	return nil
}

// RemoveMember reports whether a membership was removed.
func (s *SeriesStore) RemoveMember(ctx context.Context, seriesID, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM series_members WHERE series_id = ? AND user_id = ?`, seriesID, userID)
	if err != nil {
		return false, fmt.Errorf("delete series member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SeriesStore) ListMembers(ctx context.Context, seriesID int64) ([]model.Member, error) {
	members, err := s.membersFor(ctx, []int64{seriesID})
	if err != nil {
		return nil, err
	}
	if ms, ok := members[seriesID]; ok {
		return ms, nil
	}
	return []model.Member{}, nil
}

func (s *SeriesStore) membersFor(ctx context.Context, seriesIDs []int64) (map[int64][]model.Member, error) {
	out := make(map[int64][]model.Member, len(seriesIDs))
	if len(seriesIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		`SELECT `+memberCols+` FROM series_members WHERE series_id IN (?) ORDER BY series_id, user_id`, seriesIDs)
	if err != nil {
		return nil, fmt.Errorf("expand members query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query series members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan series member: %w", err)
		}
		out[m.SeriesID] = append(out[m.SeriesID], *m)
	}
	return out, rows.Err()
}
