package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/homebase/internal/database"
	"github.com/dukerupert/homebase/internal/model"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ts(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func createSeries(t *testing.T, s *SeriesStore, rule string, start time.Time, members ...model.Member) *model.Series {
	t.Helper()
	created, err := s.Create(context.Background(), &model.Series{
		HouseholdID:    1,
		OwnerID:        10,
		Title:          "Standup",
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		RecurrenceRule: rule,
		Members:        members,
	})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	return created
}

func TestRunInTxCommit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := RunInTx(ctx, db, func(tx *sql.Tx) error {
		_, err := NewSeriesStore(tx).Create(ctx, &model.Series{
			HouseholdID: 1, OwnerID: 10, Title: "Dentist",
			StartTime: ts(2026, 3, 2, 9), EndTime: ts(2026, 3, 2, 10),
		})
		return err
	})
	if err != nil {
		t.Fatalf("run in tx: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM series`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("series count = %d, want 1", n)
	}
}

func TestRunInTxRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := RunInTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := NewSeriesStore(tx).Create(ctx, &model.Series{
			HouseholdID: 1, OwnerID: 10, Title: "Dentist",
			StartTime: ts(2026, 3, 2, 9), EndTime: ts(2026, 3, 2, 10),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM series`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("series count = %d after rollback, want 0", n)
	}
}
