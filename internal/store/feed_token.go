package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

type FeedTokenStore struct {
	db DBTX
}

func NewFeedTokenStore(db DBTX) *FeedTokenStore {
	return &FeedTokenStore{db: db}
}

const feedTokenCols = `id, household_id, user_id, label, revoked, revoked_at, last_used_at, created_at,
	content_hash, content_changed_at`

func scanFeedToken(sc scanner) (*model.FeedToken, error) {
	var t model.FeedToken
	var revoked int
	var revokedAt, lastUsed, contentChanged sql.NullTime
	err := sc.Scan(&t.ID, &t.HouseholdID, &t.UserID, &t.Label, &revoked, &revokedAt, &lastUsed, &t.CreatedAt,
		&t.ContentHash, &contentChanged)
	if err != nil {
		return nil, err
	}
	t.ContentChangedAt = timePtr(contentChanged)
	t.Revoked = revoked != 0
	t.RevokedAt = timePtr(revokedAt)
	t.LastUsedAt = timePtr(lastUsed)
	return &t, nil
}

// Create stores a token by its hash; the plaintext never reaches the database.
func (s *FeedTokenStore) Create(ctx context.Context, householdID, userID int64, label, tokenHash string) (*model.FeedToken, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_tokens (household_id, user_id, label, token_hash) VALUES (?, ?, ?, ?)`,
		householdID, userID, label, tokenHash,
	)
	if err != nil {
		return nil, fmt.Errorf("insert feed token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *FeedTokenStore) GetByID(ctx context.Context, id int64) (*model.FeedToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedTokenCols+` FROM feed_tokens WHERE id = ?`, id)
	t, err := scanFeedToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed token: %w", err)
	}
	return t, nil
}

// GetByHash returns the token with the given hash, revoked or not.
func (s *FeedTokenStore) GetByHash(ctx context.Context, tokenHash string) (*model.FeedToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedTokenCols+` FROM feed_tokens WHERE token_hash = ?`, tokenHash)
	t, err := scanFeedToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed token by hash: %w", err)
	}
	return t, nil
}

func (s *FeedTokenStore) ListByUser(ctx context.Context, householdID, userID int64) ([]model.FeedToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedTokenCols+` FROM feed_tokens WHERE household_id = ? AND user_id = ? ORDER BY created_at DESC, id DESC`,
		householdID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query feed tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.FeedToken
	for rows.Next() {
		t, err := scanFeedToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func (s *FeedTokenStore) Revoke(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feed_tokens SET revoked = 1, revoked_at = ? WHERE id = ? AND revoked = 0`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke feed token: %w", err)
	}
	return nil
}

func (s *FeedTokenStore) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE feed_tokens SET last_used_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch feed token: %w", err)
	}
	return nil
}

// RecordContent stores the hash of the feed just rendered for the token.
func (s *FeedTokenStore) RecordContent(ctx context.Context, id int64, hash string, changedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feed_tokens SET content_hash = ?, content_changed_at = ? WHERE id = ?`, hash, changedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("record feed content: %w", err)
	}
	return nil
}

func (s *FeedTokenStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM feed_tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete feed token: %w", err)
	}
	return nil
}
