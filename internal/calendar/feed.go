package calendar

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/dukerupert/homebase/internal/icsfeed"
	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
)

const feedName = "Homebase"

// HashToken returns the digest under which a feed token is stored.
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate feed token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CreateFeedToken issues a new token. The plaintext is only available on the
// returned value.
func (s *Service) CreateFeedToken(ctx context.Context, householdID, userID int64, label string) (*model.FeedToken, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	ft, err := s.tokens.Create(ctx, householdID, userID, strings.TrimSpace(label), HashToken(token))
	if err != nil {
		return nil, err
	}
	ft.Token = token
	return ft, nil
}

func (s *Service) ListFeedTokens(ctx context.Context, householdID, userID int64) ([]model.FeedToken, error) {
	tokens, err := s.tokens.ListByUser(ctx, householdID, userID)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = []model.FeedToken{}
	}
	return tokens, nil
}

func (s *Service) RevokeFeedToken(ctx context.Context, householdID, userID, id int64) error {
	if _, err := s.ownedToken(ctx, householdID, userID, id); err != nil {
		return err
	}
	return s.tokens.Revoke(ctx, id, s.now())
}

func (s *Service) DeleteFeedToken(ctx context.Context, householdID, userID, id int64) error {
	if _, err := s.ownedToken(ctx, householdID, userID, id); err != nil {
		return err
	}
	return s.tokens.Delete(ctx, id)
}

func (s *Service) ownedToken(ctx context.Context, householdID, userID, id int64) (*model.FeedToken, error) {
	ft, err := s.tokens.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ft == nil || ft.HouseholdID != householdID {
		return nil, fmt.Errorf("%w: token %d", ErrTokenInvalid, id)
	}
	if ft.UserID != userID {
		return nil, fmt.Errorf("%w: token %d belongs to another user", ErrForbidden, id)
	}
	return ft, nil
}

// Feed is a rendered calendar. LastModified changes only when the rendered
// entries do.
type Feed struct {
	Body         []byte
	LastModified time.Time
}

// GenerateIcsFeed renders the token owner's calendar over the rolling
// horizon. Unknown and revoked tokens yield ErrTokenInvalid and nothing else.
func (s *Service) GenerateIcsFeed(ctx context.Context, token string) (*Feed, error) {
	ft, err := s.resolveToken(ctx, token)
	if err != nil {
		s.metrics.FeedRequest("not_found")
		return nil, err
	}

	now := s.now().UTC()
	from := now.Add(-s.lookback).Truncate(24 * time.Hour)
	to := now.Add(s.lookahead).Truncate(24 * time.Hour)

	entries, err := s.feedEntries(ctx, ft, from, to)
	if err != nil {
		s.metrics.FeedRequest("error")
		return nil, err
	}

	// The content hash ignores DTSTAMP so that an unchanged calendar keeps
	// its Last-Modified.
	var probe bytes.Buffer
	if err := icsfeed.Encode(&probe, feedName, entries, time.Unix(0, 0)); err != nil {
		return nil, err
	}
	hash := HashToken(probe.String())

	changedAt := now.Truncate(time.Second)
	if ft.ContentHash == hash && ft.ContentChangedAt != nil {
		changedAt = *ft.ContentChangedAt
	} else if err := s.tokens.RecordContent(ctx, ft.ID, hash, changedAt); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := icsfeed.Encode(&body, feedName, entries, changedAt); err != nil {
		return nil, err
	}

	if err := s.tokens.TouchLastUsed(ctx, ft.ID, now); err != nil {
		s.logger.Warn("touch feed token", "token_id", ft.ID, "error", err)
	}
	s.metrics.FeedRequest("ok")
	return &Feed{Body: body.Bytes(), LastModified: changedAt}, nil
}

func (s *Service) resolveToken(ctx context.Context, token string) (*model.FeedToken, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	ft, err := s.tokens.GetByHash(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	if ft == nil || ft.Revoked {
		return nil, ErrTokenInvalid
	}
	return ft, nil
}

// feedEntries collects the user's involved and aware occurrences plus the
// events of their active subscriptions.
func (s *Service) feedEntries(ctx context.Context, ft *model.FeedToken, from, to time.Time) ([]icsfeed.Entry, error) {
	series, err := s.series.List(ctx, store.SeriesQuery{
		HouseholdID: ft.HouseholdID,
		UserIDs:     []int64{ft.UserID},
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

	entries := make([]icsfeed.Entry, 0, len(occs))
	for _, occ := range occs {
		entries = append(entries, icsfeed.Entry{
			UID:         icsfeed.OccurrenceUID(occ.SeriesID, occ.OriginalStart),
			Summary:     occ.Title,
			Description: occ.Description,
			Location:    occ.Location,
			Start:       occ.Start,
			End:         occ.End,
			AllDay:      occ.AllDay,
		})
	}

	events, err := s.subs.ListEvents(ctx, ft.HouseholdID, []int64{ft.UserID}, from, to)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		entries = append(entries, icsfeed.Entry{
			UID:      icsfeed.ExternalUID(ev.SubscriptionID, ev.ExternalUID),
			Summary:  ev.Title,
			Location: ev.Location,
			Start:    ev.StartTime,
			End:      ev.EndTime,
			AllDay:   ev.AllDay,
		})
	}
	return entries, nil
}
