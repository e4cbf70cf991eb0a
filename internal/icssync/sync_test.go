package icssync

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/homebase/internal/database"
	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
	"github.com/dukerupert/homebase/internal/websocket"
)

type recordingNotifier struct {
	mu    sync.Mutex
	types []string
}

func (n *recordingNotifier) Publish(_ int64, msg websocket.Message) {
	n.mu.Lock()
	n.types = append(n.types, msg.Type)
	n.mu.Unlock()
}

// remote serves a mutable ICS body with an ETag and answers conditional
// requests with 304.
type remote struct {
	mu       sync.Mutex
	body     []byte
	etag     string
	status   int
	requests int
}

func (r *remote) set(body []byte, etag string) {
	r.mu.Lock()
	r.body, r.etag, r.status = body, etag, 0
	r.mu.Unlock()
}

func (r *remote) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	if r.status != 0 {
		w.WriteHeader(r.status)
		return
	}
	if r.etag != "" && req.Header.Get("If-None-Match") == r.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", r.etag)
	w.Header().Set("Content-Type", "text/calendar")
	w.Write(r.body)
}

type fixture struct {
	svc      *Service
	subs     *store.SubscriptionStore
	remote   *remote
	server   *httptest.Server
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{remote: &remote{}, notifier: &recordingNotifier{}, subs: store.NewSubscriptionStore(db)}
	f.server = httptest.NewServer(f.remote)
	t.Cleanup(f.server.Close)

	f.svc = NewService(db, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		Horizon:  60 * 24 * time.Hour,
		Now:      func() time.Time { return utc(4, 12) },
		Notifier: f.notifier,
	})
	return f
}

func (f *fixture) events(t *testing.T, userID int64) []model.ExternalEvent {
	t.Helper()
	evs, err := f.subs.ListEvents(context.Background(), 1, []int64{userID}, utc(1, 0).AddDate(0, -2, 0), utc(1, 0).AddDate(0, 2, 0))
	require.NoError(t, err)
	return evs
}

func eventUIDs(evs []model.ExternalEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.ExternalUID
	}
	return out
}

var twoEvents = calendar(
	"BEGIN:VEVENT",
	"UID:a",
	"SUMMARY:A",
	"DTSTART:20260305T150000Z",
	"DTEND:20260305T160000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:b",
	"SUMMARY:B",
	"DTSTART:20260306T150000Z",
	"DTEND:20260306T160000Z",
	"END:VEVENT",
)

func TestCreateValidatesURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, raw := range []string{"", "ftp://example.com/cal.ics", "not a url", "https:///cal.ics"} {
		_, err := f.svc.Create(ctx, 1, 10, "Cal", raw)
		assert.ErrorIs(t, err, ErrInvalidSubscription, raw)
	}
	_, err := f.svc.Create(ctx, 1, 10, "  ", "https://example.com/cal.ics")
	assert.ErrorIs(t, err, ErrInvalidSubscription)

	sub, err := f.svc.Create(ctx, 1, 10, "School", "webcal://example.com/cal.ics")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cal.ics", sub.URL)
	assert.Equal(t, model.SyncStatusPending, sub.LastSyncStatus)
}

func TestSyncImportsAndPrunes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.set(twoEvents, `"v1"`)

	sub, err := f.svc.Create(ctx, 1, 10, "Work", f.server.URL+"/work.ics")
	require.NoError(t, err)

	got, err := f.svc.SyncNow(ctx, 1, 10, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusOK, got.LastSyncStatus)
	assert.Equal(t, `"v1"`, got.ETag)
	assert.Equal(t, []string{"a", "b"}, eventUIDs(f.events(t, 10)))

	// Re-sync with the same content does not duplicate.
	f.remote.set(twoEvents, `"v2"`)
	_, err = f.svc.SyncNow(ctx, 1, 10, sub.ID)
	require.NoError(t, err)
	assert.Len(t, f.events(t, 10), 2)

	f.remote.set(calendar(
		"BEGIN:VEVENT",
		"UID:b",
		"SUMMARY:B moved",
		"DTSTART:20260307T150000Z",
		"DTEND:20260307T160000Z",
		"END:VEVENT",
	), `"v3"`)
	_, err = f.svc.SyncNow(ctx, 1, 10, sub.ID)
	require.NoError(t, err)

	evs := f.events(t, 10)
	require.Len(t, evs, 1)
	assert.Equal(t, "B moved", evs[0].Title)
	assert.Equal(t, utc(7, 15), evs[0].StartTime)
	assert.Contains(t, f.notifier.types, "subscription_synced")
}

func TestSyncNotModifiedKeepsEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.set(twoEvents, `"v1"`)
	sub, _ := f.svc.Create(ctx, 1, 10, "Work", f.server.URL)

	_, err := f.svc.SyncNow(ctx, 1, 10, sub.ID)
	require.NoError(t, err)
	got, err := f.svc.SyncNow(ctx, 1, 10, sub.ID)
	require.NoError(t, err)

	assert.Equal(t, model.SyncStatusOK, got.LastSyncStatus)
	assert.Equal(t, 2, f.remote.requests)
	assert.Len(t, f.events(t, 10), 2)
}

func TestSyncFailureKeepsEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.set(twoEvents, "")
	sub, _ := f.svc.Create(ctx, 1, 10, "Work", f.server.URL)
	_, err := f.svc.SyncNow(ctx, 1, 10, sub.ID)
	require.NoError(t, err)

	f.remote.set([]byte("garbage"), "")
	got, err := f.svc.SyncNow(ctx, 1, 10, sub.ID)
	require.Error(t, err)
	assert.Equal(t, model.SyncStatusError, got.LastSyncStatus)
	assert.NotEmpty(t, got.LastSyncError)
	assert.Len(t, f.events(t, 10), 2)

	f.remote.mu.Lock()
	f.remote.status = http.StatusInternalServerError
	f.remote.mu.Unlock()
	got, err = f.svc.SyncNow(ctx, 1, 10, sub.ID)
	require.Error(t, err)
	assert.Contains(t, got.LastSyncError, "500")
	assert.Len(t, f.events(t, 10), 2)
}

func TestSubscriptionOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.svc.Create(ctx, 1, 10, "Mine", f.server.URL)
	require.NoError(t, err)

	_, err = f.svc.SyncNow(ctx, 1, 11, sub.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, 1, 11, sub.ID), ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, 2, 10, sub.ID), ErrSubscriptionNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, 1, 10, 999), ErrSubscriptionNotFound)

	others, err := f.svc.List(ctx, 1, 11)
	require.NoError(t, err)
	assert.Empty(t, others)
	assert.NotNil(t, others)

	require.NoError(t, f.svc.Delete(ctx, 1, 10, sub.ID))
	mine, _ := f.svc.List(ctx, 1, 10)
	assert.Empty(t, mine)
}

func TestSyncAllSkipsInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.set(twoEvents, "")

	active, _ := f.svc.Create(ctx, 1, 10, "Active", f.server.URL)
	paused, _ := f.svc.Create(ctx, 1, 11, "Paused", f.server.URL)
	require.NoError(t, f.subs.SetActive(ctx, paused.ID, false))

	f.svc.SyncAll(ctx)

	assert.Equal(t, 1, f.remote.requests)
	got, _ := f.subs.GetByID(ctx, active.ID)
	assert.Equal(t, model.SyncStatusOK, got.LastSyncStatus)
	got, _ = f.subs.GetByID(ctx, paused.ID)
	assert.Equal(t, model.SyncStatusPending, got.LastSyncStatus)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	_, err := NewScheduler(f.svc, "not a schedule", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	s, err := NewScheduler(f.svc, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	s.Start(context.Background())
	s.Stop()
}
