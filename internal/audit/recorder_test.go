package audit

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorinidrive.com/vault/internal/clock"
)

type memStore struct {
	mu       sync.Mutex
	entries  []Entry
	failures int // remaining inserts to fail
}

func (s *memStore) InsertAuditEntry(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures != 0 {
		s.failures--
		return errors.New("database unavailable")
	}
	s.entries = append(s.entries, *e)
	return nil
}

func (s *memStore) QueryAuditEntries(_ context.Context, q Query) ([]Entry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for i := range s.entries {
		if q.Matches(&s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	total := len(out)
	lo := min(q.Offset(), total)
	hi := min(lo+q.PageSize, total)
	return out[lo:hi], total, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func newTestRecorder(store Store, clk clock.Clock, queue int) *Recorder {
	logger, _ := test.NewNullLogger()
	return NewRecorder(store, Options{
		QueueSize:   queue,
		Workers:     2,
		Retries:     3,
		BaseBackoff: time.Millisecond,
		Clock:       clk,
		Logger:      logger,
	})
}

func closeRecorder(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
}

func TestRecorder_PersistsAndQueries(t *testing.T) {
	store := &memStore{}
	clk := clock.Fake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	r := newTestRecorder(store, clk, 16)
	r.Start()

	r.Record(Entry{UserID: 1, ActorID: 1, Action: ActionLogin, Resource: "user:1", Outcome: Success, SourceAddr: "10.0.0.1"})
	clk.Advance(time.Minute)
	r.Record(Entry{UserID: 1, ActorID: 1, Action: ActionFileEncrypt, Resource: "file:7", Outcome: Failure,
		Detail: map[string]any{"error": "invalid_password"}})
	clk.Advance(time.Minute)
	r.Record(Entry{UserID: 2, ActorID: 2, Action: ActionLogin, Resource: "user:2", Outcome: Success})
	closeRecorder(t, r)

	page, err := r.Query(context.Background(), Query{UserID: 1, Page: 1, PageSize: 50})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	// newest first
	assert.Equal(t, ActionFileEncrypt, page.Entries[0].Action)
	assert.Equal(t, ActionLogin, page.Entries[1].Action)
	assert.NotEqual(t, page.Entries[0].ID, page.Entries[1].ID)
	assert.Equal(t, clk.Now().Add(-2*time.Minute), page.Entries[1].CreatedAt)

	empty, err := r.Query(context.Background(), Query{UserID: 3, Page: 1, PageSize: 50})
	require.NoError(t, err)
	assert.NotNil(t, empty.Entries)
	assert.Zero(t, empty.Total)
}

func TestRecorder_RetriesTransientFailures(t *testing.T) {
	store := &memStore{failures: 2}
	r := newTestRecorder(store, clock.Real(), 4)
	r.Start()
	before := testutil.ToFloat64(Dropped)

	r.Record(Entry{UserID: 1, Action: ActionLogout, Outcome: Success})
	closeRecorder(t, r)

	assert.Equal(t, 1, store.count())
	assert.Equal(t, before, testutil.ToFloat64(Dropped))
}

func TestRecorder_GivesUpAndCounts(t *testing.T) {
	store := &memStore{failures: -1} // always fail
	r := newTestRecorder(store, clock.Real(), 4)
	r.Start()
	before := testutil.ToFloat64(Dropped)

	r.Record(Entry{UserID: 1, Action: ActionLogout, Outcome: Success})
	closeRecorder(t, r)

	assert.Zero(t, store.count())
	assert.Equal(t, before+1, testutil.ToFloat64(Dropped))
}

func TestRecorder_FullQueueNeverBlocks(t *testing.T) {
	store := &memStore{}
	r := newTestRecorder(store, clock.Real(), 1) // workers not started yet
	before := testutil.ToFloat64(Dropped)

	done := make(chan struct{})
	go func() {
		for range 3 {
			r.Record(Entry{UserID: 1, Action: ActionFileDownload, Outcome: Success})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	assert.Equal(t, before+2, testutil.ToFloat64(Dropped))

	r.Start()
	closeRecorder(t, r)
	assert.Equal(t, 1, store.count())

	// after close entries are dropped, not panicking on a closed channel
	r.Record(Entry{UserID: 1, Action: ActionFileDownload, Outcome: Success})
	assert.Equal(t, before+3, testutil.ToFloat64(Dropped))
}

func TestRecorder_FeedDeliversOwnEntries(t *testing.T) {
	store := &memStore{}
	r := newTestRecorder(store, clock.Real(), 8)
	sub, cancel := r.Feed().Subscribe(1)
	defer cancel()
	r.Start()

	r.Record(Entry{UserID: 2, Action: ActionLogin, Outcome: Success})
	r.Record(Entry{UserID: 1, Action: ActionShareAccess, Resource: "share:abc", Outcome: Success})

	select {
	case e := <-sub:
		assert.Equal(t, int32(1), e.UserID)
		assert.Equal(t, ActionShareAccess, e.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("no entry delivered")
	}
	closeRecorder(t, r)

	// feed closed with the recorder
	_, open := <-sub
	assert.False(t, open)
}

func TestFeed_CancelReleases(t *testing.T) {
	f := NewFeed()
	ch, cancel := f.Subscribe(5)
	cancel()
	cancel() // idempotent
	_, open := <-ch
	assert.False(t, open)
	assert.Empty(t, f.subs)

	// publishing with no subscribers is a no-op
	f.Publish(Entry{UserID: 5})
}

func TestAction_Category(t *testing.T) {
	assert.Equal(t, "mfa", ActionMFADisable.Category())
	assert.Equal(t, "access", ActionDenied.Category())
	assert.Equal(t, "plain", Action("plain").Category())
}

func TestMemStorePagination(t *testing.T) {
	store := &memStore{}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		store.entries = append(store.entries, Entry{UserID: 1, Action: ActionFileUpload, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	got, total, err := store.QueryAuditEntries(context.Background(), Query{UserID: 1, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, got, 2)
	assert.True(t, slices.IsSortedFunc(got, func(a, b Entry) int { return cmp.Compare(b.CreatedAt.Unix(), a.CreatedAt.Unix()) }))
	assert.Equal(t, base.Add(2*time.Hour), got[0].CreatedAt)
}
