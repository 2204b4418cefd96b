package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"gorinidrive.com/vault/internal/clock"
)

type Store interface {
	InsertAuditEntry(ctx context.Context, e *Entry) error
	// QueryAuditEntries returns the requested page, newest first, and the
	// number of matching entries.
	QueryAuditEntries(ctx context.Context, q Query) ([]Entry, int, error)
}

var Dropped = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "audit_dropped_total",
	Help: "Total number of audit entries that could not be persisted.",
})

type Options struct {
	QueueSize   int
	Workers     int
	Retries     uint64
	BaseBackoff time.Duration
	Clock       clock.Clock
	Logger      *logrus.Logger
}

type Recorder struct {
	store   Store
	logger  *logrus.Logger
	clock   clock.Clock
	retries uint64
	backoff time.Duration
	workers int

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
	queue  chan *Entry
	wg     sync.WaitGroup

	feed *Feed
}

func NewRecorder(store Store, opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Retries == 0 {
		opts.Retries = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 100 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Recorder{
		store:   store,
		logger:  opts.Logger,
		clock:   opts.Clock,
		retries: opts.Retries,
		backoff: opts.BaseBackoff,
		workers: opts.Workers,
		queue:   make(chan *Entry, opts.QueueSize),
		feed:    NewFeed(),
	}
}

// Start launches the persisting workers.
func (r *Recorder) Start() {
	for range r.workers {
		r.wg.Add(1)
		go r.work()
	}
}

// Feed exposes newly persisted entries to live subscribers.
func (r *Recorder) Feed() *Feed { return r.feed }

// Record appends e with a server assigned id and timestamp. It never blocks
// and never reports failure.
func (r *Recorder) Record(e Entry) {
	e.ID = uuid.New()
	e.CreatedAt = r.clock.Now().UTC()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(&e, "recorder closed")
		return
	}
	select {
	case r.queue <- &e:
	default:
		r.drop(&e, "queue full")
	}
}

func (r *Recorder) drop(e *Entry, why string) {
	Dropped.Inc()
	r.logger.Errorf("Audit entry dropped (%s): %s %s by %d on %s", why, e.Action, e.Outcome, e.ActorID, e.Resource)
}

func (r *Recorder) work() {
	defer r.wg.Done()
	for e := range r.queue {
		r.persist(e)
	}
}

func (r *Recorder) persist(e *Entry) {
	ctx := context.Background()
	b := retry.WithMaxRetries(r.retries, retry.NewExponential(r.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := r.store.InsertAuditEntry(ctx, e); err != nil {
			r.logger.Warnf("Audit insert failed, retrying: %s", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		r.drop(e, err.Error())
		return
	}
	r.feed.Publish(*e)
}

// Close stops accepting entries and waits for queued ones to be persisted
// or for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.feed.Close()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query returns a page of q.UserID's entries, newest first.
func (r *Recorder) Query(ctx context.Context, q Query) (*Page, error) {
	entries, total, err := r.store.QueryAuditEntries(ctx, q)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return &Page{Entries: entries, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}
