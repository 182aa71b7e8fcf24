package upstream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/shivazshu/evo2-vep/internal/metrics"
)

// ErrQueueClosed rejects submissions after shutdown and flushes any
// operations still pending when the queue stops.
var ErrQueueClosed = errors.New("upstream: queue closed")

// Operation performs one network call. Retries happen inside the executor
// wrapped around it, never by re-enqueueing.
type Operation func(ctx context.Context) error

// Status is the read-only projection of queue state used by observers.
type Status struct {
	QueueLength    int  `json:"queueLength"`
	IsProcessing   bool `json:"isProcessing"`
	CurrentTag     *Tag `json:"currentTag,omitempty"`
	MatchingLength int  `json:"matchingLength"`
}

type queuedOperation struct {
	id         string
	tag        Tag
	run        Operation
	result     chan error
	enqueuedAt time.Time
}

// Queue serializes operations against one upstream service. A single worker
// drains it in FIFO order, spacing dispatches by at least minInterval, so at
// most one request per service is ever in flight.
type Queue struct {
	service     string
	minInterval time.Duration
	clock       clock.Clock
	exec        *Executor
	logger      *slog.Logger
	metrics     *metrics.Recorder

	mu           sync.Mutex
	pending      []*queuedOperation
	processing   *queuedOperation
	lastDispatch time.Time
	closed       bool

	wake   chan struct{}
	base   context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue starts the worker for one upstream service. clk may be a mock in
// tests; both the inter-dispatch wait and the executor's backoff use it.
func NewQueue(service string, minInterval time.Duration, exec *Executor, clk clock.Clock, logger *slog.Logger, rec *metrics.Recorder) *Queue {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		service:     service,
		minInterval: minInterval,
		clock:       clk,
		exec:        exec,
		logger:      logger.With(slog.String("queue", service)),
		metrics:     rec,
		wake:        make(chan struct{}, 1),
		base:        ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go q.work()
	return q
}

// Submit appends op to the queue and returns the channel its terminal outcome
// is delivered on, exactly once. The worker runs the operation on the queue's
// own context: a caller that stops listening does not cancel a dispatched
// operation, it just discards the result.
func (q *Queue) Submit(tag Tag, op Operation) (<-chan error, error) {
	item := &queuedOperation{
		id:         uuid.NewString(),
		tag:        tag,
		run:        op,
		result:     make(chan error, 1),
		enqueuedAt: q.clock.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.pending = append(q.pending, item)
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(q.service, depth)
	q.logger.Debug("operation enqueued",
		slog.String("op_id", item.id),
		slog.String("category", tag.Category),
		slog.Int("queue_depth", depth))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return item.result, nil
}

// Status projects the queue's state without mutating it. A nil filter counts
// every queued and in-flight operation as matching.
func (q *Queue) Status(filter *Tag) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{QueueLength: len(q.pending), IsProcessing: q.processing != nil}
	if q.processing != nil {
		tag := q.processing.tag
		st.CurrentTag = &tag
	}
	matches := func(t Tag) bool {
		return filter == nil || t.Matches(*filter)
	}
	for _, item := range q.pending {
		if matches(item.tag) {
			st.MatchingLength++
		}
	}
	if q.processing != nil && matches(q.processing.tag) {
		st.MatchingLength++
	}
	return st
}

// ClearRateLimitState forgets the last dispatch time so the next operation
// goes out immediately. Safe at any time; in-flight work is untouched.
func (q *Queue) ClearRateLimitState() {
	q.mu.Lock()
	q.lastDispatch = time.Time{}
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops the worker and rejects everything still pending.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	rejected := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, item := range rejected {
		item.result <- ErrQueueClosed
	}
	q.cancel()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *Queue) work() {
	defer close(q.done)
	for {
		item, ok := q.next()
		if !ok {
			return
		}
		if item == nil {
			// Idle: wait for a submission or shutdown.
			select {
			case <-q.wake:
			case <-q.base.Done():
				return
			}
			continue
		}

		waited := q.clock.Now().Sub(item.enqueuedAt)
		q.metrics.ObserveQueueWait(q.service, waited)
		q.logger.Debug("operation dispatched",
			slog.String("op_id", item.id),
			slog.String("category", item.tag.Category),
			slog.Duration("queued_for", waited))

		err := q.exec.Execute(q.base, item.run)
		item.result <- err

		q.mu.Lock()
		q.processing = nil
		depth := len(q.pending)
		q.mu.Unlock()
		q.metrics.SetQueueDepth(q.service, depth)
	}
}

// next blocks until the rate limiter permits another dispatch, then pops the
// head operation. It returns (nil, true) when the queue is empty and
// (nil, false) on shutdown.
func (q *Queue) next() (*queuedOperation, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil, true
		}
		now := q.clock.Now()
		wait := time.Duration(0)
		if !q.lastDispatch.IsZero() {
			wait = q.minInterval - now.Sub(q.lastDispatch)
		}
		if wait <= 0 {
			item := q.pending[0]
			q.pending = q.pending[1:]
			q.processing = item
			q.lastDispatch = now
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		timer := q.clock.Timer(wait)
		select {
		case <-timer.C:
		case <-q.wake:
			// Pacing state may have been reset; recompute the wait.
			timer.Stop()
		case <-q.base.Done():
			timer.Stop()
			return nil, false
		}
	}
}
