// Package audit records authentication events off the request path. Events go
// into a bounded queue; a single worker batches them out to every sink.
package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"farmer-auth/internal/models"
	"farmer-auth/internal/util"
)

// sinkTimeout bounds one batch write to one sink.
const sinkTimeout = 5 * time.Second

// Sink persists a batch of events.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []*models.AuthEvent) error
}

// Auditor is what the auth core depends on. Record must never block.
type Auditor interface {
	Record(event *models.AuthEvent)
}

// NewEvent builds an event with a fresh ID. The phone is hashed here so no
// caller can put a raw number into the trail.
func NewEvent(eventType models.AuthEventType, phone string, at time.Time) *models.AuthEvent {
	at = at.UTC()
	return &models.AuthEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		PhoneHash: util.HashPhone(phone),
		EventDate: at.Format("2006-01-02"),
		EventTime: at,
	}
}

type Stats struct {
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Written  int64 `json:"written"`
	Failed   int64 `json:"failed"`
}

type Recorder struct {
	sinks         []Sink
	queue         chan *models.AuthEvent
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	recorded atomic.Int64
	dropped  atomic.Int64
	written  atomic.Int64
	failed   atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex // guards closed against concurrent Record
	closed    bool
	done      chan struct{}
}

func NewRecorder(sinks []Sink, queueSize, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	r := &Recorder{
		sinks:         sinks,
		queue:         make(chan *models.AuthEvent, queueSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		done:          make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues event, dropping it when the queue is full or the recorder
// is closed.
func (r *Recorder) Record(event *models.AuthEvent) {
	if event == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- event:
		r.recorded.Add(1)
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Written:  r.written.Load(),
		Failed:   r.failed.Load(),
	}
}

// Close stops intake and waits for queued events to be flushed, or for ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.AuthEvent, 0, r.batchSize)
	for {
		select {
		case ev, ok := <-r.queue:
			if !ok {
				r.flushAndLog(batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= r.batchSize {
				r.flushAndLog(batch)
				batch = make([]*models.AuthEvent, 0, r.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flushAndLog(batch)
				batch = make([]*models.AuthEvent, 0, r.batchSize)
			}
		}
	}
}

// flush writes batch to all sinks in parallel. A failing sink does not stop
// the others; the first failure is returned.
func (r *Recorder) flush(batch []*models.AuthEvent) error {
	if len(batch) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, sink := range r.sinks {
		sink := sink
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			defer cancel()
			if err := sink.Write(ctx, batch); err != nil {
				r.failed.Add(int64(len(batch)))
				return fmt.Errorf("sink %s: %w", sink.Name(), err)
			}
			r.written.Add(int64(len(batch)))
			return nil
		})
	}
	return g.Wait()
}

func (r *Recorder) flushAndLog(batch []*models.AuthEvent) {
	if err := r.flush(batch); err != nil {
		r.logger.Warn("Audit batch not fully written",
			zap.Int("events", len(batch)),
			zap.Error(err))
	}
}
