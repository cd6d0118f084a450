package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clockdesk/clockdesk/internal/metrics"
)

const (
	StreamKey           = "stream:sync_runs"
	DeadLetterStreamKey = "stream:sync_runs:dlq"

	// MaxStreamLen caps the stream approximately; the worker normally
	// keeps it near empty.
	MaxStreamLen = 10000

	PublishTimeout = 500 * time.Millisecond

	maxInFlight = 64
)

// Publisher appends run summaries to the stream off the request path.
type Publisher struct {
	rdb *redis.Client
	log *slog.Logger
	rec metrics.Recorder

	slots    chan struct{}
	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		rdb:   client,
		log:   logger.With("component", "runlog.publisher"),
		rec:   recorder,
		slots: make(chan struct{}, maxInFlight),
	}
}

// Publish appends event and returns its stream ID.
func (p *Publisher) Publish(ctx context.Context, event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal run event: %w", err)
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		Values: map[string]any{"payload": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", StreamKey, err)
	}
	return id, nil
}

// PublishAsync publishes in the background. Events are dropped, and
// counted as dropped, when Redis fails, when too many publishes are
// pending, or after Flush.
func (p *Publisher) PublishAsync(event Event) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.drop(event, "publisher closed")
		return
	}
	select {
	case p.slots <- struct{}{}:
	default:
		p.mu.Unlock()
		p.drop(event, "too many pending publishes")
		return
	}
	p.inFlight.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			<-p.slots
			p.inFlight.Done()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		id, err := p.Publish(ctx, event)
		if err != nil {
			p.drop(event, err.Error())
			return
		}
		p.log.Debug("run summary published", "run_id", event.RunID, "stream_id", id)
		p.rec.IncRunEventPublished(metrics.EventSuccess)
	}()
}

func (p *Publisher) drop(event Event, reason string) {
	p.log.Warn("run summary dropped", "run_id", event.RunID, "reason", reason)
	p.rec.IncRunEventPublished(metrics.EventDropped)
}

// Flush stops accepting events and waits for pending publishes or ctx.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
