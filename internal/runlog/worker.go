package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clockdesk/clockdesk/internal/metrics"
	"github.com/clockdesk/clockdesk/internal/model"
)

// ConsumerGroup is the consumer group every worker joins.
const ConsumerGroup = "sync_run_writers"

const (
	DefaultBatchSize       = 100
	DefaultBlockTimeout    = 5 * time.Second
	DefaultMaxRetries      = 3
	DefaultClaimInterval   = 10 * time.Second
	DefaultClaimIdle       = 30 * time.Second
	DefaultMetricsInterval = 5 * time.Second

	deadLetterMaxLen = 1000
	errorPause       = time.Second
)

const (
	reasonInvalidFormat   = "invalid_format"
	reasonUnmarshalError  = "unmarshal_error"
	reasonValidationError = "validation_error"
)

var errAlreadyRunning = errors.New("runlog: worker already running")

// Store persists run summaries.
type Store interface {
	InsertSyncRuns(ctx context.Context, runs []*model.SyncRun) error
}

// every rate-limits a periodic chore inside the worker loop. A zero
// interval disables it.
type every struct {
	interval time.Duration
	last     time.Time
}

func (e *every) due(now time.Time) bool {
	if e.interval <= 0 {
		return false
	}
	if !e.last.IsZero() && now.Sub(e.last) < e.interval {
		return false
	}
	e.last = now
	return true
}

// Worker drains the run stream into the Store. Entries are acknowledged
// only after they are stored or dead-lettered, so a crash leaves them
// pending for another consumer to claim.
type Worker struct {
	rdb      *redis.Client
	store    Store
	log      *slog.Logger
	rec      metrics.Recorder
	consumer string

	batchSize  int
	block      time.Duration
	maxRetries int
	backoff    func(attempt int) time.Duration
	claimIdle  time.Duration
	claim      every
	depth      every
	cursor     string

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker returns a worker reading as consumerID. A nil recorder
// discards metrics.
func NewWorker(client *redis.Client, store Store, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		rdb:        client,
		store:      store,
		log:        logger.With("component", "runlog.worker", "consumer_id", consumerID),
		rec:        recorder,
		consumer:   consumerID,
		batchSize:  DefaultBatchSize,
		block:      DefaultBlockTimeout,
		maxRetries: DefaultMaxRetries,
		backoff:    func(attempt int) time.Duration { return time.Second << attempt },
		claimIdle:  DefaultClaimIdle,
		claim:      every{interval: DefaultClaimInterval},
		depth:      every{interval: DefaultMetricsInterval},
		cursor:     "0-0",
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (w *Worker) SetBatchSize(n int) {
	if n > 0 {
		w.batchSize = n
	}
}

func (w *Worker) SetBlockTimeout(d time.Duration) {
	if d > 0 {
		w.block = d
	}
}

func (w *Worker) SetClaimInterval(d time.Duration) {
	if d > 0 {
		w.claim.interval = d
	}
}

func (w *Worker) SetClaimIdle(d time.Duration) {
	if d > 0 {
		w.claimIdle = d
	}
}

// Run consumes until ctx ends or Shutdown is called. A batch already read
// when Shutdown arrives is still stored and acknowledged.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()
	defer close(w.done)

	// Reads stop on Shutdown; stores only stop with ctx.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		select {
		case <-w.stop:
			cancelRead()
		case <-readCtx.Done():
		}
	}()

	err := w.rdb.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}

	w.log.Info("run history worker started")
	for readCtx.Err() == nil {
		if err := w.step(ctx, readCtx); err != nil && readCtx.Err() == nil {
			w.log.Error("run history batch failed", "error", err)
			sleepCtx(readCtx, errorPause)
		}
	}
	w.log.Info("run history worker stopped")
	return nil
}

// Shutdown stops reading and waits for the current batch. It is safe to
// call before Run.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })

	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.log.Warn("run history worker shutdown timed out")
		return ctx.Err()
	}
}

// step handles one batch: reclaimed entries first, otherwise new ones.
func (w *Worker) step(ctx, readCtx context.Context) error {
	now := time.Now()
	if w.depth.due(now) {
		w.reportDepth(readCtx)
	}

	var batch []redis.XMessage
	if w.claim.due(now) {
		claimed, err := w.claimStale(readCtx)
		if err != nil {
			w.log.Warn("claim pending entries", "error", err)
		}
		batch = claimed
	}
	if len(batch) == 0 {
		read, err := w.read(readCtx)
		if err != nil {
			return err
		}
		batch = read
	}
	if len(batch) == 0 {
		return nil
	}

	ids := make([]string, len(batch))
	runs := make([]*model.SyncRun, 0, len(batch))
	for i, msg := range batch {
		ids[i] = msg.ID
		run, reason, err := decodeMessage(msg)
		if err != nil {
			w.deadLetter(ctx, msg, reason, err)
			continue
		}
		runs = append(runs, run)
	}

	if len(runs) > 0 {
		if err := w.storeWithRetry(ctx, runs); err != nil {
			return err
		}
	}
	if err := w.rdb.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func (w *Worker) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.batchSize),
		Block:    w.block,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("xreadgroup: %w", err)
	case len(streams) == 0:
		return nil, nil
	}
	return streams[0].Messages, nil
}

// claimStale takes over entries another consumer read but never
// acknowledged.
func (w *Worker) claimStale(ctx context.Context) ([]redis.XMessage, error) {
	msgs, next, err := w.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumer,
		MinIdle:  w.claimIdle,
		Start:    w.cursor,
		Count:    int64(w.batchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if next != "" {
		w.cursor = next
	}
	return msgs, nil
}

func (w *Worker) reportDepth(ctx context.Context) {
	groups, err := w.rdb.XInfoGroups(ctx, StreamKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			w.log.Warn("read consumer group info", "error", err)
		}
		return
	}
	for _, g := range groups {
		if g.Name == ConsumerGroup {
			w.rec.SetRunQueueDepth(g.Pending + g.Lag)
			return
		}
	}
}

// decodeMessage turns one stream entry into a run, or reports the
// dead-letter reason.
func decodeMessage(msg redis.XMessage) (*model.SyncRun, string, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, reasonInvalidFormat, errors.New("payload field missing or not a string")
	}
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, reasonUnmarshalError, err
	}
	if err := ev.Validate(); err != nil {
		return nil, reasonValidationError, err
	}
	return ev.Run(msg.ID), "", nil
}

func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason string, cause error) {
	w.log.Warn("dead-lettering run entry", "message_id", msg.ID, "reason", reason, "error", cause)
	w.rec.IncRunEventProcessed(metrics.EventDeadLettered)

	err := w.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		Values: map[string]any{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           cause.Error(),
			"payload":          msg.Values["payload"],
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		w.log.Error("write dead-letter entry", "message_id", msg.ID, "error", err)
	}
}

// storeWithRetry inserts runs, backing off between attempts. Every run is
// counted once, as stored or as failed.
func (w *Worker) storeWithRetry(ctx context.Context, runs []*model.SyncRun) error {
	outcome := metrics.EventFailed
	defer func() {
		for range runs {
			w.rec.IncRunEventProcessed(outcome)
		}
	}()

	var err error
	for attempt := 1; ; attempt++ {
		if err = w.store.InsertSyncRuns(ctx, runs); err == nil {
			outcome = metrics.EventSuccess
			w.log.Info("run batch stored", "runs_count", len(runs))
			return nil
		}
		if attempt >= w.maxRetries {
			return fmt.Errorf("insert sync runs after %d attempts: %w", attempt, err)
		}
		wait := w.backoff(attempt)
		w.log.Warn("run batch store failed", "attempt", attempt, "retry_in", wait, "error", err)
		if !sleepCtx(ctx, wait) {
			return ctx.Err()
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
