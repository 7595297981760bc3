// Package worker evaluates queued batches asynchronously: rank and decode
// every pass, store the evaluation, then publish it.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/argos/internal/domain/model"
	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/pkg/logger"
	"github.com/okian/argos/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Batch abstracts what workers read off the queue.
type Batch = model.Batch

// Queue defines how workers receive batches.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Batch
}

// Saver persists evaluations.
type Saver interface {
	Save(ctx context.Context, eval model.Evaluation) error
}

// Publisher forwards evaluations downstream. Publish failures are logged and
// counted but do not fail the batch.
type Publisher interface {
	Publish(ctx context.Context, eval model.Evaluation) error
}

// Worker processes batches from a queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current batch.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue           Queue
	saver           Saver
	publisher       Publisher
	name            string
	passConcurrency int
	now             func() time.Time

	processed atomic.Int64
	failed    atomic.Int64

	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, saver Saver, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:           queue,
		saver:           saver,
		name:            "worker",
		passConcurrency: 1,
		now:             time.Now,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	batches := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			if err := w.Process(ctx, b); err != nil {
				w.logger.Error(ctx, "error processing batch", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Process evaluates, stores and publishes one batch.
func (w *InMemoryWorker) Process(ctx context.Context, b Batch) error { //nolint:gocritic // hugeParam: Batch is passed by value for channel semantics
	metrics.AddWorkerActive(1)
	start := time.Now()
	defer func() {
		metrics.AddWorkerActive(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	eval := b.Evaluate(w.now(), passes.WithConcurrency(w.passConcurrency))
	metrics.RecordEvaluationLatency(float64(time.Since(start).Microseconds()) / 1000)
	w.record(ctx, eval)

	if err := w.saver.Save(ctx, eval); err != nil {
		w.failed.Add(1)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "store_error")
		return fmt.Errorf("storing batch %s of platform %s: %w", b.ID, b.PlatformID, err)
	}
	w.processed.Add(1)

	if w.publisher != nil {
		if err := w.publisher.Publish(ctx, eval); err != nil {
			metrics.RecordPublish(false)
			metrics.RecordErrorByComponent("worker", "publish_error")
			w.logger.Warn(ctx, "publish failed",
				logger.String("batch_id", b.ID),
				logger.String("platform_id", b.PlatformID),
				logger.Error(err),
			)
		} else {
			metrics.RecordPublish(true)
		}
	}

	w.logger.Debug(ctx, "batch evaluated",
		logger.String("batch_id", b.ID),
		logger.String("platform_id", b.PlatformID),
		logger.Int("passes", eval.Summary.Passes),
		logger.Int("decoded", eval.Summary.Decoded),
		logger.Int("crc_valid", eval.Summary.CRC),
	)
	return nil
}

// record feeds per-pass outcomes into metrics and logs decode failures.
func (w *InMemoryWorker) record(ctx context.Context, eval model.Evaluation) {
	for i, r := range eval.Results {
		metrics.RecordSelection(r.Tier.String())
		if r.Err != nil {
			metrics.RecordDecodeError()
			metrics.RecordErrorByComponent("worker", "decode_error")
			w.logger.Warn(ctx, "pass frame could not be decoded",
				logger.String("platform_id", eval.PlatformID),
				logger.Int("pass", i),
				logger.Error(r.Err),
			)
			continue
		}
		if r.Message != nil {
			metrics.RecordFrameDecoded()
			metrics.RecordChecksum(r.Message.CRCValid)
		}
	}
}

// Processed returns the number of batches stored by this worker.
func (w *InMemoryWorker) Processed() int64 { return w.processed.Load() }

// Failed returns the number of batches this worker could not store.
func (w *InMemoryWorker) Failed() int64 { return w.failed.Load() }

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers sharing queue and saver.
// Options apply to every worker; names are assigned by the pool.
func NewPool(workerCount int, queue Queue, saver Saver, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append(append([]Option(nil), opts...), WithName("worker-"+strconv.Itoa(i)))
		pool.workers[i] = NewInMemoryWorker(queue, saver, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the number of stored batches across workers.
func (p *Pool) Processed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Failed returns the number of batches that could not be stored.
func (p *Pool) Failed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Failed()
	}
	return n
}

// Shutdown closes the queue, lets workers drain what is already queued and
// stops them. Workers still busy when ctx (capped at 30s) expires are told
// to stop after their current batch.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for i, worker := range p.workers {
		select {
		case <-worker.done:
		case <-shutdownCtx.Done():
			worker.stopOnce.Do(func() { close(worker.shutdown) })
			timedOut++
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	if timedOut > 0 {
		return fmt.Errorf("%d workers did not drain: %w", timedOut, shutdownCtx.Err())
	}
	return nil
}
