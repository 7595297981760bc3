// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/argos/internal/adapters/mq/publisher"
	batchqueue "github.com/okian/argos/internal/adapters/mq/queue"
	workerpool "github.com/okian/argos/internal/adapters/mq/worker"
	"github.com/okian/argos/internal/adapters/repository"
	"github.com/okian/argos/internal/config"
	"github.com/okian/argos/internal/domain/dedupe"
	"github.com/okian/argos/internal/domain/model"
	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/pkg/logger"
	"github.com/okian/argos/pkg/metrics"
)

const defaultStopTimeout = 30 * time.Second

// Service implements the API dependencies for the telemetry pipeline.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	deduper    dedupe.Deduper
	batchQueue batchqueue.Queue
	workerPool *workerpool.Pool
	publisher  publisher.Publisher

	// A store supplied by the caller is not closed on Stop.
	ownStore bool

	// Configuration
	workerCount     int
	queueSize       int
	dedupeSize      int
	passConcurrency int
	requireCRC      bool
	storeDriver     string
	storePath       string

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of queued batches.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache. Zero means
// unbounded.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithPassConcurrency bounds parallel pass evaluation inside one batch.
func WithPassConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.passConcurrency = n
		}
	}
}

// WithRequireCRC sets the default for batches that do not say.
func WithRequireCRC(require bool) Option {
	return func(s *Service) {
		s.requireCRC = require
	}
}

// WithStoreDriver selects the store opened on Start.
func WithStoreDriver(driver, path string) Option {
	return func(s *Service) {
		if driver != "" {
			s.storeDriver = driver
			s.storePath = path
		}
	}
}

// WithStore uses an existing store instead of opening one.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithPublisher forwards stored evaluations to p.
func WithPublisher(p publisher.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// FromConfig maps a loaded configuration to service options.
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithPassConcurrency(cfg.PassConcurrency),
		WithRequireCRC(cfg.RequireCRC),
		WithStoreDriver(cfg.StoreDriver, cfg.StorePath),
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     runtime.NumCPU(),
		queueSize:       10_000,
		dedupeSize:      50_000,
		passConcurrency: 1,
		storeDriver:     config.StoreMemory,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ownStore = s.store == nil
	return s
}

// Start initializes and starts the service components. Workers run until
// Stop or until ctx is canceled, in which case queued batches are dropped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	s.logger.Info(ctx, "starting telemetry service...")

	if s.ownStore {
		store, err := repository.Open(s.storeDriver, s.storePath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		s.store = store
	}
	if s.publisher == nil {
		s.publisher = publisher.Nop{}
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.batchQueue = batchqueue.NewInMemoryQueue(batchqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.batchQueue, s.store,
		workerpool.WithPublisher(s.publisher),
		workerpool.WithPassConcurrency(s.passConcurrency),
	)
	s.workerPool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "telemetry service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("store", s.storeDriver),
		logger.Bool("requireCRC", s.requireCRC),
	)
	return nil
}

// Stop drains queued batches and closes the store Start opened. The
// publisher belongs to the caller. A nil ctx waits up to 30 seconds for the
// drain.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), defaultStopTimeout)
		defer cancel()
	}

	s.logger.Info(ctx, "stopping telemetry service...")

	var errs []error
	if err := s.workerPool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining workers: %w", err))
	}
	if s.ownStore {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "telemetry service stopped", logger.Any("processed", s.workerPool.Processed()))
	return errors.Join(errs...)
}

// SeenAndRecord atomically checks if a batch id was seen and records it if not.
// Before Start nothing has been seen.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	s.mu.RLock()
	d := s.deduper
	s.mu.RUnlock()
	if d == nil {
		return false
	}
	seen := d.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordBatch("duplicate")
	}
	return seen
}

// Unrecord removes a batch ID from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.mu.RLock()
	d := s.deduper
	s.mu.RUnlock()
	if d != nil {
		d.Unrecord(ctx, id)
	}
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue submits a batch for asynchronous evaluation.
func (s *Service) Enqueue(ctx context.Context, b model.Batch) error { //nolint:gocritic // hugeParam: Batch is passed by value for channel semantics
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		metrics.RecordBatch("rejected")
		return batchqueue.ErrQueueClosed
	}

	s.logger.Debug(ctx, "enqueueing batch",
		logger.String("batchID", b.ID),
		logger.String("platformID", b.PlatformID),
		logger.Int("passes", len(b.Passes)),
		logger.Int("candidates", b.Candidates()),
	)
	if err := s.batchQueue.Enqueue(ctx, b); err != nil {
		metrics.RecordBatch("rejected")
		return err
	}
	metrics.RecordBatch("accepted")
	return nil
}

// RequireCRC reports the service default for the tier 0 fallback.
func (s *Service) RequireCRC() bool { return s.requireCRC }

// Latest returns the newest stored evaluation of a platform.
func (s *Service) Latest(ctx context.Context, platformID string) (model.Evaluation, error) {
	store, err := s.liveStore()
	if err != nil {
		return model.Evaluation{}, err
	}
	return store.Latest(ctx, platformID)
}

// Pass returns pass n of the newest evaluation of a platform.
func (s *Service) Pass(ctx context.Context, platformID string, n int) (passes.Result, error) {
	store, err := s.liveStore()
	if err != nil {
		return passes.Result{}, err
	}
	return store.Pass(ctx, platformID, n)
}

// Platforms lists platforms with a stored evaluation.
func (s *Service) Platforms(ctx context.Context) ([]string, error) {
	store, err := s.liveStore()
	if err != nil {
		return nil, err
	}
	return store.Platforms(ctx)
}

func (s *Service) liveStore() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, repository.ErrClosed
	}
	return s.store, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":         s.started,
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
		"dedupeSize":      s.dedupeSize,
		"passConcurrency": s.passConcurrency,
		"requireCRC":      s.requireCRC,
		"storeDriver":     s.storeDriver,
	}

	if s.started {
		queueLen := s.batchQueue.Len(ctx)
		platforms := s.store.Count(ctx)

		stats["queueLength"] = queueLen
		stats["platforms"] = platforms
		stats["dedupeEntries"] = s.deduper.Size()
		stats["processed"] = s.workerPool.Processed()
		stats["failed"] = s.workerPool.Failed()

		metrics.UpdateStoreRecords(platforms)
		metrics.UpdateWorkerCount(s.workerPool.Size())
	}

	return stats
}
