// Package repository stores batch evaluations per platform.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/argos/internal/domain/model"
	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/pkg/metrics"
)

// Store provides read/write access to evaluated batches.
type Store interface {
	// Save records an evaluation. The latest saved evaluation of a platform
	// replaces the previous one for reads.
	Save(ctx context.Context, eval model.Evaluation) error

	// Latest returns the most recently saved evaluation of a platform.
	// Returns ErrNotFound if the platform is unknown.
	Latest(ctx context.Context, platformID string) (model.Evaluation, error)

	// Pass returns the n-th pass (0 = newest) of the latest evaluation.
	Pass(ctx context.Context, platformID string, n int) (passes.Result, error)

	// Platforms lists platform IDs with a stored evaluation, sorted.
	Platforms(ctx context.Context) ([]string, error)

	// Count returns the number of platforms with a stored evaluation.
	Count(ctx context.Context) int

	Close() error
}

// Open returns the store for a configured driver: "memory" or "sqlite".
func Open(driver, path string, opts ...SQLiteOption) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(path, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}

func passOf(eval model.Evaluation, n int) (passes.Result, error) {
	r, err := passes.At(eval.Results, n)
	if err != nil {
		return passes.Result{}, fmt.Errorf("platform %s: %w", eval.PlatformID, err)
	}
	return r, nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}
