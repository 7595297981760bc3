// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/okian/argos/internal/domain/passes"
)

// Batch is one ingestion request: the satellite passes of a platform, already
// ordered by the collaborator that extracted them.
type Batch struct {
	ID         string        // unique id for idempotency
	PlatformID string        // Argos platform identifier
	Passes     []passes.Pass // newest first when extracted from getXml
	RequireCRC bool          // disables the tier 0 fallback when set
	ReceivedAt time.Time
}

// Evaluation is the stored outcome of a Batch.
type Evaluation struct {
	BatchID     string
	PlatformID  string
	Results     []passes.Result
	Summary     passes.Summary
	EvaluatedAt time.Time
}

// Evaluate runs the pass aggregator over the batch.
func (b *Batch) Evaluate(now time.Time, opts ...passes.Option) Evaluation {
	opts = append([]passes.Option{passes.WithRequireCRC(b.RequireCRC)}, opts...)
	results := passes.Evaluate(b.Passes, opts...)
	return Evaluation{
		BatchID:     b.ID,
		PlatformID:  b.PlatformID,
		Results:     results,
		Summary:     passes.Summarize(results),
		EvaluatedAt: now,
	}
}

// Candidates returns the total number of retransmissions across passes.
func (b *Batch) Candidates() int {
	n := 0
	for _, p := range b.Passes {
		n += len(p.Candidates)
	}
	return n
}
