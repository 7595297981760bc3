// Package passes evaluates the satellite passes of a platform: one ranked and
// decoded result per pass, in caller order.
package passes

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/argos/internal/domain/frame"
	"github.com/okian/argos/internal/domain/ranking"
)

// ErrPassOutOfRange is returned when a pass index exceeds the evaluated set.
var ErrPassOutOfRange = errors.New("satellite pass out of range")

// Pass is one transmission window with its redundant retransmissions.
type Pass struct {
	BestDate   string              `json:"best_date"`
	Candidates []ranking.Candidate `json:"candidates"`
}

// Result is the evaluated outcome of one pass. Message is nil when nothing
// was chosen or the chosen frame failed to decode.
type Result struct {
	Message        *frame.Message
	Tier           ranking.Tier
	CollectionDate string
	Err            error
}

// Empty reports whether the result carries no decoded message.
func (r Result) Empty() bool { return r.Message == nil }

type resultJSON struct {
	Message        *frame.Message `json:"message,omitempty"`
	Tier           ranking.Tier   `json:"tier"`
	TierName       string         `json:"tier_name"`
	CollectionDate string         `json:"date,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// MarshalJSON encodes Err as its message.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Message:        r.Message,
		Tier:           r.Tier,
		TierName:       r.Tier.String(),
		CollectionDate: r.CollectionDate,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a Result. A stored error comes back as a plain
// error carrying the same message.
func (r *Result) UnmarshalJSON(b []byte) error {
	var in resultJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = Result{
		Message:        in.Message,
		Tier:           in.Tier,
		CollectionDate: in.CollectionDate,
	}
	if in.Error != "" {
		r.Err = errors.New(in.Error)
	}
	return nil
}

// Option applies a configuration option to an evaluation.
type Option func(*evaluator)

// WithRequireCRC controls the tier 0 fallback. When true (the default) a pass
// without any tiered match yields an empty result.
func WithRequireCRC(require bool) Option {
	return func(e *evaluator) {
		e.requireCRC = require
	}
}

// WithConcurrency evaluates up to n passes at once. Values below 2 keep the
// evaluation sequential.
func WithConcurrency(n int) Option {
	return func(e *evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithRanker replaces the ranker used for selection.
func WithRanker(r *ranking.Ranker) Option {
	return func(e *evaluator) {
		if r != nil {
			e.ranker = r
		}
	}
}

type evaluator struct {
	requireCRC  bool
	concurrency int
	ranker      *ranking.Ranker
}

// Evaluate ranks and decodes every pass. The result has one entry per pass in
// the same order; a failing pass never affects the others.
func Evaluate(passes []Pass, opts ...Option) []Result {
	e := &evaluator{
		requireCRC:  true,
		concurrency: 1,
		ranker:      ranking.NewRanker(),
	}
	for _, opt := range opts {
		opt(e)
	}

	results := make([]Result, len(passes))
	if e.concurrency < 2 || len(passes) < 2 {
		for i := range passes {
			results[i] = e.one(passes[i])
		}
		return results
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for i := range passes {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = e.one(passes[idx])
		}(i)
	}
	wg.Wait()
	return results
}

// one evaluates a single pass: rank first, then decode the chosen frame.
func (e *evaluator) one(p Pass) Result {
	sel := e.ranker.Select(p.Candidates, p.BestDate, e.requireCRC)
	if !sel.Found {
		return Result{Tier: ranking.TierNone}
	}

	res := Result{
		Tier:           sel.Tier,
		CollectionDate: sel.Candidate.CollectedAt,
	}
	msg, err := frame.Decode(sel.Candidate.Frame)
	if err != nil {
		res.Err = fmt.Errorf("decoding pass collected at %s: %w", sel.Candidate.CollectedAt, err)
		return res
	}
	msg.CollectionDate = sel.Candidate.CollectedAt
	res.Message = &msg
	return res
}

// At returns the n-th result.
func At(results []Result, n int) (Result, error) {
	if n < 0 || n >= len(results) {
		return Result{}, fmt.Errorf("%w: requested %d, only %d available", ErrPassOutOfRange, n, len(results))
	}
	return results[n], nil
}

// Summary counts evaluated passes by outcome.
type Summary struct {
	Passes  int                  `json:"passes"`
	Decoded int                  `json:"decoded"`
	Empty   int                  `json:"empty"`
	Errors  int                  `json:"errors"`
	CRC     int                  `json:"crc_valid"`
	ByTier  map[ranking.Tier]int `json:"by_tier"`
}

// Summarize tallies results.
func Summarize(results []Result) Summary {
	s := Summary{
		Passes: len(results),
		ByTier: make(map[ranking.Tier]int, 4),
	}
	for _, r := range results {
		s.ByTier[r.Tier]++
		if r.Err != nil {
			s.Errors++
		}
		if r.Empty() {
			s.Empty++
			continue
		}
		s.Decoded++
		if r.Message.CRCValid {
			s.CRC++
		}
	}
	return s
}
