// Package ranking picks the most trustworthy retransmission within a
// satellite pass.
package ranking

import (
	"strconv"

	"github.com/okian/argos/internal/domain/frame"
)

// Tier is the confidence of a selection, 0 (none) to 3 (best).
type Tier int

// Selection tiers in increasing order of confidence.
const (
	TierNone     Tier = iota // nothing matched; fallback or empty
	TierBestDate             // collected at the declared best date, checksum unverified
	TierCRC                  // checksum valid
	TierBest                 // checksum valid and collected at the declared best date
)

// String returns the tier label used in logs and metrics.
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierBestDate:
		return "best_date"
	case TierCRC:
		return "crc"
	case TierBest:
		return "best"
	default:
		return "tier_" + strconv.Itoa(int(t))
	}
}

// Candidate is one retransmission observed within a pass.
type Candidate struct {
	Frame       string `json:"frame"`
	CollectedAt string `json:"date"`
}

// Selection is the outcome of ranking one pass.
type Selection struct {
	Candidate Candidate
	Tier      Tier
	// Found is false when no candidate was chosen at all.
	Found bool
}

// Checker reports checksum validity of a frame.
type Checker func(hex string) bool

// Option applies a configuration option to the Ranker.
type Option func(*Ranker)

// WithChecker replaces the frame checksum used to verify candidates.
func WithChecker(c Checker) Option {
	return func(r *Ranker) {
		if c != nil {
			r.checker = c
		}
	}
}

// Ranker applies the tiered selection policy. The zero value is not usable;
// construct with NewRanker.
type Ranker struct {
	checker Checker
}

// NewRanker creates a ranker that verifies candidates with frame.Valid.
func NewRanker(opts ...Option) *Ranker {
	r := &Ranker{checker: frame.Valid}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRanker = NewRanker()

// Select ranks candidates with the frame checksum. See Ranker.Select.
func Select(candidates []Candidate, bestDate string, requireCRC bool) Selection {
	return defaultRanker.Select(candidates, bestDate, requireCRC)
}

// Select returns the first match of, in priority order:
//  1. a checksum-valid candidate collected exactly at bestDate (TierBest)
//  2. the first checksum-valid candidate (TierCRC)
//  3. the first candidate collected at bestDate (TierBestDate)
//
// When none match and requireCRC is false the first candidate is returned at
// TierNone with Found set; callers order candidates newest first so this is
// the latest retransmission. With requireCRC set nothing is returned.
func (r *Ranker) Select(candidates []Candidate, bestDate string, requireCRC bool) Selection {
	if len(candidates) == 0 {
		return Selection{Tier: TierNone}
	}

	firstValid, firstAtBest := -1, -1
	for i, c := range candidates {
		valid := r.checker(c.Frame)
		atBest := c.CollectedAt == bestDate
		if valid && atBest {
			return Selection{Candidate: c, Tier: TierBest, Found: true}
		}
		if valid && firstValid < 0 {
			firstValid = i
		}
		if atBest && firstAtBest < 0 {
			firstAtBest = i
		}
	}

	switch {
	case firstValid >= 0:
		return Selection{Candidate: candidates[firstValid], Tier: TierCRC, Found: true}
	case firstAtBest >= 0:
		return Selection{Candidate: candidates[firstAtBest], Tier: TierBestDate, Found: true}
	case !requireCRC:
		return Selection{Candidate: candidates[0], Tier: TierNone, Found: true}
	default:
		return Selection{Tier: TierNone}
	}
}
