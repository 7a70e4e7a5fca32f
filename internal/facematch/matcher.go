package facematch

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// ErrDimensionMismatch is returned when a probe or candidate vector has the wrong length.
var ErrDimensionMismatch = errors.New("encoding dimension mismatch")

// DimensionMismatchError identifies the offending vector. IdentityID is 0 for the probe.
type DimensionMismatchError struct {
	IdentityID int64
	Got        int
	Want       int
}

func (e *DimensionMismatchError) Error() string {
	if e.IdentityID == 0 {
		return fmt.Sprintf("probe has dimension %d, want %d", e.Got, e.Want)
	}
	return fmt.Sprintf("identity %d has dimension %d, want %d", e.IdentityID, e.Got, e.Want)
}

func (e *DimensionMismatchError) Unwrap() error {
	return ErrDimensionMismatch
}

// Candidate is one enrolled reference vector.
type Candidate struct {
	ID     int64
	Name   string
	Vector []float32
}

// MatchResult is the outcome of comparing a probe against a candidate set.
// Distance is the best distance seen (NaN when there were no candidates);
// ID and Name are only set when Matched is true.
type MatchResult struct {
	Matched  bool
	ID       int64
	Name     string
	Distance float64
}

// Matcher compares probes against candidates of a fixed dimension.
type Matcher struct {
	Dim int
}

// NewMatcher returns a matcher for vectors of length dim.
func NewMatcher(dim int) *Matcher {
	if dim <= 0 {
		dim = constants.EncodingDim
	}
	return &Matcher{Dim: dim}
}

// Match finds the candidate nearest to probe. Ties keep the first candidate in
// the supplied order. A match requires distance strictly below threshold.
func (m *Matcher) Match(probe []float32, candidates []Candidate, threshold float64) (MatchResult, error) {
	if len(probe) != m.Dim {
		return MatchResult{}, &DimensionMismatchError{Got: len(probe), Want: m.Dim}
	}

	result := MatchResult{Distance: math.NaN()}
	if len(candidates) == 0 {
		return result, nil
	}

	best := -1
	bestDist := math.Inf(1)
	for i := range candidates {
		c := &candidates[i]
		if len(c.Vector) != m.Dim {
			return MatchResult{}, &DimensionMismatchError{IdentityID: c.ID, Got: len(c.Vector), Want: m.Dim}
		}
		d := EuclideanDistance(probe, c.Vector)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}

	result.Distance = bestDist
	if best >= 0 && bestDist < threshold {
		result.Matched = true
		result.ID = candidates[best].ID
		result.Name = candidates[best].Name
	}
	return result, nil
}

// Match runs a Matcher for the default encoding dimension.
func Match(probe []float32, candidates []Candidate, threshold float64) (MatchResult, error) {
	m := Matcher{Dim: constants.EncodingDim}
	return m.Match(probe, candidates, threshold)
}
