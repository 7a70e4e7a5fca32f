// Package scan turns incoming probes into recorded and broadcast attendance decisions.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

var (
	// ErrRecordingFailed means the decision was not stored; nothing was broadcast
	// and the caller should retry the whole scan.
	ErrRecordingFailed = errors.New("recording decision failed")

	// ErrInvalidVerdict is returned for client verdicts that cannot be recorded.
	ErrInvalidVerdict = errors.New("invalid verdict")

	// ErrNoEncoder is returned by ScanImage when no encoder is configured.
	ErrNoEncoder = errors.New("no face encoder configured")

	// errUnknownIdentity means the decision referenced an identity that no longer exists.
	errUnknownIdentity = errors.New("unknown identity")
)

// Scan sources used as metric labels.
const (
	sourceProbe   = "probe"
	sourceImage   = "image"
	sourceVerdict = "verdict"
)

// Snapshotter supplies the candidates for one match.
type Snapshotter interface {
	Snapshot() []facematch.Candidate
}

// ThresholdSource returns the active match threshold.
type ThresholdSource interface {
	Threshold() float64
}

// Publisher receives every recorded decision.
type Publisher interface {
	Publish(d *database.Decision)
}

// Encoder turns an image into a face encoding.
type Encoder interface {
	Encode(ctx context.Context, image []byte) ([]float32, error)
}

// Probe is a face encoding submitted for matching.
type Probe struct {
	Encoding []float32
	DeviceID *string
}

// Verdict is a match result computed by an edge client.
type Verdict struct {
	IdentityID *int64
	Status     string // outcome tag; "success", "failed" and "unknown" are accepted
	DeviceID   *string
}

// Result is the outcome of one scan attempt.
type Result struct {
	Decision *database.Decision
	Match    facematch.MatchResult
}

// Deps are the collaborators of a Pipeline. Encoder and Metrics are optional.
type Deps struct {
	Store     Snapshotter
	Threshold ThresholdSource
	Matcher   *facematch.Matcher
	Recorder  database.DecisionRecorder
	Publisher Publisher
	Encoder   Encoder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Pipeline runs match, record and publish for each scan attempt.
type Pipeline struct {
	deps Deps

	// commitMu covers record and publish so subscribers see decisions in commit order.
	commitMu sync.Mutex
}

// New creates a pipeline.
func New(deps Deps) *Pipeline {
	if deps.Matcher == nil {
		deps.Matcher = facematch.NewMatcher(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{deps: deps}
}

// Scan matches probe against the current snapshot using the current threshold,
// records the decision and publishes it.
//
// A dimension mismatch is recorded and published as an error decision; the
// result is returned together with an error wrapping facematch.ErrDimensionMismatch.
// Cancelling ctx does not abort a scan once matching has started.
func (p *Pipeline) Scan(ctx context.Context, probe Probe) (*Result, error) {
	return p.scan(ctx, probe, sourceProbe)
}

func (p *Pipeline) scan(ctx context.Context, probe Probe, source string) (*Result, error) {
	start := time.Now()

	threshold := p.deps.Threshold.Threshold()
	match, matchErr := p.deps.Matcher.Match(probe.Encoding, p.deps.Store.Snapshot(), threshold)

	outcome := database.OutcomeRejected
	var identityID *int64
	switch {
	case matchErr != nil:
		outcome = database.OutcomeError
	case match.Matched:
		outcome = database.OutcomeMatched
		id := match.ID
		identityID = &id
	}
	if matchErr == nil && !math.IsNaN(match.Distance) {
		p.deps.Metrics.ObserveDistance(match.Distance)
	}

	d, err := p.commit(ctx, outcome, identityID, match.Name, probe.DeviceID)
	if errors.Is(err, errUnknownIdentity) {
		// Deleted after the snapshot was taken; the attempt is still recorded.
		p.deps.Logger.Warn("matched identity no longer exists", "identity", match.ID)
		outcome = database.OutcomeRejected
		match.Matched = false
		d, err = p.commit(ctx, outcome, nil, "", probe.DeviceID)
	}
	if err != nil {
		return nil, err
	}

	p.deps.Metrics.IncrementScan(string(outcome), source)
	p.deps.Metrics.ObserveScanLatency(time.Since(start))
	p.deps.Logger.Debug("scan recorded",
		"decision", d.ID, "outcome", outcome, "distance", match.Distance, "threshold", threshold)

	res := &Result{Decision: d, Match: match}
	if matchErr != nil {
		return res, fmt.Errorf("decision %d: %w", d.ID, matchErr)
	}
	return res, nil
}

// ScanImage encodes image and scans the result. Encoder errors, including
// encoder.ErrNoFaceDetected, are returned without recording anything.
func (p *Pipeline) ScanImage(ctx context.Context, image []byte, deviceID *string) (*Result, error) {
	if p.deps.Encoder == nil {
		return nil, ErrNoEncoder
	}
	encoding, err := p.deps.Encoder.Encode(ctx, image)
	if err != nil {
		return nil, err
	}
	return p.scan(ctx, Probe{Encoding: encoding, DeviceID: deviceID}, sourceImage)
}

// Submit records a verdict computed by an edge client. Only matched verdicts
// keep their identity, which must exist.
func (p *Pipeline) Submit(ctx context.Context, v Verdict) (*database.Decision, error) {
	outcome, err := database.ParseOutcome(v.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVerdict, err)
	}

	identityID := v.IdentityID
	if outcome == database.OutcomeMatched {
		if identityID == nil {
			return nil, fmt.Errorf("%w: matched verdict without user", ErrInvalidVerdict)
		}
	} else {
		identityID = nil
	}

	d, err := p.commit(ctx, outcome, identityID, "", v.DeviceID)
	if errors.Is(err, errUnknownIdentity) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVerdict, err)
	}
	if err != nil {
		return nil, err
	}
	p.deps.Metrics.IncrementScan(string(outcome), sourceVerdict)
	return d, nil
}

func (p *Pipeline) commit(
	ctx context.Context, outcome database.Outcome, identityID *int64, name string, deviceID *string,
) (*database.Decision, error) {
	ctx = context.WithoutCancel(ctx)

	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	d, err := p.deps.Recorder.Record(ctx, outcome, identityID, deviceID)
	if identityID != nil && errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w %d", errUnknownIdentity, *identityID)
	}
	if err != nil {
		p.deps.Metrics.IncrementRecordFailures()
		p.deps.Logger.Error("recording decision failed", "outcome", outcome, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrRecordingFailed, err)
	}
	if d.IdentityName == "" && d.IdentityID != nil {
		d.IdentityName = name
	}

	p.deps.Publisher.Publish(d)
	return d, nil
}
