// Package align produces temporally-aligned views across independently
// clocked streams. One stream is chosen as the reference; every other
// stream gets a scalar offset estimated online from the most recent
// timestamps, then its values are resampled onto the reference timestamp
// grid with linear interpolation. Points the source window does not
// bracket are marked invalid rather than extrapolated.
package align

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/metric"
	"github.com/c360/sensorstreams/stream"
)

// Config controls synchronization behavior.
type Config struct {
	// MaxOffset is the largest plausible |offset| in seconds. A stream
	// whose estimated offset exceeds it is reported out-of-sync for that
	// call instead of being shifted.
	MaxOffset float64 `json:"max_offset" yaml:"max_offset"`
}

func (c Config) withDefaults() Config {
	if c.MaxOffset <= 0 {
		c.MaxOffset = 5.0
	}
	return c
}

// Point is one aligned sample on the reference grid. Valid is false when
// the source window did not bracket the reference timestamp.
type Point struct {
	Timestamp float64   `json:"timestamp"`
	Values    []float64 `json:"values,omitempty"`
	Valid     bool      `json:"valid"`
}

// StreamResult is the per-stream outcome of one synchronization call.
type StreamResult struct {
	// Offset is the correction in seconds added to this stream's
	// timestamps to place them on the reference clock.
	Offset float64 `json:"offset"`

	// OutOfSync marks a stream whose offset exceeded MaxOffset; its
	// Points are empty.
	OutOfSync bool `json:"out_of_sync"`

	// Points holds one entry per reference timestamp, in grid order.
	Points []Point `json:"points,omitempty"`
}

// Result is the outcome of one synchronization call. Offsets and points
// are recomputed each call; nothing is persisted across calls.
type Result struct {
	Reference   string                  `json:"reference"`
	Streams     map[string]StreamResult `json:"streams"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// Synchronizer aligns stream windows onto a reference grid. Safe for
// concurrent use; it holds no per-call state.
type Synchronizer struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewSynchronizer creates a synchronizer. Registry may be nil.
func NewSynchronizer(cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "align"),
	}
	if registry != nil {
		s.metrics = registry.CoreMetrics()
	}
	return s
}

// Synchronize aligns every stream window in windows onto the reference
// stream's timestamps. The reference must be a key of windows with at
// least one sample. Streams with no data are reported with empty points;
// an implausible offset makes that one stream out-of-sync without
// aborting the call.
func (s *Synchronizer) Synchronize(windows map[string][]stream.Sample, reference string) (Result, error) {
	refSamples, ok := windows[reference]
	if !ok {
		return Result{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrNoReference, reference),
			"align", "Synchronize", "reference lookup")
	}
	if len(refSamples) == 0 {
		return Result{}, errors.WrapTransient(
			fmt.Errorf("%w: reference %q window is empty", errors.ErrInsufficientData, reference),
			"align", "Synchronize", "reference window check")
	}

	result := Result{
		Reference:   reference,
		Streams:     make(map[string]StreamResult, len(windows)),
		GeneratedAt: time.Now(),
	}

	refLast := refSamples[len(refSamples)-1].Timestamp

	for name, samples := range windows {
		if name == reference {
			result.Streams[name] = referenceResult(refSamples)
			continue
		}
		result.Streams[name] = s.alignStream(name, samples, refSamples, refLast)
	}
	return result, nil
}

// referenceResult passes the reference's own samples through unchanged.
func referenceResult(samples []stream.Sample) StreamResult {
	points := make([]Point, len(samples))
	for i, smp := range samples {
		points[i] = Point{Timestamp: smp.Timestamp, Values: smp.Values, Valid: true}
	}
	return StreamResult{Points: points}
}

func (s *Synchronizer) alignStream(name string, samples, refSamples []stream.Sample, refLast float64) StreamResult {
	if len(samples) < 2 {
		// Cannot estimate an offset or interpolate; report empty.
		return StreamResult{Points: invalidGrid(refSamples)}
	}

	offset := refLast - samples[len(samples)-1].Timestamp

	if s.metrics != nil {
		s.metrics.SyncOffset.WithLabelValues(name).Set(offset)
	}

	if math.Abs(offset) > s.cfg.MaxOffset {
		s.logger.Warn("stream out of sync",
			"stream", name,
			"offset_seconds", offset,
			"max_offset_seconds", s.cfg.MaxOffset)
		return StreamResult{Offset: offset, OutOfSync: true}
	}

	shifted := shiftTimestamps(samples, offset)
	points := make([]Point, len(refSamples))
	for i, ref := range refSamples {
		points[i] = interpolateAt(shifted, ref.Timestamp)
	}
	return StreamResult{Offset: offset, Points: points}
}

// invalidGrid returns one invalid point per reference timestamp.
func invalidGrid(refSamples []stream.Sample) []Point {
	points := make([]Point, len(refSamples))
	for i, ref := range refSamples {
		points[i] = Point{Timestamp: ref.Timestamp}
	}
	return points
}

type shiftedSample struct {
	ts     float64
	values []float64
}

func shiftTimestamps(samples []stream.Sample, offset float64) []shiftedSample {
	out := make([]shiftedSample, len(samples))
	for i, smp := range samples {
		out[i] = shiftedSample{ts: smp.Timestamp + offset, values: smp.Values}
	}
	// Buffers hold samples in arrival order, which is timestamp order for
	// a well-behaved source, but a reconnect can rewind the source clock.
	sort.Slice(out, func(i, j int) bool { return out[i].ts < out[j].ts })
	return out
}

// interpolateAt linearly interpolates values at ts. The point is invalid
// when ts falls outside [first, last] of the shifted window.
func interpolateAt(shifted []shiftedSample, ts float64) Point {
	p := Point{Timestamp: ts}

	n := len(shifted)
	if n == 0 || ts < shifted[0].ts || ts > shifted[n-1].ts {
		return p
	}

	// Index of the first sample with ts >= target.
	hi := sort.Search(n, func(i int) bool { return shifted[i].ts >= ts })
	if shifted[hi].ts == ts {
		p.Values = append([]float64(nil), shifted[hi].values...)
		p.Valid = true
		return p
	}

	lo := hi - 1
	span := shifted[hi].ts - shifted[lo].ts
	if span <= 0 {
		p.Values = append([]float64(nil), shifted[lo].values...)
		p.Valid = true
		return p
	}

	frac := (ts - shifted[lo].ts) / span
	values := make([]float64, len(shifted[lo].values))
	for ch := range values {
		if ch >= len(shifted[hi].values) {
			break
		}
		a, b := shifted[lo].values[ch], shifted[hi].values[ch]
		values[ch] = a + frac*(b-a)
	}
	p.Values = values
	p.Valid = true
	return p
}
