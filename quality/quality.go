// Package quality scores each stream's health from its receiver counters
// and recent samples: sampling-rate fidelity, data completeness, and
// connection stability, combined into an overall score in [0,1].
//
// Crossing below the alert threshold raises an alert event; crossing back
// above raises a resolution event. Events accumulate in a bounded list the
// caller drains at its own cadence; the assessor never takes corrective
// action itself.
package quality

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/metric"
	"github.com/c360/sensorstreams/stream"
)

// Weights controls how the three metric scores combine into the overall
// score. Weights are relative; they are normalized by their sum.
type Weights struct {
	Rate      float64 `json:"rate" yaml:"rate"`
	Missing   float64 `json:"missing" yaml:"missing"`
	Stability float64 `json:"stability" yaml:"stability"`
}

// DefaultWeights weighs the three metrics equally.
func DefaultWeights() Weights {
	return Weights{Rate: 1, Missing: 1, Stability: 1}
}

func (w Weights) total() float64 {
	return w.Rate + w.Missing + w.Stability
}

// Config controls assessment windows, thresholds and event retention.
type Config struct {
	// Window is the number of most-recent samples used to estimate the
	// observed sampling rate. At least 2 samples are required for an
	// estimate; with fewer the report carries InsufficientData instead
	// of a spurious deviation.
	Window int `json:"window" yaml:"window"`

	// RateTolerance is the acceptable fractional deviation between the
	// observed and nominal sampling rates.
	RateTolerance float64 `json:"rate_tolerance" yaml:"rate_tolerance"`

	// MaxMissingRatio is the acceptable fraction of dropped samples.
	MaxMissingRatio float64 `json:"max_missing_ratio" yaml:"max_missing_ratio"`

	// ReconnectCap is the reconnect count at which the stability score
	// bottoms out at 0.
	ReconnectCap int `json:"reconnect_cap" yaml:"reconnect_cap"`

	// AlertThreshold is the overall score below which an alert event is
	// raised.
	AlertThreshold float64 `json:"alert_threshold" yaml:"alert_threshold"`

	// StaleAfter marks a stream stale when no sample has arrived for this
	// long. Zero disables staleness checks.
	StaleAfter time.Duration `json:"stale_after" yaml:"stale_after"`

	// MaxEvents bounds the retained event list; oldest events are dropped
	// first.
	MaxEvents int `json:"max_events" yaml:"max_events"`

	// Weights is the default metric weighting.
	Weights Weights `json:"weights" yaml:"weights"`

	// WeightsByType overrides Weights per source type tag (e.g. "EEG").
	WeightsByType map[string]Weights `json:"weights_by_type" yaml:"weights_by_type"`
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 50
	}
	if c.RateTolerance <= 0 {
		c.RateTolerance = 0.1
	}
	if c.MaxMissingRatio <= 0 {
		c.MaxMissingRatio = 0.1
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 5
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = 0.5
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 100
	}
	if c.Weights.total() <= 0 {
		c.Weights = DefaultWeights()
	}
	return c
}

// EventKind distinguishes alert events from their resolutions.
type EventKind string

const (
	EventAlert      EventKind = "alert"
	EventResolution EventKind = "resolution"
)

// Event records one threshold crossing for one stream.
type Event struct {
	Stream    string    `json:"stream"`
	Kind      EventKind `json:"kind"`
	Score     float64   `json:"score"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the per-stream assessment produced by Assess. Reports are
// views over receiver state, recomputed per call and never stored by the
// assessor beyond the alert edge state.
type Report struct {
	Stream             string    `json:"stream"`
	RateDeviationRatio float64   `json:"rate_deviation_ratio"`
	MissingDataRatio   float64   `json:"missing_data_ratio"`
	StabilityScore     float64   `json:"connection_stability_score"`
	OverallScore       float64   `json:"overall_score"`
	InsufficientData   bool      `json:"insufficient_data"`
	Stale              bool      `json:"stale"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// Healthy reports whether the overall score clears the given threshold.
func (r Report) Healthy(threshold float64) bool {
	return r.OverallScore >= threshold
}

// Input bundles everything Assess reads about one stream. All fields are
// snapshots; the assessor never touches receiver-owned state directly.
type Input struct {
	Descriptor stream.SourceDescriptor
	Counters   stream.Counters
	Samples    []stream.Sample
}

// Assessor computes quality reports and tracks alert threshold crossings.
// Safe for concurrent use.
type Assessor struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	mu     sync.Mutex
	active map[string]bool // streams currently below threshold
	events []Event

	now func() time.Time
}

// NewAssessor creates an assessor with the given configuration. Registry
// may be nil, in which case no Prometheus metrics are emitted.
func NewAssessor(cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) *Assessor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Assessor{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "quality"),
		active: make(map[string]bool),
		now:    time.Now,
	}
	if registry != nil {
		a.metrics = registry.CoreMetrics()
	}
	return a
}

// Threshold returns the effective alert threshold after defaulting, so
// callers judging reports against it agree with the assessor's own alerts.
func (a *Assessor) Threshold() float64 {
	return a.cfg.AlertThreshold
}

// Assess computes a report for one stream and records any alert or
// resolution event caused by the score crossing the configured threshold.
func (a *Assessor) Assess(in Input) Report {
	now := a.now()

	report := Report{
		Stream:      in.Descriptor.Name,
		GeneratedAt: now,
	}

	report.RateDeviationRatio, report.InsufficientData = a.rateDeviation(in)
	report.MissingDataRatio = missingRatio(in.Counters)
	report.StabilityScore = a.stability(in.Counters)
	report.Stale = a.isStale(in.Counters, now)

	report.OverallScore = a.overall(in.Descriptor.Type, report)

	if in.Counters.State != stream.StateConnected {
		// A dead stream scores zero regardless of its history.
		report.OverallScore = 0
	}

	if a.metrics != nil {
		a.metrics.QualityScore.WithLabelValues(report.Stream).Set(report.OverallScore)
	}

	a.recordCrossing(report)
	return report
}

// AssessAll assesses every input and returns reports keyed by stream name.
func (a *Assessor) AssessAll(inputs []Input) map[string]Report {
	reports := make(map[string]Report, len(inputs))
	for _, in := range inputs {
		reports[in.Descriptor.Name] = a.Assess(in)
	}
	return reports
}

// Events returns a copy of the retained alert/resolution events, oldest
// first.
func (a *Assessor) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// DrainEvents returns the retained events and clears the list.
func (a *Assessor) DrainEvents() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.events
	a.events = nil
	return out
}

// Forget drops alert edge state for a stream, e.g. after its receiver is
// removed. The next assessment starts from a clean slate.
func (a *Assessor) Forget(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, name)
}

// rateDeviation estimates the observed rate from inter-arrival times of
// the most recent window of samples.
func (a *Assessor) rateDeviation(in Input) (ratio float64, insufficient bool) {
	if in.Descriptor.NominalRate <= 0 {
		return 0, true
	}

	samples := in.Samples
	if len(samples) > a.cfg.Window {
		samples = samples[len(samples)-a.cfg.Window:]
	}
	if len(samples) < 2 {
		return 0, true
	}

	span := samples[len(samples)-1].Timestamp - samples[0].Timestamp
	if span <= 0 {
		return 0, true
	}

	observed := float64(len(samples)-1) / span
	return math.Abs(observed-in.Descriptor.NominalRate) / in.Descriptor.NominalRate, false
}

func missingRatio(c stream.Counters) float64 {
	total := c.SamplesReceived + c.SamplesDropped
	if total == 0 {
		return 0
	}
	return float64(c.SamplesDropped) / float64(total)
}

func (a *Assessor) stability(c stream.Counters) float64 {
	penalty := float64(c.ReconnectCount) / float64(a.cfg.ReconnectCap)
	return 1 - math.Min(1, penalty)
}

func (a *Assessor) isStale(c stream.Counters, now time.Time) bool {
	if a.cfg.StaleAfter <= 0 || c.LastSampleAt.IsZero() {
		return false
	}
	return now.Sub(c.LastSampleAt) > a.cfg.StaleAfter
}

// overall maps each metric to a [0,1] score (good near 1) and combines
// them with the weights configured for the stream's type.
func (a *Assessor) overall(sourceType string, r Report) float64 {
	w := a.cfg.Weights
	if tw, ok := a.cfg.WeightsByType[sourceType]; ok && tw.total() > 0 {
		w = tw
	}

	rateScore := clamp01(1 - r.RateDeviationRatio)
	missingScore := clamp01(1 - r.MissingDataRatio)

	score := (w.Rate*rateScore + w.Missing*missingScore + w.Stability*r.StabilityScore) / w.total()

	if r.Stale {
		score *= 0.5
	}
	return clamp01(score)
}

func (a *Assessor) recordCrossing(r Report) {
	a.mu.Lock()
	defer a.mu.Unlock()

	below := r.OverallScore < a.cfg.AlertThreshold
	wasBelow := a.active[r.Stream]
	if below == wasBelow {
		return
	}
	a.active[r.Stream] = below

	ev := Event{
		Stream:    r.Stream,
		Score:     r.OverallScore,
		Timestamp: r.GeneratedAt,
	}
	if below {
		ev.Kind = EventAlert
		ev.Message = fmt.Sprintf("quality score %.2f below threshold %.2f", r.OverallScore, a.cfg.AlertThreshold)
		a.logger.Warn("quality alert raised",
			"stream", r.Stream,
			"score", r.OverallScore,
			"threshold", a.cfg.AlertThreshold)
	} else {
		ev.Kind = EventResolution
		ev.Message = fmt.Sprintf("quality score %.2f recovered above threshold %.2f", r.OverallScore, a.cfg.AlertThreshold)
		a.logger.Info("quality alert resolved",
			"stream", r.Stream,
			"score", r.OverallScore)
	}

	a.events = append(a.events, ev)
	if len(a.events) > a.cfg.MaxEvents {
		a.events = a.events[len(a.events)-a.cfg.MaxEvents:]
	}

	if a.metrics != nil {
		a.metrics.AlertsTotal.WithLabelValues(r.Stream, string(ev.Kind)).Inc()
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Validate checks a quality configuration for out-of-range values.
func (c Config) Validate() error {
	if c.RateTolerance < 0 || c.RateTolerance > 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rate_tolerance %v outside [0,1]", errors.ErrInvalidConfig, c.RateTolerance),
			"quality", "Validate", "config check")
	}
	if c.MaxMissingRatio < 0 || c.MaxMissingRatio > 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max_missing_ratio %v outside [0,1]", errors.ErrInvalidConfig, c.MaxMissingRatio),
			"quality", "Validate", "config check")
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: alert_threshold %v outside [0,1]", errors.ErrInvalidConfig, c.AlertThreshold),
			"quality", "Validate", "config check")
	}
	return nil
}
