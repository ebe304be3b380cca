// Package manager orchestrates the set of stream receivers: discovery,
// selection, the connect/start/stop lifecycle, and the unified read API
// that logging and monitoring collaborators poll.
//
// A Manager is an explicitly constructed instance owning a name-to-receiver
// map; there is no process-wide registry. The map is guarded independently
// of each receiver's internal state, so status and snapshot reads never
// contend with receive loops beyond a single receiver's copy section.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/sensorstreams/align"
	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/health"
	"github.com/c360/sensorstreams/metric"
	"github.com/c360/sensorstreams/quality"
	"github.com/c360/sensorstreams/receiver"
	"github.com/c360/sensorstreams/stream"
)

// Config carries per-manager settings; per-receiver settings live in
// Receiver, quality thresholds in Quality, and sync limits in Sync.
type Config struct {
	// DiscoverTimeout bounds each discovery query.
	DiscoverTimeout time.Duration `json:"discover_timeout" yaml:"discover_timeout"`

	// StopTimeout bounds the per-receiver join during Stop.
	StopTimeout time.Duration `json:"stop_timeout" yaml:"stop_timeout"`

	// DefaultWindow is the snapshot depth used by Status and Synchronize.
	DefaultWindow int `json:"default_window" yaml:"default_window"`

	Receiver receiver.Config `json:"receiver" yaml:"receiver"`
	Quality  quality.Config  `json:"quality" yaml:"quality"`
	Sync     align.Config    `json:"sync" yaml:"sync"`
}

func (c Config) withDefaults() Config {
	if c.DiscoverTimeout <= 0 {
		c.DiscoverTimeout = 5 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.DefaultWindow <= 0 {
		c.DefaultWindow = 100
	}
	return c
}

// Selection names the sources to connect. An empty Names list with All
// unset selects nothing; All connects every discovered source.
type Selection struct {
	Names []string `json:"names" yaml:"names"`
	All   bool     `json:"all" yaml:"all"`
}

// StreamStatus is the per-stream slice of a Status report.
type StreamStatus struct {
	Descriptor stream.SourceDescriptor `json:"descriptor"`
	Counters   stream.Counters         `json:"counters"`
	BufferLen  int                     `json:"buffer_len"`
	Quality    quality.Report          `json:"quality"`
}

// Status aggregates per-stream state for the UI and logging layers.
type Status struct {
	Streams         map[string]StreamStatus `json:"streams"`
	Connected       int                     `json:"connected"`
	TotalReceived   int64                   `json:"total_received"`
	TotalDropped    int64                   `json:"total_dropped"`
	TotalReconnects int64                   `json:"total_reconnects"`
	Alerts          []quality.Event         `json:"alerts,omitempty"`
	GeneratedAt     time.Time               `json:"generated_at"`
}

// Manager owns the discovery-to-teardown lifecycle of a set of streams.
type Manager struct {
	cfg      Config
	provider stream.Provider
	registry *stream.Registry
	assessor *quality.Assessor
	sync     *align.Synchronizer
	logger   *slog.Logger

	metricsReg *metric.MetricsRegistry
	metrics    *metric.Metrics
	monitor    *health.Monitor

	mu        sync.RWMutex
	receivers map[string]*receiver.Receiver
	started   bool
}

// Deps carries the manager's collaborators. Provider is required;
// MetricsRegistry and Logger may be nil.
type Deps struct {
	Provider        stream.Provider
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// New creates a manager. The returned manager owns no streams until
// Connect is called.
func New(deps Deps) (*Manager, error) {
	if deps.Provider == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: provider is required", errors.ErrMissingConfig),
			"manager", "New", "dependency check")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config.withDefaults()

	m := &Manager{
		cfg:        cfg,
		provider:   deps.Provider,
		registry:   stream.NewRegistry(deps.Provider, logger),
		assessor:   quality.NewAssessor(cfg.Quality, deps.MetricsRegistry, logger),
		sync:       align.NewSynchronizer(cfg.Sync, deps.MetricsRegistry, logger),
		logger:     logger.With("component", "manager"),
		metricsReg: deps.MetricsRegistry,
		monitor:    health.NewMonitor(),
		receivers:  make(map[string]*receiver.Receiver),
	}
	if deps.MetricsRegistry != nil {
		m.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	return m, nil
}

// Discover queries the provider for available sources.
func (m *Manager) Discover(ctx context.Context) ([]stream.SourceDescriptor, error) {
	return m.registry.Discover(ctx, m.cfg.DiscoverTimeout)
}

// Connect discovers sources matching the selection and connects a
// receiver per source. Sources that fail to connect are reported in the
// returned error but do not prevent others from connecting; the caller
// inspects Status for per-stream outcomes.
func (m *Manager) Connect(ctx context.Context, sel Selection) error {
	descs, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	targets := selectSources(descs, sel)
	if len(targets) == 0 {
		return errors.WrapTransient(
			fmt.Errorf("%w: selection matched no sources", errors.ErrDiscovery),
			"manager", "Connect", "source selection")
	}

	var failed []string
	for _, desc := range targets {
		if err := m.connectOne(ctx, desc); err != nil {
			m.logger.Error("stream connect failed",
				"stream", desc.Name,
				"error", err)
			failed = append(failed, desc.Name)
		}
	}

	m.updateConnectedGauge()

	if len(failed) == len(targets) {
		return errors.WrapTransient(
			fmt.Errorf("%w: all %d selected sources failed to connect", errors.ErrNoConnection, len(targets)),
			"manager", "Connect", "stream connect")
	}
	if len(failed) > 0 {
		m.logger.Warn("partial connect", "failed", failed)
	}
	return nil
}

func (m *Manager) connectOne(ctx context.Context, desc stream.SourceDescriptor) error {
	m.mu.Lock()
	if existing, ok := m.receivers[desc.Name]; ok {
		m.mu.Unlock()
		if existing.State() == stream.StateConnected {
			return nil
		}
		return existing.Connect(ctx)
	}
	m.mu.Unlock()

	r, err := receiver.New(desc, receiver.Deps{
		Provider:        m.provider,
		Config:          m.cfg.Receiver,
		MetricsRegistry: m.metricsReg,
		Logger:          m.logger,
	})
	if err != nil {
		return err
	}

	if err := r.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.receivers[desc.Name] = r
	m.mu.Unlock()

	m.monitor.UpdateHealthy(desc.Name, "connected")
	m.logger.Info("stream connected",
		"stream", desc.Name,
		"type", desc.Type,
		"nominal_rate_hz", desc.NominalRate)
	return nil
}

// Start launches the receive loop of every connected receiver. Fails
// when no receiver is in the Connected state.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "manager", "Start", "state check")
	}

	connected := 0
	for _, r := range m.receivers {
		if r.State() == stream.StateConnected {
			connected++
		}
	}
	if connected == 0 {
		return errors.WrapInvalid(errors.ErrNoStreamsConnected, "manager", "Start", "state check")
	}

	for name, r := range m.receivers {
		if r.State() != stream.StateConnected {
			continue
		}
		if err := r.Start(ctx); err != nil {
			m.logger.Error("receive loop start failed", "stream", name, "error", err)
			continue
		}
	}

	m.started = true
	m.logger.Info("acquisition started", "streams", connected)
	return nil
}

// Stop disconnects every receiver and joins their receive loops before
// returning. Safe to call more than once.
func (m *Manager) Stop() error {
	m.mu.Lock()
	receivers := make(map[string]*receiver.Receiver, len(m.receivers))
	for name, r := range m.receivers {
		receivers[name] = r
	}
	m.started = false
	m.mu.Unlock()

	var firstErr error
	for name, r := range receivers {
		if err := r.Disconnect(m.cfg.StopTimeout); err != nil {
			m.logger.Error("stream disconnect failed", "stream", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		m.monitor.UpdateUnhealthy(name, "disconnected")
	}

	m.updateConnectedGauge()
	m.logger.Info("acquisition stopped", "streams", len(receivers))
	return firstErr
}

// Remove disconnects one stream and forgets it entirely: receiver,
// health entry and quality alert state. The stream can be re-added by a
// later Connect.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	r, ok := m.receivers[name]
	delete(m.receivers, name)
	m.mu.Unlock()

	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown stream %q", errors.ErrInvalidSource, name),
			"manager", "Remove", "stream lookup")
	}

	err := r.Disconnect(m.cfg.StopTimeout)
	r.ReleaseMetrics()
	m.monitor.Remove(name)
	m.assessor.Forget(name)
	m.updateConnectedGauge()
	return err
}

// Latest returns up to n most recent samples of one stream in
// chronological order.
func (m *Manager) Latest(name string, n int) ([]stream.Sample, error) {
	m.mu.RLock()
	r, ok := m.receivers[name]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown stream %q", errors.ErrInvalidSource, name),
			"manager", "Latest", "stream lookup")
	}
	return r.Snapshot(n), nil
}

// LatestAll returns up to n most recent samples per stream. n <= 0
// returns each stream's full buffer.
func (m *Manager) LatestAll(n int) map[string][]stream.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]stream.Sample, len(m.receivers))
	for name, r := range m.receivers {
		depth := n
		if depth <= 0 {
			depth = r.BufferLen()
		}
		out[name] = r.Snapshot(depth)
	}
	return out
}

// Streams returns the names of all managed streams.
func (m *Manager) Streams() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.receivers))
	for name := range m.receivers {
		names = append(names, name)
	}
	return names
}

// Status assesses every stream and aggregates counters, quality reports
// and pending alert events into one structure for polling collaborators.
func (m *Manager) Status() Status {
	m.mu.RLock()
	receivers := make(map[string]*receiver.Receiver, len(m.receivers))
	for name, r := range m.receivers {
		receivers[name] = r
	}
	m.mu.RUnlock()

	st := Status{
		Streams:     make(map[string]StreamStatus, len(receivers)),
		GeneratedAt: time.Now(),
	}

	for name, r := range receivers {
		counters := r.Counters()
		report := m.assessor.Assess(quality.Input{
			Descriptor: r.Descriptor(),
			Counters:   counters,
			Samples:    r.Snapshot(m.cfg.DefaultWindow),
		})

		st.Streams[name] = StreamStatus{
			Descriptor: r.Descriptor(),
			Counters:   counters,
			BufferLen:  r.BufferLen(),
			Quality:    report,
		}

		st.TotalReceived += counters.SamplesReceived
		st.TotalDropped += counters.SamplesDropped
		st.TotalReconnects += counters.ReconnectCount
		if counters.State == stream.StateConnected {
			st.Connected++
		}

		m.updateStreamHealth(name, counters, report)
	}

	st.Alerts = m.assessor.Events()
	m.updateConnectedGauge()
	return st
}

// Synchronize aligns the most recent windows of all streams onto the
// named reference stream.
func (m *Manager) Synchronize(reference string, n int) (align.Result, error) {
	if n <= 0 {
		n = m.cfg.DefaultWindow
	}
	return m.sync.Synchronize(m.LatestAll(n), reference)
}

// Health returns the aggregate health of all managed streams.
func (m *Manager) Health() health.Status {
	return m.monitor.AggregateHealth("manager")
}

// DrainAlerts returns pending quality events and clears them.
func (m *Manager) DrainAlerts() []quality.Event {
	return m.assessor.DrainEvents()
}

func (m *Manager) updateStreamHealth(name string, c stream.Counters, report quality.Report) {
	metrics := &health.Metrics{
		SamplesReceived: c.SamplesReceived,
		SamplesDropped:  c.SamplesDropped,
		Reconnects:      c.ReconnectCount,
		LastActivity:    c.LastSampleAt,
	}

	var st health.Status
	switch {
	case c.State != stream.StateConnected:
		st = health.NewUnhealthy(name, c.State.String())
	case report.Stale || !report.Healthy(m.assessor.Threshold()):
		st = health.NewDegraded(name, fmt.Sprintf("quality score %.2f", report.OverallScore))
	default:
		st = health.NewHealthy(name, "receiving")
	}
	m.monitor.Update(name, st.WithMetrics(metrics))
}

func (m *Manager) updateConnectedGauge() {
	if m.metrics == nil {
		return
	}

	m.mu.RLock()
	connected := 0
	for _, r := range m.receivers {
		if r.State() == stream.StateConnected {
			connected++
		}
	}
	m.mu.RUnlock()

	m.metrics.StreamsConnected.Set(float64(connected))
}

func selectSources(descs []stream.SourceDescriptor, sel Selection) []stream.SourceDescriptor {
	if sel.All {
		return descs
	}

	wanted := make(map[string]bool, len(sel.Names))
	for _, n := range sel.Names {
		wanted[n] = true
	}

	out := make([]stream.SourceDescriptor, 0, len(sel.Names))
	for _, d := range descs {
		if wanted[d.Name] {
			out = append(out, d)
		}
	}
	return out
}
