// Package receiver owns one connection to one source: it pulls samples on
// its own goroutine, buffers them in a fixed-capacity ring, and tracks the
// counters quality assessment reads.
package receiver

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/metric"
	"github.com/c360/sensorstreams/pkg/buffer"
	"github.com/c360/sensorstreams/pkg/retry"
	"github.com/c360/sensorstreams/stream"
)

// Config holds receiver tuning. Zero values are replaced by defaults.
type Config struct {
	// BufferCapacity is the per-stream ring capacity. Default 1000.
	BufferCapacity int `json:"buffer_capacity" yaml:"buffer_capacity"`
	// MaxConnectAttempts bounds one connect/reconnect cycle. Default 3.
	MaxConnectAttempts int `json:"max_connect_attempts" yaml:"max_connect_attempts"`
	// BackoffBase is the first reconnect delay; doubles per attempt.
	// Default 100ms.
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`
	// BackoffMax caps the reconnect delay. Default 5s.
	BackoffMax time.Duration `json:"backoff_max" yaml:"backoff_max"`
	// PullTimeout bounds each pull so the stop flag is observed. Default 200ms.
	PullTimeout time.Duration `json:"pull_timeout" yaml:"pull_timeout"`
	// PullRetryLimit is the number of consecutive transient pull errors
	// (excluding plain timeouts) tolerated before the connection is torn
	// down. Default 3.
	PullRetryLimit int `json:"pull_retry_limit" yaml:"pull_retry_limit"`
	// MismatchLimit is the number of consecutive channel-count mismatches
	// that force a disconnect. Default 3.
	MismatchLimit int `json:"mismatch_limit" yaml:"mismatch_limit"`
	// AutoReconnect re-runs the connect cycle when the receive loop loses
	// the connection. When the cycle exhausts its attempts the receiver
	// parks in the Failed state until an explicit Connect. Off for a
	// zero-value Config; DefaultConfig enables it.
	AutoReconnect bool `json:"auto_reconnect" yaml:"auto_reconnect"`
}

// DefaultConfig returns the documented receiver defaults.
func DefaultConfig() Config {
	return Config{
		BufferCapacity:     1000,
		MaxConnectAttempts: 3,
		BackoffBase:        100 * time.Millisecond,
		BackoffMax:         5 * time.Second,
		PullTimeout:        200 * time.Millisecond,
		PullRetryLimit:     3,
		MismatchLimit:      3,
		AutoReconnect:      true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = d.MaxConnectAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.PullTimeout <= 0 {
		c.PullTimeout = d.PullTimeout
	}
	if c.PullRetryLimit <= 0 {
		c.PullRetryLimit = d.PullRetryLimit
	}
	if c.MismatchLimit <= 0 {
		c.MismatchLimit = d.MismatchLimit
	}
	return c
}

// Deps holds runtime dependencies for a receiver.
type Deps struct {
	Provider        stream.Provider
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
}

// Receiver maintains a single live connection and its buffer. The receive
// loop is the only writer of the buffer and counters; all other components
// read snapshots.
type Receiver struct {
	desc     stream.SourceDescriptor
	provider stream.Provider
	cfg      Config
	logger   *slog.Logger

	ring buffer.Ring[stream.Sample]

	// connMu guards conn only; it is never held across a Pull
	connMu sync.RWMutex
	conn   stream.Connection

	state           atomic.Int32
	samplesReceived atomic.Int64
	samplesDropped  atomic.Int64
	reconnectCount  atomic.Int64
	lastSampleAt    atomic.Value // stores time.Time

	// lifecycleMu serializes Connect/Start/Disconnect; shutdownMu guards the
	// channels so Disconnect can signal without waiting for a backoff cycle
	// that holds lifecycleMu
	lifecycleMu sync.Mutex
	shutdownMu  sync.Mutex
	shutdown    chan struct{}
	done        chan struct{}
	running     atomic.Bool
	wg          sync.WaitGroup

	metrics    *metric.Metrics         // nil when no registry provided
	metricsReg *metric.MetricsRegistry // nil when no registry provided
}

// New creates a receiver for one source. The descriptor is validated at
// Connect time, matching the "invalid source is fatal for that source only"
// policy.
func New(desc stream.SourceDescriptor, deps Deps) (*Receiver, error) {
	if deps.Provider == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil provider"), "receiver", "New", "provider validation")
	}

	cfg := deps.Config.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "receiver", "stream", desc.Name)

	var ringOpts []buffer.Option[stream.Sample]
	var metrics *metric.Metrics
	if deps.MetricsRegistry != nil {
		ringOpts = append(ringOpts, buffer.WithMetrics[stream.Sample](deps.MetricsRegistry, "receiver_"+desc.Name))
		metrics = deps.MetricsRegistry.CoreMetrics()
	}

	ring, err := buffer.NewRing(cfg.BufferCapacity, ringOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "receiver", "New", "buffer creation")
	}

	r := &Receiver{
		desc:       desc,
		provider:   deps.Provider,
		cfg:        cfg,
		logger:     logger,
		ring:       ring,
		metrics:    metrics,
		metricsReg: deps.MetricsRegistry,
	}
	r.lastSampleAt.Store(time.Time{})
	r.setState(stream.StateDisconnected)
	return r, nil
}

// ReleaseMetrics unregisters this receiver's buffer metrics so a later
// receiver for the same stream can register them afresh. Call only after
// the receiver is permanently retired.
func (r *Receiver) ReleaseMetrics() {
	if r.metricsReg != nil {
		r.metricsReg.UnregisterComponent("receiver_" + r.desc.Name)
	}
}

// Descriptor returns the source descriptor this receiver was built for.
func (r *Receiver) Descriptor() stream.SourceDescriptor {
	return r.desc
}

// State returns the current connection state.
func (r *Receiver) State() stream.ConnectionState {
	return stream.ConnectionState(r.state.Load())
}

func (r *Receiver) setState(s stream.ConnectionState) {
	r.state.Store(int32(s))
	if r.metrics != nil {
		r.metrics.SetStreamState(r.desc.Name, int(s))
	}
}

// Connect establishes the connection with exponential backoff. Each failed
// attempt increments the reconnect counter. After MaxConnectAttempts
// consecutive failures the receiver enters the Failed state and stays there
// until Connect is called again; it is not retried automatically.
func (r *Receiver) Connect(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.State() == stream.StateConnected {
		return nil // Already connected, idempotent
	}

	if err := r.desc.Validate(); err != nil {
		r.setState(stream.StateFailed)
		return err
	}

	return r.connectLocked(ctx)
}

// connectLocked runs one full backoff cycle. Callers hold lifecycleMu.
func (r *Receiver) connectLocked(ctx context.Context) error {
	r.setState(stream.StateConnecting)

	retryCfg := retry.Config{
		MaxAttempts:  r.cfg.MaxConnectAttempts,
		InitialDelay: r.cfg.BackoffBase,
		MaxDelay:     r.cfg.BackoffMax,
		Multiplier:   2.0,
		AddJitter:    true,
		OnAttempt: func(attempt int, err error) {
			r.reconnectCount.Add(1)
			if r.metrics != nil {
				r.metrics.Reconnects.WithLabelValues(r.desc.Name).Inc()
			}
			r.logger.Warn("connect attempt failed", "attempt", attempt, "error", err)
		},
	}

	conn, err := retry.DoWithResult(ctx, retryCfg, func() (stream.Connection, error) {
		return r.provider.Open(ctx, r.desc)
	})
	if err != nil {
		r.setState(stream.StateFailed)
		return errors.WrapTransient(err, "receiver", "Connect", "connection establishment")
	}

	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()

	r.setState(stream.StateConnected)
	r.logger.Info("connected", "type", r.desc.Type, "rate_hz", r.desc.NominalRate)
	return nil
}

// Start launches the receive loop. The receiver must be Connected.
func (r *Receiver) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.running.Load() {
		return nil // Already running, idempotent
	}
	if r.State() != stream.StateConnected {
		return errors.WrapInvalid(errors.ErrNoConnection, "receiver", "Start", "state check")
	}

	r.shutdownMu.Lock()
	r.shutdown = make(chan struct{})
	r.done = make(chan struct{})
	r.shutdownMu.Unlock()
	r.running.Store(true)

	done := r.done
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		r.receiveLoop(ctx)
	}()

	return nil
}

// Disconnect releases the connection and joins the receive loop. The buffer
// is retained until an explicit ClearBuffer. Safe to call repeatedly.
func (r *Receiver) Disconnect(timeout time.Duration) error {
	// Signal before taking lifecycleMu so an in-flight reconnect backoff
	// cycle is cut short rather than waited out.
	r.running.Store(false)
	r.signalShutdown()

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.closeConn()

	r.shutdownMu.Lock()
	done := r.done
	r.shutdownMu.Unlock()

	if done != nil {
		select {
		case <-done:
			// receive loop finished
		case <-time.After(timeout):
			return errors.WrapTransient(
				fmt.Errorf("disconnect timeout after %v", timeout),
				"receiver", "Disconnect", "receive loop join")
		}
	}

	if r.State() != stream.StateFailed {
		r.setState(stream.StateDisconnected)
	}
	return nil
}

func (r *Receiver) signalShutdown() {
	r.shutdownMu.Lock()
	defer r.shutdownMu.Unlock()
	if r.shutdown != nil {
		select {
		case <-r.shutdown:
		default:
			close(r.shutdown)
		}
	}
}

func (r *Receiver) closeConn() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Warn("error closing connection", "error", err)
		}
		r.conn = nil
	}
}

// Snapshot returns up to n most recent samples in arrival order. The copy
// holds the buffer lock only for the duration of the copy; it may be stale
// relative to an in-flight push, which is acceptable for live reads.
func (r *Receiver) Snapshot(n int) []stream.Sample {
	return r.ring.ReadLast(n)
}

// BufferLen returns the current buffer depth.
func (r *Receiver) BufferLen() int {
	return r.ring.Len()
}

// ClearBuffer discards buffered samples. Counters are unaffected.
func (r *Receiver) ClearBuffer() {
	r.ring.Clear()
}

// Counters returns a point-in-time snapshot of the receiver's history.
func (r *Receiver) Counters() stream.Counters {
	lastAt, _ := r.lastSampleAt.Load().(time.Time)
	return stream.Counters{
		SamplesReceived: r.samplesReceived.Load(),
		SamplesDropped:  r.samplesDropped.Load(),
		ReconnectCount:  r.reconnectCount.Load(),
		LastSampleAt:    lastAt,
		State:           r.State(),
	}
}

// receiveLoop pulls samples until shutdown. Transient pull errors are
// absorbed up to PullRetryLimit; channel mismatches are dropped and counted,
// forcing a disconnect after MismatchLimit in a row. When the connection is
// lost and AutoReconnect is set, one backoff cycle runs; exhausting it parks
// the receiver in Failed.
func (r *Receiver) receiveLoop(ctx context.Context) {
	transientFails := 0
	mismatches := 0

	for r.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		default:
		}

		r.connMu.RLock()
		conn := r.conn
		r.connMu.RUnlock()
		if conn == nil || r.State() != stream.StateConnected {
			if !r.reconnect(ctx) {
				return
			}
			continue
		}

		sample, err := conn.Pull(r.cfg.PullTimeout)
		if err != nil {
			switch {
			case stderrors.Is(err, errors.ErrPullTimeout):
				// No sample due within the bounded wait; re-check stop flag
				continue
			case errors.IsFatal(err):
				r.logger.Warn("fatal pull error, source gone", "error", err)
				r.dropConnection()
				if !r.reconnect(ctx) {
					return
				}
			default:
				transientFails++
				if transientFails > r.cfg.PullRetryLimit {
					r.logger.Warn("transient pull errors exceeded limit",
						"failures", transientFails, "error", err)
					transientFails = 0
					r.dropConnection()
					if !r.reconnect(ctx) {
						return
					}
				}
			}
			continue
		}
		transientFails = 0

		if len(sample.Values) != r.desc.ChannelCount {
			r.samplesDropped.Add(1)
			if r.metrics != nil {
				r.metrics.SamplesDropped.WithLabelValues(r.desc.Name).Inc()
			}
			mismatches++
			r.logger.Warn("channel count mismatch, sample dropped",
				"expected", r.desc.ChannelCount,
				"got", len(sample.Values),
				"consecutive", mismatches)
			if mismatches >= r.cfg.MismatchLimit {
				mismatches = 0
				r.dropConnection()
				if !r.reconnect(ctx) {
					return
				}
			}
			continue
		}
		mismatches = 0

		now := time.Now()
		sample.ReceivedAt = now
		r.ring.Push(sample)
		r.samplesReceived.Add(1)
		r.lastSampleAt.Store(now)

		if r.metrics != nil {
			r.metrics.SamplesReceived.WithLabelValues(r.desc.Name).Inc()
			r.metrics.LastSampleTime.WithLabelValues(r.desc.Name).Set(float64(now.Unix()))
		}
	}
}

// dropConnection transitions to Disconnected and releases the handle.
func (r *Receiver) dropConnection() {
	r.closeConn()
	r.setState(stream.StateDisconnected)
}

// reconnect runs one backoff cycle from inside the receive loop. Returns
// false when the loop should exit (stopped, or parked in Failed).
func (r *Receiver) reconnect(ctx context.Context) bool {
	if !r.cfg.AutoReconnect || !r.running.Load() {
		return false
	}

	// Losing the connection counts as a reconnect even when the first
	// attempt succeeds; failed attempts inside the cycle add on top.
	r.reconnectCount.Add(1)
	if r.metrics != nil {
		r.metrics.Reconnects.WithLabelValues(r.desc.Name).Inc()
	}

	// Cancel the backoff cycle promptly when Disconnect is signalled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.shutdownMu.Lock()
	shutdown := r.shutdown
	r.shutdownMu.Unlock()
	go func() {
		select {
		case <-shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	r.lifecycleMu.Lock()
	err := r.connectLocked(ctx)
	r.lifecycleMu.Unlock()

	if err != nil {
		if !r.running.Load() {
			// Stopped mid-cycle: this is a disconnect, not a failure
			r.setState(stream.StateDisconnected)
			return false
		}
		r.logger.Error("reconnect cycle exhausted", "error", err)
		r.running.Store(false)
		return false
	}
	return true
}
