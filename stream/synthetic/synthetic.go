// Package synthetic provides an in-process stream.Provider that generates
// deterministic waveforms at each source's nominal rate. It exists for
// tests and demos: pacing, timeouts, connect failures, channel mismatches
// and fatal pull errors can all be injected per source.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/stream"
)

// Source configures one synthetic source.
type Source struct {
	Descriptor stream.SourceDescriptor

	// ClockOffset shifts this source's sample timestamps by a constant
	// number of seconds, simulating independently-clocked devices.
	ClockOffset float64

	// FailConnects makes the first N Open calls fail with a transient error.
	FailConnects int

	// MismatchEvery, when > 0, emits a sample with a wrong channel count
	// every Nth pull.
	MismatchEvery int

	// TimeoutEvery, when > 0, turns every Nth pull into a pull timeout.
	TimeoutEvery int

	// FatalAfter, when > 0, makes pulls fail fatally (source gone) once N
	// samples have been delivered.
	FatalAfter int
}

// Provider implements stream.Provider over a fixed set of synthetic sources.
type Provider struct {
	mu          sync.Mutex
	sources     []Source
	byName      map[string]*sourceState
	discoverErr error
}

type sourceState struct {
	cfg          Source
	connectFails int
}

// NewProvider creates a provider advertising the given sources.
func NewProvider(sources ...Source) *Provider {
	p := &Provider{
		sources: sources,
		byName:  make(map[string]*sourceState, len(sources)),
	}
	for _, s := range sources {
		p.byName[s.Descriptor.Name] = &sourceState{cfg: s}
	}
	return p
}

// SetDiscoverError makes subsequent ListSources calls fail, simulating an
// unreachable discovery transport.
func (p *Provider) SetDiscoverError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoverErr = err
}

// ListSources implements stream.Provider.
func (p *Provider) ListSources(ctx context.Context, _ time.Duration) ([]stream.SourceDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.discoverErr != nil {
		return nil, errors.WrapTransient(p.discoverErr, "synthetic", "ListSources", "discovery")
	}

	descs := make([]stream.SourceDescriptor, 0, len(p.sources))
	for _, s := range p.sources {
		descs = append(descs, s.Descriptor)
	}
	return descs, nil
}

// Open implements stream.Provider.
func (p *Provider) Open(ctx context.Context, desc stream.SourceDescriptor) (stream.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.byName[desc.Name]
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %s", errors.ErrSourceGone, desc.Name),
			"synthetic", "Open", "source lookup")
	}

	if st.connectFails < st.cfg.FailConnects {
		st.connectFails++
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: simulated connect failure %d", errors.ErrConnectionLost, st.connectFails),
			"synthetic", "Open", "connect")
	}

	return &connection{
		cfg:   st.cfg,
		desc:  st.cfg.Descriptor,
		start: time.Now(),
	}, nil
}

// connection paces samples in real time at the descriptor's nominal rate.
type connection struct {
	mu     sync.Mutex
	cfg    Source
	desc   stream.SourceDescriptor
	start  time.Time
	seq    int64
	closed bool
}

// Pull implements stream.Connection.
func (c *connection) Pull(timeout time.Duration) (stream.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return stream.Sample{}, errors.WrapFatal(errors.ErrNoConnection, "synthetic", "Pull", "closed connection")
	}

	if c.cfg.FatalAfter > 0 && c.seq >= int64(c.cfg.FatalAfter) {
		return stream.Sample{}, errors.WrapFatal(
			fmt.Errorf("%w: %s", errors.ErrSourceGone, c.desc.Name),
			"synthetic", "Pull", "source exhausted")
	}

	interval := time.Duration(float64(time.Second) / c.desc.NominalRate)
	due := c.start.Add(time.Duration(c.seq) * interval)
	wait := time.Until(due)
	if wait > timeout {
		time.Sleep(timeout)
		return stream.Sample{}, errors.WrapTransient(errors.ErrPullTimeout, "synthetic", "Pull", "pacing")
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	c.seq++

	if c.cfg.TimeoutEvery > 0 && c.seq%int64(c.cfg.TimeoutEvery) == 0 {
		return stream.Sample{}, errors.WrapTransient(errors.ErrPullTimeout, "synthetic", "Pull", "injected timeout")
	}

	channels := c.desc.ChannelCount
	if c.cfg.MismatchEvery > 0 && c.seq%int64(c.cfg.MismatchEvery) == 0 {
		channels++ // deliberately wrong
	}

	ts := float64(c.seq-1)/c.desc.NominalRate + c.cfg.ClockOffset
	values := make([]float64, channels)
	for ch := range values {
		// One sine per channel, phase-shifted so channels are distinguishable
		values[ch] = math.Sin(2*math.Pi*ts + float64(ch)*math.Pi/4)
	}

	return stream.Sample{Timestamp: ts, Values: values}, nil
}

// Close implements stream.Connection.
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
