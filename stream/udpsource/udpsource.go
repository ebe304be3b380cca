// Package udpsource implements stream.Provider over a single UDP socket.
// Sources announce themselves and publish samples as JSON datagrams:
//
//	{"type":"announce","source":{"name":"eeg","type":"EEG","nominal_rate":100,"channel_count":4}}
//	{"type":"sample","stream":"eeg","timestamp":1.25,"values":[0.1,0.2,0.3,0.4]}
//
// Discovery returns sources whose last announcement is within the TTL.
// Each open connection gets its own bounded sample channel; a slow
// consumer drops the oldest pending sample rather than blocking the
// read loop.
package udpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/stream"
)

const (
	maxDatagramSize = 65535
	readDeadline    = 100 * time.Millisecond
)

// Config configures the UDP provider.
type Config struct {
	// Addr is the UDP listen address, e.g. ":9999".
	Addr string `json:"addr" yaml:"addr"`

	// AnnounceTTL is how long a source stays discoverable after its last
	// announcement. Default 10s.
	AnnounceTTL time.Duration `json:"announce_ttl" yaml:"announce_ttl"`

	// ChannelDepth is the per-connection sample queue depth. Default 256.
	ChannelDepth int `json:"channel_depth" yaml:"channel_depth"`
}

func (c Config) withDefaults() Config {
	if c.AnnounceTTL <= 0 {
		c.AnnounceTTL = 10 * time.Second
	}
	if c.ChannelDepth <= 0 {
		c.ChannelDepth = 256
	}
	return c
}

// datagram is the wire envelope for both message kinds.
type datagram struct {
	Type      string                   `json:"type"`
	Source    *stream.SourceDescriptor `json:"source,omitempty"`
	Stream    string                   `json:"stream,omitempty"`
	Timestamp float64                  `json:"timestamp,omitempty"`
	Values    []float64                `json:"values,omitempty"`
}

type announcement struct {
	desc     stream.SourceDescriptor
	lastSeen time.Time
}

// Provider listens on one UDP socket and demultiplexes samples to open
// connections by stream name.
type Provider struct {
	cfg    Config
	logger *slog.Logger
	conn   *net.UDPConn

	mu      sync.Mutex
	sources map[string]announcement
	subs    map[string]chan stream.Sample

	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewProvider binds the socket and starts the read loop.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	addr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, errors.WrapInvalid(err, "udpsource", "NewProvider", "address resolve")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.WrapFatal(err, "udpsource", "NewProvider", "socket bind")
	}

	p := &Provider{
		cfg:      cfg,
		logger:   logger.With("component", "udpsource", "addr", cfg.Addr),
		conn:     conn,
		sources:  make(map[string]announcement),
		subs:     make(map[string]chan stream.Sample),
		shutdown: make(chan struct{}),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.readLoop()
	}()

	p.logger.Info("udp provider listening", "local_addr", conn.LocalAddr().String())
	return p, nil
}

// Addr returns the bound local address, useful when Config.Addr used
// port 0.
func (p *Provider) Addr() string {
	return p.conn.LocalAddr().String()
}

// Close stops the read loop and invalidates all open connections.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.shutdown)
	for name, ch := range p.subs {
		close(ch)
		delete(p.subs, name)
	}
	p.mu.Unlock()

	err := p.conn.Close()
	p.wg.Wait()
	if err != nil {
		return errors.WrapTransient(err, "udpsource", "Close", "socket close")
	}
	return nil
}

// ListSources implements stream.Provider. Sources expire AnnounceTTL
// after their last announcement.
func (p *Provider) ListSources(ctx context.Context, _ time.Duration) ([]stream.SourceDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.WrapTransient(errors.ErrDiscovery, "udpsource", "ListSources", "provider closed")
	}

	now := time.Now()
	descs := make([]stream.SourceDescriptor, 0, len(p.sources))
	for name, a := range p.sources {
		if now.Sub(a.lastSeen) > p.cfg.AnnounceTTL {
			delete(p.sources, name)
			continue
		}
		descs = append(descs, a.desc)
	}
	return descs, nil
}

// Open implements stream.Provider. One open connection per stream name;
// a second Open for the same name replaces the first's subscription.
func (p *Provider) Open(ctx context.Context, desc stream.SourceDescriptor) (stream.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "udpsource", "Open", "provider closed")
	}
	if _, ok := p.sources[desc.Name]; !ok {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %q not announced", errors.ErrSourceGone, desc.Name),
			"udpsource", "Open", "source lookup")
	}

	if old, ok := p.subs[desc.Name]; ok {
		close(old)
	}
	ch := make(chan stream.Sample, p.cfg.ChannelDepth)
	p.subs[desc.Name] = ch

	return &connection{provider: p, name: desc.Name, ch: ch}, nil
}

func (p *Provider) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-p.shutdown:
			return
		default:
		}

		_ = p.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-p.shutdown:
				return
			default:
				p.logger.Warn("udp read failed", "error", err)
				continue
			}
		}

		var dg datagram
		if err := json.Unmarshal(buf[:n], &dg); err != nil {
			p.logger.Debug("malformed datagram dropped", "error", err)
			continue
		}
		p.dispatch(dg)
	}
}

func (p *Provider) dispatch(dg datagram) {
	switch dg.Type {
	case "announce":
		if dg.Source == nil || dg.Source.Validate() != nil {
			return
		}
		p.mu.Lock()
		_, known := p.sources[dg.Source.Name]
		p.sources[dg.Source.Name] = announcement{desc: *dg.Source, lastSeen: time.Now()}
		p.mu.Unlock()
		if !known {
			p.logger.Info("source announced", "source", dg.Source.String())
		}

	case "sample":
		// Send under the lock so a concurrent unsubscribe cannot close
		// the channel mid-send; all sends are non-blocking.
		p.mu.Lock()
		if ch, ok := p.subs[dg.Stream]; ok {
			smp := stream.Sample{Timestamp: dg.Timestamp, Values: dg.Values}
			select {
			case ch <- smp:
			default:
				// Queue full: shed the oldest pending sample.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- smp:
				default:
				}
			}
		}
		p.mu.Unlock()

	default:
		p.logger.Debug("unknown datagram type dropped", "type", dg.Type)
	}
}

func (p *Provider) unsubscribe(name string, ch chan stream.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs[name] == ch {
		delete(p.subs, name)
		close(ch)
	}
}

type connection struct {
	provider *Provider
	name     string
	ch       chan stream.Sample

	mu     sync.Mutex
	closed bool
}

// Pull implements stream.Connection.
func (c *connection) Pull(timeout time.Duration) (stream.Sample, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return stream.Sample{}, errors.WrapFatal(errors.ErrNoConnection, "udpsource", "Pull", "connection closed")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case smp, ok := <-c.ch:
		if !ok {
			return stream.Sample{}, errors.WrapFatal(
				fmt.Errorf("%w: subscription closed", errors.ErrSourceGone),
				"udpsource", "Pull", "sample read")
		}
		return smp, nil
	case <-timer.C:
		return stream.Sample{}, errors.WrapTransient(errors.ErrPullTimeout, "udpsource", "Pull", "sample wait")
	}
}

// Close implements stream.Connection.
func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.provider.unsubscribe(c.name, c.ch)
	return nil
}
