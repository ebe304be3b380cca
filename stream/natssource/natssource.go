// Package natssource implements stream.Provider over NATS core
// publish/subscribe. Sources announce their descriptors on
// "<prefix>.announce" and publish samples on "<prefix>.data.<name>",
// both as JSON. Discovery returns sources whose last announcement is
// within the TTL; each open connection holds one channel subscription.
package natssource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/stream"
)

// Config configures the NATS provider.
type Config struct {
	// URL is the NATS server URL, e.g. "nats://localhost:4222".
	URL string `json:"url" yaml:"url"`

	// SubjectPrefix roots the announce and data subjects. Default
	// "sensorstreams".
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`

	// AnnounceTTL is how long a source stays discoverable after its last
	// announcement. Default 10s.
	AnnounceTTL time.Duration `json:"announce_ttl" yaml:"announce_ttl"`

	// ChannelDepth is the per-connection subscription queue depth.
	// Default 256.
	ChannelDepth int `json:"channel_depth" yaml:"channel_depth"`

	// ConnectTimeout bounds the initial server connect. Default 5s.
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

func (c Config) withDefaults() Config {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "sensorstreams"
	}
	if c.AnnounceTTL <= 0 {
		c.AnnounceTTL = 10 * time.Second
	}
	if c.ChannelDepth <= 0 {
		c.ChannelDepth = 256
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

type announcement struct {
	desc     stream.SourceDescriptor
	lastSeen time.Time
}

// wireSample is the JSON payload published on data subjects.
type wireSample struct {
	Timestamp float64   `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// Provider implements stream.Provider over one NATS connection.
type Provider struct {
	cfg    Config
	logger *slog.Logger
	conn   *nats.Conn

	announceSub *nats.Subscription

	mu      sync.Mutex
	sources map[string]announcement
	closed  bool
}

// NewProvider connects to the server and subscribes to announcements.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "natssource", "NewProvider", "server connect")
	}

	p := &Provider{
		cfg:     cfg,
		logger:  logger.With("component", "natssource", "url", cfg.URL),
		conn:    conn,
		sources: make(map[string]announcement),
	}

	sub, err := conn.Subscribe(cfg.SubjectPrefix+".announce", p.handleAnnounce)
	if err != nil {
		conn.Close()
		return nil, errors.WrapTransient(err, "natssource", "NewProvider", "announce subscribe")
	}
	p.announceSub = sub

	p.logger.Info("nats provider connected", "subject_prefix", cfg.SubjectPrefix)
	return p, nil
}

func (p *Provider) handleAnnounce(msg *nats.Msg) {
	var desc stream.SourceDescriptor
	if err := json.Unmarshal(msg.Data, &desc); err != nil {
		p.logger.Debug("malformed announcement dropped", "error", err)
		return
	}
	if desc.Validate() != nil {
		return
	}

	p.mu.Lock()
	_, known := p.sources[desc.Name]
	p.sources[desc.Name] = announcement{desc: desc, lastSeen: time.Now()}
	p.mu.Unlock()

	if !known {
		p.logger.Info("source announced", "source", desc.String())
	}
}

// Close drops the announcement subscription and the server connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.announceSub != nil {
		_ = p.announceSub.Unsubscribe()
	}
	p.conn.Close()
	return nil
}

// ListSources implements stream.Provider.
func (p *Provider) ListSources(ctx context.Context, _ time.Duration) ([]stream.SourceDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.WrapTransient(errors.ErrDiscovery, "natssource", "ListSources", "provider closed")
	}
	if !p.conn.IsConnected() {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: nats connection down", errors.ErrDiscovery),
			"natssource", "ListSources", "connection check")
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

// Open implements stream.Provider with a channel subscription on the
// source's data subject.
func (p *Provider) Open(ctx context.Context, desc stream.SourceDescriptor) (stream.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	closed := p.closed
	_, announced := p.sources[desc.Name]
	p.mu.Unlock()

	if closed {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "natssource", "Open", "provider closed")
	}
	if !announced {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %q not announced", errors.ErrSourceGone, desc.Name),
			"natssource", "Open", "source lookup")
	}

	ch := make(chan *nats.Msg, p.cfg.ChannelDepth)
	subject := fmt.Sprintf("%s.data.%s", p.cfg.SubjectPrefix, desc.Name)
	sub, err := p.conn.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, errors.WrapTransient(err, "natssource", "Open", "data subscribe")
	}

	return &connection{name: desc.Name, sub: sub, ch: ch}, nil
}

type connection struct {
	name string
	sub  *nats.Subscription
	ch   chan *nats.Msg

	mu     sync.Mutex
	closed bool
}

// Pull implements stream.Connection.
func (c *connection) Pull(timeout time.Duration) (stream.Sample, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return stream.Sample{}, errors.WrapFatal(errors.ErrNoConnection, "natssource", "Pull", "connection closed")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-c.ch:
		if !ok {
			return stream.Sample{}, errors.WrapFatal(
				fmt.Errorf("%w: subscription closed", errors.ErrSourceGone),
				"natssource", "Pull", "message read")
		}
		var ws wireSample
		if err := json.Unmarshal(msg.Data, &ws); err != nil {
			return stream.Sample{}, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
				"natssource", "Pull", "sample decode")
		}
		return stream.Sample{Timestamp: ws.Timestamp, Values: ws.Values}, nil

	case <-timer.C:
		return stream.Sample{}, errors.WrapTransient(errors.ErrPullTimeout, "natssource", "Pull", "sample wait")
	}
}

// Close implements stream.Connection.
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.sub.Unsubscribe(); err != nil {
		return errors.WrapTransient(err, "natssource", "Close", "unsubscribe")
	}
	return nil
}
