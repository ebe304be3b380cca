// Package wssource implements stream.Provider over WebSocket. A hub
// exposes discovery as an HTTP GET returning a JSON array of source
// descriptors, and one WebSocket endpoint per source streaming JSON
// sample frames:
//
//	GET  <base>/sources            -> [{"name":"eeg","type":"EEG",...}, ...]
//	WS   <base>/streams/<name>     -> {"timestamp":1.25,"values":[...]}
//
// Each open connection owns its own socket and a reader goroutine that
// feeds frames into a channel; Pull waits on that channel for at most the
// pull timeout, so a slow frame never disturbs the socket itself.
package wssource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/stream"
)

// Config configures the WebSocket provider.
type Config struct {
	// BaseURL is the hub's base URL, e.g. "http://hub:8080". The
	// WebSocket scheme is derived from it.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// HandshakeTimeout bounds the WebSocket dial. Default 5s.
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	return c
}

// Provider implements stream.Provider against one hub.
type Provider struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client
	dialer *websocket.Dialer
}

// NewProvider validates the base URL and prepares the HTTP client and
// WebSocket dialer. No network traffic happens until ListSources or Open.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: invalid base URL %q", errors.ErrInvalidConfig, cfg.BaseURL),
			"wssource", "NewProvider", "base URL parse")
	}

	return &Provider{
		cfg:    cfg,
		logger: logger.With("component", "wssource", "hub", cfg.BaseURL),
		client: &http.Client{},
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

// ListSources implements stream.Provider via the hub's discovery endpoint.
func (p *Provider) ListSources(ctx context.Context, timeout time.Duration) ([]stream.SourceDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/sources", nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "wssource", "ListSources", "request build")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrDiscovery, err),
			"wssource", "ListSources", "discovery request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: hub returned %s", errors.ErrDiscovery, resp.Status),
			"wssource", "ListSources", "discovery response")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.WrapTransient(err, "wssource", "ListSources", "response read")
	}

	var descs []stream.SourceDescriptor
	if err := json.Unmarshal(body, &descs); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
			"wssource", "ListSources", "response decode")
	}

	valid := descs[:0]
	for _, d := range descs {
		if d.Validate() == nil {
			valid = append(valid, d)
		}
	}
	return valid, nil
}

// Open implements stream.Provider by dialing the source's stream
// endpoint.
func (p *Provider) Open(ctx context.Context, desc stream.SourceDescriptor) (stream.Connection, error) {
	wsURL, err := p.streamURL(desc.Name)
	if err != nil {
		return nil, err
	}

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %q", errors.ErrSourceGone, desc.Name),
				"wssource", "Open", "stream dial")
		}
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"wssource", "Open", "stream dial")
	}

	p.logger.Info("stream socket opened", "stream", desc.Name, "url", wsURL)
	return newConnection(desc.Name, conn), nil
}

// streamURL derives the ws:// or wss:// endpoint for a source.
func (p *Provider) streamURL(name string) (string, error) {
	u, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return "", errors.WrapInvalid(err, "wssource", "streamURL", "base URL parse")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	// Path carries the decoded name; RawPath the escaped form, so String
	// escapes the name exactly once even when it contains slashes.
	u.RawPath = strings.TrimSuffix(u.EscapedPath(), "/") + "/streams/" + url.PathEscape(name)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/streams/" + name
	return u.String(), nil
}

// wireSample is one JSON frame on a stream socket.
type wireSample struct {
	Timestamp float64   `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// frameDepth bounds the reader-to-Pull handoff channel.
const frameDepth = 256

// frame is one reader-goroutine result: a payload or the read error that
// ended the socket.
type frame struct {
	data []byte
	err  error
}

type connection struct {
	name   string
	ws     *websocket.Conn
	frames chan frame
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func newConnection(name string, ws *websocket.Conn) *connection {
	c := &connection{
		name:   name,
		ws:     ws,
		frames: make(chan frame, frameDepth),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop is the only reader of the socket. It exits on the first read
// error, delivering it as the final frame, or when Close is called.
func (c *connection) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.ws.ReadMessage()
		select {
		case c.frames <- frame{data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Pull implements stream.Connection. It waits on the reader channel for at
// most timeout; an expired wait leaves the socket and any in-flight frame
// intact, so the next Pull can still deliver it.
func (c *connection) Pull(timeout time.Duration) (stream.Sample, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return stream.Sample{}, errors.WrapFatal(errors.ErrNoConnection, "wssource", "Pull", "connection closed")
	}
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-c.frames:
		if !ok {
			return stream.Sample{}, errors.WrapFatal(
				fmt.Errorf("%w: stream reader finished", errors.ErrSourceGone),
				"wssource", "Pull", "frame wait")
		}
		if f.err != nil {
			if websocket.IsCloseError(f.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return stream.Sample{}, errors.WrapFatal(
					fmt.Errorf("%w: peer closed stream", errors.ErrSourceGone),
					"wssource", "Pull", "frame read")
			}
			return stream.Sample{}, errors.WrapTransient(
				fmt.Errorf("%w: %v", errors.ErrConnectionLost, f.err),
				"wssource", "Pull", "frame read")
		}

		var ws wireSample
		if err := json.Unmarshal(f.data, &ws); err != nil {
			return stream.Sample{}, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
				"wssource", "Pull", "frame decode")
		}
		return stream.Sample{Timestamp: ws.Timestamp, Values: ws.Values}, nil
	case <-timer.C:
		return stream.Sample{}, errors.WrapTransient(errors.ErrPullTimeout, "wssource", "Pull", "frame wait")
	}
}

// Close implements stream.Connection. Closing the socket also unblocks the
// reader goroutine.
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err := c.ws.Close(); err != nil {
		return errors.WrapTransient(err, "wssource", "Close", "socket close")
	}
	return nil
}
