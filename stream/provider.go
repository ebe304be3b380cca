package stream

import (
	"context"
	"time"
)

// Provider is the opaque discovery/transport boundary. Implementations wrap
// whatever protocol actually carries the data (UDP, NATS, WebSocket, an
// in-process generator); the engine only ever sees this interface.
type Provider interface {
	// ListSources returns the descriptors currently advertised. An empty
	// slice means no sources exist right now - that is not an error. An
	// error means the transport itself could not be reached within timeout.
	ListSources(ctx context.Context, timeout time.Duration) ([]SourceDescriptor, error)

	// Open establishes one live connection to the described source.
	Open(ctx context.Context, desc SourceDescriptor) (Connection, error)
}

// Connection is one live, exclusively-owned handle to a source.
type Connection interface {
	// Pull blocks up to timeout for the next sample. It returns a
	// transient error (errors.IsTransient) on timeout or recoverable
	// hiccups and a fatal error (errors.IsFatal) when the source is gone.
	Pull(timeout time.Duration) (Sample, error)

	// Close releases the connection. Pull must not be called after Close.
	Close() error
}
