package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/sensorstreams/errors"
)

// Registry wraps a Provider's discovery side. It has no side effects beyond
// the external query: descriptors are returned to the caller, never cached.
type Registry struct {
	provider Provider
	logger   *slog.Logger
}

// NewRegistry creates a registry over the given provider.
func NewRegistry(provider Provider, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "registry")
	}
	return &Registry{provider: provider, logger: logger}
}

// Discover queries the provider for available sources. Duplicate names are
// collapsed keeping the first occurrence, since the name keys the stream
// for the rest of the session. An empty result is not an error.
func (r *Registry) Discover(ctx context.Context, timeout time.Duration) ([]SourceDescriptor, error) {
	descs, err := r.provider.ListSources(ctx, timeout)
	if err != nil {
		return nil, errors.WrapTransient(err, "Registry", "Discover", "source listing")
	}

	seen := make(map[string]bool, len(descs))
	result := make([]SourceDescriptor, 0, len(descs))
	for _, d := range descs {
		if seen[d.Name] {
			r.logger.Warn("duplicate source name in discovery, keeping first", "source", d.Name)
			continue
		}
		seen[d.Name] = true
		result = append(result, d)
		r.logger.Info("discovered source",
			"source", d.Name,
			"type", d.Type,
			"rate_hz", d.NominalRate,
			"channels", d.ChannelCount)
	}

	return result, nil
}
