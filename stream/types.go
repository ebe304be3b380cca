// Package stream defines the data model shared across the acquisition
// engine and the provider boundary that hides the discovery/transport
// protocol.
package stream

import (
	"fmt"
	"time"

	"github.com/c360/sensorstreams/errors"
)

// ValueFormat describes the numeric encoding a source reports for its
// channel values. The engine stores everything as float64; the format is
// metadata carried through for collaborators that persist raw sessions.
type ValueFormat string

const (
	FormatFloat32 ValueFormat = "float32"
	FormatFloat64 ValueFormat = "float64"
	FormatInt16   ValueFormat = "int16"
	FormatInt32   ValueFormat = "int32"
)

// SourceDescriptor identifies one discoverable source. Immutable value:
// produced by discovery, never mutated.
type SourceDescriptor struct {
	// Name is unique within a session and keys the stream everywhere.
	Name string `json:"name"`
	// Type tags the signal kind, e.g. "EEG", "GSR", "Gaze".
	Type string `json:"type"`
	// NominalRate is the advertised sampling rate in Hz. Must be > 0.
	NominalRate float64 `json:"nominal_rate"`
	// ChannelCount is the number of values per sample. Must be >= 1.
	ChannelCount int `json:"channel_count"`
	// Format is the source's native value encoding.
	Format ValueFormat `json:"format,omitempty"`
}

// Validate rejects descriptors the engine cannot acquire from.
func (d SourceDescriptor) Validate() error {
	if d.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidSource, "SourceDescriptor", "Validate", "empty name")
	}
	if d.NominalRate <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: nominal rate %g Hz", errors.ErrInvalidSource, d.NominalRate),
			"SourceDescriptor", "Validate", "nominal rate validation")
	}
	if d.ChannelCount < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: channel count %d", errors.ErrInvalidSource, d.ChannelCount),
			"SourceDescriptor", "Validate", "channel count validation")
	}
	return nil
}

// String implements fmt.Stringer for log readability.
func (d SourceDescriptor) String() string {
	return fmt.Sprintf("%s (%s, %g Hz, %d ch)", d.Name, d.Type, d.NominalRate, d.ChannelCount)
}

// Sample is one timestamped vector of channel values. Immutable once
// created; Values must not be mutated after construction.
type Sample struct {
	// Timestamp is the source-local monotonic time in seconds.
	Timestamp float64 `json:"timestamp"`
	// Values holds one value per channel, in channel order.
	Values []float64 `json:"values"`
	// ReceivedAt is the local wall-clock arrival time, set by the receiver.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// ConnectionState tracks the lifecycle of one receiver's connection.
type ConnectionState int32

const (
	// StateDisconnected indicates no live connection; reconnect may follow.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a connect attempt is in progress.
	StateConnecting
	// StateConnected indicates a live connection with a running receive loop.
	StateConnected
	// StateFailed indicates connect attempts were exhausted; an explicit
	// re-connect call is required to leave this state.
	StateFailed
)

// String returns a string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Counters is a point-in-time snapshot of one receiver's observed history.
// Receivers own and mutate the live values; everything else reads copies.
type Counters struct {
	SamplesReceived int64           `json:"samples_received"`
	SamplesDropped  int64           `json:"samples_dropped"`
	ReconnectCount  int64           `json:"reconnect_count"`
	LastSampleAt    time.Time       `json:"last_sample_at"`
	State           ConnectionState `json:"state"`
}
