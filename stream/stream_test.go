package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/stream"
	"github.com/c360/sensorstreams/stream/synthetic"
)

func TestSourceDescriptorValidate(t *testing.T) {
	valid := stream.SourceDescriptor{Name: "eeg", Type: "EEG", NominalRate: 256, ChannelCount: 8}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		desc stream.SourceDescriptor
	}{
		{"empty name", stream.SourceDescriptor{NominalRate: 100, ChannelCount: 1}},
		{"zero rate", stream.SourceDescriptor{Name: "x", NominalRate: 0, ChannelCount: 1}},
		{"negative rate", stream.SourceDescriptor{Name: "x", NominalRate: -5, ChannelCount: 1}},
		{"zero channels", stream.SourceDescriptor{Name: "x", NominalRate: 100, ChannelCount: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", stream.StateDisconnected.String())
	assert.Equal(t, "connecting", stream.StateConnecting.String())
	assert.Equal(t, "connected", stream.StateConnected.String())
	assert.Equal(t, "failed", stream.StateFailed.String())
}

func TestRegistryDiscover(t *testing.T) {
	provider := synthetic.NewProvider(
		synthetic.Source{Descriptor: stream.SourceDescriptor{Name: "A", Type: "EEG", NominalRate: 10, ChannelCount: 2}},
		synthetic.Source{Descriptor: stream.SourceDescriptor{Name: "B", Type: "GSR", NominalRate: 5, ChannelCount: 1}},
	)
	reg := stream.NewRegistry(provider, nil)

	descs, err := reg.Discover(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "A", descs[0].Name)
	assert.Equal(t, "B", descs[1].Name)
}

func TestRegistryDiscoverEmptyIsNotAnError(t *testing.T) {
	reg := stream.NewRegistry(synthetic.NewProvider(), nil)

	descs, err := reg.Discover(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Empty(t, descs)
}

func TestRegistryDiscoverTransportError(t *testing.T) {
	provider := synthetic.NewProvider()
	provider.SetDiscoverError(errors.ErrDiscovery)
	reg := stream.NewRegistry(provider, nil)

	_, err := reg.Discover(context.Background(), time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestRegistryDiscoverDeduplicatesNames(t *testing.T) {
	provider := synthetic.NewProvider(
		synthetic.Source{Descriptor: stream.SourceDescriptor{Name: "A", NominalRate: 10, ChannelCount: 1}},
		synthetic.Source{Descriptor: stream.SourceDescriptor{Name: "A", NominalRate: 20, ChannelCount: 2}},
	)
	reg := stream.NewRegistry(provider, nil)

	descs, err := reg.Discover(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, float64(10), descs[0].NominalRate, "first occurrence wins")
}
