package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/stream"
)

func testDesc(rate float64, channels int) stream.SourceDescriptor {
	return stream.SourceDescriptor{Name: "synth", Type: "TEST", NominalRate: rate, ChannelCount: channels}
}

func TestPullPacedAtNominalRate(t *testing.T) {
	p := NewProvider(Source{Descriptor: testDesc(100, 2)})
	conn, err := p.Open(context.Background(), testDesc(100, 2))
	require.NoError(t, err)
	defer conn.Close()

	var samples []stream.Sample
	for i := 0; i < 10; i++ {
		s, err := conn.Pull(time.Second)
		require.NoError(t, err)
		samples = append(samples, s)
	}

	require.Len(t, samples, 10)
	for i, s := range samples {
		assert.InDelta(t, float64(i)/100.0, s.Timestamp, 1e-9)
		assert.Len(t, s.Values, 2)
	}
}

func TestPullTimeoutWhenNoSampleDue(t *testing.T) {
	// 1 Hz source: second sample is due a full second after the first
	p := NewProvider(Source{Descriptor: testDesc(1, 1)})
	conn, err := p.Open(context.Background(), testDesc(1, 1))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Pull(time.Second)
	require.NoError(t, err)

	_, err = conn.Pull(10 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestConnectFailureInjection(t *testing.T) {
	desc := testDesc(10, 1)
	p := NewProvider(Source{Descriptor: desc, FailConnects: 2})

	_, err := p.Open(context.Background(), desc)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	_, err = p.Open(context.Background(), desc)
	require.Error(t, err)

	conn, err := p.Open(context.Background(), desc)
	require.NoError(t, err, "third attempt succeeds")
	conn.Close()
}

func TestUnknownSourceIsFatal(t *testing.T) {
	p := NewProvider()
	_, err := p.Open(context.Background(), testDesc(10, 1))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestMismatchInjection(t *testing.T) {
	desc := testDesc(1000, 3)
	p := NewProvider(Source{Descriptor: desc, MismatchEvery: 2})
	conn, err := p.Open(context.Background(), desc)
	require.NoError(t, err)
	defer conn.Close()

	s1, err := conn.Pull(time.Second)
	require.NoError(t, err)
	assert.Len(t, s1.Values, 3)

	s2, err := conn.Pull(time.Second)
	require.NoError(t, err)
	assert.Len(t, s2.Values, 4, "every second sample carries a wrong channel count")
}

func TestFatalAfterInjection(t *testing.T) {
	desc := testDesc(1000, 1)
	p := NewProvider(Source{Descriptor: desc, FatalAfter: 2})
	conn, err := p.Open(context.Background(), desc)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Pull(time.Second)
	require.NoError(t, err)
	_, err = conn.Pull(time.Second)
	require.NoError(t, err)

	_, err = conn.Pull(time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestClockOffsetShiftsTimestamps(t *testing.T) {
	desc := testDesc(1000, 1)
	p := NewProvider(Source{Descriptor: desc, ClockOffset: 0.5})
	conn, err := p.Open(context.Background(), desc)
	require.NoError(t, err)
	defer conn.Close()

	s, err := conn.Pull(time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, s.Timestamp, 1e-9)
}

func TestClosedConnectionPullFails(t *testing.T) {
	desc := testDesc(10, 1)
	p := NewProvider(Source{Descriptor: desc})
	conn, err := p.Open(context.Background(), desc)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = conn.Pull(time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
