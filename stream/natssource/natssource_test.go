package natssource

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstreams/errors"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "sensorstreams", cfg.SubjectPrefix)
	assert.Equal(t, 10*time.Second, cfg.AnnounceTTL)
	assert.Equal(t, 256, cfg.ChannelDepth)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
}

// feedConn builds a connection around a hand-fed message channel, which
// exercises Pull without a live server.
func feedConn(depth int) (*connection, chan *nats.Msg) {
	ch := make(chan *nats.Msg, depth)
	return &connection{name: "eeg", ch: ch}, ch
}

func TestPullDecodesWireSample(t *testing.T) {
	conn, ch := feedConn(4)
	ch <- &nats.Msg{Data: []byte(`{"timestamp": 1.25, "values": [0.5, -0.5]}`)}

	smp, err := conn.Pull(time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, smp.Timestamp, 1e-9)
	assert.Equal(t, []float64{0.5, -0.5}, smp.Values)
}

func TestPullTimesOut(t *testing.T) {
	conn, _ := feedConn(4)

	_, err := conn.Pull(20 * time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPullTimeout)
	assert.True(t, errors.IsTransient(err))
}

func TestPullRejectsMalformedPayload(t *testing.T) {
	conn, ch := feedConn(4)
	ch <- &nats.Msg{Data: []byte(`not json`)}

	_, err := conn.Pull(time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestPullFatalOnClosedSubscriptionChannel(t *testing.T) {
	conn, ch := feedConn(4)
	close(ch)

	_, err := conn.Pull(time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrSourceGone)
}
