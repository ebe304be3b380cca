package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/stream"
)

func mkSamples(timestamps []float64, values []float64) []stream.Sample {
	out := make([]stream.Sample, len(timestamps))
	for i, ts := range timestamps {
		out[i] = stream.Sample{Timestamp: ts, Values: []float64{values[i]}}
	}
	return out
}

func TestSynchronizeShiftedStream(t *testing.T) {
	s := NewSynchronizer(Config{MaxOffset: 5}, nil, nil)

	// Same underlying signal; "other" runs 0.5s ahead of the reference
	// clock with linearly increasing values.
	windows := map[string][]stream.Sample{
		"ref":   mkSamples([]float64{0.0, 1.0, 2.0}, []float64{0, 10, 20}),
		"other": mkSamples([]float64{0.5, 1.5, 2.5}, []float64{0, 10, 20}),
	}

	result, err := s.Synchronize(windows, "ref")
	require.NoError(t, err)
	assert.Equal(t, "ref", result.Reference)

	other := result.Streams["other"]
	assert.InDelta(t, -0.5, other.Offset, 1e-9)
	assert.False(t, other.OutOfSync)
	require.Len(t, other.Points, 3)

	// After shifting, other covers [0.0, 2.0] exactly; values map 1:1.
	for i, want := range []float64{0, 10, 20} {
		p := other.Points[i]
		require.True(t, p.Valid, "point %d", i)
		assert.InDelta(t, want, p.Values[0], 1e-9)
	}
}

func TestSynchronizeInterpolatesBetweenSamples(t *testing.T) {
	s := NewSynchronizer(Config{}, nil, nil)

	windows := map[string][]stream.Sample{
		"ref":   mkSamples([]float64{0.5, 1.5}, []float64{0, 0}),
		"other": mkSamples([]float64{0.0, 1.0, 1.5}, []float64{0, 100, 100}),
	}

	result, err := s.Synchronize(windows, "ref")
	require.NoError(t, err)

	// Last timestamps match, offset 0; grid point 0.5 falls halfway
	// between other's samples at 0.0 and 1.0.
	other := result.Streams["other"]
	assert.InDelta(t, 0, other.Offset, 1e-9)
	require.True(t, other.Points[0].Valid)
	assert.InDelta(t, 50, other.Points[0].Values[0], 1e-9)
	require.True(t, other.Points[1].Valid)
	assert.InDelta(t, 100, other.Points[1].Values[0], 1e-9)
}

func TestSynchronizeMarksUnbracketedPointsInvalid(t *testing.T) {
	s := NewSynchronizer(Config{}, nil, nil)

	// Other's shifted window covers only the tail of the reference grid.
	windows := map[string][]stream.Sample{
		"ref":   mkSamples([]float64{0.0, 1.0, 2.0}, []float64{0, 0, 0}),
		"other": mkSamples([]float64{1.5, 2.0}, []float64{7, 9}),
	}

	result, err := s.Synchronize(windows, "ref")
	require.NoError(t, err)

	other := result.Streams["other"]
	assert.InDelta(t, 0, other.Offset, 1e-9)
	require.Len(t, other.Points, 3)
	assert.False(t, other.Points[0].Valid, "point before window must not be extrapolated")
	assert.False(t, other.Points[1].Valid)
	assert.True(t, other.Points[2].Valid)
	assert.InDelta(t, 9, other.Points[2].Values[0], 1e-9)
}

func TestSynchronizeReportsOutOfSync(t *testing.T) {
	s := NewSynchronizer(Config{MaxOffset: 1}, nil, nil)

	windows := map[string][]stream.Sample{
		"ref":   mkSamples([]float64{0.0, 1.0}, []float64{0, 0}),
		"drift": mkSamples([]float64{100.0, 101.0}, []float64{0, 0}),
		"good":  mkSamples([]float64{0.0, 1.0}, []float64{1, 2}),
	}

	result, err := s.Synchronize(windows, "ref")
	require.NoError(t, err, "one out-of-sync stream must not abort the call")

	drift := result.Streams["drift"]
	assert.True(t, drift.OutOfSync)
	assert.InDelta(t, -100, drift.Offset, 1e-9)
	assert.Empty(t, drift.Points)

	good := result.Streams["good"]
	assert.False(t, good.OutOfSync)
	require.Len(t, good.Points, 2)
	assert.True(t, good.Points[0].Valid)
}

func TestSynchronizeReferencePassthrough(t *testing.T) {
	s := NewSynchronizer(Config{}, nil, nil)

	windows := map[string][]stream.Sample{
		"ref": mkSamples([]float64{0.0, 0.5}, []float64{3, 4}),
	}

	result, err := s.Synchronize(windows, "ref")
	require.NoError(t, err)

	ref := result.Streams["ref"]
	assert.Zero(t, ref.Offset)
	require.Len(t, ref.Points, 2)
	assert.True(t, ref.Points[0].Valid)
	assert.InDelta(t, 3, ref.Points[0].Values[0], 1e-9)
}

func TestSynchronizeMissingReference(t *testing.T) {
	s := NewSynchronizer(Config{}, nil, nil)

	_, err := s.Synchronize(map[string][]stream.Sample{"a": nil}, "ref")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestSynchronizeEmptyReferenceWindow(t *testing.T) {
	s := NewSynchronizer(Config{}, nil, nil)

	_, err := s.Synchronize(map[string][]stream.Sample{"ref": {}}, "ref")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestSynchronizeStreamWithTooFewSamples(t *testing.T) {
	s := NewSynchronizer(Config{}, nil, nil)

	windows := map[string][]stream.Sample{
		"ref":    mkSamples([]float64{0.0, 1.0}, []float64{0, 0}),
		"sparse": mkSamples([]float64{0.5}, []float64{42}),
	}

	result, err := s.Synchronize(windows, "ref")
	require.NoError(t, err)

	sparse := result.Streams["sparse"]
	assert.False(t, sparse.OutOfSync)
	require.Len(t, sparse.Points, 2)
	for _, p := range sparse.Points {
		assert.False(t, p.Valid)
	}
}

func TestSynchronizeMultiChannel(t *testing.T) {
	s := NewSynchronizer(Config{}, nil, nil)

	windows := map[string][]stream.Sample{
		"ref": {{Timestamp: 0.5, Values: []float64{0}}},
		"other": {
			{Timestamp: 0.0, Values: []float64{0, 100}},
			{Timestamp: 1.0, Values: []float64{10, 200}},
		},
	}
	// Pin offsets to zero by matching last timestamps.
	windows["ref"] = append(windows["ref"], stream.Sample{Timestamp: 1.0, Values: []float64{0}})

	result, err := s.Synchronize(windows, "ref")
	require.NoError(t, err)

	p := result.Streams["other"].Points[0]
	require.True(t, p.Valid)
	require.Len(t, p.Values, 2)
	assert.InDelta(t, 5, p.Values[0], 1e-9)
	assert.InDelta(t, 150, p.Values[1], 1e-9)
}
