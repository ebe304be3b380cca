package quality

import (
	"math"

	"github.com/c360/sensorstreams/stream"
)

// ChannelStats summarizes one channel over an analysis window.
type ChannelStats struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Range float64 `json:"range"`

	// FlatRatio is the fraction of consecutive sample pairs whose
	// difference is below the flatness threshold, a proxy for signal
	// loss or a saturated sensor.
	FlatRatio float64 `json:"flat_ratio"`
}

// SignalStats summarizes a window of samples channel by channel.
type SignalStats struct {
	Samples  int            `json:"samples"`
	Channels int            `json:"channels"`
	Duration float64        `json:"duration_seconds"`
	PerChan  []ChannelStats `json:"per_channel"`
}

const flatThreshold = 1e-6

// AnalyzeSignal computes per-channel statistics over a sample window.
// Returns a zero-value SignalStats when the window is empty.
func AnalyzeSignal(samples []stream.Sample) SignalStats {
	if len(samples) == 0 {
		return SignalStats{}
	}

	channels := len(samples[0].Values)
	stats := SignalStats{
		Samples:  len(samples),
		Channels: channels,
		Duration: samples[len(samples)-1].Timestamp - samples[0].Timestamp,
		PerChan:  make([]ChannelStats, channels),
	}

	for ch := 0; ch < channels; ch++ {
		values := make([]float64, 0, len(samples))
		for _, s := range samples {
			if ch < len(s.Values) {
				values = append(values, s.Values[ch])
			}
		}
		stats.PerChan[ch] = channelStats(values)
	}
	return stats
}

func channelStats(values []float64) ChannelStats {
	if len(values) == 0 {
		return ChannelStats{}
	}

	cs := ChannelStats{Min: values[0], Max: values[0]}

	var sum float64
	for _, v := range values {
		sum += v
		cs.Min = math.Min(cs.Min, v)
		cs.Max = math.Max(cs.Max, v)
	}
	cs.Mean = sum / float64(len(values))
	cs.Range = cs.Max - cs.Min

	var sqSum float64
	flat := 0
	for i, v := range values {
		d := v - cs.Mean
		sqSum += d * d
		if i > 0 && math.Abs(v-values[i-1]) < flatThreshold {
			flat++
		}
	}
	cs.Std = math.Sqrt(sqSum / float64(len(values)))
	if len(values) > 1 {
		cs.FlatRatio = float64(flat) / float64(len(values)-1)
	}
	return cs
}
