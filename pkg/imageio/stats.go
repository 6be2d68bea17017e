package imageio

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ChannelStats summarizes the samples of one channel.
type ChannelStats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Stats returns per-channel statistics of r.
func (r *Raster) Stats() []ChannelStats {
	n := r.Width * r.Height
	if n == 0 {
		return nil
	}

	out := make([]ChannelStats, r.Channels)
	values := make([]float64, n)
	for c := 0; c < r.Channels; c++ {
		for i := 0; i < n; i++ {
			values[i] = r.Pix[i*r.Channels+c]
		}
		mean, std := stat.MeanStdDev(values, nil)
		out[c] = ChannelStats{
			Min:    floats.Min(values),
			Max:    floats.Max(values),
			Mean:   mean,
			StdDev: std,
		}
	}
	return out
}
