package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// FormatConverter converts PlaybackBuffers to a target device format. It logs
// a warning on the first format mismatch.
// Create one per output stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts buf to the target format. If the source format already
// matches the target, buf is returned unchanged (zero allocation).
// Conversion order: channel convert first, then resample, so that a stereo
// source headed for a mono device is only resampled once.
func (c *FormatConverter) Convert(buf PlaybackBuffer) PlaybackBuffer {
	if buf.SampleRate == c.Target.SampleRate && buf.Channels() == c.Target.Channels {
		return buf
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(buf.SampleRate, buf.Channels()),
			"to", c.Target.String(),
		)
	})

	data := buf.Data
	if len(data) != c.Target.Channels {
		data = Remix(data, c.Target.Channels)
	}
	if buf.SampleRate != c.Target.SampleRate {
		out := make([][]float32, len(data))
		for ch, samples := range data {
			out[ch] = Resample(samples, buf.SampleRate, c.Target.SampleRate)
		}
		data = out
	}
	return PlaybackBuffer{Data: data, SampleRate: c.Target.SampleRate}
}

// ConvertAt converts buf for playback at startAt seconds on a device clock
// running at the target rate. A resampled buffer spans exactly the frames
// between the rounded start and end positions, so buffers scheduled back to
// back tile the clock with no gap and no overlap.
func (c *FormatConverter) ConvertAt(buf PlaybackBuffer, startAt float64) PlaybackBuffer {
	out := c.Convert(buf)
	if buf.SampleRate == c.Target.SampleRate || buf.SampleRate <= 0 || buf.Frames() < 2 {
		return out
	}
	n := int(FramePosition(startAt+buf.Duration(), c.Target.SampleRate) - FramePosition(startAt, c.Target.SampleRate))
	if n <= 0 || n == out.Frames() {
		return out
	}
	ratio := float64(buf.SampleRate) / float64(c.Target.SampleRate)
	data := buf.Data
	if len(data) != c.Target.Channels {
		data = Remix(data, c.Target.Channels)
	}
	fitted := make([][]float32, len(data))
	for ch, samples := range data {
		fitted[ch] = interpolate(samples, n, ratio)
	}
	return PlaybackBuffer{Data: fitted, SampleRate: c.Target.SampleRate}
}

// FramePosition converts a time in seconds to the nearest frame at rate.
func FramePosition(seconds float64, rate int) int64 {
	return int64(math.Round(seconds * float64(rate)))
}

// Remix maps de-interleaved channels onto dst channels. Downmixing averages
// all source channels; upmixing duplicates the mixed signal into every output.
func Remix(data [][]float32, dst int) [][]float32 {
	if dst <= 0 || len(data) == 0 {
		return nil
	}
	if len(data) == dst {
		return data
	}

	mono := data[0]
	if len(data) > 1 {
		n := len(data[0])
		mono = make([]float32, n)
		for i := range n {
			var sum float32
			for _, ch := range data {
				sum += ch[i]
			}
			mono[i] = sum / float32(len(data))
		}
	}

	out := make([][]float32, dst)
	for ch := range out {
		if ch == 0 {
			out[ch] = mono
			continue
		}
		out[ch] = append([]float32(nil), mono...)
	}
	return out
}

// Resample converts mono float samples from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	return interpolate(samples, dstLen, float64(srcRate)/float64(dstRate))
}

// interpolate produces n samples, reading the source at ratio source samples
// per output sample. Reads past the end hold the last sample.
func interpolate(samples []float32, n int, ratio float64) []float32 {
	out := make([]float32, n)
	last := len(samples) - 1
	for i := range n {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(srcPos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
