package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// InputSampleRate is the microphone capture rate expected by the remote
	// model (16 kHz mono).
	InputSampleRate = 16000

	// OutputSampleRate is the rate of synthesised speech returned by the
	// remote model (24 kHz mono).
	OutputSampleRate = 24000

	// DefaultFrameSize is the number of samples per captured frame.
	DefaultFrameSize = 4096
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// AudioFrame is one fixed-length block of captured microphone audio.
// Frames are transient: each one is encoded and discarded immediately.
type AudioFrame struct {
	// Samples holds normalised samples in the range [-1.0, 1.0]. Multi-channel
	// frames are interleaved.
	Samples []float32

	// SampleRate in Hz (16000 for capture).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// EncodedChunk is a block of 16-bit signed little-endian PCM paired with its
// declared format. Outbound chunks carry microphone audio (16 kHz), inbound
// chunks carry synthesised speech (24 kHz).
type EncodedChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Text returns the wire-safe base64 form of the chunk's PCM bytes.
func (c EncodedChunk) Text() string {
	return BytesToText(c.Data)
}

// MIMEType returns the media type announced to the remote model,
// e.g. "audio/pcm;rate=16000".
func (c EncodedChunk) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", c.SampleRate)
}

// Duration returns the playback length of the chunk. Returns zero when the
// format is unset.
func (c EncodedChunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Data) / (2 * c.Channels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// PlaybackBuffer is a decoded, device-ready buffer derived from one inbound
// [EncodedChunk].
type PlaybackBuffer struct {
	// Data holds one de-interleaved sample slice per channel. All slices have
	// the same length.
	Data [][]float32

	// SampleRate in Hz.
	SampleRate int
}

// Channels returns the number of channels in the buffer.
func (b PlaybackBuffer) Channels() int { return len(b.Data) }

// Frames returns the number of sample frames (samples per channel).
func (b PlaybackBuffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the buffer length in seconds on the device timeline.
func (b PlaybackBuffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// RateFromMIME extracts the rate parameter of an "audio/pcm;rate=N" MIME type,
// returning fallback when it is absent or invalid.
func RateFromMIME(mime string, fallback int) int {
	for _, param := range strings.Split(mime, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || k != "rate" {
			continue
		}
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}
