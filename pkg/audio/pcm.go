package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedAudio is returned when PCM bytes or their text encoding cannot
// be decoded. Callers match it with [errors.Is].
var ErrMalformedAudio = errors.New("audio: malformed audio")

// pcmScale maps normalised float samples onto the int16 range.
const pcmScale = 32768

// FloatToPCM16 converts normalised samples to 16-bit signed little-endian PCM.
// Each sample is multiplied by 32768 and truncated toward zero. Inputs are
// expected in [-1.0, 1.0]; the single out-of-range product (+1.0 → 32768)
// saturates to 32767 rather than wrapping.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * pcmScale
		var q int16
		switch {
		case v >= math.MaxInt16:
			q = math.MaxInt16
		case v <= math.MinInt16:
			q = math.MinInt16
		default:
			q = int16(v)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(q))
	}
	return out
}

// PCM16ToFloat interprets data as little-endian int16 samples interleaved
// across channels, de-interleaves them and rescales each sample by 1/32768.
//
// Returns an error wrapping [ErrMalformedAudio] if channels < 1 or if
// len(data) is not a multiple of 2*channels.
func PCM16ToFloat(data []byte, channels int) ([][]float32, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrMalformedAudio, channels)
	}
	frameBytes := 2 * channels
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedAudio, len(data), frameBytes)
	}

	frames := len(data) / frameBytes
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(data[off:]))
			out[ch][i] = float32(s) / pcmScale
		}
	}
	return out, nil
}

// BytesToText encodes raw bytes with standard padded base64.
func BytesToText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// TextToBytes reverses [BytesToText]. Decoding failures wrap [ErrMalformedAudio].
func TextToBytes(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAudio, err)
	}
	return data, nil
}

// EncodeFrame converts a captured frame into an outbound [EncodedChunk].
func EncodeFrame(frame AudioFrame) EncodedChunk {
	channels := frame.Channels
	if channels <= 0 {
		channels = 1
	}
	return EncodedChunk{
		Data:       FloatToPCM16(frame.Samples),
		SampleRate: frame.SampleRate,
		Channels:   channels,
	}
}

// DecodeChunk converts an inbound chunk into a [PlaybackBuffer].
// Errors wrap [ErrMalformedAudio].
func DecodeChunk(chunk EncodedChunk) (PlaybackBuffer, error) {
	if chunk.SampleRate <= 0 {
		return PlaybackBuffer{}, fmt.Errorf("%w: invalid sample rate %d", ErrMalformedAudio, chunk.SampleRate)
	}
	data, err := PCM16ToFloat(chunk.Data, chunk.Channels)
	if err != nil {
		return PlaybackBuffer{}, err
	}
	return PlaybackBuffer{Data: data, SampleRate: chunk.SampleRate}, nil
}
