package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFloatToPCM16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"half", 0.5, 16384},
		{"negative half", -0.5, -16384},
		{"minus one", -1, -32768},
		{"plus one saturates", 1, 32767},
		{"truncates toward zero", 0.00005, 1},  // 1.6384 -> 1
		{"truncates negative", -0.00005, -1}, // -1.6384 -> -1
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.FloatToPCM16([]float32{tt.in}))
			if len(got) != 1 {
				t.Fatalf("got %d samples, want 1", len(got))
			}
			if got[0] != tt.want {
				t.Errorf("FloatToPCM16(%v) = %d, want %d", tt.in, got[0], tt.want)
			}
		})
	}
}

func TestFloatToPCM16_Length(t *testing.T) {
	t.Parallel()
	out := audio.FloatToPCM16(make([]float32, audio.DefaultFrameSize))
	if len(out) != audio.DefaultFrameSize*2 {
		t.Errorf("len = %d, want %d", len(out), audio.DefaultFrameSize*2)
	}
}

func TestPCM16ToFloat_Mono(t *testing.T) {
	t.Parallel()
	data := samplesToBytes([]int16{0, 16384, -32768, 32767})
	got, err := audio.PCM16ToFloat(data, 1)
	if err != nil {
		t.Fatalf("PCM16ToFloat: %v", err)
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	if len(got) != 1 || len(got[0]) != len(want) {
		t.Fatalf("shape = %d channels, want 1 channel of %d", len(got), len(want))
	}
	for i := range want {
		if got[0][i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[0][i], want[i])
		}
	}
}

func TestPCM16ToFloat_DeinterleavesStereo(t *testing.T) {
	t.Parallel()
	data := samplesToBytes([]int16{100, -100, 200, -200, 300, -300})
	got, err := audio.PCM16ToFloat(data, 2)
	if err != nil {
		t.Fatalf("PCM16ToFloat: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("channels = %d, want 2", len(got))
	}
	for i, s := range []int16{100, 200, 300} {
		if got[0][i] != float32(s)/32768 {
			t.Errorf("left[%d] = %v, want %v", i, got[0][i], float32(s)/32768)
		}
		if got[1][i] != float32(-s)/32768 {
			t.Errorf("right[%d] = %v, want %v", i, got[1][i], float32(-s)/32768)
		}
	}
}

func TestPCM16ToFloat_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		channels int
	}{
		{"odd byte count mono", []byte{1, 2, 3}, 1},
		{"partial stereo frame", []byte{1, 2, 3, 4, 5, 6}, 2},
		{"zero channels", []byte{1, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.PCM16ToFloat(tt.data, tt.channels)
			if !errors.Is(err, audio.ErrMalformedAudio) {
				t.Errorf("err = %v, want ErrMalformedAudio", err)
			}
		})
	}
}

func TestPCMRoundTrip_QuantisationBound(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))

	samples := make([]float32, 10_000)
	for i := range samples {
		samples[i] = rng.Float32()*2 - 1
	}
	samples[0], samples[1], samples[2] = -1, 0, 0.999999

	back, err := audio.PCM16ToFloat(audio.FloatToPCM16(samples), 1)
	if err != nil {
		t.Fatalf("PCM16ToFloat: %v", err)
	}
	const bound = 1.0 / 32768
	for i, want := range samples {
		if diff := math.Abs(float64(back[0][i] - want)); diff > bound {
			t.Fatalf("sample %d: |%v - %v| = %v exceeds %v", i, back[0][i], want, diff, bound)
		}
	}
}

func TestTextRoundTrip_AllByteValues(t *testing.T) {
	t.Parallel()
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	// Every length modulo 3 exercises a different padding case.
	for _, n := range []int{0, 1, 2, 3, 255, 256} {
		in := all[:n]
		got, err := audio.TextToBytes(audio.BytesToText(in))
		if err != nil {
			t.Fatalf("len %d: TextToBytes: %v", n, err)
		}
		if !bytes.Equal(got, in) {
			t.Errorf("len %d: round trip mismatch", n)
		}
	}
}

func TestTextToBytes_Invalid(t *testing.T) {
	t.Parallel()
	_, err := audio.TextToBytes("not base64!!")
	if !errors.Is(err, audio.ErrMalformedAudio) {
		t.Errorf("err = %v, want ErrMalformedAudio", err)
	}
}

func TestEncodeFrame(t *testing.T) {
	t.Parallel()
	chunk := audio.EncodeFrame(audio.AudioFrame{
		Samples:    []float32{0.5, -0.5},
		SampleRate: audio.InputSampleRate,
	})
	if chunk.Channels != 1 {
		t.Errorf("Channels = %d, want 1 (defaulted)", chunk.Channels)
	}
	if chunk.MIMEType() != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", chunk.MIMEType())
	}
	if got := bytesToSamples(chunk.Data); got[0] != 16384 || got[1] != -16384 {
		t.Errorf("samples = %v", got)
	}
	if chunk.Text() != audio.BytesToText(chunk.Data) {
		t.Error("Text does not match BytesToText(Data)")
	}
}

func TestDecodeChunk_Duration(t *testing.T) {
	t.Parallel()
	chunk := audio.EncodedChunk{
		Data:       make([]byte, audio.OutputSampleRate), // 12000 samples = 0.5s
		SampleRate: audio.OutputSampleRate,
		Channels:   1,
	}
	buf, err := audio.DecodeChunk(chunk)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if buf.Duration() != 0.5 {
		t.Errorf("Duration = %v, want 0.5", buf.Duration())
	}
	if chunk.Duration() != 500*time.Millisecond {
		t.Errorf("chunk Duration = %v, want 500ms", chunk.Duration())
	}
}

func TestDecodeChunk_InvalidRate(t *testing.T) {
	t.Parallel()
	_, err := audio.DecodeChunk(audio.EncodedChunk{Data: []byte{0, 0}, Channels: 1})
	if !errors.Is(err, audio.ErrMalformedAudio) {
		t.Errorf("err = %v, want ErrMalformedAudio", err)
	}
}

func TestRateFromMIME(t *testing.T) {
	tests := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=24000", 24000},
		{"audio/pcm; rate=16000", 16000},
		{"audio/pcm", 8000},
		{"audio/pcm;rate=abc", 8000},
		{"audio/pcm;rate=-1", 8000},
		{"", 8000},
	}
	for _, tc := range tests {
		if got := audio.RateFromMIME(tc.mime, 8000); got != tc.want {
			t.Errorf("RateFromMIME(%q) = %d, want %d", tc.mime, got, tc.want)
		}
	}
}
