package audio_test

import (
	"testing"

	"github.com/MrWong99/livevoice/pkg/audio"
)

func TestResample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 24000, 24000)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResample_Upsample(t *testing.T) {
	in := make([]float32, 240)
	out := audio.Resample(in, 24000, 48000)
	if len(out) != 480 {
		t.Fatalf("length = %d, want 480", len(out))
	}
}

func TestResample_Downsample(t *testing.T) {
	in := make([]float32, 480)
	out := audio.Resample(in, 48000, 16000)
	if len(out) != 160 {
		t.Fatalf("length = %d, want 160", len(out))
	}
}

func TestResample_Interpolates(t *testing.T) {
	out := audio.Resample([]float32{0, 1}, 1000, 2000)
	want := []float32{0, 0.5, 1, 1}
	if len(out) != len(want) {
		t.Fatalf("length = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_ZeroRate(t *testing.T) {
	in := []float32{0.1, 0.2}
	if out := audio.Resample(in, 0, 48000); len(out) != len(in) {
		t.Errorf("srcRate=0: length = %d, want unchanged %d", len(out), len(in))
	}
	if out := audio.Resample(in, 48000, 0); len(out) != len(in) {
		t.Errorf("dstRate=0: length = %d, want unchanged %d", len(out), len(in))
	}
}

func TestRemix_StereoToMono(t *testing.T) {
	out := audio.Remix([][]float32{{0.2, -0.4}, {0.4, -0.2}}, 1)
	if len(out) != 1 {
		t.Fatalf("channels = %d, want 1", len(out))
	}
	want := []float32{0.3, -0.3}
	for i := range want {
		if diff := out[0][i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, out[0][i], want[i])
		}
	}
}

func TestRemix_MonoToStereo(t *testing.T) {
	out := audio.Remix([][]float32{{0.1, 0.2}}, 2)
	if len(out) != 2 {
		t.Fatalf("channels = %d, want 2", len(out))
	}
	out[1][0] = 9 // must not alias the left channel
	if out[0][0] != 0.1 {
		t.Error("right channel aliases left channel")
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
	buf := audio.PlaybackBuffer{Data: [][]float32{{0.1, 0.2}}, SampleRate: 24000}
	got := conv.Convert(buf)
	if &got.Data[0][0] != &buf.Data[0][0] {
		t.Error("expected zero-copy fast path when formats match")
	}
}

func TestFormatConverter_FullConversion(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	buf := audio.PlaybackBuffer{Data: [][]float32{make([]float32, 240)}, SampleRate: 24000}
	got := conv.Convert(buf)
	if got.SampleRate != 48000 || got.Channels() != 2 || got.Frames() != 480 {
		t.Errorf("got %dHz %dch %d frames, want 48000Hz 2ch 480 frames",
			got.SampleRate, got.Channels(), got.Frames())
	}
	if got.Duration() != buf.Duration() {
		t.Errorf("duration changed: %v -> %v", buf.Duration(), got.Duration())
	}
}

func TestFormat_String(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 48000, Channels: 6}, "48000Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFormatConverter_ConvertAtTilesClock(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 44100, Channels: 1}}
	buf := audio.PlaybackBuffer{Data: [][]float32{make([]float32, 1000)}, SampleRate: 24000}

	var at float64
	var total int64
	for i := range 7 {
		got := conv.ConvertAt(buf, at)
		want := audio.FramePosition(at+buf.Duration(), 44100) - audio.FramePosition(at, 44100)
		if int64(got.Frames()) != want {
			t.Errorf("chunk %d: %d frames, want %d", i, got.Frames(), want)
		}
		total += int64(got.Frames())
		at += buf.Duration()
	}
	if want := audio.FramePosition(at, 44100); total != want {
		t.Errorf("total = %d frames, want %d", total, want)
	}
}

func TestFormatConverter_ConvertAtSameRateIsConvert(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
	buf := audio.PlaybackBuffer{Data: [][]float32{{0.1, 0.2, 0.3}}, SampleRate: 24000}
	got := conv.ConvertAt(buf, 0.123)
	if &got.Data[0][0] != &buf.Data[0][0] {
		t.Error("expected zero-copy fast path when formats match")
	}
}
