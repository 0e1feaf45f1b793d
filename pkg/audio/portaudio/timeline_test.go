package portaudio

import (
	"testing"

	"github.com/MrWong99/livevoice/pkg/audio"
)

func constBuffer(frames int, v float32) audio.PlaybackBuffer {
	data := make([]float32, frames)
	for i := range data {
		data[i] = v
	}
	return audio.PlaybackBuffer{Data: [][]float32{data}, SampleRate: 1000}
}

func TestTimeline_ClockAdvancesPerRender(t *testing.T) {
	tl := newTimeline(1000, 1)
	tl.render(make([]float32, 250))
	if got := tl.now(); got != 0.25 {
		t.Errorf("now = %v, want 0.25", got)
	}
}

func TestTimeline_SampleAccurateStart(t *testing.T) {
	tl := newTimeline(1000, 1)
	tl.schedule(constBuffer(4, 0.5), 0.003, nil) // frames 3..6

	out := make([]float32, 5)
	tl.render(out)
	want := []float32{0, 0, 0, 0.5, 0.5}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestTimeline_BackToBackIsGapless(t *testing.T) {
	tl := newTimeline(1000, 1)
	tl.schedule(constBuffer(3, 0.25), 0, nil)
	tl.schedule(constBuffer(3, 0.5), 0.003, nil)

	out := make([]float32, 6)
	tl.render(out)
	want := []float32{0.25, 0.25, 0.25, 0.5, 0.5, 0.5}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestTimeline_PastStartClampsToNow(t *testing.T) {
	tl := newTimeline(1000, 1)
	tl.render(make([]float32, 10))
	v := tl.schedule(constBuffer(2, 0.5), 0.001, nil)
	if v.start != 10 {
		t.Errorf("start = %d, want 10", v.start)
	}
}

func TestTimeline_CompletionReturnedOnce(t *testing.T) {
	tl := newTimeline(1000, 1)
	calls := 0
	tl.schedule(constBuffer(3, 0.1), 0, func() { calls++ })

	runAll(tl.render(make([]float32, 2)))
	if calls != 0 {
		t.Fatalf("completed early: calls = %d", calls)
	}
	runAll(tl.render(make([]float32, 2)))
	runAll(tl.render(make([]float32, 2)))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestTimeline_StopSuppressesCompletion(t *testing.T) {
	tl := newTimeline(1000, 1)
	calls := 0
	v := tl.schedule(constBuffer(3, 0.1), 0, func() { calls++ })
	v.Stop()

	out := make([]float32, 4)
	runAll(tl.render(out))
	if calls != 0 {
		t.Errorf("stopped voice completed: calls = %d", calls)
	}
	for i, s := range out {
		if s != 0 {
			t.Errorf("out[%d] = %v, want silence", i, s)
		}
	}
}

func TestTimeline_MixClamps(t *testing.T) {
	tl := newTimeline(1000, 1)
	tl.schedule(constBuffer(2, 0.75), 0, nil)
	tl.schedule(constBuffer(2, 0.75), 0, nil)

	out := make([]float32, 2)
	tl.render(out)
	if out[0] != 1 {
		t.Errorf("out[0] = %v, want clamped 1", out[0])
	}
}

func TestTimeline_MonoFillsAllChannels(t *testing.T) {
	tl := newTimeline(1000, 2)
	tl.schedule(constBuffer(2, 0.5), 0, nil)

	out := make([]float32, 4)
	tl.render(out)
	for i, s := range out {
		if s != 0.5 {
			t.Errorf("out[%d] = %v, want 0.5", i, s)
		}
	}
}

func TestTimeline_ResampledChunksAreGapless(t *testing.T) {
	const rate = 44100
	tl := newTimeline(rate, 1)
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: rate, Channels: 1}}

	chunk := constBuffer(1000, 0.5)
	chunk.SampleRate = 24000
	var at float64
	for range 4 {
		tl.schedule(conv.ConvertAt(chunk, at), at, nil)
		at += chunk.Duration()
	}

	frames := audio.FramePosition(at, rate)
	out := make([]float32, frames+1)
	tl.render(out)
	for i, s := range out[:frames] {
		if s < 0.49 || s > 0.51 {
			t.Fatalf("out[%d] = %v, want 0.5 (gap or overlap)", i, s)
		}
	}
	if out[frames] != 0 {
		t.Errorf("out[%d] = %v, want silence after the last chunk", frames, out[frames])
	}
}
