package portaudio

import (
	"sync"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// voice is one buffer placed on the timeline.
type voice struct {
	tl         *timeline
	start      int64       // first device frame
	data       [][]float32 // de-interleaved, already in device format
	onComplete func()
}

func (v *voice) end() int64 { return v.start + int64(len(v.data[0])) }

// Stop implements [audio.Source].
func (v *voice) Stop() { v.tl.remove(v) }

// timeline mixes scheduled buffers into an interleaved output stream at
// sample-accurate positions. The position counter is the device clock.
//
// render is called from the audio thread; schedule, remove and reset from
// any goroutine. Completion callbacks are not run here: render returns them
// so the caller can dispatch them off the audio thread.
type timeline struct {
	rate     int
	channels int

	mu     sync.Mutex
	pos    int64 // frames rendered so far
	voices []*voice
}

func newTimeline(rate, channels int) *timeline {
	return &timeline{rate: rate, channels: channels}
}

// now returns the device time in seconds.
func (t *timeline) now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.pos) / float64(t.rate)
}

// schedule places buf (in device format) at startAt seconds. Start times in
// the past are clamped to the current position.
func (t *timeline) schedule(buf audio.PlaybackBuffer, startAt float64, onComplete func()) *voice {
	v := &voice{tl: t, data: buf.Data, onComplete: onComplete}
	start := audio.FramePosition(startAt, t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()
	if start < t.pos {
		start = t.pos
	}
	v.start = start
	if buf.Frames() == 0 {
		// Nothing to play: completes on the next render.
		v.data = [][]float32{{}}
	}
	t.voices = append(t.voices, v)
	return v
}

func (t *timeline) remove(v *voice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.voices {
		if cur == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			return
		}
	}
}

// reset drops every voice without reporting completion.
func (t *timeline) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.voices = nil
}

// render fills out (interleaved, len multiple of channels) with the mix of
// all voices overlapping the next block and advances the clock. It returns
// the completion callbacks of voices that finished inside the block.
func (t *timeline) render(out []float32) []func() {
	clear(out)
	frames := int64(len(out) / t.channels)

	t.mu.Lock()
	defer t.mu.Unlock()

	blockStart, blockEnd := t.pos, t.pos+frames
	var done []func()
	kept := t.voices[:0]
	for _, v := range t.voices {
		from := max(v.start, blockStart)
		to := min(v.end(), blockEnd)
		for f := from; f < to; f++ {
			src := f - v.start
			dst := (f - blockStart) * int64(t.channels)
			for ch := range t.channels {
				sample := v.data[min(ch, len(v.data)-1)][src]
				out[dst+int64(ch)] += sample
			}
		}
		if v.end() <= blockEnd {
			if v.onComplete != nil {
				done = append(done, v.onComplete)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(t.voices[len(kept):])
	t.voices = kept
	t.pos = blockEnd

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	return done
}
