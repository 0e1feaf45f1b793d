package voice

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/audio/mock"
)

// activeLog records onActive notifications.
type activeLog struct {
	mu  sync.Mutex
	got []bool
}

func (l *activeLog) record(active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, active)
}

func (l *activeLog) snapshot() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.got...)
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScheduler_BackToBack(t *testing.T) {
	spk := mock.NewSpeaker()
	spk.SetTime(10.0)
	var log activeLog
	m, _ := newTestMetrics(t)
	s := NewScheduler(spk, log.record, m)

	want := []float64{10.0, 10.5, 11.0}
	for i, w := range want {
		got, err := s.Enqueue(pcmChunk(24000, 0.5))
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		if got != w {
			t.Errorf("chunk %d start = %v, want %v", i, got, w)
		}
	}
	if got := s.Active(); got != 3 {
		t.Fatalf("Active() = %d, want 3", got)
	}

	spk.Advance(10.5)
	spk.Advance(11.0)
	if got := s.Active(); got != 1 {
		t.Fatalf("Active() after two completions = %d, want 1", got)
	}
	spk.Advance(11.5)
	if got := s.Active(); got != 0 {
		t.Fatalf("Active() after all completions = %d, want 0", got)
	}

	if got := log.snapshot(); !equalBools(got, []bool{true, false}) {
		t.Errorf("notifications = %v, want [true false]", got)
	}
}

func TestScheduler_DrivesStatus(t *testing.T) {
	spk := mock.NewSpeaker()
	spk.SetTime(10.0)
	st := NewStatusMachine()
	st.Open()
	ch, cancel := st.Subscribe()
	defer cancel()
	<-ch

	m, _ := newTestMetrics(t)
	s := NewScheduler(spk, st.SetPlaying, m)
	for range 3 {
		if _, err := s.Enqueue(pcmChunk(24000, 0.5)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if u := <-ch; u.Status != StatusSpeaking {
		t.Fatalf("status = %v, want speaking", u.Status)
	}
	spk.Advance(11.5)
	if u := <-ch; u.Status != StatusListening {
		t.Fatalf("status = %v, want listening", u.Status)
	}
}

func TestScheduler_RestartsAtDeviceTimeAfterUnderrun(t *testing.T) {
	spk := mock.NewSpeaker()
	m, _ := newTestMetrics(t)
	s := NewScheduler(spk, nil, m)

	if _, err := s.Enqueue(pcmChunk(24000, 0.5)); err != nil {
		t.Fatal(err)
	}
	spk.Advance(3.0)

	start, err := s.Enqueue(pcmChunk(24000, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	if start != 3.0 {
		t.Errorf("start after underrun = %v, want 3.0", start)
	}
}

func TestScheduler_Interrupt(t *testing.T) {
	spk := mock.NewSpeaker()
	spk.SetTime(10.0)
	st := NewStatusMachine()
	st.Open()
	m, _ := newTestMetrics(t)
	s := NewScheduler(spk, st.SetPlaying, m)

	for range 2 {
		if _, err := s.Enqueue(pcmChunk(24000, 0.5)); err != nil {
			t.Fatal(err)
		}
	}
	if st.Status() != StatusSpeaking {
		t.Fatalf("status = %v, want speaking", st.Status())
	}

	if n := s.Interrupt(); n != 2 {
		t.Errorf("Interrupt stopped %d sources, want 2", n)
	}
	for i, src := range spk.Sources() {
		if !src.Stopped() {
			t.Errorf("source %d not stopped", i)
		}
	}
	if got := s.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
	if got := s.NextStartTime(); got != 0 {
		t.Errorf("NextStartTime() = %v, want 0", got)
	}
	if st.Status() != StatusListening {
		t.Errorf("status = %v, want listening", st.Status())
	}

	// Stopped sources never complete, even when the clock passes them.
	spk.Advance(20.0)
	for i, src := range spk.Sources() {
		if src.Completed() {
			t.Errorf("stopped source %d completed", i)
		}
	}

	spk.SetTime(20.25)
	start, err := s.Enqueue(pcmChunk(24000, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	if start != 20.25 {
		t.Errorf("start after interrupt = %v, want 20.25", start)
	}
}

func TestScheduler_InterruptWhenIdle(t *testing.T) {
	var log activeLog
	m, _ := newTestMetrics(t)
	s := NewScheduler(mock.NewSpeaker(), log.record, m)
	if n := s.Interrupt(); n != 0 {
		t.Errorf("Interrupt() = %d, want 0", n)
	}
	if got := log.snapshot(); !equalBools(got, []bool{false}) {
		t.Errorf("notifications = %v, want [false]", got)
	}
}

func TestScheduler_MalformedChunk(t *testing.T) {
	spk := mock.NewSpeaker()
	m, _ := newTestMetrics(t)
	s := NewScheduler(spk, nil, m)

	_, err := s.Enqueue(audio.EncodedChunk{Data: []byte{1, 2, 3}, SampleRate: 24000, Channels: 1})
	if !errors.Is(err, audio.ErrMalformedAudio) {
		t.Fatalf("err = %v, want ErrMalformedAudio", err)
	}
	if n := len(spk.Sources()); n != 0 {
		t.Errorf("%d sources scheduled for a malformed chunk", n)
	}
	if got := s.NextStartTime(); got != 0 {
		t.Errorf("clock advanced to %v", got)
	}

	// The scheduler keeps working.
	if _, err := s.Enqueue(pcmChunk(24000, 0.5)); err != nil {
		t.Fatalf("Enqueue after malformed chunk: %v", err)
	}
}

func TestScheduler_ScheduleError(t *testing.T) {
	spk := mock.NewSpeaker()
	spk.ScheduleError = errors.New("device lost")
	var log activeLog
	m, _ := newTestMetrics(t)
	s := NewScheduler(spk, log.record, m)

	if _, err := s.Enqueue(pcmChunk(24000, 0.5)); err == nil {
		t.Fatal("expected error")
	}
	if s.Active() != 0 || s.NextStartTime() != 0 {
		t.Error("failed schedule changed state")
	}
	if len(log.snapshot()) != 0 {
		t.Error("failed schedule notified")
	}
}

func TestScheduler_Reset(t *testing.T) {
	spk := mock.NewSpeaker()
	var log activeLog
	m, _ := newTestMetrics(t)
	s := NewScheduler(spk, log.record, m)

	if _, err := s.Enqueue(pcmChunk(24000, 0.5)); err != nil {
		t.Fatal(err)
	}
	s.Reset()
	if !spk.Sources()[0].Stopped() {
		t.Error("source not stopped by Reset")
	}
	if s.Active() != 0 {
		t.Error("active set not cleared")
	}
	if _, err := s.Enqueue(pcmChunk(24000, 0.5)); !errors.Is(err, audio.ErrDeviceClosed) {
		t.Errorf("Enqueue after Reset err = %v, want ErrDeviceClosed", err)
	}
	if got := log.snapshot(); !equalBools(got, []bool{true}) {
		t.Errorf("notifications = %v, want [true]", got)
	}
}

// TestScheduler_ContiguousStarts checks that, without an interrupt or an
// underrun, every chunk starts exactly where the previous one ends.
func TestScheduler_ContiguousStarts(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for run := 0; run < 50; run++ {
		spk := mock.NewSpeaker()
		t0 := r.Float64() * 100
		spk.SetTime(t0)
		m, _ := newTestMetrics(t)
		s := NewScheduler(spk, nil, m)

		expected := t0
		for i := 0; i < 20; i++ {
			frames := 240 * (1 + r.IntN(100))
			chunk := audio.EncodedChunk{Data: make([]byte, frames*2), SampleRate: 24000, Channels: 1}
			start, err := s.Enqueue(chunk)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(start-expected) > 1e-9 {
				t.Fatalf("run %d chunk %d: start %v, want %v", run, i, start, expected)
			}
			expected += float64(frames) / 24000
		}
		if math.Abs(s.NextStartTime()-expected) > 1e-9 {
			t.Fatalf("run %d: clock %v, want %v", run, s.NextStartTime(), expected)
		}
	}
}

func TestScheduler_ConcurrentEnqueueAndInterrupt(t *testing.T) {
	spk := mock.NewSpeaker()
	m, _ := newTestMetrics(t)
	s := NewScheduler(spk, nil, m)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_, _ = s.Enqueue(pcmChunk(24000, 0.01))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 20 {
			s.Interrupt()
		}
	}()
	wg.Wait()

	s.Interrupt()
	for i, src := range spk.Sources() {
		if !src.Stopped() {
			t.Fatalf("source %d survived the final interrupt", i)
		}
	}
}

// TestScheduler_StatusTracksActiveSet runs random mixes of enqueues, clock
// advances, out-of-order completions and interrupts, and checks after every
// step that the session reports speaking exactly while sources are active.
func TestScheduler_StatusTracksActiveSet(t *testing.T) {
	for seed := uint64(0); seed < 300; seed++ {
		r := rand.New(rand.NewPCG(seed, 7))
		spk := mock.NewSpeaker()
		st := NewStatusMachine()
		st.Open()
		m, _ := newTestMetrics(t)
		s := NewScheduler(spk, st.SetPlaying, m)

		var now float64
		for step := 0; step < 40; step++ {
			var op string
			switch r.IntN(4) {
			case 0, 1:
				op = "enqueue"
				if _, err := s.Enqueue(pcmChunk(24000, 0.01*float64(1+r.IntN(50)))); err != nil {
					t.Fatalf("seed %d step %d: Enqueue: %v", seed, step, err)
				}
			case 2:
				if r.IntN(3) == 0 {
					op = "interrupt"
					s.Interrupt()
					break
				}
				op = "advance"
				now += r.Float64() * 0.6
				spk.Advance(now)
			case 3:
				op = "complete"
				if srcs := spk.Sources(); len(srcs) > 0 {
					spk.Complete(srcs[r.IntN(len(srcs))])
				}
			}

			speaking := st.Status() == StatusSpeaking
			if active := s.Active(); speaking != (active > 0) {
				t.Fatalf("seed %d step %d after %s: status %v with %d active sources",
					seed, step, op, st.Status(), active)
			}
		}
	}
}
