package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
)

// Scheduler plays inbound chunks back to back on a speaker without gaps and
// supports cancelling everything at once on barge-in.
//
// The playback clock and the active-source set are only touched with mu held,
// so Enqueue, Interrupt, completion callbacks and Reset are mutually atomic.
type Scheduler struct {
	spk      audio.Speaker
	onActive func(active bool)
	metrics  *observe.Metrics

	mu     sync.Mutex
	next   float64
	active map[*playing]struct{}
	closed bool
}

type playing struct {
	src audio.Source
}

// NewScheduler returns a scheduler writing to spk. onActive, if non-nil, is
// called with mu held whenever the active set turns non-empty (true) or
// empty (false); it must not call back into the scheduler.
func NewScheduler(spk audio.Speaker, onActive func(active bool), m *observe.Metrics) *Scheduler {
	if onActive == nil {
		onActive = func(bool) {}
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Scheduler{
		spk:      spk,
		onActive: onActive,
		metrics:  m,
		active:   make(map[*playing]struct{}),
	}
}

// Enqueue decodes chunk and schedules it immediately after everything already
// scheduled, or at the device's current time if the queue has run dry.
// It returns the start time in device seconds.
//
// A chunk that cannot be decoded is rejected with an error wrapping
// [audio.ErrMalformedAudio] and nothing is scheduled.
func (s *Scheduler) Enqueue(chunk audio.EncodedChunk) (float64, error) {
	buf, err := audio.DecodeChunk(chunk)
	if err != nil {
		return 0, fmt.Errorf("voice: decode chunk: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("voice: schedule: %w", audio.ErrDeviceClosed)
	}

	now := s.spk.CurrentTime()
	if now > s.next {
		s.next = now
	}
	start := s.next

	p := &playing{}
	src, err := s.spk.Schedule(buf, start, func() { s.complete(p) })
	if err != nil {
		return 0, fmt.Errorf("voice: schedule: %w", err)
	}
	p.src = src
	s.next += buf.Duration()

	s.metrics.PlaybackLead.Record(context.Background(), start-now)

	s.active[p] = struct{}{}
	if len(s.active) == 1 {
		s.onActive(true)
	}
	return start, nil
}

// complete is the natural-completion callback of one source.
func (s *Scheduler) complete(p *playing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[p]; !ok {
		return // stopped by Interrupt or Reset
	}
	delete(s.active, p)
	if len(s.active) == 0 {
		s.onActive(false)
	}
}

// Interrupt stops every active source, clears the set and resets the clock
// so the next chunk starts at the device's current time. It always reports
// the set as empty. Returns the number of sources stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.stopAll()
	s.onActive(false)
	return n
}

// Reset stops and forgets all sources without a status notification and
// rejects further chunks. It is the playback step of teardown.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAll()
	s.closed = true
}

// stopAll must be called with s.mu held. Speakers never invoke completion
// callbacks from Stop, so holding the lock here cannot deadlock.
func (s *Scheduler) stopAll() int {
	n := len(s.active)
	for p := range s.active {
		p.src.Stop()
	}
	clear(s.active)
	s.next = 0
	return n
}

// Active returns the number of scheduled sources that have neither completed
// nor been stopped.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStartTime returns the playback clock: where the next chunk would start
// if the device clock has not overtaken it.
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
