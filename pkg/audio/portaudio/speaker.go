package portaudio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// speaker is an [audio.Speaker] backed by a PortAudio callback stream. The
// device clock is the number of frames the callback has rendered.
type speaker struct {
	stream *portaudio.Stream
	tl     *timeline
	conv   audio.FormatConverter

	completions chan []func()
	done        chan struct{}
	wg          sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

var _ audio.Speaker = (*speaker)(nil)

// openSpeaker opens dev for output. It first tries the requested sample rate
// and falls back to the device's native rate, converting buffers on schedule.
func openSpeaker(dev *portaudio.DeviceInfo, f audio.Format, framesPerBuffer int) (*speaker, error) {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	if dev.MaxOutputChannels > 0 && channels > dev.MaxOutputChannels {
		channels = dev.MaxOutputChannels
	}

	rates := []float64{float64(f.SampleRate)}
	if dev.DefaultSampleRate > 0 && int(dev.DefaultSampleRate) != f.SampleRate {
		rates = append(rates, dev.DefaultSampleRate)
	}

	var lastErr error
	for _, rate := range rates {
		s := &speaker{
			tl:          newTimeline(int(rate), channels),
			conv:        audio.FormatConverter{Target: audio.Format{SampleRate: int(rate), Channels: channels}},
			completions: make(chan []func(), 64),
			done:        make(chan struct{}),
		}
		stream, err := portaudio.OpenStream(portaudio.StreamParameters{
			Output: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: channels,
				Latency:  dev.DefaultLowOutputLatency,
			},
			SampleRate:      rate,
			FramesPerBuffer: framesPerBuffer,
		}, s.process)
		if err != nil {
			lastErr = err
			slog.Debug("portaudio: output rate rejected", "device", dev.Name, "rate", rate, "err", err)
			continue
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			return nil, fmt.Errorf("portaudio: start output stream: %w", err)
		}
		s.stream = stream
		s.wg.Add(1)
		go s.dispatch()
		return s, nil
	}
	return nil, fmt.Errorf("portaudio: open output stream on %q: %w", dev.Name, lastErr)
}

// process is the PortAudio stream callback. It must not block.
func (s *speaker) process(out []float32) {
	done := s.tl.render(out)
	if len(done) == 0 {
		return
	}
	select {
	case s.completions <- done:
	default:
		// Dispatcher is far behind; run off-thread rather than drop callbacks.
		go runAll(done)
	}
}

// dispatch runs completion callbacks in render order, off the audio thread.
func (s *speaker) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case fns := <-s.completions:
			runAll(fns)
		}
	}
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// CurrentTime implements [audio.Speaker].
func (s *speaker) CurrentTime() float64 { return s.tl.now() }

// Schedule implements [audio.Speaker].
func (s *speaker) Schedule(buf audio.PlaybackBuffer, startAt float64, onComplete func()) (audio.Source, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, audio.ErrDeviceClosed
	}
	return s.tl.schedule(s.conv.ConvertAt(buf, startAt), startAt, onComplete), nil
}

// Close implements [audio.Speaker]. Pending sources are dropped without
// reporting completion.
func (s *speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.tl.reset()
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	close(s.done)
	s.wg.Wait()

	if stopErr != nil {
		return fmt.Errorf("portaudio: stop output stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("portaudio: close output stream: %w", closeErr)
	}
	return nil
}
