package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// microphone is an [audio.Microphone] backed by a blocking PortAudio input
// stream. A read goroutine copies each filled buffer into a new frame.
type microphone struct {
	stream *portaudio.Stream
	buf    []float32
	format audio.Format
	frames chan audio.AudioFrame

	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ audio.Microphone = (*microphone)(nil)

func openMicrophone(dev *portaudio.DeviceInfo, f audio.Format, frameSize, queue int) (*microphone, error) {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	m := &microphone{
		buf:    make([]float32, frameSize*channels),
		format: audio.Format{SampleRate: f.SampleRate, Channels: channels},
		frames: make(chan audio.AudioFrame, queue),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: frameSize,
	}, m.buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}
	m.stream = stream

	go m.readLoop()
	return m, nil
}

// readLoop owns the frames channel and closes it on exit.
func (m *microphone) readLoop() {
	defer close(m.exited)
	defer close(m.frames)

	frameDur := time.Duration(len(m.buf)/m.format.Channels) * time.Second / time.Duration(m.format.SampleRate)
	var ts time.Duration
	for {
		select {
		case <-m.done:
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("portaudio: input overflowed, continuing")
			} else {
				select {
				case <-m.done:
				default:
					slog.Warn("portaudio: capture stopped", "err", err)
				}
				return
			}
		}

		samples := make([]float32, len(m.buf))
		copy(samples, m.buf)
		frame := audio.AudioFrame{
			Samples:    samples,
			SampleRate: m.format.SampleRate,
			Channels:   m.format.Channels,
			Timestamp:  ts,
		}
		ts += frameDur

		select {
		case m.frames <- frame:
		case <-m.done:
			return
		default:
			// Consumer is behind: drop rather than stall the device.
		}
	}
}

// Frames implements [audio.Microphone].
func (m *microphone) Frames() <-chan audio.AudioFrame { return m.frames }

// Close implements [audio.Microphone]. It waits for the read loop to exit
// before closing the stream.
func (m *microphone) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		<-m.exited
		stopErr := m.stream.Stop()
		closeErr := m.stream.Close()
		m.closeErr = errors.Join(stopErr, closeErr)
	})
	return m.closeErr
}
