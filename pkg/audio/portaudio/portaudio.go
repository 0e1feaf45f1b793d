// Package portaudio implements [audio.Devices] on top of PortAudio.
//
// Microphones use a blocking input stream read by a dedicated goroutine; the
// speaker uses a callback output stream that mixes scheduled buffers onto a
// frame-counting timeline, which doubles as the device clock. The package
// requires the native PortAudio library (cgo).
package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livevoice/pkg/audio"
)

const (
	// defaultOutputFrames is the callback block size of the output stream.
	// Smaller blocks tighten the device clock at the cost of more callbacks.
	defaultOutputFrames = 480

	// defaultCaptureQueue is the frame channel depth of an open microphone.
	defaultCaptureQueue = 8
)

// Option is a functional option for configuring [Devices].
type Option func(*Devices)

// WithInputDevice selects the capture device by name. Empty selects the host default.
func WithInputDevice(name string) Option {
	return func(d *Devices) { d.inputName = name }
}

// WithOutputDevice selects the playback device by name. Empty selects the host default.
func WithOutputDevice(name string) Option {
	return func(d *Devices) { d.outputName = name }
}

// WithCaptureQueue sets how many captured frames may wait for the consumer
// before new frames are dropped.
func WithCaptureQueue(n int) Option {
	return func(d *Devices) {
		if n > 0 {
			d.captureQueue = n
		}
	}
}

// Devices is an [audio.Devices] backed by PortAudio. Create it with [New]
// and release the library with [Devices.Close] once no streams are open.
type Devices struct {
	inputName    string
	outputName   string
	captureQueue int

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

var _ audio.Devices = (*Devices)(nil)

// New initialises PortAudio and returns a device factory.
func New(opts ...Option) (*Devices, error) {
	d := &Devices{captureQueue: defaultCaptureQueue}
	for _, o := range opts {
		o(d)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return d, nil
}

// OpenMicrophone implements [audio.Devices].
func (d *Devices) OpenMicrophone(ctx context.Context, f audio.Format, frameSize int) (audio.Microphone, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	dev, err := findDevice(d.inputName, true)
	if err != nil {
		return nil, err
	}
	return openMicrophone(dev, f, frameSize, d.captureQueue)
}

// OpenSpeaker implements [audio.Devices].
func (d *Devices) OpenSpeaker(ctx context.Context, f audio.Format) (audio.Speaker, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	dev, err := findDevice(d.outputName, false)
	if err != nil {
		return nil, err
	}
	return openSpeaker(dev, f, defaultOutputFrames)
}

// Check reports whether a default input and output device are present.
// Suitable as a readiness check.
func (d *Devices) Check(ctx context.Context) error {
	if err := d.check(ctx); err != nil {
		return err
	}
	if _, err := findDevice(d.inputName, true); err != nil {
		return err
	}
	_, err := findDevice(d.outputName, false)
	return err
}

// Close terminates PortAudio. Calling Close more than once is safe.
func (d *Devices) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		if e := portaudio.Terminate(); e != nil {
			err = fmt.Errorf("portaudio: terminate: %w", e)
		}
	})
	return err
}

func (d *Devices) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return audio.ErrDeviceClosed
	}
	return nil
}

// findDevice returns the named device, or the host default when name is
// empty. input selects between capture and playback devices.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			dev, err := portaudio.DefaultInputDevice()
			if err != nil {
				return nil, fmt.Errorf("portaudio: default input device: %w", err)
			}
			return dev, nil
		}
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default output device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name != name {
			continue
		}
		if input && dev.MaxInputChannels > 0 || !input && dev.MaxOutputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("portaudio: device not found: %q", name)
}
