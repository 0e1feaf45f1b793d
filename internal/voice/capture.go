package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// defaultSendQueue is the number of encoded frames that may wait for the
// sender before capture starts dropping.
const defaultSendQueue = 32

// channelRef boxes the handle so it can live in an atomic.Pointer.
type channelRef struct {
	h s2s.SessionHandle
}

// Capture pumps microphone frames to the session channel.
//
// Frames are dropped, never buffered, while the channel is not open. The
// gate is an explicit check of the channel handle, so no frame can reach the
// channel before [Capture.Open] runs regardless of goroutine scheduling.
// Encoded frames pass through a bounded queue to a single sender goroutine;
// a full queue drops the frame so the capture loop never waits on the network.
type Capture struct {
	mic     audio.Microphone
	queue   chan audio.EncodedChunk
	onError func(error)
	metrics *observe.Metrics

	channel atomic.Pointer[channelRef]
	closing atomic.Bool
	failed  atomic.Bool

	stop       chan struct{}
	wg         sync.WaitGroup
	reportOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

// NewCapture returns a capture pipeline reading from mic. onError receives
// asynchronous faults: a rejected send (wrapping [ErrTransport]) or a
// microphone that stopped on its own (wrapping [ErrDeviceUnavailable]). It is
// called at most once, from a capture goroutine, and must not block on
// [Capture.Close].
func NewCapture(mic audio.Microphone, queue int, onError func(error), m *observe.Metrics) *Capture {
	if queue <= 0 {
		queue = defaultSendQueue
	}
	if onError == nil {
		onError = func(error) {}
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Capture{
		mic:     mic,
		queue:   make(chan audio.EncodedChunk, queue),
		onError: onError,
		metrics: m,
		stop:    make(chan struct{}),
	}
}

// Run starts the capture and sender goroutines.
func (c *Capture) Run() {
	c.wg.Add(2)
	go c.captureLoop()
	go c.sendLoop()
}

// Open lets frames through to h from now on.
func (c *Capture) Open(h s2s.SessionHandle) {
	c.channel.Store(&channelRef{h: h})
}

// IsOpen reports whether frames are currently forwarded.
func (c *Capture) IsOpen() bool {
	return c.channel.Load() != nil && !c.closing.Load()
}

// Close shuts the gate, releases the microphone and waits for both
// goroutines to exit. Frames still queued are discarded. Safe to call more
// than once.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.channel.Store(nil)
		close(c.stop)
		if err := c.mic.Close(); err != nil {
			c.closeErr = fmt.Errorf("voice: close microphone: %w", err)
		}
		c.wg.Wait()
	})
	return c.closeErr
}

func (c *Capture) captureLoop() {
	defer c.wg.Done()
	ctx := context.Background()
	frames := c.mic.Frames()
	for {
		select {
		case <-c.stop:
			return
		case frame, ok := <-frames:
			if !ok {
				if !c.closing.Load() {
					c.report(fmt.Errorf("%w: microphone stopped", ErrDeviceUnavailable))
				}
				return
			}
			c.metrics.FramesCaptured.Add(ctx, 1)
			if !c.IsOpen() {
				c.metrics.RecordFrameDropped(ctx, observe.DropClosed)
				continue
			}
			select {
			case c.queue <- audio.EncodeFrame(frame):
			default:
				c.metrics.RecordFrameDropped(ctx, observe.DropBackpressure)
			}
		}
	}
}

func (c *Capture) sendLoop() {
	defer c.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-c.stop:
			return
		case chunk := <-c.queue:
			ref := c.channel.Load()
			if ref == nil || c.failed.Load() {
				c.metrics.RecordFrameDropped(ctx, observe.DropClosed)
				continue
			}
			err := ref.h.SendAudio(chunk)
			switch {
			case err == nil:
				c.metrics.ChunksSent.Add(ctx, 1)
			case errors.Is(err, s2s.ErrSendQueueFull):
				c.metrics.RecordFrameDropped(ctx, observe.DropBackpressure)
			case c.closing.Load():
				c.metrics.RecordFrameDropped(ctx, observe.DropClosed)
			default:
				c.failed.Store(true)
				c.report(fmt.Errorf("%w: send audio: %w", ErrTransport, err))
			}
		}
	}
}

func (c *Capture) report(err error) {
	if c.closing.Load() {
		return
	}
	c.reportOnce.Do(func() { c.onError(err) })
}
