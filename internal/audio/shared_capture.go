package audio

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"voicewidget/internal/ports"
)

const (
	sharedReadSize    = 4096
	sharedReaderDepth = 64
)

// SharedCapture lets several consumers read the same microphone. The first
// Start opens the device; later Starts with the same config attach to it and
// receive a copy of every chunk. The device is released when the last
// consumer stops. Some input backends refuse a second open of one device.
type SharedCapture struct {
	inner ports.AudioCapture
	log   zerolog.Logger

	mu     sync.Mutex
	active *sharedSource
}

func NewSharedCapture(inner ports.AudioCapture, log zerolog.Logger) *SharedCapture {
	return &SharedCapture{inner: inner, log: log}
}

type sharedSource struct {
	cfg     ports.AudioConfig
	session ports.AudioSession
	readers map[*sharedReader]struct{}
	err     error
}

// Start attaches a consumer. A request with a different config than the
// open device gets its own capture.
func (c *SharedCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if src := c.active; src != nil {
		if src.cfg != cfg {
			c.log.Debug().Msg("capture config differs from the open device, starting a separate capture")
			return c.inner.Start(ctx, cfg)
		}
		return c.attachLocked(ctx, src), nil
	}

	// The device outlives the consumer that opened it, so it is detached
	// from that consumer's context.
	session, err := c.inner.Start(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return nil, err
	}
	src := &sharedSource{cfg: cfg, session: session, readers: map[*sharedReader]struct{}{}}
	c.active = src
	reader := c.attachLocked(ctx, src)
	go c.fanOut(src)
	return reader, nil
}

func (c *SharedCapture) attachLocked(ctx context.Context, src *sharedSource) *sharedReader {
	r := &sharedReader{
		owner:  c,
		src:    src,
		chunks: make(chan []byte, sharedReaderDepth),
		closed: make(chan struct{}),
	}
	src.readers[r] = struct{}{}
	r.stopWatch = context.AfterFunc(ctx, func() { _ = r.Stop() })
	return r
}

func (c *SharedCapture) fanOut(src *sharedSource) {
	buf := make([]byte, sharedReadSize)
	for {
		n, err := src.session.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			c.mu.Lock()
			for r := range src.readers {
				select {
				case r.chunks <- chunk:
				default:
					c.log.Debug().Msg("capture consumer is behind, chunk dropped")
				}
			}
			c.mu.Unlock()
		}
		if err != nil {
			c.mu.Lock()
			if !errors.Is(err, io.EOF) {
				src.err = err
			}
			if c.active == src {
				c.active = nil
			}
			// With no readers left the last Stop already released the device.
			release := len(src.readers) > 0
			for r := range src.readers {
				close(r.chunks)
			}
			src.readers = nil
			c.mu.Unlock()
			if release {
				_ = src.session.Stop()
			}
			return
		}
	}
}

// detach removes r and reports whether the device should be released.
func (c *SharedCapture) detach(r *sharedReader) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := r.src.readers[r]; !ok {
		return false
	}
	delete(r.src.readers, r)
	if len(r.src.readers) > 0 {
		return false
	}
	if c.active == r.src {
		c.active = nil
	}
	return true
}

type sharedReader struct {
	owner     *SharedCapture
	src       *sharedSource
	chunks    chan []byte
	pending   []byte
	closed    chan struct{}
	stopOnce  sync.Once
	stopWatch func() bool
}

func (r *sharedReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		select {
		case chunk, ok := <-r.chunks:
			if !ok {
				r.owner.mu.Lock()
				err := r.src.err
				r.owner.mu.Unlock()
				if err != nil {
					return 0, err
				}
				return 0, io.EOF
			}
			r.pending = chunk
		case <-r.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *sharedReader) Close() error {
	return r.Stop()
}

// Stop detaches the consumer. The last one to stop releases the device.
func (r *sharedReader) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		r.stopWatch()
		close(r.closed)
		if r.owner.detach(r) {
			err = r.src.session.Stop()
		}
	})
	return err
}
