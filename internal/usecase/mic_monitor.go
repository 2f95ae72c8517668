package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"

	"voicewidget/internal/audio"
	"voicewidget/internal/ports"
)

const micChunkSize = 2048

// micMonitor samples the microphone level once per frame while a call is
// unmuted and the assistant has spoken.
type micMonitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startMicMonitor(
	parent context.Context,
	capture ports.AudioCapture,
	cfg ports.AudioConfig,
	analyzer *audio.Analyzer,
	frames ports.Ticker,
	onSample func(level float64),
	onFailure func(err error),
) *micMonitor {
	ctx, cancel := context.WithCancel(parent)
	m := &micMonitor{cancel: cancel, done: make(chan struct{})}
	go m.run(ctx, capture, cfg, analyzer, frames, onSample, onFailure)
	return m
}

// stop cancels sampling, releases the capture and waits for both loops.
func (m *micMonitor) stop() {
	m.cancel()
	<-m.done
}

func (m *micMonitor) run(
	ctx context.Context,
	capture ports.AudioCapture,
	cfg ports.AudioConfig,
	analyzer *audio.Analyzer,
	frames ports.Ticker,
	onSample func(level float64),
	onFailure func(err error),
) {
	defer close(m.done)
	defer frames.Stop()

	session, err := capture.Start(ctx, cfg)
	if err != nil {
		if ctx.Err() == nil {
			onFailure(fmt.Errorf("acquire microphone: %w", err))
		}
		return
	}
	defer func() { _ = session.Stop() }()

	pumpErr := make(chan error, 1)
	go pumpAnalyzer(session, analyzer, pumpErr)

	for {
		select {
		case <-ctx.Done():
			_ = session.Stop()
			<-pumpErr
			return
		case err := <-pumpErr:
			if err != nil && ctx.Err() == nil {
				onFailure(fmt.Errorf("microphone capture: %w", err))
			}
			return
		case <-frames.C():
			onSample(analyzer.Level())
		}
	}
}

// pumpAnalyzer feeds little-endian PCM16 from the capture into the analyzer
// until the capture ends. A sample split across reads is carried over.
func pumpAnalyzer(session ports.AudioSession, analyzer *audio.Analyzer, result chan<- error) {
	buf := make([]byte, micChunkSize)
	var carry []byte
	for {
		n, err := session.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			analyzer.Write(audio.DecodePCM16LE(data[:even]))
			carry = append(carry[:0:0], data[even:]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			result <- err
			return
		}
	}
}
