package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voicewidget/internal/ports"
)

const (
	startupProbe = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// ErrCaptureUnavailable is returned when the recorder exits before delivering audio.
var ErrCaptureUnavailable = errors.New("microphone capture unavailable")

// FFMPEGCapture streams microphone PCM (s16le) using an ffmpeg subprocess.
type FFMPEGCapture struct {
	command string
	log     zerolog.Logger
}

func NewFFMPEGCapture(command string, log zerolog.Logger) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, log: log.With().Str("component", "capture").Logger()}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create recorder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrCaptureUnavailable, c.command, err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	// Device and permission failures make the recorder exit almost immediately.
	select {
	case err := <-exited:
		detail := trimOutput(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("%w: recorder exited before capture started: %v: %s", ErrCaptureUnavailable, err, detail)
		}
		return nil, fmt.Errorf("%w: recorder exited before capture started", ErrCaptureUnavailable)
	case <-time.After(startupProbe):
	}

	c.log.Debug().
		Str("device", cfg.InputDevice).
		Int("sampleRate", cfg.SampleRate).
		Int("pid", cmd.Process.Pid).
		Msg("microphone capture started")

	return &captureSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		exited:  exited,
		log:     c.log,
	}, nil
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

type captureSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	exited  <-chan error
	log     zerolog.Logger

	stopOnce sync.Once
	stopErr  error
}

func (s *captureSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *captureSession) Close() error {
	return s.Stop()
}

// Stop interrupts the recorder, escalating to kill after a grace period.
// It is safe to call more than once.
func (s *captureSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		var waitErr error
		select {
		case err, ok := <-s.exited:
			if ok {
				waitErr = err
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.exited; ok {
				waitErr = err
			}
		}
		s.stopErr = normalizeStopErr(waitErr)

		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = err
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimOutput(s.stderr.String()))
		}

		s.log.Debug().Err(s.stopErr).Msg("microphone capture released")
	})
	return s.stopErr
}

// normalizeStopErr treats a non-zero exit after interrupt as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(input string) string {
	return string(bytes.TrimSpace([]byte(input)))
}
