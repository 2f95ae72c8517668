package ports

import (
	"context"
	"io"
	"time"

	"voicewidget/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// CallTarget identifies who a call is placed to.
type CallTarget struct {
	AssistantID string
	PhoneNumber string
}

// VoiceSession is one live SDK session. Events is closed once the session is over.
type VoiceSession interface {
	Events() <-chan domain.SessionEvent
	SetMuted(muted bool) error
	Stop() error
}

// VoiceClient starts SDK sessions.
type VoiceClient interface {
	Start(ctx context.Context, target CallTarget) (VoiceSession, error)
}

// Initializer is implemented by clients that need setup before the first call.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates tickers for a given period.
type TickerFactory func(period time.Duration) Ticker

// EventSink emits backend state/events to the UI. Methods are invoked while
// the controller holds its lock and must not call back into it.
type EventSink interface {
	CallStateChanged(state domain.CallState, reason domain.CallStateReason)
	TimerChanged(seconds int)
	VolumeChanged(levels domain.VolumeLevels)
	MuteChanged(muted bool)
	VolumeTierChanged(tier domain.VolumeTier)
	MessageChanged(text string)
	CallError(code domain.ErrorCode, detail string)
}
