package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voicewidget/internal/audio"
	"voicewidget/internal/domain"
	"voicewidget/internal/ports"
	"voicewidget/internal/typewriter"
	"voicewidget/internal/visualizer"
)

// callSession is one call attempt. All fields except wg, ctx and typing are
// guarded by CallController.mu.
type callSession struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	voice ports.VoiceSession
	state domain.CallState

	muted       bool
	aiHasSpoken bool
	elapsed     int
	startedAt   time.Time

	remote float64
	local  float64
	bars   [visualizer.BarCount]float64

	typewriter *typewriter.Typewriter
	typing     chan struct{}

	mic      *micMonitor
	micGen   int
	analyzer *audio.Analyzer
}

func newCallSession(parent context.Context) *callSession {
	ctx, cancel := context.WithCancel(parent)
	return &callSession{
		id:         uuid.New(),
		ctx:        ctx,
		cancel:     cancel,
		state:      domain.CallStateConnecting,
		bars:       visualizer.Rest(),
		typewriter: typewriter.New(),
		typing:     make(chan struct{}, 1),
	}
}

// spawn runs fn on a goroutine that teardown waits for.
func (s *callSession) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *callSession) wakeTypewriter() {
	select {
	case s.typing <- struct{}{}:
	default:
	}
}

// teardown releases what a detached session still holds. It runs outside
// the controller lock.
type teardown struct {
	session *callSession
	voice   ports.VoiceSession
	mic     *micMonitor
	log     zerolog.Logger
}

// run stops the microphone and the SDK session. wait must be false when
// called from one of the session's own goroutines.
func (t teardown) run(wait bool) {
	if t.mic != nil {
		t.mic.stop()
	}
	if t.voice != nil {
		if err := t.voice.SetMuted(false); err != nil {
			t.log.Debug().Err(err).Msg("unmute before stop failed")
		}
		if err := t.voice.Stop(); err != nil {
			t.log.Warn().Err(err).Msg("voice session stop failed")
		}
	}
	if wait {
		t.session.wg.Wait()
	}
}
