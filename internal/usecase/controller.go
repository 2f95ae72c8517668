package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voicewidget/internal/audio"
	"voicewidget/internal/domain"
	"voicewidget/internal/ports"
	"voicewidget/internal/visualizer"
)

var ErrNotInitialized = errors.New("voice client is not initialized")

// Config controls call behavior.
type Config struct {
	Target         ports.CallTarget
	Audio          ports.AudioConfig
	FFTSize        int
	FrameInterval  time.Duration
	TypingInterval time.Duration
	MaxBarHeight   float64
	InitialTier    domain.VolumeTier

	// SpeakingOnAccept enters Speaking when the SDK accepts the call instead
	// of on the first nonzero remote volume.
	SpeakingOnAccept bool
	// SessionMetersLocal means the SDK reports the local volume itself and
	// no microphone monitor is needed.
	SessionMetersLocal bool
}

// Option customizes a CallController.
type Option func(*CallController)

// WithTickerFactory replaces the wall-clock tickers.
func WithTickerFactory(factory ports.TickerFactory) Option {
	return func(c *CallController) {
		if factory != nil {
			c.newTicker = factory
		}
	}
}

// WithVisualizer replaces the bar height generator.
func WithVisualizer(v *visualizer.Visualizer) Option {
	return func(c *CallController) {
		if v != nil {
			c.bars = v
		}
	}
}

// CallController drives the call widget state machine.
type CallController struct {
	client    ports.VoiceClient
	capture   ports.AudioCapture
	events    ports.EventSink
	log       zerolog.Logger
	cfg       Config
	newTicker ports.TickerFactory
	bars      *visualizer.Visualizer

	mu      sync.Mutex
	ready   bool
	tier    domain.VolumeTier
	current *callSession
}

func NewCallController(
	client ports.VoiceClient,
	capture ports.AudioCapture,
	events ports.EventSink,
	log zerolog.Logger,
	cfg Config,
	opts ...Option,
) *CallController {
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = 100 * time.Millisecond
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 16 * time.Millisecond
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = audio.DefaultFFTSize
	}
	if cfg.InitialTier < 0 || cfg.InitialTier >= domain.VolumeTierCount {
		cfg.InitialTier = domain.DefaultVolumeTier
	}

	_, needsInit := client.(ports.Initializer)
	c := &CallController{
		client:    client,
		capture:   capture,
		events:    events,
		log:       log,
		cfg:       cfg,
		newTicker: NewClockTicker,
		bars:      visualizer.New(cfg.MaxBarHeight, nil),
		ready:     !needsInit,
		tier:      cfg.InitialTier,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize prepares the voice client. Until it succeeds the call button is
// disabled. It may be called again after a failure.
func (c *CallController) Initialize(ctx context.Context) error {
	if init, ok := c.client.(ports.Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			c.log.Error().Err(err).Msg("voice client initialization failed")
			c.mu.Lock()
			c.ready = false
			c.events.CallError(domain.ErrorCodeInitialize, err.Error())
			if c.current == nil {
				c.events.CallStateChanged(domain.CallStateDisabled, domain.CallReasonNotInitialized)
			}
			c.mu.Unlock()
			return fmt.Errorf("initialize voice client: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = true
	if c.current == nil {
		c.events.CallStateChanged(domain.CallStateIdle, domain.CallReasonReady)
	}
	return nil
}

// ToggleCall starts a call when idle and ends it otherwise. A started call
// lives no longer than ctx. Ending a call never requires the client to be
// initialized.
func (c *CallController) ToggleCall(ctx context.Context) (domain.CallStatus, error) {
	c.mu.Lock()
	if active := c.current; active != nil {
		td := c.endLocked(active, domain.CallReasonCallEnded)
		st := c.statusLocked()
		c.mu.Unlock()
		td.run(true)
		return st, nil
	}
	if !c.ready {
		st := c.statusLocked()
		c.mu.Unlock()
		return st, ErrNotInitialized
	}

	session := newCallSession(ctx)
	c.current = session
	c.events.CallStateChanged(domain.CallStateConnecting, domain.CallReasonCallStarted)
	c.mu.Unlock()

	c.log.Info().Str("session", session.id.String()).Msg("starting call")
	voice, err := c.client.Start(session.ctx, c.cfg.Target)

	c.mu.Lock()
	if c.current != session {
		st := c.statusLocked()
		c.mu.Unlock()
		if err == nil {
			c.log.Debug().Str("session", session.id.String()).Msg("stopping session started after call ended")
			_ = voice.Stop()
		}
		return st, nil
	}
	if err != nil {
		c.log.Error().Err(err).Str("session", session.id.String()).Msg("call start failed")
		c.events.CallError(domain.ErrorCodeConnect, err.Error())
		td := c.endLocked(session, domain.CallReasonConnectFailed)
		st := c.statusLocked()
		c.mu.Unlock()
		td.run(true)
		return st, fmt.Errorf("start call: %w", err)
	}

	session.voice = voice
	session.state = domain.CallStateWaiting
	c.events.CallStateChanged(domain.CallStateWaiting, domain.CallReasonCallConnected)
	session.spawn(func() { c.consumeEvents(session, voice.Events()) })
	session.spawn(func() { c.runTypewriter(session) })
	st := c.statusLocked()
	c.mu.Unlock()
	return st, nil
}

// ToggleMute flips the microphone mute while the assistant is speaking.
// In any other state it does nothing.
func (c *CallController) ToggleMute() (domain.CallStatus, error) {
	c.mu.Lock()
	s := c.current
	if s == nil || s.state != domain.CallStateSpeaking || s.voice == nil {
		st := c.statusLocked()
		c.mu.Unlock()
		return st, nil
	}

	want := !s.muted
	if err := s.voice.SetMuted(want); err != nil {
		c.log.Error().Err(err).Bool("muted", want).Msg("mute request failed")
		c.events.CallError(domain.ErrorCodeMute, err.Error())
		st := c.statusLocked()
		c.mu.Unlock()
		return st, fmt.Errorf("set muted: %w", err)
	}

	s.muted = want
	c.events.MuteChanged(want)

	var stopped *micMonitor
	if want {
		stopped = s.mic
		s.mic = nil
		s.local = 0
		c.emitVolumesLocked(s)
	} else {
		c.startMicLocked(s)
	}
	st := c.statusLocked()
	c.mu.Unlock()

	if stopped != nil {
		stopped.stop()
	}
	return st, nil
}

// ChangeVolume advances the display-only volume tier.
func (c *CallController) ChangeVolume() domain.CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tier = c.tier.Next()
	c.events.VolumeTierChanged(c.tier)
	return c.statusLocked()
}

// Status returns the current widget status.
func (c *CallController) Status() domain.CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Close ends any active call.
func (c *CallController) Close() {
	c.mu.Lock()
	var td *teardown
	if active := c.current; active != nil {
		t := c.endLocked(active, domain.CallReasonCallEnded)
		td = &t
	}
	c.mu.Unlock()

	if td != nil {
		td.run(true)
	}
}

func (c *CallController) statusLocked() domain.CallStatus {
	st := domain.CallStatus{
		State:      domain.CallStateDisabled,
		Ready:      c.ready,
		Elapsed:    domain.FormatElapsed(0),
		VolumeTier: c.tier,
		Bars:       visualizer.Rest(),
	}
	if c.ready {
		st.State = domain.CallStateIdle
	}

	s := c.current
	if s == nil {
		return st
	}
	st.State = s.state
	st.Active = s.state.Active()
	st.Muted = s.muted
	st.AIHasSpoken = s.aiHasSpoken
	st.ElapsedSeconds = s.elapsed
	st.Elapsed = domain.FormatElapsed(s.elapsed)
	st.RemoteVolume = s.remote
	st.LocalVolume = s.local
	st.Bars = s.bars
	st.Message = s.typewriter.Displayed()
	return st
}

// endLocked detaches the session and emits the reset values. The returned
// teardown must be run after the lock is released.
func (c *CallController) endLocked(s *callSession, reason domain.CallStateReason) teardown {
	s.cancel()
	td := teardown{session: s, voice: s.voice, mic: s.mic, log: c.log}
	s.mic = nil
	c.current = nil

	entry := c.log.Info().
		Str("session", s.id.String()).
		Str("reason", string(reason))
	if s.aiHasSpoken {
		entry = entry.Dur("talk_time", time.Since(s.startedAt))
	}
	entry.Msg("call ended")

	if c.ready {
		c.events.CallStateChanged(domain.CallStateIdle, reason)
	} else {
		c.events.CallStateChanged(domain.CallStateDisabled, reason)
	}
	c.events.TimerChanged(0)
	c.events.MuteChanged(false)
	c.events.MessageChanged("")
	c.events.VolumeChanged(domain.VolumeLevels{Bars: visualizer.Rest()})
	return td
}

func (c *CallController) consumeEvents(s *callSession, events <-chan domain.SessionEvent) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.dispatch(s, domain.SessionEnded{Reason: "session closed"})
				return
			}
			c.dispatch(s, ev)
		}
	}
}

// dispatch applies one SDK event. Events from a session that is no longer
// current are dropped.
func (c *CallController) dispatch(s *callSession, ev domain.SessionEvent) {
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		c.log.Debug().Str("session", s.id.String()).Msgf("dropping stale %T", ev)
		return
	}

	var td *teardown
	switch e := ev.(type) {
	case domain.RemoteVolume:
		s.remote = clampLevel(e.Level)
		s.bars = c.bars.Bars(s.remote)
		c.emitVolumesLocked(s)
		if s.remote > 0 && !s.aiHasSpoken {
			c.enterSpeakingLocked(s)
		}
	case domain.LocalVolume:
		// The user level stays at zero until the assistant has spoken.
		if s.muted || !s.aiHasSpoken {
			break
		}
		s.local = clampLevel(e.Level)
		c.emitVolumesLocked(s)
	case domain.TranscriptFinal:
		before := s.typewriter.Displayed()
		s.typewriter.SetTarget(e.Text)
		if after := s.typewriter.Displayed(); after != before {
			c.events.MessageChanged(after)
		}
		s.wakeTypewriter()
	case domain.SessionAccepted:
		if c.cfg.SpeakingOnAccept && !s.aiHasSpoken {
			c.enterSpeakingLocked(s)
		}
	case domain.SessionEnded:
		c.log.Info().Str("session", s.id.String()).Str("detail", e.Reason).Msg("session ended by remote")
		t := c.endLocked(s, domain.CallReasonRemoteEnded)
		td = &t
	case domain.SessionError:
		c.log.Error().Err(e.Err).Str("session", s.id.String()).Msg("voice session error")
		detail := "voice session failed"
		if e.Err != nil {
			detail = e.Err.Error()
		}
		c.events.CallError(domain.ErrorCodeSession, detail)
		t := c.endLocked(s, domain.CallReasonSessionFailed)
		td = &t
	}
	c.mu.Unlock()

	if td != nil {
		td.run(false)
	}
}

func (c *CallController) enterSpeakingLocked(s *callSession) {
	s.aiHasSpoken = true
	s.state = domain.CallStateSpeaking
	s.startedAt = time.Now()
	c.events.CallStateChanged(domain.CallStateSpeaking, domain.CallReasonRemoteSpeaking)

	timer := c.newTicker(time.Second)
	s.spawn(func() { c.runTimer(s, timer) })
	c.startMicLocked(s)
}

func (c *CallController) runTimer(s *callSession, t ports.Ticker) {
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C():
			c.mu.Lock()
			if c.current == s {
				s.elapsed++
				c.events.TimerChanged(s.elapsed)
			}
			c.mu.Unlock()
		}
	}
}

// startMicLocked begins local level sampling when unmuted and the assistant
// has spoken.
func (c *CallController) startMicLocked(s *callSession) {
	if c.cfg.SessionMetersLocal || c.capture == nil {
		return
	}
	if s.muted || !s.aiHasSpoken || s.mic != nil {
		return
	}

	cfg := c.cfg.Audio
	cfg.Channels = 1
	if s.analyzer == nil {
		s.analyzer = audio.NewAnalyzer(c.cfg.FFTSize)
	} else {
		s.analyzer.Reset()
	}
	s.micGen++
	gen := s.micGen
	s.mic = startMicMonitor(
		s.ctx,
		c.capture,
		cfg,
		s.analyzer,
		c.newTicker(c.cfg.FrameInterval),
		func(level float64) { c.localSample(s, gen, level) },
		func(err error) { c.micFailed(s, gen, err) },
	)
}

func (c *CallController) localSample(s *callSession, gen int, level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != s || s.micGen != gen || s.mic == nil || s.muted {
		return
	}
	s.local = clampLevel(level)
	c.emitVolumesLocked(s)
}

func (c *CallController) micFailed(s *callSession, gen int, err error) {
	c.log.Error().Err(err).Str("session", s.id.String()).Msg("microphone unavailable")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != s || s.micGen != gen {
		return
	}
	s.local = 0
	c.events.CallError(domain.ErrorCodeMicrophone, err.Error())
	c.emitVolumesLocked(s)
}

// runTypewriter reveals the latest transcript one character per tick.
func (c *CallController) runTypewriter(s *callSession) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.typing:
		}

		c.mu.Lock()
		stale := c.current != s
		done := s.typewriter.Done()
		c.mu.Unlock()
		if stale {
			return
		}
		if done {
			continue
		}
		if !c.typeUntilDone(s) {
			return
		}
	}
}

func (c *CallController) typeUntilDone(s *callSession) bool {
	t := c.newTicker(c.cfg.TypingInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return false
		case <-t.C():
			c.mu.Lock()
			if c.current != s {
				c.mu.Unlock()
				return false
			}
			text, done := s.typewriter.Tick()
			c.events.MessageChanged(text)
			c.mu.Unlock()
			if done {
				return true
			}
		}
	}
}

func (c *CallController) emitVolumesLocked(s *callSession) {
	c.events.VolumeChanged(domain.VolumeLevels{
		Remote: s.remote,
		Local:  s.local,
		Bars:   s.bars,
	})
}

func clampLevel(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
