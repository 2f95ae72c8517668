package usecase

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voicewidget/internal/audio"
	"voicewidget/internal/domain"
	"voicewidget/internal/ports"
)

const (
	timerPeriod  = time.Second
	typingPeriod = 100 * time.Millisecond
	framePeriod  = 16 * time.Millisecond
	waitFor      = 2 * time.Second
	pollEvery    = 2 * time.Millisecond
)

type fakeTicker struct {
	ch chan time.Time

	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// fire blocks until the owning loop has received the tick.
func (f *fakeTicker) fire(t *testing.T) {
	t.Helper()
	select {
	case f.ch <- time.Now():
	case <-time.After(waitFor):
		t.Fatalf("tick was not consumed")
	}
}

// tryFire is fire for use inside polling conditions.
func (f *fakeTicker) tryFire() bool {
	select {
	case f.ch <- time.Now():
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

type fakeTickers struct {
	mu       sync.Mutex
	byPeriod map[time.Duration][]*fakeTicker
}

func newFakeTickers() *fakeTickers {
	return &fakeTickers{byPeriod: map[time.Duration][]*fakeTicker{}}
}

func (f *fakeTickers) New(period time.Duration) ports.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticker := &fakeTicker{ch: make(chan time.Time)}
	f.byPeriod[period] = append(f.byPeriod[period], ticker)
	return ticker
}

func (f *fakeTickers) count(period time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byPeriod[period])
}

// nth waits until at least n tickers exist for period and returns the nth.
func (f *fakeTickers) nth(t *testing.T, period time.Duration, n int) *fakeTicker {
	t.Helper()
	require.Eventually(t, func() bool { return f.count(period) >= n }, waitFor, pollEvery)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byPeriod[period][n-1]
}

type fakeVoiceSession struct {
	events chan domain.SessionEvent

	mu          sync.Mutex
	mutedCalls  []bool
	setMutedErr error
	stopCalls   int
}

func newFakeVoiceSession() *fakeVoiceSession {
	return &fakeVoiceSession{events: make(chan domain.SessionEvent)}
}

func (f *fakeVoiceSession) Events() <-chan domain.SessionEvent { return f.events }

func (f *fakeVoiceSession) SetMuted(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setMutedErr != nil {
		return f.setMutedErr
	}
	f.mutedCalls = append(f.mutedCalls, muted)
	return nil
}

func (f *fakeVoiceSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeVoiceSession) send(t *testing.T, ev domain.SessionEvent) {
	t.Helper()
	select {
	case f.events <- ev:
	case <-time.After(waitFor):
		t.Fatalf("event %T was not consumed", ev)
	}
}

func (f *fakeVoiceSession) snapshot() ([]bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.mutedCalls...), f.stopCalls
}

func (f *fakeVoiceSession) setMuteError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setMutedErr = err
}

type fakeVoiceClient struct {
	mu       sync.Mutex
	sessions []*fakeVoiceSession
	err      error
	calls    int
	targets  []ports.CallTarget

	// release, when set, holds Start until closed.
	release   chan struct{}
	ignoreCtx bool
}

func (f *fakeVoiceClient) Start(ctx context.Context, target ports.CallTarget) (ports.VoiceSession, error) {
	if f.release != nil {
		if f.ignoreCtx {
			<-f.release
		} else {
			select {
			case <-f.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no voice session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeInitClient struct {
	fakeVoiceClient

	initMu  sync.Mutex
	initErr error
	inits   int
}

func (f *fakeInitClient) Initialize(context.Context) error {
	f.initMu.Lock()
	defer f.initMu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeInitClient) setInitError(err error) {
	f.initMu.Lock()
	defer f.initMu.Unlock()
	f.initErr = err
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []*fakeMicSession
	err      error
	calls    int
	configs  []ports.AudioConfig
}

func (f *fakeAudioCapture) Start(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	if f.calls > len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	return f.sessions[f.calls-1], nil
}

func (f *fakeAudioCapture) configAt(i int) ports.AudioConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[i]
}

func (f *fakeAudioCapture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeMicSession yields its chunks and then blocks like a live device until
// stopped.
type fakeMicSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
	stopped   chan struct{}
	once      sync.Once
}

func newFakeMicSession(chunks ...[]byte) *fakeMicSession {
	return &fakeMicSession{chunks: chunks, stopped: make(chan struct{})}
}

func (f *fakeMicSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.index < len(f.chunks) {
		n := copy(p, f.chunks[f.index])
		f.index++
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()
	<-f.stopped
	return 0, io.EOF
}

func (f *fakeMicSession) Close() error { return f.Stop() }

func (f *fakeMicSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.once.Do(func() { close(f.stopped) })
	return nil
}

func (f *fakeMicSession) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

// toneChunk returns little-endian PCM16 for a sine at 1/16 of the sample rate.
func toneChunk(samples int, amplitude float64) []byte {
	tone := make([]float64, samples)
	for i := range tone {
		tone[i] = amplitude * math.Sin(2*math.Pi*float64(i)/16)
	}
	return audio.EncodePCM16LE(tone)
}

type stateEvent struct {
	state  domain.CallState
	reason domain.CallStateReason
}

type errorEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu       sync.Mutex
	states   []stateEvent
	timers   []int
	volumes  []domain.VolumeLevels
	mutes    []bool
	tiers    []domain.VolumeTier
	messages []string
	errors   []errorEvent
}

func (f *fakeEventSink) CallStateChanged(state domain.CallState, reason domain.CallStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TimerChanged(seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timers = append(f.timers, seconds)
}

func (f *fakeEventSink) VolumeChanged(levels domain.VolumeLevels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, levels)
}

func (f *fakeEventSink) MuteChanged(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutes = append(f.mutes, muted)
}

func (f *fakeEventSink) VolumeTierChanged(tier domain.VolumeTier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tiers = append(f.tiers, tier)
}

func (f *fakeEventSink) MessageChanged(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
}

func (f *fakeEventSink) CallError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errorEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateEvent(nil), f.states...)
}

func (f *fakeEventSink) snapshotErrors() []errorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errorEvent(nil), f.errors...)
}

func (f *fakeEventSink) snapshotMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeEventSink) lastTimer() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return 0, false
	}
	return f.timers[len(f.timers)-1], true
}

func (f *fakeEventSink) lastMute() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.mutes) == 0 {
		return false, false
	}
	return f.mutes[len(f.mutes)-1], true
}

func (f *fakeEventSink) lastVolume() domain.VolumeLevels {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.volumes) == 0 {
		return domain.VolumeLevels{}
	}
	return f.volumes[len(f.volumes)-1]
}

func (f *fakeEventSink) hasError(code domain.ErrorCode) bool {
	for _, e := range f.snapshotErrors() {
		if e.code == code {
			return true
		}
	}
	return false
}

func (f *fakeEventSink) countState(state domain.CallState) int {
	n := 0
	for _, s := range f.snapshotStates() {
		if s.state == state {
			n++
		}
	}
	return n
}
