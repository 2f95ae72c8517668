package domain

import "fmt"

// CallState models the call widget lifecycle.
type CallState string

const (
	CallStateDisabled   CallState = "disabled"
	CallStateIdle       CallState = "idle"
	CallStateConnecting CallState = "connecting"
	CallStateWaiting    CallState = "waiting"
	CallStateSpeaking   CallState = "speaking"
)

// Active reports whether a call session exists in this state.
func (s CallState) Active() bool {
	switch s {
	case CallStateConnecting, CallStateWaiting, CallStateSpeaking:
		return true
	default:
		return false
	}
}

// CallStateReason provides a structured reason for state transitions.
type CallStateReason string

const (
	CallReasonNotInitialized CallStateReason = "not_initialized"
	CallReasonReady          CallStateReason = "ready"
	CallReasonCallStarted    CallStateReason = "call_started"
	CallReasonCallConnected  CallStateReason = "call_connected"
	CallReasonRemoteSpeaking CallStateReason = "remote_speaking"
	CallReasonCallEnded      CallStateReason = "call_ended"
	CallReasonRemoteEnded    CallStateReason = "remote_ended"
	CallReasonConnectFailed  CallStateReason = "connect_failed"
	CallReasonSessionFailed  CallStateReason = "session_failed"
)

// ErrorCode identifies non-fatal backend errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeInitialize ErrorCode = "initialize"
	ErrorCodeConnect    ErrorCode = "connect"
	ErrorCodeSession    ErrorCode = "session"
	ErrorCodeMute       ErrorCode = "mute"
	ErrorCodeMicrophone ErrorCode = "microphone"
)

// VolumeTier is the display-only speaker volume indicator.
type VolumeTier int

const (
	VolumeTierCount   = 4
	DefaultVolumeTier = VolumeTier(2)
)

// Next cycles the tier with wraparound.
func (t VolumeTier) Next() VolumeTier {
	return VolumeTier((int(t) + 1) % VolumeTierCount)
}

// VolumeLevels is the latest audio feedback for the UI.
type VolumeLevels struct {
	Remote float64    `json:"remote"`
	Local  float64    `json:"local"`
	Bars   [4]float64 `json:"bars"`
}

// CallStatus summarizes the widget state for the UI.
type CallStatus struct {
	State          CallState  `json:"state"`
	Active         bool       `json:"active"`
	Ready          bool       `json:"ready"`
	Muted          bool       `json:"muted"`
	AIHasSpoken    bool       `json:"aiHasSpoken"`
	ElapsedSeconds int        `json:"elapsedSeconds"`
	Elapsed        string     `json:"elapsed"`
	VolumeTier     VolumeTier `json:"volumeTier"`
	RemoteVolume   float64    `json:"remoteVolume"`
	LocalVolume    float64    `json:"localVolume"`
	Bars           [4]float64 `json:"bars"`
	Message        string     `json:"message"`
}

// FormatElapsed renders seconds as zero-padded mm:ss.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
