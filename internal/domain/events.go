package domain

// SessionEvent is one notification from a voice SDK session.
// The concrete types below are the only implementations.
type SessionEvent interface {
	sessionEvent()
}

// RemoteVolume carries the remote party's amplitude in [0,1].
type RemoteVolume struct {
	Level float64
}

// LocalVolume carries the local amplitude when the SDK measures it itself.
type LocalVolume struct {
	Level float64
}

// TranscriptFinal carries a final assistant transcript.
type TranscriptFinal struct {
	Text string
}

// SessionAccepted reports that the remote side accepted the call.
type SessionAccepted struct{}

// SessionEnded reports that the remote side ended the call.
type SessionEnded struct {
	Reason string
}

// SessionError reports a transport failure.
type SessionError struct {
	Err error
}

func (RemoteVolume) sessionEvent()    {}
func (LocalVolume) sessionEvent()     {}
func (TranscriptFinal) sessionEvent() {}
func (SessionAccepted) sessionEvent() {}
func (SessionEnded) sessionEvent()    {}
func (SessionError) sessionEvent()    {}
