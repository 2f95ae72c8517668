package twilio

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/zaf/g711"

	"voicewidget/internal/audio"
	"voicewidget/internal/domain"
	"voicewidget/internal/ports"
)

const writeTimeout = time.Second

// Media Streams message types.
type mediaMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startMessage `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Stop      *stopMessage  `json:"stop,omitempty"`
}

type startMessage struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`
}

type mediaPayload struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type stopMessage struct {
	CallSID string `json:"callSid"`
}

type session struct {
	conn      *websocket.Conn
	mic       ports.AudioSession
	chunkSize int
	log       zerolog.Logger

	events   chan domain.SessionEvent
	stopping chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	mu        sync.RWMutex
	streamSID string

	writeMu  sync.Mutex
	stopOnce sync.Once
}

func newSession(conn *websocket.Conn, mic ports.AudioSession, chunkSize int, log zerolog.Logger) *session {
	return &session{
		conn:      conn,
		mic:       mic,
		chunkSize: chunkSize,
		log:       log,
		events:    make(chan domain.SessionEvent, 64),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *session) run() {
	s.wg.Add(1)
	go s.readLoop()
	if s.mic != nil {
		s.wg.Add(1)
		go s.uplinkLoop()
	}
	go func() {
		s.wg.Wait()
		close(s.events)
		_ = s.conn.Close()
		close(s.done)
	}()
}

func (s *session) Events() <-chan domain.SessionEvent {
	return s.events
}

// SetMuted is accepted but the media stream keeps flowing.
// TODO: forward mute once the bridge supports a mute control message.
func (s *session) SetMuted(muted bool) error {
	s.log.Debug().Bool("muted", muted).Msg("mute is not forwarded to the media stream")
	return nil
}

// Stop hangs up. It is safe to call more than once.
func (s *session) Stop() error {
	s.stopOnce.Do(func() {
		stop := mediaMessage{Event: "stop", StreamSID: s.sid()}
		if err := s.writeJSON(stop); err != nil {
			s.log.Debug().Err(err).Msg("stop not delivered")
		}
		_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		close(s.stopping)
		if s.mic != nil {
			_ = s.mic.Stop()
		}
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *session) sid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSID
}

func (s *session) writeJSON(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, payload)
}

func (s *session) write(messageType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, payload)
}

func (s *session) stopped() bool {
	select {
	case <-s.stopping:
		return true
	default:
		return false
	}
}

func (s *session) emit(event domain.SessionEvent) {
	select {
	case s.events <- event:
	case <-s.stopping:
	}
}

func (s *session) readLoop() {
	defer s.wg.Done()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.stopped() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(domain.SessionEnded{Reason: "connection closed"})
				return
			}
			s.emit(domain.SessionError{Err: fmt.Errorf("failed to read media stream: %w", err)})
			return
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Event {
		case "connected":
			s.log.Debug().Msg("media stream connected")
		case "start":
			sid := msg.StreamSID
			if msg.Start != nil && msg.Start.StreamSID != "" {
				sid = msg.Start.StreamSID
			}
			s.mu.Lock()
			s.streamSID = sid
			s.mu.Unlock()
			s.log.Info().Str("stream_sid", sid).Msg("call accepted")
			s.emit(domain.SessionAccepted{})
		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			ulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			s.emit(domain.RemoteVolume{Level: ulawLevel(ulaw)})
		case "stop":
			s.emit(domain.SessionEnded{Reason: "call completed"})
			return
		}
	}
}

// uplinkLoop sends microphone audio as μ-law media frames and reports its
// level as the local volume.
func (s *session) uplinkLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.chunkSize)
	var carry []byte
	for {
		n, err := s.mic.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			pcm := data[:even]
			carry = append(carry[:0:0], data[even:]...)

			s.emit(domain.LocalVolume{Level: audio.RMS(audio.DecodePCM16LE(pcm))})

			if sid := s.sid(); sid != "" && len(pcm) > 0 {
				frame := mediaMessage{
					Event:     "media",
					StreamSID: sid,
					Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(g711.EncodeUlaw(pcm))},
				}
				if writeErr := s.writeJSON(frame); writeErr != nil {
					if !s.stopped() {
						s.log.Debug().Err(writeErr).Msg("uplink write failed")
					}
					return
				}
			}
		}
		if err != nil {
			if !s.stopped() && !errors.Is(err, io.EOF) {
				s.emit(domain.SessionError{Err: fmt.Errorf("microphone uplink: %w", err)})
			}
			return
		}
	}
}

// ulawLevel returns the RMS of a μ-law frame.
func ulawLevel(ulaw []byte) float64 {
	return audio.RMS(audio.DecodePCM16LE(g711.DecodeUlaw(ulaw)))
}
