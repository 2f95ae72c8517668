package vapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voicewidget/internal/audio"
	"voicewidget/internal/domain"
	"voicewidget/internal/ports"
)

var ErrSessionClosed = errors.New("vapi session is closed")

var endCallMessage = []byte(`{"type":"end-call"}`)

const writeTimeout = time.Second

type session struct {
	conn      *websocket.Conn
	mic       ports.AudioSession
	chunkSize int
	log       zerolog.Logger

	events   chan domain.SessionEvent
	stopping chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	muted    atomic.Bool
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

// SetMuted replaces uplink audio with silence while muted.
func (s *session) SetMuted(muted bool) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	s.muted.Store(muted)
	s.log.Debug().Bool("muted", muted).Msg("vapi uplink mute changed")
	return nil
}

// Stop asks the assistant to hang up and tears the connection down.
func (s *session) Stop() error {
	s.stopOnce.Do(func() {
		if err := s.write(websocket.TextMessage, endCallMessage); err != nil {
			s.log.Debug().Err(err).Msg("end-call not delivered")
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
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if s.stopped() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(domain.SessionEnded{Reason: "connection closed"})
				return
			}
			s.emit(domain.SessionError{Err: fmt.Errorf("failed to read vapi message: %w", err)})
			return
		}

		if messageType == websocket.BinaryMessage {
			s.emit(domain.RemoteVolume{Level: audio.RMS(audio.DecodePCM16LE(payload))})
			continue
		}

		event, final := parseControlMessage(payload)
		if event != nil {
			s.emit(event)
		}
		if final {
			return
		}
	}
}

func (s *session) uplinkLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.chunkSize)
	var silence []byte
	for {
		n, err := s.mic.Read(buf)
		if n > 0 {
			frame := buf[:n]
			if s.muted.Load() {
				if len(silence) < n {
					silence = make([]byte, n)
				}
				frame = silence[:n]
			}
			if writeErr := s.write(websocket.BinaryMessage, frame); writeErr != nil {
				if !s.stopped() {
					s.log.Debug().Err(writeErr).Msg("uplink write failed")
				}
				return
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

type controlMessage struct {
	Type           string `json:"type"`
	Role           string `json:"role"`
	TranscriptType string `json:"transcriptType"`
	Transcript     string `json:"transcript"`
	Status         string `json:"status"`
	EndedReason    string `json:"endedReason"`
}

// parseControlMessage maps a text frame to a session event. final reports
// that no further frames are expected.
func parseControlMessage(payload []byte) (domain.SessionEvent, bool) {
	var msg controlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, false
	}

	switch msg.Type {
	case "transcript":
		if msg.TranscriptType != "final" || msg.Role != "assistant" {
			return nil, false
		}
		text := strings.TrimSpace(msg.Transcript)
		if text == "" {
			return nil, false
		}
		return domain.TranscriptFinal{Text: text}, false
	case "status-update":
		if msg.Status != "ended" {
			return nil, false
		}
		reason := msg.EndedReason
		if reason == "" {
			reason = "ended"
		}
		return domain.SessionEnded{Reason: reason}, true
	default:
		return nil, false
	}
}
