// Package vapi places calls to a hosted voice assistant over its websocket
// call transport.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voicewidget/internal/domain"
	"voicewidget/internal/ports"
)

const (
	DefaultBaseURL    = "https://api.vapi.ai"
	defaultSampleRate = 16000
	defaultChunkSize  = 3200
)

var (
	ErrMissingAPIKey      = errors.New("vapi api key is not configured")
	ErrMissingAssistantID = errors.New("vapi assistant id is not configured")
	ErrCallRejected       = errors.New("vapi rejected the call")
)

// Config controls the assistant client.
type Config struct {
	APIKey     string
	BaseURL    string
	SampleRate int
	ChunkSize  int
	Audio      ports.AudioConfig
	HTTPClient *http.Client
}

// Client implements ports.VoiceClient.
type Client struct {
	cfg     Config
	capture ports.AudioCapture
	http    *http.Client
	dialer  *websocket.Dialer
	log     zerolog.Logger
}

// NewClient builds a client. capture feeds the uplink; when nil the call is
// listen-only.
func NewClient(cfg Config, capture ports.AudioCapture, log zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		cfg:     cfg,
		capture: capture,
		http:    httpClient,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log,
	}
}

// Start creates a call for the assistant and joins its audio stream.
func (c *Client) Start(ctx context.Context, target ports.CallTarget) (ports.VoiceSession, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	assistantID := strings.TrimSpace(target.AssistantID)
	if assistantID == "" {
		return nil, ErrMissingAssistantID
	}

	call, err := c.createCall(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("call_id", call.ID).Msg("vapi call created")

	conn, _, err := c.dialer.DialContext(ctx, call.Transport.WebsocketCallURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vapi call websocket: %w", err)
	}

	var mic ports.AudioSession
	if c.capture != nil {
		audioCfg := c.cfg.Audio
		audioCfg.SampleRate = c.cfg.SampleRate
		audioCfg.Channels = 1
		mic, err = c.capture.Start(ctx, audioCfg)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("start microphone uplink: %w", err)
		}
	}

	s := newSession(conn, mic, c.cfg.ChunkSize, c.log.With().Str("call_id", call.ID).Logger())
	s.emit(domain.SessionAccepted{})
	s.run()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.done:
		}
	}()
	return s, nil
}

type createCallRequest struct {
	AssistantID string           `json:"assistantId"`
	Transport   transportOptions `json:"transport"`
}

type transportOptions struct {
	Provider    string      `json:"provider"`
	AudioFormat audioFormat `json:"audioFormat"`
}

type audioFormat struct {
	Format     string `json:"format"`
	Container  string `json:"container"`
	SampleRate int    `json:"sampleRate"`
}

type createCallResponse struct {
	ID        string `json:"id"`
	Transport struct {
		WebsocketCallURL string `json:"websocketCallUrl"`
	} `json:"transport"`
}

func (c *Client) createCall(ctx context.Context, assistantID string) (createCallResponse, error) {
	body, err := json.Marshal(createCallRequest{
		AssistantID: assistantID,
		Transport: transportOptions{
			Provider: "vapi.websocket",
			AudioFormat: audioFormat{
				Format:     "pcm_s16le",
				Container:  "raw",
				SampleRate: c.cfg.SampleRate,
			},
		},
	})
	if err != nil {
		return createCallResponse{}, fmt.Errorf("encode call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return createCallResponse{}, fmt.Errorf("build call request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return createCallResponse{}, fmt.Errorf("create vapi call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return createCallResponse{}, fmt.Errorf("%w: %s: %s", ErrCallRejected, resp.Status, strings.TrimSpace(string(detail)))
	}

	var out createCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return createCallResponse{}, fmt.Errorf("decode call response: %w", err)
	}
	if strings.TrimSpace(out.Transport.WebsocketCallURL) == "" {
		return createCallResponse{}, fmt.Errorf("%w: response has no websocket call url", ErrCallRejected)
	}
	return out, nil
}
