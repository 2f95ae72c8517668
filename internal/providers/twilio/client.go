// Package twilio places phone calls through a Twilio Media Streams bridge.
// A token endpoint authorizes the widget and the bridge relays the call
// audio over a websocket.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voicewidget/internal/ports"
)

const (
	// Media Streams audio is 8 kHz mono μ-law.
	SampleRate       = 8000
	defaultChunkSize = 320
)

var (
	ErrNotInitialized     = errors.New("twilio device is not initialized")
	ErrMissingTokenURL    = errors.New("twilio token url is not configured")
	ErrMissingMediaURL    = errors.New("twilio media url is not configured")
	ErrMissingPhoneNumber = errors.New("twilio phone number is not configured")
	ErrEmptyToken         = errors.New("twilio token endpoint returned no token")
)

// Config controls the telephony client.
type Config struct {
	TokenURL   string
	MediaURL   string
	ChunkSize  int
	Audio      ports.AudioConfig
	HTTPClient *http.Client
}

// Client implements ports.VoiceClient and ports.Initializer.
type Client struct {
	cfg     Config
	capture ports.AudioCapture
	http    *http.Client
	dialer  *websocket.Dialer
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(cfg Config, capture ports.AudioCapture, log zerolog.Logger) *Client {
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.MediaURL = strings.TrimSpace(cfg.MediaURL)
	if cfg.ChunkSize < 160 {
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

type tokenResponse struct {
	Token string `json:"token"`
}

// Initialize fetches an access token. It may be called again to retry.
func (c *Client) Initialize(ctx context.Context) error {
	if c.cfg.TokenURL == "" {
		return ErrMissingTokenURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.TokenURL, nil)
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch twilio token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("fetch twilio token: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode twilio token: %w", err)
	}
	if strings.TrimSpace(out.Token) == "" {
		return ErrEmptyToken
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	c.log.Info().Msg("twilio device ready")
	return nil
}

// Start dials the configured number through the media bridge.
func (c *Client) Start(ctx context.Context, target ports.CallTarget) (ports.VoiceSession, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return nil, ErrNotInitialized
	}
	phone := strings.TrimSpace(target.PhoneNumber)
	if phone == "" {
		return nil, ErrMissingPhoneNumber
	}

	mediaURL, err := buildMediaURL(c.cfg.MediaURL, phone)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	conn, _, err := c.dialer.DialContext(ctx, mediaURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to twilio media stream: %w", err)
	}

	var mic ports.AudioSession
	if c.capture != nil {
		audioCfg := c.cfg.Audio
		audioCfg.SampleRate = SampleRate
		audioCfg.Channels = 1
		mic, err = c.capture.Start(ctx, audioCfg)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("start microphone uplink: %w", err)
		}
	}

	s := newSession(conn, mic, c.cfg.ChunkSize, c.log.With().Str("to", phone).Logger())
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

func buildMediaURL(base, phone string) (string, error) {
	if base == "" {
		return "", ErrMissingMediaURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid twilio media url: %w", err)
	}
	query := u.Query()
	query.Set("To", phone)
	u.RawQuery = query.Encode()
	return u.String(), nil
}
