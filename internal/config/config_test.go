package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	want := Default()
	if cfg.Widget != want.Widget {
		t.Fatalf("unexpected widget config: %+v", cfg.Widget)
	}
	if cfg.Audio != want.Audio {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Analyzer != want.Analyzer {
		t.Fatalf("unexpected analyzer config: %+v", cfg.Analyzer)
	}
	if cfg.Vapi.BaseURL != "https://api.vapi.ai" {
		t.Fatalf("unexpected vapi base url: %q", cfg.Vapi.BaseURL)
	}
}

func TestLoadRespectsEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VOICEWIDGET_WIDGET_MODE", "Twilio")
	t.Setenv("VOICEWIDGET_WIDGET_ELEMENT_ID", "call-box")
	t.Setenv("VOICEWIDGET_WIDGET_TYPING_INTERVAL", "40ms")
	t.Setenv("VOICEWIDGET_WIDGET_MAX_BAR_HEIGHT", "120")
	t.Setenv("VOICEWIDGET_WIDGET_VOLUME_TIER", "3")
	t.Setenv("VOICEWIDGET_VAPI_API_KEY", "pk-test")
	t.Setenv("VOICEWIDGET_VAPI_ASSISTANT_ID", "asst-1")
	t.Setenv("VOICEWIDGET_VAPI_BASE_URL", "http://localhost:9000/")
	t.Setenv("VOICEWIDGET_TWILIO_TOKEN_URL", "http://localhost:9001/token")
	t.Setenv("VOICEWIDGET_TWILIO_MEDIA_URL", "ws://localhost:9002/media")
	t.Setenv("VOICEWIDGET_TWILIO_PHONE_NUMBER", "+15550001111")
	t.Setenv("VOICEWIDGET_AUDIO_RECORDER_COMMAND", "my-ffmpeg")
	t.Setenv("VOICEWIDGET_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("VOICEWIDGET_AUDIO_INPUT_DEVICE", "mic0")
	t.Setenv("VOICEWIDGET_AUDIO_SAMPLE_RATE", "8000")
	t.Setenv("VOICEWIDGET_ANALYZER_FFT_SIZE", "512")
	t.Setenv("VOICEWIDGET_ANALYZER_FRAME_INTERVAL", "33ms")
	t.Setenv("VOICEWIDGET_LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Widget.Mode != ModeTwilio || cfg.Widget.ElementID != "call-box" {
		t.Fatalf("unexpected widget config: %+v", cfg.Widget)
	}
	if cfg.Widget.TypingInterval != 40*time.Millisecond || cfg.Widget.MaxBarHeight != 120 || cfg.Widget.VolumeTier != 3 {
		t.Fatalf("unexpected widget tuning: %+v", cfg.Widget)
	}
	if cfg.Vapi.APIKey != "pk-test" || cfg.Vapi.AssistantID != "asst-1" || cfg.Vapi.BaseURL != "http://localhost:9000" {
		t.Fatalf("unexpected vapi config: %+v", cfg.Vapi)
	}
	if cfg.Twilio.TokenURL != "http://localhost:9001/token" || cfg.Twilio.MediaURL != "ws://localhost:9002/media" || cfg.Twilio.PhoneNumber != "+15550001111" {
		t.Fatalf("unexpected twilio config: %+v", cfg.Twilio)
	}
	if cfg.Audio.RecorderCommand != "my-ffmpeg" || cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "mic0" || cfg.Audio.SampleRate != 8000 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Analyzer.FFTSize != 512 || cfg.Analyzer.FrameInterval != 33*time.Millisecond {
		t.Fatalf("unexpected analyzer config: %+v", cfg.Analyzer)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.Log.Level)
	}
}

func TestLoadInvalidValuesFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VOICEWIDGET_WIDGET_TYPING_INTERVAL", "bad")
	t.Setenv("VOICEWIDGET_WIDGET_MAX_BAR_HEIGHT", "-5")
	t.Setenv("VOICEWIDGET_WIDGET_VOLUME_TIER", "9")
	t.Setenv("VOICEWIDGET_AUDIO_SAMPLE_RATE", "bad")
	t.Setenv("VOICEWIDGET_AUDIO_CHANNELS", "-1")
	t.Setenv("VOICEWIDGET_ANALYZER_FFT_SIZE", "300")
	t.Setenv("VOICEWIDGET_ANALYZER_FRAME_INTERVAL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	d := Default()
	if cfg.Widget.TypingInterval != d.Widget.TypingInterval {
		t.Fatalf("expected default typing interval, got %s", cfg.Widget.TypingInterval)
	}
	if cfg.Widget.MaxBarHeight != d.Widget.MaxBarHeight {
		t.Fatalf("expected default bar height, got %v", cfg.Widget.MaxBarHeight)
	}
	if cfg.Widget.VolumeTier != d.Widget.VolumeTier {
		t.Fatalf("expected default volume tier, got %d", cfg.Widget.VolumeTier)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("expected default sample rate/channels, got %+v", cfg.Audio)
	}
	if cfg.Analyzer.FFTSize != 256 {
		t.Fatalf("expected power-of-two fallback, got %d", cfg.Analyzer.FFTSize)
	}
	if cfg.Analyzer.FrameInterval != 16*time.Millisecond {
		t.Fatalf("expected default frame interval, got %s", cfg.Analyzer.FrameInterval)
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VOICEWIDGET_WIDGET_MODE", "carrier-pigeon")

	_, err := Load()
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".config", "voicewidget")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	contents := "widget:\n  mode: twilio\ntwilio:\n  phone_number: \"+15551234567\"\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", home)
	t.Setenv("VOICEWIDGET_TWILIO_TOKEN_URL", "http://token.local/token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Widget.Mode != ModeTwilio || cfg.Twilio.PhoneNumber != "+15551234567" {
		t.Fatalf("config file not applied: %+v", cfg)
	}
	if cfg.Twilio.TokenURL != "http://token.local/token" {
		t.Fatalf("env should layer over file: %q", cfg.Twilio.TokenURL)
	}
}

func TestLoadExplicitConfigFileMustExist(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VOICEWIDGET_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}
