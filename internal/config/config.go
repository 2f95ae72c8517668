package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeVapi   = "vapi"
	ModeTwilio = "twilio"

	envPrefix = "VOICEWIDGET"
)

// Config stores the widget runtime configuration.
type Config struct {
	Widget   WidgetConfig   `mapstructure:"widget"`
	Vapi     VapiConfig     `mapstructure:"vapi"`
	Twilio   TwilioConfig   `mapstructure:"twilio"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Log      LogConfig      `mapstructure:"log"`
}

// WidgetConfig holds the embedding parameters and display tuning.
type WidgetConfig struct {
	Mode           string        `mapstructure:"mode"`
	ElementID      string        `mapstructure:"element_id"`
	TypingInterval time.Duration `mapstructure:"typing_interval"`
	MaxBarHeight   float64       `mapstructure:"max_bar_height"`
	VolumeTier     int           `mapstructure:"volume_tier"`
}

type VapiConfig struct {
	APIKey      string `mapstructure:"api_key"`
	AssistantID string `mapstructure:"assistant_id"`
	BaseURL     string `mapstructure:"base_url"`
}

type TwilioConfig struct {
	TokenURL    string `mapstructure:"token_url"`
	MediaURL    string `mapstructure:"media_url"`
	PhoneNumber string `mapstructure:"phone_number"`
}

type AudioConfig struct {
	RecorderCommand string `mapstructure:"recorder_command"`
	InputFormat     string `mapstructure:"input_format"`
	InputDevice     string `mapstructure:"input_device"`
	SampleRate      int    `mapstructure:"sample_rate"`
	Channels        int    `mapstructure:"channels"`
}

type AnalyzerConfig struct {
	FFTSize       int           `mapstructure:"fft_size"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// ErrUnknownMode is returned when widget.mode names no supported SDK.
var ErrUnknownMode = errors.New("unknown widget mode")

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Widget: WidgetConfig{
			Mode:           ModeVapi,
			ElementID:      "voice-widget",
			TypingInterval: 100 * time.Millisecond,
			MaxBarHeight:   400,
			VolumeTier:     2,
		},
		Vapi: VapiConfig{
			BaseURL: "https://api.vapi.ai",
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
		},
		Analyzer: AnalyzerConfig{
			FFTSize:       256,
			FrameInterval: 16 * time.Millisecond,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load resolves configuration from defaults, an optional config.yaml and
// VOICEWIDGET_* environment variables, in increasing priority.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "voicewidget"))
	}
	v.AddConfigPath(".")
	if path := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG")); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("widget.mode", d.Widget.Mode)
	v.SetDefault("widget.element_id", d.Widget.ElementID)
	v.SetDefault("widget.typing_interval", d.Widget.TypingInterval)
	v.SetDefault("widget.max_bar_height", d.Widget.MaxBarHeight)
	v.SetDefault("widget.volume_tier", d.Widget.VolumeTier)
	v.SetDefault("vapi.api_key", d.Vapi.APIKey)
	v.SetDefault("vapi.assistant_id", d.Vapi.AssistantID)
	v.SetDefault("vapi.base_url", d.Vapi.BaseURL)
	v.SetDefault("twilio.token_url", d.Twilio.TokenURL)
	v.SetDefault("twilio.media_url", d.Twilio.MediaURL)
	v.SetDefault("twilio.phone_number", d.Twilio.PhoneNumber)
	v.SetDefault("audio.recorder_command", d.Audio.RecorderCommand)
	v.SetDefault("audio.input_format", d.Audio.InputFormat)
	v.SetDefault("audio.input_device", d.Audio.InputDevice)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("analyzer.fft_size", d.Analyzer.FFTSize)
	v.SetDefault("analyzer.frame_interval", d.Analyzer.FrameInterval)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)
}

// decode reads each key individually so a malformed value falls back to its
// default instead of failing the whole load.
func decode(v *viper.Viper) (Config, error) {
	d := Default()
	cfg := Config{
		Widget: WidgetConfig{
			Mode:           strings.ToLower(strings.TrimSpace(v.GetString("widget.mode"))),
			ElementID:      strings.TrimSpace(v.GetString("widget.element_id")),
			TypingInterval: positiveDuration(v.GetDuration("widget.typing_interval"), d.Widget.TypingInterval),
			MaxBarHeight:   v.GetFloat64("widget.max_bar_height"),
			VolumeTier:     v.GetInt("widget.volume_tier"),
		},
		Vapi: VapiConfig{
			APIKey:      strings.TrimSpace(v.GetString("vapi.api_key")),
			AssistantID: strings.TrimSpace(v.GetString("vapi.assistant_id")),
			BaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString("vapi.base_url")), "/"),
		},
		Twilio: TwilioConfig{
			TokenURL:    strings.TrimSpace(v.GetString("twilio.token_url")),
			MediaURL:    strings.TrimSpace(v.GetString("twilio.media_url")),
			PhoneNumber: strings.TrimSpace(v.GetString("twilio.phone_number")),
		},
		Audio: AudioConfig{
			RecorderCommand: firstNonEmpty(v.GetString("audio.recorder_command"), d.Audio.RecorderCommand),
			InputFormat:     firstNonEmpty(v.GetString("audio.input_format"), d.Audio.InputFormat),
			InputDevice:     firstNonEmpty(v.GetString("audio.input_device"), d.Audio.InputDevice),
			SampleRate:      positiveInt(v.GetInt("audio.sample_rate"), d.Audio.SampleRate),
			Channels:        positiveInt(v.GetInt("audio.channels"), d.Audio.Channels),
		},
		Analyzer: AnalyzerConfig{
			FFTSize:       v.GetInt("analyzer.fft_size"),
			FrameInterval: positiveDuration(v.GetDuration("analyzer.frame_interval"), d.Analyzer.FrameInterval),
		},
		Log: LogConfig{
			Level:   firstNonEmpty(strings.ToLower(v.GetString("log.level")), d.Log.Level),
			Console: v.GetBool("log.console"),
		},
	}

	if cfg.Widget.MaxBarHeight <= 0 {
		cfg.Widget.MaxBarHeight = d.Widget.MaxBarHeight
	}
	if cfg.Widget.VolumeTier < 0 || cfg.Widget.VolumeTier > 3 {
		cfg.Widget.VolumeTier = d.Widget.VolumeTier
	}
	if cfg.Widget.ElementID == "" {
		cfg.Widget.ElementID = d.Widget.ElementID
	}
	if cfg.Analyzer.FFTSize < 32 || cfg.Analyzer.FFTSize&(cfg.Analyzer.FFTSize-1) != 0 {
		cfg.Analyzer.FFTSize = d.Analyzer.FFTSize
	}
	if cfg.Vapi.BaseURL == "" {
		cfg.Vapi.BaseURL = d.Vapi.BaseURL
	}

	switch cfg.Widget.Mode {
	case ModeVapi, ModeTwilio:
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Widget.Mode)
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func positiveInt(value int, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func positiveDuration(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
