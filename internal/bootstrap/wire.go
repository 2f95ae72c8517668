package bootstrap

import (
	"fmt"

	"github.com/rs/zerolog"

	"voicewidget/internal/audio"
	"voicewidget/internal/config"
	"voicewidget/internal/domain"
	"voicewidget/internal/logging"
	"voicewidget/internal/ports"
	"voicewidget/internal/providers/twilio"
	"voicewidget/internal/providers/vapi"
	"voicewidget/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.CallController
	Config     config.Config
}

// Build wires the widget for the configured mode.
func Build(cfg config.Config, eventSink ports.EventSink, log zerolog.Logger) (Services, error) {
	// The uplink and the level monitor read one recorder process.
	capture := audio.NewSharedCapture(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, log),
		logging.Component(log, "capture"),
	)
	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}

	callCfg := usecase.Config{
		Audio:          audioCfg,
		FFTSize:        cfg.Analyzer.FFTSize,
		FrameInterval:  cfg.Analyzer.FrameInterval,
		TypingInterval: cfg.Widget.TypingInterval,
		MaxBarHeight:   cfg.Widget.MaxBarHeight,
		InitialTier:    domain.VolumeTier(cfg.Widget.VolumeTier),
	}

	var client ports.VoiceClient
	switch cfg.Widget.Mode {
	case config.ModeVapi:
		client = vapi.NewClient(vapi.Config{
			APIKey:     cfg.Vapi.APIKey,
			BaseURL:    cfg.Vapi.BaseURL,
			SampleRate: cfg.Audio.SampleRate,
			Audio:      audioCfg,
		}, capture, logging.Component(log, "vapi"))
		callCfg.Target = ports.CallTarget{AssistantID: cfg.Vapi.AssistantID}
	case config.ModeTwilio:
		client = twilio.NewClient(twilio.Config{
			TokenURL: cfg.Twilio.TokenURL,
			MediaURL: cfg.Twilio.MediaURL,
			Audio:    audioCfg,
		}, capture, logging.Component(log, "twilio"))
		callCfg.Target = ports.CallTarget{PhoneNumber: cfg.Twilio.PhoneNumber}
		callCfg.SpeakingOnAccept = true
		callCfg.SessionMetersLocal = true
	default:
		return Services{}, fmt.Errorf("%w: %q", config.ErrUnknownMode, cfg.Widget.Mode)
	}

	controller := usecase.NewCallController(
		client,
		capture,
		eventSink,
		logging.Component(log, "controller"),
		callCfg,
	)

	log.Info().
		Str("mode", cfg.Widget.Mode).
		Str("element_id", cfg.Widget.ElementID).
		Msg("call widget wired")

	return Services{Controller: controller, Config: cfg}, nil
}
