package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voicewidget/internal/bootstrap"
	"voicewidget/internal/config"
	"voicewidget/internal/domain"
	"voicewidget/internal/usecase"
)

const (
	eventState   = "voicewidget:state"
	eventTimer   = "voicewidget:timer"
	eventVolume  = "voicewidget:volume"
	eventMute    = "voicewidget:mute"
	eventTier    = "voicewidget:tier"
	eventMessage = "voicewidget:message"
	eventError   = "voicewidget:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context
	log zerolog.Logger

	controller *usecase.CallController
	cfg        config.Config
	bootErr    error
}

// NewApp takes the configuration resolved before the window opened. A
// non-nil loadErr is reported once the frontend is up.
func NewApp(cfg config.Config, loadErr error, log zerolog.Logger) *App {
	return &App{cfg: cfg, bootErr: loadErr, log: log}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	if a.bootErr != nil {
		a.CallError(domain.ErrorCodeStartup, a.bootErr.Error())
		return
	}

	services, err := bootstrap.Build(a.cfg, a, a.log)
	if err != nil {
		a.bootErr = err
		a.CallError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller

	status := a.controller.Status()
	if status.Ready {
		a.CallStateChanged(domain.CallStateIdle, domain.CallReasonReady)
		return
	}
	a.CallStateChanged(domain.CallStateDisabled, domain.CallReasonNotInitialized)
	go func() {
		// Failures are reported through CallError by the controller.
		_ = a.controller.Initialize(ctx)
	}()
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		a.controller.Close()
	}
}

// ToggleCall starts a call when idle and hangs up otherwise.
func (a *App) ToggleCall() (domain.CallStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.CallStatus{}, err
	}
	return a.controller.ToggleCall(a.ctx)
}

// ToggleMute flips the microphone mute while the assistant is speaking.
func (a *App) ToggleMute() (domain.CallStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.CallStatus{}, err
	}
	return a.controller.ToggleMute()
}

// ChangeVolume cycles the speaker volume indicator.
func (a *App) ChangeVolume() (domain.CallStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.CallStatus{}, err
	}
	return a.controller.ChangeVolume(), nil
}

// Reinitialize retries voice client setup after a failure.
func (a *App) Reinitialize() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Initialize(a.ctx)
}

// GetStatus returns the current widget status.
func (a *App) GetStatus() domain.CallStatus {
	if a.controller == nil {
		status := domain.CallStatus{
			State:      domain.CallStateDisabled,
			Elapsed:    domain.FormatElapsed(0),
			VolumeTier: domain.DefaultVolumeTier,
		}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"mode":             a.cfg.Widget.Mode,
		"elementId":        a.cfg.Widget.ElementID,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
	switch a.cfg.Widget.Mode {
	case config.ModeVapi:
		info["provider"] = "Vapi"
		info["assistantId"] = a.cfg.Vapi.AssistantID
	case config.ModeTwilio:
		info["provider"] = "Twilio"
		info["phoneNumber"] = a.cfg.Twilio.PhoneNumber
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// CallStateChanged emits call lifecycle updates to the frontend.
func (a *App) CallStateChanged(state domain.CallState, reason domain.CallStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": reasonMessage(reason),
	})
}

// TimerChanged emits the call duration once per second.
func (a *App) TimerChanged(seconds int) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTimer, map[string]any{
		"seconds": seconds,
		"elapsed": domain.FormatElapsed(seconds),
	})
}

// VolumeChanged emits the remote and local levels with the bar heights.
func (a *App) VolumeChanged(levels domain.VolumeLevels) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventVolume, levels)
}

// MuteChanged emits the microphone mute flag.
func (a *App) MuteChanged(muted bool) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventMute, map[string]bool{"muted": muted})
}

// VolumeTierChanged emits the speaker volume indicator.
func (a *App) VolumeTierChanged(tier domain.VolumeTier) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTier, map[string]int{"tier": int(tier)})
}

// MessageChanged emits the typewriter text under the call button.
func (a *App) MessageChanged(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventMessage, map[string]string{"text": text})
}

// CallError emits backend errors to the UI.
func (a *App) CallError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func reasonMessage(reason domain.CallStateReason) string {
	switch reason {
	case domain.CallReasonNotInitialized:
		return "Voice service unavailable"
	case domain.CallReasonReady:
		return "Ready to call"
	case domain.CallReasonCallStarted:
		return "Calling..."
	case domain.CallReasonCallConnected:
		return "Connected. Waiting for the assistant"
	case domain.CallReasonRemoteSpeaking:
		return "Assistant is speaking"
	case domain.CallReasonCallEnded:
		return "Call ended"
	case domain.CallReasonRemoteEnded:
		return "Call ended by the other side"
	case domain.CallReasonConnectFailed:
		return "Could not start the call"
	case domain.CallReasonSessionFailed:
		return "Call dropped"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeInitialize:
		return "Voice service setup failed"
	case domain.ErrorCodeConnect:
		return "Connection failed"
	case domain.ErrorCodeSession:
		return "Call error"
	case domain.ErrorCodeMute:
		return "Mute failed"
	case domain.ErrorCodeMicrophone:
		return "Microphone unavailable"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
