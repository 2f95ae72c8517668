package main

import (
	"embed"
	"io/fs"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"voicewidget/internal/config"
	"voicewidget/internal/logging"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	cfg, loadErr := config.Load()
	if loadErr != nil {
		cfg = config.Default()
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Console: cfg.Log.Console})
	if loadErr != nil {
		log.Error().Err(loadErr).Msg("config load failed, using defaults")
	}

	assetFS, err := fs.Sub(assets, "frontend/dist")
	if err != nil {
		log.Fatal().Err(err).Msg("frontend assets missing")
	}

	app := NewApp(cfg, loadErr, log)
	width, height := windowSize(cfg.Widget.Mode)

	err = wails.Run(&options.App{
		Title:     "Voice Widget",
		Width:     width,
		Height:    height,
		MinWidth:  300,
		MinHeight: 400,
		AssetServer: &assetserver.Options{
			Assets: assetFS,
		},
		BackgroundColour: &options.RGBA{R: 255, G: 255, B: 255, A: 255},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("wails run failed")
		os.Exit(1)
	}
}

// windowSize matches the embedding size of each widget flavour.
func windowSize(mode string) (int, int) {
	if mode == config.ModeTwilio {
		return 1024, 640
	}
	return 300, 400
}
