package usecase

import (
	"time"

	"voicewidget/internal/ports"
)

type clockTicker struct {
	t *time.Ticker
}

// NewClockTicker is the TickerFactory backed by time.Ticker.
func NewClockTicker(period time.Duration) ports.Ticker {
	if period <= 0 {
		period = time.Second
	}
	return clockTicker{t: time.NewTicker(period)}
}

func (c clockTicker) C() <-chan time.Time { return c.t.C }

func (c clockTicker) Stop() { c.t.Stop() }
