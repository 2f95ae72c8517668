// Package visualizer turns a remote volume sample into bar heights.
package visualizer

import (
	"math/rand/v2"
	"sync"
)

const (
	BaseHeight = 64.0
	BarCount   = 4
)

// Visualizer computes bar heights as BaseHeight plus a random share of
// maxAdditional scaled by the volume.
type Visualizer struct {
	maxAdditional float64

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Visualizer. A nil source uses a randomly seeded PCG.
func New(maxAdditional float64, src rand.Source) *Visualizer {
	if maxAdditional < 0 {
		maxAdditional = 0
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Visualizer{maxAdditional: maxAdditional, rng: rand.New(src)}
}

// Bars returns BarCount heights in [BaseHeight, BaseHeight+maxAdditional].
func (v *Visualizer) Bars(volume float64) [BarCount]float64 {
	volume = clamp01(volume)

	v.mu.Lock()
	defer v.mu.Unlock()

	var bars [BarCount]float64
	for i := range bars {
		bars[i] = BaseHeight + v.rng.Float64()*v.maxAdditional*volume
	}
	return bars
}

// Rest returns the bar heights for silence.
func Rest() [BarCount]float64 {
	return [BarCount]float64{BaseHeight, BaseHeight, BaseHeight, BaseHeight}
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
