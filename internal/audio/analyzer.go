package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFFTSize = 256

	minDecibels     = -100.0
	maxDecibels     = -30.0
	smoothingFactor = 0.8
)

// Analyzer keeps the most recent FFTSize samples and reports their
// frequency-domain energy the way a browser AnalyserNode does: Blackman
// window, temporal smoothing, decibel magnitudes mapped onto 0..255.
type Analyzer struct {
	size   int
	fft    *fourier.FFT
	window []float64

	mu       sync.Mutex
	ring     []float64
	pos      int
	frame    []float64
	coeffs   []complex128
	smoothed []float64
	bins     []byte
}

func NewAnalyzer(size int) *Analyzer {
	if size < 32 {
		size = DefaultFFTSize
	}
	return &Analyzer{
		size:     size,
		fft:      fourier.NewFFT(size),
		window:   blackman(size),
		ring:     make([]float64, size),
		frame:    make([]float64, size),
		coeffs:   make([]complex128, size/2+1),
		smoothed: make([]float64, size/2),
		bins:     make([]byte, size/2),
	}
}

// Write appends time-domain samples, overwriting the oldest ones.
func (a *Analyzer) Write(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(samples) > a.size {
		samples = samples[len(samples)-a.size:]
	}
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.size
	}
}

// Level returns the mean of the byte frequency bins normalized to [0,1].
func (a *Analyzer) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.computeLocked()
	var sum int
	for _, b := range a.bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(a.bins)) / 255.0
}

// Reset clears the sample history and smoothing state so a restarted
// microphone does not report the level from before the pause.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

func (a *Analyzer) computeLocked() {
	for i := 0; i < a.size; i++ {
		a.frame[i] = a.ring[(a.pos+i)%a.size] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	scale := 255.0 / (maxDecibels - minDecibels)
	for k := range a.smoothed {
		magnitude := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = smoothingFactor*a.smoothed[k] + (1-smoothingFactor)*magnitude

		if a.smoothed[k] <= 0 {
			a.bins[k] = 0
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		a.bins[k] = byte(math.Max(0, math.Min(255, math.Floor(scale*(db-minDecibels)))))
	}
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2

	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}
