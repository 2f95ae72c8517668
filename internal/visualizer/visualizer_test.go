package visualizer

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarsStayWithinBounds(t *testing.T) {
	t.Parallel()

	v := New(400, rand.NewPCG(1, 2))
	for i := 0; i <= 1000; i++ {
		volume := float64(i) / 1000
		for _, h := range v.Bars(volume) {
			require.GreaterOrEqual(t, h, BaseHeight)
			require.LessOrEqual(t, h, BaseHeight+400*volume)
		}
	}
}

func TestBarsSilenceIsBaseHeight(t *testing.T) {
	t.Parallel()

	v := New(400, rand.NewPCG(3, 4))
	assert.Equal(t, Rest(), v.Bars(0))
}

func TestBarsClampsOutOfRangeVolume(t *testing.T) {
	t.Parallel()

	v := New(100, rand.NewPCG(5, 6))
	for _, volume := range []float64{-1, 2, math.Inf(1), math.NaN()} {
		for _, h := range v.Bars(volume) {
			require.GreaterOrEqual(t, h, BaseHeight)
			require.LessOrEqual(t, h, BaseHeight+100)
		}
	}
	assert.Equal(t, Rest(), v.Bars(-0.5))
}

func TestNewRejectsNegativeHeadroom(t *testing.T) {
	t.Parallel()

	v := New(-10, nil)
	assert.Equal(t, 0.0, v.maxAdditional)
	assert.Equal(t, Rest(), v.Bars(1))
}
