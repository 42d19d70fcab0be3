package xama

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// feed builds a baseline from repeated mouse-speed / key-interval pairs.
func feed(b BehaviorBaseline, pairs [][2]float64) BehaviorBaseline {
	for _, p := range pairs {
		b = UpdateBaseline(b, BehaviorSample{
			MouseSpeed:       p[0],
			KeyPressInterval: p[1],
		})
	}
	return b
}

// alternating returns n/2 repetitions each of two mouse-speed/key-interval
// pairs, giving a known mean and spread.
func alternating(n int, a, b [2]float64) [][2]float64 {
	out := make([][2]float64, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, a)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func TestUpdateBaseline_OnlineStatistics(t *testing.T) {
	var b BehaviorBaseline
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		b = UpdateBaseline(b, BehaviorSample{MouseSpeed: v})
	}

	assert.Equal(t, 8, b.SampleCount)
	assert.InDelta(t, 5.0, b.MouseSpeed.Mean, 1e-9)
	assert.InDelta(t, 2.0, b.MouseSpeed.StdDev(), 1e-9)
}

func TestUpdateBaseline_IsFunctional(t *testing.T) {
	var b BehaviorBaseline
	updated := UpdateBaseline(b, BehaviorSample{MouseSpeed: 100})
	assert.Equal(t, 0, b.SampleCount)
	assert.Equal(t, 1, updated.SampleCount)
}

func TestBehaviorTrustScore_ColdBaseline(t *testing.T) {
	var b BehaviorBaseline
	b = feed(b, alternating(8, [2]float64{100, 100}, [2]float64{120, 120}))

	// Under 10 samples the score is a conservative constant regardless of fit.
	assert.Equal(t, 70, BehaviorTrustScore(BehaviorSample{MouseSpeed: 5000}, b))
}

func TestBehaviorTrustScore_FitAndDeviation(t *testing.T) {
	var b BehaviorBaseline
	b = feed(b, alternating(12, [2]float64{100, 100}, [2]float64{120, 120}))

	// A sample at the baseline mean scores perfectly.
	fit := BehaviorTrustScore(BehaviorSample{MouseSpeed: 110, KeyPressInterval: 110}, b)
	assert.Equal(t, 100, fit)

	// A strong deviation is penalised but floored at 40.
	off := BehaviorTrustScore(BehaviorSample{MouseSpeed: 500, KeyPressInterval: 500}, b)
	assert.Equal(t, 40, off)
	assert.GreaterOrEqual(t, off, 0)
}
