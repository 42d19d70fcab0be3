package xama

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectAnomalies_ColdBaselineNeverFlags(t *testing.T) {
	var b BehaviorBaseline
	b = feed(b, alternating(9, [2]float64{100, 100}, [2]float64{120, 120}))

	extreme := BehaviorSample{MouseSpeed: 100000, KeyPressInterval: 100000, NavigationDepth: 99}
	det := DetectAnomalies(extreme, b, DefaultAnomalyThreshold)

	assert.False(t, det.IsAnomaly)
	assert.Zero(t, det.AnomalyScore)
	assert.Equal(t, RecommendContinue, det.Recommendation)
}

func TestDetectAnomalies_ZScoreContribution(t *testing.T) {
	var b BehaviorBaseline
	b = feed(b, alternating(12, [2]float64{100, 100}, [2]float64{120, 120}))

	// Mouse speed 9 sigma out: capped contribution of 40.
	det := DetectAnomalies(BehaviorSample{MouseSpeed: 200, KeyPressInterval: 110}, b, DefaultAnomalyThreshold)
	require.True(t, det.IsAnomaly)
	assert.Equal(t, 40.0, det.AnomalyScore)
	assert.Equal(t, RecommendVerify, det.Recommendation)
	assert.Contains(t, det.Indicators, "mouse speed deviates from baseline")
}

func TestDetectAnomalies_TerminateOnCombinedDeviation(t *testing.T) {
	var b BehaviorBaseline
	b = feed(b, alternating(12, [2]float64{100, 100}, [2]float64{120, 120}))

	det := DetectAnomalies(BehaviorSample{MouseSpeed: 200, KeyPressInterval: 200}, b, DefaultAnomalyThreshold)
	assert.Equal(t, 80.0, det.AnomalyScore)
	assert.Equal(t, RecommendTerminate, det.Recommendation)
}

func TestDetectAnomalies_BotPattern(t *testing.T) {
	var b BehaviorBaseline
	for i := 0; i < 60; i++ {
		b = UpdateBaseline(b, BehaviorSample{MouseSpeed: 100, KeyPressInterval: 100})
	}

	det := DetectAnomalies(BehaviorSample{MouseSpeed: 100, KeyPressInterval: 100}, b, DefaultAnomalyThreshold)
	require.True(t, det.IsAnomaly)
	assert.Equal(t, 30.0, det.AnomalyScore)
	assert.Contains(t, det.Indicators, "bot pattern: mouse speed too consistent")
}

func TestDetectAnomalies_ScrapingPattern(t *testing.T) {
	var b BehaviorBaseline
	// Wide spread keeps the sample's z-scores below the flagging bar.
	b = feed(b, alternating(12, [2]float64{50, 50}, [2]float64{150, 150}))

	det := DetectAnomalies(BehaviorSample{MouseSpeed: 10, KeyPressInterval: 100, NavigationDepth: 25}, b, DefaultAnomalyThreshold)
	assert.Equal(t, 25.0, det.AnomalyScore)
	assert.False(t, det.IsAnomaly)
	assert.Contains(t, det.Indicators, "scraping pattern: deep navigation with low interaction")

	// A lower threshold turns the same evidence into a verify verdict.
	strict := DetectAnomalies(BehaviorSample{MouseSpeed: 10, KeyPressInterval: 100, NavigationDepth: 25}, b, 20)
	assert.True(t, strict.IsAnomaly)
	assert.Equal(t, RecommendVerify, strict.Recommendation)
}

func TestDetectAnomalies_ScoreCap(t *testing.T) {
	var b BehaviorBaseline
	for i := 0; i < 60; i++ {
		b = UpdateBaseline(b, BehaviorSample{MouseSpeed: 100, KeyPressInterval: float64(100 + i%2*20)})
	}

	det := DetectAnomalies(BehaviorSample{MouseSpeed: 10, KeyPressInterval: 5000, NavigationDepth: 50}, b, DefaultAnomalyThreshold)
	assert.LessOrEqual(t, det.AnomalyScore, 100.0)
	assert.Equal(t, RecommendTerminate, det.Recommendation)
}
