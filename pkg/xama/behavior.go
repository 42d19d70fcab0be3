package xama

import (
	"math"
	"time"
)

// BehaviorSample is one ephemeral observation of interaction behavior. It is
// consumed immediately to update the baseline and run anomaly detection, and
// is never stored individually.
type BehaviorSample struct {
	Timestamp        time.Time `json:"timestamp"`
	MouseSpeed       float64   `json:"mouse_speed"`
	MouseAccel       float64   `json:"mouse_accel"`
	KeyPressInterval float64   `json:"key_press_interval"`
	ScrollPattern    float64   `json:"scroll_pattern"`
	NavigationDepth  int       `json:"navigation_depth"`
}

// FeatureStat holds online mean/variance state for one behavioral feature
// (Welford recurrence). Updated incrementally, never recomputed from scratch.
type FeatureStat struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// update returns the stat advanced by one observation.
func (s FeatureStat) update(x float64) FeatureStat {
	n := s.Count + 1
	delta := x - s.Mean
	mean := s.Mean + delta/float64(n)
	return FeatureStat{
		Count: n,
		Mean:  mean,
		M2:    s.M2 + delta*(x-mean),
	}
}

// StdDev returns the population standard deviation seen so far.
func (s FeatureStat) StdDev() float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.M2 / float64(s.Count))
}

// zScore measures how far x deviates from the baseline in standard
// deviations. A degenerate (zero-spread) stat yields 0.
func (s FeatureStat) zScore(x float64) float64 {
	sd := s.StdDev()
	if sd == 0 {
		return 0
	}
	return math.Abs(x-s.Mean) / sd
}

// BehaviorBaseline is the running statistical profile of one session's
// interaction patterns.
type BehaviorBaseline struct {
	MouseSpeed       FeatureStat `json:"mouse_speed"`
	MouseAccel       FeatureStat `json:"mouse_accel"`
	KeyPressInterval FeatureStat `json:"key_press_interval"`
	ScrollPattern    FeatureStat `json:"scroll_pattern"`
	SampleCount      int         `json:"sample_count"`
}

// UpdateBaseline folds one sample into the baseline and returns the new
// baseline. Pure functional update.
func UpdateBaseline(b BehaviorBaseline, s BehaviorSample) BehaviorBaseline {
	return BehaviorBaseline{
		MouseSpeed:       b.MouseSpeed.update(s.MouseSpeed),
		MouseAccel:       b.MouseAccel.update(s.MouseAccel),
		KeyPressInterval: b.KeyPressInterval.update(s.KeyPressInterval),
		ScrollPattern:    b.ScrollPattern.update(s.ScrollPattern),
		SampleCount:      b.SampleCount + 1,
	}
}

// BehaviorTrustScore converts how well a sample fits the baseline into a
// 0-100 trust score. A cold baseline yields a conservative fixed score
// rather than an error.
func BehaviorTrustScore(s BehaviorSample, b BehaviorBaseline) int {
	if b.SampleCount < minBaselineSamples {
		return 70
	}
	meanZ := (b.MouseSpeed.zScore(s.MouseSpeed) + b.KeyPressInterval.zScore(s.KeyPressInterval)) / 2
	return clampScore(int(math.Round(100 - math.Min(60, meanZ*15))))
}
