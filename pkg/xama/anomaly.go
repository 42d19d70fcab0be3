package xama

import "math"

// Recommendation is the verdict of one anomaly evaluation.
type Recommendation string

const (
	RecommendContinue  Recommendation = "continue"
	RecommendVerify    Recommendation = "verify"
	RecommendTerminate Recommendation = "terminate"
)

// Baseline maturity gates. Fewer than minBaselineSamples disables anomaly
// flagging entirely; the bot check needs a much larger sample.
const (
	minBaselineSamples = 10
	botCheckSamples    = 50
)

// DefaultAnomalyThreshold is the anomaly score at which a sample is flagged.
const DefaultAnomalyThreshold = 30.0

// AnomalyDetection is the result of scoring one sample against a baseline.
type AnomalyDetection struct {
	AnomalyScore   float64        `json:"anomaly_score"`
	IsAnomaly      bool           `json:"is_anomaly"`
	Indicators     []string       `json:"indicators"`
	Recommendation Recommendation `json:"recommendation"`
}

// DetectAnomalies scores a sample against the baseline. A cold baseline
// (under 10 samples) never flags, guarding against false positives. Each
// feature with a z-score above 3 contributes min(40, z*10); too-consistent
// mouse movement and deep low-interaction navigation add fixed pattern
// penalties. The total is capped at 100.
func DetectAnomalies(sample BehaviorSample, baseline BehaviorBaseline, threshold float64) AnomalyDetection {
	det := AnomalyDetection{Recommendation: RecommendContinue}
	if baseline.SampleCount < minBaselineSamples {
		return det
	}

	if z := baseline.MouseSpeed.zScore(sample.MouseSpeed); z > 3 {
		det.AnomalyScore += math.Min(40, z*10)
		det.Indicators = append(det.Indicators, "mouse speed deviates from baseline")
	}
	if z := baseline.KeyPressInterval.zScore(sample.KeyPressInterval); z > 3 {
		det.AnomalyScore += math.Min(40, z*10)
		det.Indicators = append(det.Indicators, "key press interval deviates from baseline")
	}

	// Human mouse movement is noisy; a near-zero spread over many samples
	// indicates scripted input.
	if baseline.SampleCount >= botCheckSamples && baseline.MouseSpeed.StdDev() < 2 {
		det.AnomalyScore += 30
		det.Indicators = append(det.Indicators, "bot pattern: mouse speed too consistent")
	}
	if sample.NavigationDepth > 20 && sample.MouseSpeed < 50 {
		det.AnomalyScore += 25
		det.Indicators = append(det.Indicators, "scraping pattern: deep navigation with low interaction")
	}

	if det.AnomalyScore > 100 {
		det.AnomalyScore = 100
	}
	det.IsAnomaly = det.AnomalyScore >= threshold

	switch {
	case det.AnomalyScore >= 70:
		det.Recommendation = RecommendTerminate
	case det.IsAnomaly:
		det.Recommendation = RecommendVerify
	}
	return det
}
