package xama

import (
	"math"
	"time"
)

// NewProfile builds the initial per-session profile from a scored attribute
// set and derives the aggregate fields.
func NewProfile(userID, sessionID string, attrs []AttributeScore, now time.Time) Profile {
	score := CalculateOverallTrustScore(attrs)
	return Profile{
		UserID:               userID,
		SessionID:            sessionID,
		Attributes:           attrs,
		OverallTrustScore:    score,
		RiskLevel:            DetermineRiskLevel(score),
		AuthenticationLevel:  DetermineAAL(attrs),
		ContinuousAuthStatus: StatusActive,
		LastFullVerification: now,
		SessionStartTime:     now,
	}
}

// UpdateProfileWithContinuousAuth applies one continuous-auth tick: every
// existing attribute is decayed, the behavior attribute is replaced with the
// fresh sample's score discounted by half the anomaly score, the aggregates
// are recomputed and the status follows the anomaly recommendation. Returns a
// new Profile. An expired profile is terminal: a fresh full verification must
// re-create it.
func UpdateProfileWithContinuousAuth(p Profile, behaviorScore int, det AnomalyDetection, now time.Time) Profile {
	if p.ContinuousAuthStatus == StatusExpired {
		return p
	}

	attrs := make([]AttributeScore, 0, len(p.Attributes)+1)
	for _, a := range p.Attributes {
		if a.Attribute == AttrBehavior {
			continue
		}
		attrs = append(attrs, ApplyScoreDecay(a, DefaultDecayRate, now))
	}

	score := behaviorScore - int(math.Round(det.AnomalyScore/2))
	if score < 0 {
		score = 0
	}
	confidence := 0.9
	if det.IsAnomaly {
		confidence = 0.6
	}
	attrs = append(attrs, AttributeScore{
		Attribute:          AttrBehavior,
		Score:              clampScore(score),
		Weight:             weightBehavior,
		Confidence:         confidence,
		LastVerified:       now,
		VerificationMethod: "continuous_behavior",
	})

	out := p
	out.Attributes = attrs
	out.OverallTrustScore = CalculateOverallTrustScore(attrs)
	out.RiskLevel = DetermineRiskLevel(out.OverallTrustScore)
	out.AuthenticationLevel = DetermineAAL(attrs)
	switch det.Recommendation {
	case RecommendTerminate:
		out.ContinuousAuthStatus = StatusExpired
	case RecommendVerify:
		out.ContinuousAuthStatus = StatusDegraded
	default:
		out.ContinuousAuthStatus = StatusActive
	}
	return out
}

// DecayProfile re-derives the aggregates after time-based decay only, with no
// fresh behavioral evidence. Used by background sweeps over idle sessions.
// Status is degraded once the aggregate falls below the medium band, but only
// a real anomaly evaluation can expire a session early.
func DecayProfile(p Profile, now time.Time) Profile {
	if p.ContinuousAuthStatus == StatusExpired {
		return p
	}
	attrs := make([]AttributeScore, 0, len(p.Attributes))
	for _, a := range p.Attributes {
		attrs = append(attrs, ApplyScoreDecay(a, DefaultDecayRate, now))
	}
	out := p
	out.Attributes = attrs
	out.OverallTrustScore = CalculateOverallTrustScore(attrs)
	out.RiskLevel = DetermineRiskLevel(out.OverallTrustScore)
	out.AuthenticationLevel = DetermineAAL(attrs)
	if out.OverallTrustScore < 60 {
		out.ContinuousAuthStatus = StatusDegraded
	}
	return out
}
