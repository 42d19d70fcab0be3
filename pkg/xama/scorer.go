package xama

import (
	"math"
	"time"
)

// Fixed per-attribute weights keep each attribute's contribution to the
// aggregate inspectable.
const (
	weightDevice    = 0.2
	weightLocation  = 0.15
	weightSession   = 0.15
	weightBehavior  = 0.25
	weightPasskey   = 0.15
	weightBiometric = 0.15
)

// DefaultDecayRate is the per-hour trust decay applied between verifications.
const DefaultDecayRate = 0.1

// DefaultTrustedCountries is the built-in home-market allow list.
var DefaultTrustedCountries = []string{"AD", "ES", "FR", "PT"}

// ScoreDeviceFingerprint scores a device against the user's trusted
// fingerprint set. Unknown devices are scored low, never rejected.
func ScoreDeviceFingerprint(fingerprint string, trusted []string, now time.Time) AttributeScore {
	score, confidence, method := 40, 0.6, "fingerprint_unknown"
	for _, t := range trusted {
		if t == fingerprint {
			score, confidence, method = 95, 0.95, "fingerprint_match"
			break
		}
	}
	return AttributeScore{
		Attribute:          AttrDevice,
		Score:              score,
		Weight:             weightDevice,
		Confidence:         confidence,
		LastVerified:       now,
		VerificationMethod: method,
	}
}

// ScoreLocation scores the caller's network location. Starts at 70/0.8 and
// subtracts for untrusted countries and VPN/proxy exits.
func ScoreLocation(country string, isVPN bool, trustedCountries []string, now time.Time) AttributeScore {
	if len(trustedCountries) == 0 {
		trustedCountries = DefaultTrustedCountries
	}
	score := 70
	confidence := 0.8
	trusted := false
	for _, c := range trustedCountries {
		if c == country {
			trusted = true
			break
		}
	}
	if !trusted {
		score -= 30
		confidence -= 0.2
	}
	if isVPN {
		score -= 20
		confidence -= 0.1
	}
	if score < 0 {
		score = 0
	}
	if confidence < 0.4 {
		confidence = 0.4
	}
	return AttributeScore{
		Attribute:          AttrLocation,
		Score:              score,
		Weight:             weightLocation,
		Confidence:         confidence,
		LastVerified:       now,
		VerificationMethod: "ip_geolocation",
	}
}

// ScoreSession scores session freshness: age decays trust, activity restores
// some of it, and a missing recent interaction is penalised.
func ScoreSession(ageMinutes float64, activityLevel float64, hasRecentInteraction bool, now time.Time) AttributeScore {
	score := 100.0
	score -= math.Min(40, ageMinutes/2)
	score += activityLevel * 20
	if !hasRecentInteraction {
		score -= 30
	}
	confidence := 0.6
	if hasRecentInteraction {
		confidence = 0.9
	}
	return AttributeScore{
		Attribute:          AttrSession,
		Score:              clampScore(int(math.Round(score))),
		Weight:             weightSession,
		Confidence:         confidence,
		LastVerified:       now,
		VerificationMethod: "session_activity",
	}
}

// ScorePasskey records a successful WebAuthn/passkey assertion.
func ScorePasskey(now time.Time) AttributeScore {
	return AttributeScore{
		Attribute:          AttrPasskey,
		Score:              95,
		Weight:             weightPasskey,
		Confidence:         0.95,
		LastVerified:       now,
		VerificationMethod: "webauthn_assertion",
	}
}

// ScoreBiometric records a successful platform biometric verification.
func ScoreBiometric(now time.Time) AttributeScore {
	return AttributeScore{
		Attribute:          AttrBiometric,
		Score:              90,
		Weight:             weightBiometric,
		Confidence:         0.9,
		LastVerified:       now,
		VerificationMethod: "platform_biometric",
	}
}

// ApplyScoreDecay returns a with its score and confidence decayed by the time
// elapsed since LastVerified. The decay factor never drops below 0.5 and
// confidence never below 0.3. LastVerified is left untouched so repeated
// decay does not compound.
func ApplyScoreDecay(a AttributeScore, decayRate float64, now time.Time) AttributeScore {
	minutes := now.Sub(a.LastVerified).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	factor := 1 - minutes*decayRate/60
	if factor < 0.5 {
		factor = 0.5
	}
	out := a
	out.Score = clampScore(int(math.Round(float64(a.Score) * factor)))
	out.Confidence = a.Confidence * factor
	if out.Confidence < 0.3 {
		out.Confidence = 0.3
	}
	return out
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
