package xama

import "math"

// CalculateOverallTrustScore combines attributes into one 0-100 score using
// weight*confidence as the effective weight per attribute. Returns 0 when the
// total effective weight is 0 (no attributes, or all zero-confidence).
func CalculateOverallTrustScore(attrs []AttributeScore) int {
	var weighted, total float64
	for _, a := range attrs {
		eff := a.Weight * a.Confidence
		weighted += float64(a.Score) * eff
		total += eff
	}
	if total == 0 {
		return 0
	}
	return clampScore(int(math.Round(weighted / total)))
}

// DetermineRiskLevel maps a trust score to a risk band. Step function, no
// hysteresis.
func DetermineRiskLevel(trustScore int) RiskLevel {
	switch {
	case trustScore >= 80:
		return RiskLow
	case trustScore >= 60:
		return RiskMedium
	case trustScore >= 40:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// DetermineAAL derives the assurance level from which credential attributes
// are present and strong. This is a capability check, not an averaged score:
// an assurance level is a discrete trust claim.
func DetermineAAL(attrs []AttributeScore) AAL {
	var passkey, biometric, device, behavior *AttributeScore
	for i := range attrs {
		switch attrs[i].Attribute {
		case AttrPasskey:
			passkey = &attrs[i]
		case AttrBiometric:
			biometric = &attrs[i]
		case AttrDevice:
			device = &attrs[i]
		case AttrBehavior:
			behavior = &attrs[i]
		}
	}
	if passkey != nil && passkey.Score >= 80 && biometric != nil && biometric.Score >= 70 {
		return AAL3
	}
	if (passkey != nil || biometric != nil) &&
		device != nil && device.Score >= 70 &&
		behavior != nil && behavior.Score >= 60 {
		return AAL2
	}
	return AAL1
}
