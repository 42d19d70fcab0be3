package xama

import (
	"encoding/json"
	"fmt"
	"time"
)

// Attribute identifies one category of trust evidence.
type Attribute string

const (
	AttrDevice    Attribute = "device"
	AttrLocation  Attribute = "location"
	AttrSession   Attribute = "session"
	AttrBehavior  Attribute = "behavior"
	AttrBiometric Attribute = "biometric"
	AttrPasskey   Attribute = "passkey"
)

// AttributeScore is one scored trust signal. Score is always within [0,100]
// and Confidence within [0,1], including after decay.
type AttributeScore struct {
	Attribute          Attribute `json:"attribute"`
	Score              int       `json:"score"`
	Weight             float64   `json:"weight"`
	Confidence         float64   `json:"confidence"`
	LastVerified       time.Time `json:"last_verified"`
	VerificationMethod string    `json:"verification_method"`
}

// RiskLevel classifies an overall trust score into bands.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AAL is an authentication assurance level. Ordinal: AAL1 < AAL2 < AAL3.
type AAL int

const (
	AAL1 AAL = iota + 1
	AAL2
	AAL3
)

func (a AAL) String() string {
	switch a {
	case AAL1:
		return "AAL1"
	case AAL2:
		return "AAL2"
	case AAL3:
		return "AAL3"
	default:
		return fmt.Sprintf("AAL(%d)", int(a))
	}
}

func (a AAL) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *AAL) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "AAL1":
		*a = AAL1
	case "AAL2":
		*a = AAL2
	case "AAL3":
		*a = AAL3
	default:
		return fmt.Errorf("unknown assurance level %q", s)
	}
	return nil
}

// ContinuousAuthStatus tracks the session monitor state machine.
// active -> degraded -> expired; degraded can return to active on a clean
// evaluation, expired is terminal.
type ContinuousAuthStatus string

const (
	StatusActive   ContinuousAuthStatus = "active"
	StatusDegraded ContinuousAuthStatus = "degraded"
	StatusExpired  ContinuousAuthStatus = "expired"
)

// Profile is the per-session aggregate trust state. Only the latest snapshot
// is kept; update functions return a new Profile rather than mutating.
type Profile struct {
	UserID               string               `json:"user_id"`
	SessionID            string               `json:"session_id"`
	Attributes           []AttributeScore     `json:"attributes"`
	OverallTrustScore    int                  `json:"overall_trust_score"`
	RiskLevel            RiskLevel            `json:"risk_level"`
	AuthenticationLevel  AAL                  `json:"authentication_level"`
	ContinuousAuthStatus ContinuousAuthStatus `json:"continuous_auth_status"`
	LastFullVerification time.Time            `json:"last_full_verification"`
	SessionStartTime     time.Time            `json:"session_start_time"`
}

// Attribute returns the current score for one attribute key, if present.
func (p Profile) Attribute(key Attribute) (AttributeScore, bool) {
	for _, a := range p.Attributes {
		if a.Attribute == key {
			return a, true
		}
	}
	return AttributeScore{}, false
}
