package xama

import (
	"fmt"
	"time"
)

// Policy fixes the trust requirements for one resource-sensitivity tier.
// Policies are configuration, not user data, and are immutable once built.
type Policy struct {
	Name                 string            `json:"name"`
	RequiredAttributes   []Attribute       `json:"required_attributes"`
	MinScores            map[Attribute]int `json:"min_scores"`
	MinOverallScore      int               `json:"min_overall_score"`
	RequiredAAL          AAL               `json:"required_aal"`
	MaxSessionDuration   time.Duration     `json:"max_session_duration"`
	VerificationInterval time.Duration     `json:"verification_interval"`
}

// Policies is an injected lookup table of tiers keyed by sensitivity.
type Policies map[string]Policy

// Get returns the named tier.
func (p Policies) Get(name string) (Policy, bool) {
	pol, ok := p[name]
	return pol, ok
}

// DefaultPolicies returns the four built-in tiers.
func DefaultPolicies() Policies {
	return Policies{
		"low": {
			Name:               "low",
			RequiredAttributes: []Attribute{AttrDevice, AttrSession},
			MinScores: map[Attribute]int{
				AttrDevice:  50,
				AttrSession: 60,
			},
			MinOverallScore:      50,
			RequiredAAL:          AAL1,
			MaxSessionDuration:   8 * time.Hour,
			VerificationInterval: 30 * time.Minute,
		},
		"medium": {
			Name:               "medium",
			RequiredAttributes: []Attribute{AttrDevice, AttrSession, AttrLocation},
			MinScores: map[Attribute]int{
				AttrDevice:   60,
				AttrSession:  60,
				AttrLocation: 50,
			},
			MinOverallScore:      60,
			RequiredAAL:          AAL1,
			MaxSessionDuration:   4 * time.Hour,
			VerificationInterval: 15 * time.Minute,
		},
		"high": {
			Name:               "high",
			RequiredAttributes: []Attribute{AttrDevice, AttrSession, AttrLocation, AttrBehavior, AttrBiometric},
			MinScores: map[Attribute]int{
				AttrDevice:    70,
				AttrSession:   60,
				AttrLocation:  60,
				AttrBehavior:  60,
				AttrBiometric: 70,
			},
			MinOverallScore:      75,
			RequiredAAL:          AAL2,
			MaxSessionDuration:   time.Hour,
			VerificationInterval: 5 * time.Minute,
		},
		"critical": {
			Name:               "critical",
			RequiredAttributes: []Attribute{AttrDevice, AttrSession, AttrLocation, AttrBehavior, AttrBiometric, AttrPasskey},
			MinScores: map[Attribute]int{
				AttrDevice:    80,
				AttrSession:   70,
				AttrLocation:  70,
				AttrBehavior:  70,
				AttrBiometric: 80,
				AttrPasskey:   80,
			},
			MinOverallScore:      85,
			RequiredAAL:          AAL3,
			MaxSessionDuration:   15 * time.Minute,
			VerificationInterval: time.Minute,
		},
	}
}

// PolicyResult reports a policy evaluation. FailedRequirements carries every
// violated rule, never just the first.
type PolicyResult struct {
	Passed             bool     `json:"passed"`
	FailedRequirements []string `json:"failed_requirements"`
}

// EvaluatePolicy checks the profile against one tier: overall-score floor,
// AAL floor, presence and per-attribute minimum of every required attribute,
// and elapsed session duration. It does not short-circuit so the caller sees
// the full list of violations in one pass.
func EvaluatePolicy(p Profile, policy Policy, now time.Time) PolicyResult {
	var failed []string

	if p.OverallTrustScore < policy.MinOverallScore {
		failed = append(failed, fmt.Sprintf("overall trust score %d below required %d",
			p.OverallTrustScore, policy.MinOverallScore))
	}
	if p.AuthenticationLevel < policy.RequiredAAL {
		failed = append(failed, fmt.Sprintf("authentication level %s below required %s",
			p.AuthenticationLevel, policy.RequiredAAL))
	}
	for _, req := range policy.RequiredAttributes {
		attr, ok := p.Attribute(req)
		if !ok {
			failed = append(failed, fmt.Sprintf("missing required attribute %s", req))
			continue
		}
		if min, has := policy.MinScores[req]; has && attr.Score < min {
			failed = append(failed, fmt.Sprintf("attribute %s score %d below required %d",
				req, attr.Score, min))
		}
	}
	if policy.MaxSessionDuration > 0 && now.Sub(p.SessionStartTime) > policy.MaxSessionDuration {
		failed = append(failed, fmt.Sprintf("session duration exceeds maximum %s",
			policy.MaxSessionDuration))
	}

	return PolicyResult{Passed: len(failed) == 0, FailedRequirements: failed}
}
