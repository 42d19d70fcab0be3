package xama

import (
	"fmt"
	"time"
)

// SessionCeiling is the absolute session lifetime cap enforced by health
// reporting. Per-policy MaxSessionDuration governs policy evaluation; this
// ceiling is the hard upper bound regardless of tier.
const SessionCeiling = 120 * time.Minute

// HealthStatus summarises a session's standing.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// SessionHealthReport is the caller-facing session-health verdict.
type SessionHealthReport struct {
	SessionID       string       `json:"session_id"`
	Status          HealthStatus `json:"status"`
	TrustScore      int          `json:"trust_score"`
	MinutesToExpiry float64      `json:"minutes_to_expiry"`
	Issues          []string     `json:"issues"`
	Recommendations []string     `json:"recommendations"`
	GeneratedAt     time.Time    `json:"generated_at"`
}

// GenerateSessionHealthReport inspects the profile for weak trust, weakened
// attributes, a degraded monitor state and approaching expiry, and aggregates
// human-readable issues with matching recommendations.
func GenerateSessionHealthReport(p Profile, now time.Time) SessionHealthReport {
	report := SessionHealthReport{
		SessionID:   p.SessionID,
		TrustScore:  p.OverallTrustScore,
		GeneratedAt: now,
	}

	if p.OverallTrustScore < 50 {
		report.Issues = append(report.Issues, "overall trust score is low")
		report.Recommendations = append(report.Recommendations, "perform a full re-verification to restore trust")
	}
	for _, a := range p.Attributes {
		if a.Score < 60 {
			report.Issues = append(report.Issues, fmt.Sprintf("%s attribute has weakened", a.Attribute))
			report.Recommendations = append(report.Recommendations, fmt.Sprintf("re-verify the %s attribute", a.Attribute))
		}
	}
	if p.ContinuousAuthStatus == StatusDegraded {
		report.Issues = append(report.Issues, "continuous authentication is degraded")
		report.Recommendations = append(report.Recommendations, "complete a step-up verification")
	}

	oldest := oldestVerification(p)
	report.MinutesToExpiry = SessionCeiling.Minutes() - now.Sub(oldest).Minutes()
	if report.MinutesToExpiry < 0 {
		report.MinutesToExpiry = 0
	}
	if report.MinutesToExpiry < 10 {
		report.Issues = append(report.Issues, "session is approaching expiry")
		report.Recommendations = append(report.Recommendations, "re-authenticate to start a new session")
	}

	switch {
	case p.ContinuousAuthStatus == StatusExpired || len(report.Issues) > 2:
		report.Status = HealthCritical
	case len(report.Issues) > 0:
		report.Status = HealthWarning
	default:
		report.Status = HealthHealthy
	}
	return report
}

func oldestVerification(p Profile) time.Time {
	oldest := p.LastFullVerification
	if oldest.IsZero() {
		oldest = p.SessionStartTime
	}
	for _, a := range p.Attributes {
		if !a.LastVerified.IsZero() && a.LastVerified.Before(oldest) {
			oldest = a.LastVerified
		}
	}
	return oldest
}
