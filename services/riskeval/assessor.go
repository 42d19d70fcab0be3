package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xama/pkg/geoip"
)

// Penalty points per risk signal. The total is clamped to [0,100].
const (
	penaltyNewDevice       = 25
	penaltyVPN             = 20
	penaltyUnusualCountry  = 20
	penaltyNewCity         = 10
	penaltyUnusualHour     = 15
	penaltyRapidRequests   = 25
	penaltyHighValue       = 15
	penaltySensitiveAction = 10
)

const (
	// minHourHistory is how many prior logins we need before time-of-day
	// anomalies are considered meaningful.
	minHourHistory = 5
	// hourTolerance widens each previously seen login hour into a window.
	hourTolerance = 2

	highValueThreshold  = 1000
	rapidWindow         = 5 * time.Minute
	rapidRequestCeiling = 3

	locationHistoryLimit = 50
)

// sensitiveActions always add points regardless of any other signal.
var sensitiveActions = map[string]bool{
	"delete_account":  true,
	"change_password": true,
	"export_data":     true,
	"payment_method":  true,
	"admin_access":    true,
}

// Assessor turns one login/action event into a banded risk assessment,
// reading and appending per-user device and location history as it goes.
type Assessor struct {
	store            Store
	geo              *geoip.Client
	trustedCountries map[string]bool
	log              *zap.Logger
	clock            func() time.Time
}

func NewAssessor(store Store, geo *geoip.Client, trustedCountries []string, log *zap.Logger) *Assessor {
	trusted := make(map[string]bool, len(trustedCountries))
	for _, c := range trustedCountries {
		trusted[c] = true
	}
	return &Assessor{
		store:            store,
		geo:              geo,
		trustedCountries: trusted,
		log:              log,
		clock:            time.Now,
	}
}

// AssessInput is one risk evaluation request.
type AssessInput struct {
	UserID            string
	SessionID         string
	DeviceFingerprint string
	Action            string
	TransactionValue  float64
	ClientIP          string
}

// Assessment is the outcome of one evaluation.
type Assessment struct {
	ID             string          `json:"id"`
	RiskLevel      string          `json:"risk_level"`
	RiskScore      int             `json:"risk_score"`
	RiskFactors    []string        `json:"risk_factors"`
	RequiresStepUp bool            `json:"requires_step_up"`
	Location       *geoip.Location `json:"location,omitempty"`
}

// Assess runs every signal in sequence, records the assessment and returns
// it. Only storage failures are returned as errors; a failed geolocation
// lookup degrades to scoring without location signals.
func (a *Assessor) Assess(ctx context.Context, in AssessInput) (*Assessment, error) {
	now := a.clock()
	score := 0
	factors := []string{}

	hash := fingerprintHash(in.DeviceFingerprint)
	known, err := a.knownDevice(ctx, in.UserID, hash, now)
	if err != nil {
		return nil, err
	}
	if !known {
		score += penaltyNewDevice
		factors = append(factors, "new device fingerprint")
	}

	location := a.locate(ctx, in.ClientIP)
	if location != nil {
		history, err := a.store.LocationHistory(ctx, in.UserID, locationHistoryLimit)
		if err != nil {
			return nil, err
		}

		if location.IsVPN {
			score += penaltyVPN
			factors = append(factors, "VPN or proxy detected")
		}
		if !a.countrySeen(history, location.CountryCode) && !a.trustedCountries[location.CountryCode] {
			score += penaltyUnusualCountry
			factors = append(factors, fmt.Sprintf("login from unusual country %s", location.Country))
		} else if len(history) > 0 && !citySeen(history, location.City) {
			score += penaltyNewCity
			factors = append(factors, fmt.Sprintf("first login from %s", location.City))
		}
		if unusualHour(history, now) {
			score += penaltyUnusualHour
			factors = append(factors, "login at unusual hour")
		}

		if err := a.store.RecordLocation(ctx, LoginLocation{
			UserID:      in.UserID,
			Country:     location.Country,
			CountryCode: location.CountryCode,
			City:        location.City,
			IP:          location.IP,
			CreatedAt:   now,
		}); err != nil {
			return nil, err
		}
	}

	recent, err := a.store.CountAssessmentsSince(ctx, in.UserID, now.Add(-rapidWindow))
	if err != nil {
		return nil, err
	}
	if recent >= rapidRequestCeiling {
		score += penaltyRapidRequests
		factors = append(factors, "multiple rapid risk assessments")
	}

	if in.TransactionValue > highValueThreshold {
		score += penaltyHighValue
		factors = append(factors, "high-value transaction")
	}
	if sensitiveActions[in.Action] {
		score += penaltySensitiveAction
		factors = append(factors, fmt.Sprintf("sensitive action %s", in.Action))
	}

	if score > 100 {
		score = 100
	}
	level := riskBand(score)

	assessment := &Assessment{
		ID:          uuid.NewString(),
		RiskLevel:   level,
		RiskScore:   score,
		RiskFactors: factors,
		RequiresStepUp: level == "high" || level == "critical" ||
			(level == "medium" && in.TransactionValue > highValueThreshold),
		Location: location,
	}

	if err := a.store.RecordAssessment(ctx, AssessmentRecord{
		ID:          assessment.ID,
		UserID:      in.UserID,
		SessionID:   in.SessionID,
		RiskScore:   score,
		RiskLevel:   level,
		RiskFactors: factors,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}
	return assessment, nil
}

func fingerprintHash(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

// knownDevice reports whether the hash was seen before, inserting or
// touching the row either way.
func (a *Assessor) knownDevice(ctx context.Context, userID, hash string, now time.Time) (bool, error) {
	_, err := a.store.GetDevice(ctx, userID, hash)
	if err == ErrDeviceNotFound {
		insert := Device{UserID: userID, FingerprintHash: hash, FirstSeen: now, LastSeen: now}
		if err := a.store.InsertDevice(ctx, insert); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, a.store.TouchDevice(ctx, userID, hash, now)
}

// locate resolves the client IP, swallowing failures: a downed geolocation
// provider degrades granularity but must never block a login.
func (a *Assessor) locate(ctx context.Context, ip string) *geoip.Location {
	if ip == "" || a.geo == nil {
		return nil
	}
	loc, err := a.geo.Lookup(ctx, ip)
	if err != nil {
		a.log.Warn("geolocation lookup failed", zap.String("ip", ip), zap.Error(err))
		return nil
	}
	return loc
}

func (a *Assessor) countrySeen(history []LoginLocation, countryCode string) bool {
	for _, loc := range history {
		if loc.CountryCode == countryCode {
			return true
		}
	}
	return false
}

func citySeen(history []LoginLocation, city string) bool {
	for _, loc := range history {
		if loc.City == city {
			return true
		}
	}
	return false
}

// unusualHour reports whether now falls outside every previously seen login
// hour widened by the tolerance. Fewer than minHourHistory rows is treated
// as no signal.
func unusualHour(history []LoginLocation, now time.Time) bool {
	if len(history) < minHourHistory {
		return false
	}
	hour := now.UTC().Hour()
	for _, loc := range history {
		diff := hour - loc.CreatedAt.UTC().Hour()
		if diff < 0 {
			diff = -diff
		}
		if diff > 12 {
			diff = 24 - diff
		}
		if diff <= hourTolerance {
			return false
		}
	}
	return true
}

func riskBand(score int) string {
	switch {
	case score >= 80:
		return "critical"
	case score >= 60:
		return "high"
	case score >= 40:
		return "medium"
	default:
		return "low"
	}
}
