package xama

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func TestScoreDeviceFingerprint(t *testing.T) {
	trusted := []string{"fp-aaa", "fp-bbb"}

	known := ScoreDeviceFingerprint("fp-aaa", trusted, testNow)
	assert.Equal(t, 95, known.Score)
	assert.Equal(t, 0.95, known.Confidence)
	assert.Equal(t, 0.2, known.Weight)

	unknown := ScoreDeviceFingerprint("fp-zzz", trusted, testNow)
	assert.Equal(t, 40, unknown.Score)
	assert.Equal(t, 0.6, unknown.Confidence)
	assert.Equal(t, 0.2, unknown.Weight)
}

func TestScoreLocation(t *testing.T) {
	home := ScoreLocation("ES", false, nil, testNow)
	assert.Equal(t, 70, home.Score)
	assert.InDelta(t, 0.8, home.Confidence, 1e-9)

	foreign := ScoreLocation("US", false, nil, testNow)
	assert.Equal(t, 40, foreign.Score)
	assert.InDelta(t, 0.6, foreign.Confidence, 1e-9)

	foreignVPN := ScoreLocation("US", true, nil, testNow)
	assert.Equal(t, 20, foreignVPN.Score)
	assert.InDelta(t, 0.5, foreignVPN.Confidence, 1e-9)

	// Custom allow list overrides the default.
	custom := ScoreLocation("US", false, []string{"US"}, testNow)
	assert.Equal(t, 70, custom.Score)
}

func TestScoreLocation_ConfidenceFloor(t *testing.T) {
	a := ScoreLocation("RU", true, nil, testNow)
	assert.GreaterOrEqual(t, a.Confidence, 0.4)
	assert.GreaterOrEqual(t, a.Score, 0)
}

func TestScoreSession(t *testing.T) {
	fresh := ScoreSession(0, 1.0, true, testNow)
	assert.Equal(t, 100, fresh.Score) // 100-0+20 clamps to 100
	assert.Equal(t, 0.9, fresh.Confidence)

	old := ScoreSession(200, 0, false, testNow)
	assert.Equal(t, 30, old.Score) // 100-40-30, age decay capped at 40
	assert.Equal(t, 0.6, old.Confidence)

	mid := ScoreSession(40, 0.5, true, testNow)
	assert.Equal(t, 90, mid.Score) // 100-20+10
}

func TestApplyScoreDecay_NoElapsedTime(t *testing.T) {
	a := AttributeScore{Attribute: AttrDevice, Score: 95, Weight: 0.2, Confidence: 0.95, LastVerified: testNow}

	decayed := ApplyScoreDecay(a, DefaultDecayRate, testNow)
	assert.Equal(t, a, decayed)

	// Repeated application with zero elapsed time never changes the value.
	again := ApplyScoreDecay(decayed, DefaultDecayRate, testNow)
	assert.Equal(t, a, again)
}

func TestApplyScoreDecay_Floors(t *testing.T) {
	a := AttributeScore{Attribute: AttrDevice, Score: 95, Weight: 0.2, Confidence: 0.95, LastVerified: testNow}

	// Far beyond the 50% floor: 1 - 600*0.1/60 = 0.
	decayed := ApplyScoreDecay(a, DefaultDecayRate, testNow.Add(10*time.Hour))
	assert.Equal(t, 48, decayed.Score)
	assert.InDelta(t, 0.475, decayed.Confidence, 1e-9)

	// Confidence floor at 0.3.
	weak := AttributeScore{Attribute: AttrSession, Score: 20, Confidence: 0.5, LastVerified: testNow}
	decayedWeak := ApplyScoreDecay(weak, DefaultDecayRate, testNow.Add(10*time.Hour))
	assert.Equal(t, 10, decayedWeak.Score)
	assert.Equal(t, 0.3, decayedWeak.Confidence)
}

func TestApplyScoreDecay_DoesNotAdvanceLastVerified(t *testing.T) {
	a := AttributeScore{Attribute: AttrDevice, Score: 80, Confidence: 0.8, LastVerified: testNow}
	decayed := ApplyScoreDecay(a, DefaultDecayRate, testNow.Add(30*time.Minute))
	require.Equal(t, testNow, decayed.LastVerified)
	assert.Less(t, decayed.Score, a.Score)
}

func TestCredentialScorers(t *testing.T) {
	pk := ScorePasskey(testNow)
	assert.Equal(t, AttrPasskey, pk.Attribute)
	assert.Equal(t, 95, pk.Score)

	bio := ScoreBiometric(testNow)
	assert.Equal(t, AttrBiometric, bio.Attribute)
	assert.Equal(t, 90, bio.Score)
}
