package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrChallengeExpired = errors.New("challenge expired")
	ErrChallengeUsed    = errors.New("challenge already used")
	ErrCodeMismatch     = errors.New("verification code does not match")
)

// ChallengeManager issues and verifies step-up OTP challenges. Codes are
// stored salted-hashed and delivered out of band by the email function.
type ChallengeManager struct {
	store     Store
	jwtSecret []byte
	emailURL  string
	ttl       time.Duration
	http      *http.Client
	log       *zap.Logger
	clock     func() time.Time
}

func NewChallengeManager(store Store, jwtSecret []byte, emailURL string, ttl time.Duration, log *zap.Logger) *ChallengeManager {
	return &ChallengeManager{
		store:     store,
		jwtSecret: jwtSecret,
		emailURL:  emailURL,
		ttl:       ttl,
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       log,
		clock:     time.Now,
	}
}

// IssuedChallenge is what the caller gets back. The code itself travels only
// by email.
type IssuedChallenge struct {
	ChallengeID string    `json:"challenge_id"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Issue generates a 6-digit code, persists its salted hash, dispatches the
// code by email and returns a signed token referencing the challenge. Email
// delivery failure is logged but does not fail the issue.
func (m *ChallengeManager) Issue(ctx context.Context, userID, sessionID string) (*IssuedChallenge, error) {
	now := m.clock()
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	salt, err := generateSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	challenge := Challenge{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		CodeHash:  hashCode(salt, code),
		Salt:      salt,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.store.SaveChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	m.dispatchEmail(ctx, userID, code)

	token, err := m.signToken(challenge)
	if err != nil {
		return nil, fmt.Errorf("sign challenge token: %w", err)
	}
	return &IssuedChallenge{
		ChallengeID: challenge.ID,
		Token:       token,
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// Verify checks the code against the stored hash in constant time and
// consumes the challenge so it cannot be replayed.
func (m *ChallengeManager) Verify(ctx context.Context, challengeID, code string) error {
	challenge, err := m.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if challenge.Used {
		return ErrChallengeUsed
	}
	if m.clock().After(challenge.ExpiresAt) {
		return ErrChallengeExpired
	}
	expected := []byte(challenge.CodeHash)
	actual := []byte(hashCode(challenge.Salt, code))
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return ErrCodeMismatch
	}
	ok, err := m.store.ConsumeChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrChallengeUsed
	}
	return nil
}

func (m *ChallengeManager) signToken(c Challenge) (string, error) {
	claims := jwt.MapClaims{
		"challenge_id": c.ID,
		"session_id":   c.SessionID,
		"iat":          c.CreatedAt.Unix(),
		"exp":          c.ExpiresAt.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
}

func (m *ChallengeManager) dispatchEmail(ctx context.Context, userID, code string) {
	if m.emailURL == "" {
		m.log.Warn("email function not configured, challenge code not delivered",
			zap.String("user_id", userID))
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"user_id": userID,
		"code":    code,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.emailURL, bytes.NewReader(payload))
	if err != nil {
		m.log.Warn("build email request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.http.Do(req)
	if err != nil {
		m.log.Warn("dispatch challenge email", zap.String("user_id", userID), zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		m.log.Warn("email function rejected dispatch",
			zap.String("user_id", userID), zap.Int("status", resp.StatusCode))
	}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashCode(salt, code string) string {
	sum := sha256.Sum256([]byte(salt + code))
	return hex.EncodeToString(sum[:])
}
