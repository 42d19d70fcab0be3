package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"xama/pkg/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrChallengeNotFound = errors.New("challenge not found")
)

// Device is one fingerprint a user has logged in from.
type Device struct {
	UserID          string
	FingerprintHash string
	FirstSeen       time.Time
	LastSeen        time.Time
}

// LoginLocation is one geolocated login event.
type LoginLocation struct {
	UserID      string
	Country     string
	CountryCode string
	City        string
	IP          string
	CreatedAt   time.Time
}

// AssessmentRecord is the persisted outcome of one risk evaluation.
type AssessmentRecord struct {
	ID          string
	UserID      string
	SessionID   string
	RiskScore   int
	RiskLevel   string
	RiskFactors []string
	CreatedAt   time.Time
}

// Challenge is a pending step-up verification. Only the salted hash of the
// code is stored.
type Challenge struct {
	ID        string
	UserID    string
	SessionID string
	CodeHash  string
	Salt      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Store is the persistence surface of the risk evaluator.
type Store interface {
	GetDevice(ctx context.Context, userID, hash string) (*Device, error)
	InsertDevice(ctx context.Context, d Device) error
	TouchDevice(ctx context.Context, userID, hash string, seenAt time.Time) error

	LocationHistory(ctx context.Context, userID string, limit int) ([]LoginLocation, error)
	RecordLocation(ctx context.Context, loc LoginLocation) error

	CountAssessmentsSince(ctx context.Context, userID string, since time.Time) (int, error)
	RecordAssessment(ctx context.Context, a AssessmentRecord) error

	SaveChallenge(ctx context.Context, c Challenge) error
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	ConsumeChallenge(ctx context.Context, id string) (bool, error)
}

// PostgresStore backs the evaluator with Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// MigrateSchema applies the embedded migrations.
func MigrateSchema(db *sql.DB) error {
	return database.Migrate(db, migrationsFS, "migrations")
}

func (s *PostgresStore) GetDevice(ctx context.Context, userID, hash string) (*Device, error) {
	d := Device{UserID: userID, FingerprintHash: hash}
	err := s.db.QueryRowContext(ctx,
		`SELECT first_seen, last_seen FROM device_fingerprints
		 WHERE user_id = $1 AND fingerprint_hash = $2`,
		userID, hash,
	).Scan(&d.FirstSeen, &d.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) InsertDevice(ctx context.Context, d Device) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_fingerprints (user_id, fingerprint_hash, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, fingerprint_hash) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
		d.UserID, d.FingerprintHash, d.FirstSeen, d.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchDevice(ctx context.Context, userID, hash string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE device_fingerprints SET last_seen = $3
		 WHERE user_id = $1 AND fingerprint_hash = $2`,
		userID, hash, seenAt,
	)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

func (s *PostgresStore) LocationHistory(ctx context.Context, userID string, limit int) ([]LoginLocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT country, country_code, city, ip, created_at FROM login_locations
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("location history: %w", err)
	}
	defer rows.Close()

	var out []LoginLocation
	for rows.Next() {
		loc := LoginLocation{UserID: userID}
		if err := rows.Scan(&loc.Country, &loc.CountryCode, &loc.City, &loc.IP, &loc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordLocation(ctx context.Context, loc LoginLocation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO login_locations (user_id, country, country_code, city, ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		loc.UserID, loc.Country, loc.CountryCode, loc.City, loc.IP, loc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record location: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountAssessmentsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM risk_assessments WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count assessments: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) RecordAssessment(ctx context.Context, a AssessmentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO risk_assessments (id, user_id, session_id, risk_score, risk_level, risk_factors, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.SessionID, a.RiskScore, a.RiskLevel, pq.Array(a.RiskFactors), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveChallenge(ctx context.Context, c Challenge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_challenges (id, user_id, session_id, code_hash, salt, expires_at, used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserID, c.SessionID, c.CodeHash, c.Salt, c.ExpiresAt, c.Used, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	c := Challenge{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, session_id, code_hash, salt, expires_at, used, created_at
		 FROM auth_challenges WHERE id = $1`,
		id,
	).Scan(&c.UserID, &c.SessionID, &c.CodeHash, &c.Salt, &c.ExpiresAt, &c.Used, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return &c, nil
}

// ConsumeChallenge flips used to true. It reports false when the challenge
// was already consumed, so two concurrent verifications cannot both succeed.
func (s *PostgresStore) ConsumeChallenge(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE auth_challenges SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	return n == 1, nil
}

// MemoryStore keeps everything in process. It stands in for Postgres when
// DATABASE_URL is not configured and backs the handler tests.
type MemoryStore struct {
	mu          sync.Mutex
	devices     map[string]Device // key userID+"\x00"+hash
	locations   map[string][]LoginLocation
	assessments map[string][]AssessmentRecord
	challenges  map[string]Challenge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:     make(map[string]Device),
		locations:   make(map[string][]LoginLocation),
		assessments: make(map[string][]AssessmentRecord),
		challenges:  make(map[string]Challenge),
	}
}

func deviceKey(userID, hash string) string { return userID + "\x00" + hash }

func (s *MemoryStore) GetDevice(_ context.Context, userID, hash string) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceKey(userID, hash)]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return &d, nil
}

func (s *MemoryStore) InsertDevice(_ context.Context, d Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[deviceKey(d.UserID, d.FingerprintHash)] = d
	return nil
}

func (s *MemoryStore) TouchDevice(_ context.Context, userID, hash string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceKey(userID, hash)]; ok {
		d.LastSeen = seenAt
		s.devices[deviceKey(userID, hash)] = d
	}
	return nil
}

func (s *MemoryStore) LocationHistory(_ context.Context, userID string, limit int) ([]LoginLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.locations[userID]
	out := make([]LoginLocation, 0, limit)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

func (s *MemoryStore) RecordLocation(_ context.Context, loc LoginLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[loc.UserID] = append(s.locations[loc.UserID], loc)
	return nil
}

func (s *MemoryStore) CountAssessmentsSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.assessments[userID] {
		if !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RecordAssessment(_ context.Context, a AssessmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[a.UserID] = append(s.assessments[a.UserID], a)
	return nil
}

func (s *MemoryStore) SaveChallenge(_ context.Context, c Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ID] = c
	return nil
}

func (s *MemoryStore) GetChallenge(_ context.Context, id string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return &c, nil
}

func (s *MemoryStore) ConsumeChallenge(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	s.challenges[id] = c
	return true, nil
}
