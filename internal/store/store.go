// Package store persists users and finished game results in SQLite.
// The driver is pure Go, so the server stays a single static binary.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/seyacat/milsim-sub000/internal/game"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
)

// User is a registered account. Passwords are stored as bcrypt hashes.
type User struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

// GameRecord archives one finished game instance: the live engine state is
// gone after a restart, so /history and /instances read from here.
type GameRecord struct {
	ID         string `gorm:"primaryKey"`
	GameID     string `gorm:"index"`
	Name       string
	OwnerID    string `gorm:"index"`
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   int
	Results    datatypes.JSON
	CreatedAt  time.Time
}

// Store wraps the gorm handle.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (or creates) the SQLite database at path and migrates the
// schema. Use ":memory:" for tests.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&User{}, &GameRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser registers a new account with a bcrypt-hashed password.
func (s *Store) CreateUser(username, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.db.Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Authenticate verifies username/password and returns the account.
func (s *Store) Authenticate(username, password string) (*User, error) {
	var u User
	err := s.db.Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// GetUser returns an account by id.
func (s *Store) GetUser(id string) (*User, error) {
	var u User
	err := s.db.First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &u, nil
}

// SaveResults archives a finished game's results as a new instance record.
func (s *Store) SaveResults(ownerID string, res *game.Results) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	rec := &GameRecord{
		ID:         uuid.NewString(),
		GameID:     res.GameID,
		Name:       res.Name,
		OwnerID:    ownerID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Duration:   res.DurationSeconds,
		Results:    datatypes.JSON(payload),
		CreatedAt:  time.Now(),
	}
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("save game record: %w", err)
	}
	return nil
}

// History returns all archived games owned by the user, newest first.
func (s *Store) History(ownerID string) ([]GameRecord, error) {
	var recs []GameRecord
	err := s.db.Where("owner_id = ?", ownerID).Order("finished_at desc").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return recs, nil
}

// Instances returns every archived instance of one game id, oldest first.
func (s *Store) Instances(gameID string) ([]GameRecord, error) {
	var recs []GameRecord
	err := s.db.Where("game_id = ?", gameID).Order("finished_at asc").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}
	return recs, nil
}

// isUniqueViolation matches the sqlite unique-constraint error text, which
// the pure-Go driver does not expose as a typed error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
