// Package db persists pool credentials in SQLite.
package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pysugar/kiro-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := gdb.AutoMigrate(&models.Credential{}); err != nil {
		return nil, err
	}
	return gdb, nil
}

// Store is the credential persistence collaborator consumed by the pool
// and the acquisition flow.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm handle.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// ListTokens returns every stored credential.
func (s *Store) ListTokens() ([]models.Credential, error) {
	var creds []models.Credential
	if err := s.db.Order("created_at").Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

// GetToken returns a single credential by ID.
func (s *Store) GetToken(id string) (*models.Credential, error) {
	var cred models.Credential
	if err := s.db.First(&cred, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("credential %s: %w", id, err)
	}
	return &cred, nil
}

// SaveToken upserts a credential keyed by (email, idp), preserving the
// existing ID when the account is already registered.
func (s *Store) SaveToken(cred models.Credential) (string, error) {
	var existing models.Credential
	err := s.db.Where("email = ? AND idp = ?", cred.Email, cred.Idp).First(&existing).Error
	if err == nil {
		cred.ID = existing.ID
		cred.CreatedAt = existing.CreatedAt
		if err := s.db.Save(&cred).Error; err != nil {
			return "", fmt.Errorf("update credential: %w", err)
		}
		return cred.ID, nil
	}

	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if err := s.db.Create(&cred).Error; err != nil {
		return "", fmt.Errorf("create credential: %w", err)
	}
	return cred.ID, nil
}

// ApplyRefresh persists the outcome of a token refresh. The refresh token
// is rotated only when the backend returned a new one.
func (s *Store) ApplyRefresh(id, accessToken, csrfToken, sessionToken string, expiresAt time.Time) error {
	var cred models.Credential
	if err := s.db.First(&cred, "id = ?", id).Error; err != nil {
		return fmt.Errorf("credential %s: %w", id, err)
	}

	cred.AccessToken = accessToken
	cred.ExpiresAt = expiresAt
	if csrfToken != "" {
		cred.CsrfToken = csrfToken
	}
	if sessionToken != "" {
		cred.SessionToken = sessionToken
	}
	if err := s.db.Save(&cred).Error; err != nil {
		return fmt.Errorf("save refreshed credential: %w", err)
	}
	return nil
}
