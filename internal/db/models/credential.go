package models

import "time"

// Credential stores the OAuth-derived identity and tokens for one Kiro account.
type Credential struct {
	ID           string `gorm:"primaryKey"` // UUID
	AccountName  string
	Email        string `gorm:"uniqueIndex:idx_email_idp"`
	Idp          string `gorm:"uniqueIndex:idx_email_idp"` // "Google" or "Github"
	Region       string
	AccessToken  string
	RefreshToken string
	CsrfToken    string
	SessionToken string
	ProfileArn   string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
