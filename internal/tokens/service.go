// Package tokens composes the credential store and the portal client into
// the token-issuance capability the pool consumes.
package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/pysugar/kiro-nexus/internal/db"
	"github.com/pysugar/kiro-nexus/internal/db/models"
	"github.com/pysugar/kiro-nexus/internal/pool"
	"github.com/pysugar/kiro-nexus/internal/upstream/portal"
)

// Service implements pool.TokenSource.
type Service struct {
	store         *db.Store
	portal        *portal.Client
	defaultRegion string
}

// NewService wires the store and portal client together.
func NewService(store *db.Store, portalClient *portal.Client, defaultRegion string) *Service {
	if defaultRegion == "" {
		defaultRegion = "us-east-1"
	}
	return &Service{store: store, portal: portalClient, defaultRegion: defaultRegion}
}

// ListTokens loads every persisted credential in pool shape. Records with
// no access token are skipped; they cannot be dispatched or refreshed.
func (s *Service) ListTokens(ctx context.Context) ([]pool.Credential, error) {
	records, err := s.store.ListTokens()
	if err != nil {
		return nil, err
	}

	creds := make([]pool.Credential, 0, len(records))
	for _, rec := range records {
		if rec.AccessToken == "" {
			continue
		}
		creds = append(creds, s.toPoolCredential(rec))
	}
	return creds, nil
}

// RefreshToken refreshes one credential through the portal and persists
// the outcome before handing the new material back to the pool.
func (s *Service) RefreshToken(ctx context.Context, id string) (pool.RefreshResult, error) {
	rec, err := s.store.GetToken(id)
	if err != nil {
		return pool.RefreshResult{}, err
	}
	if rec.SessionToken == "" {
		return pool.RefreshResult{}, fmt.Errorf("credential %s has no session token", id)
	}

	res, err := s.portal.RefreshToken(ctx, portal.Auth{
		Idp:          rec.Idp,
		AccessToken:  rec.AccessToken,
		CsrfToken:    rec.CsrfToken,
		SessionToken: rec.SessionToken,
	})
	if err != nil {
		return pool.RefreshResult{}, err
	}

	expiresAt := res.ExpiresAt(time.Now())
	if err := s.store.ApplyRefresh(id, res.AccessToken, res.CsrfToken, res.SessionToken, expiresAt); err != nil {
		return pool.RefreshResult{}, err
	}

	return pool.RefreshResult{
		AccessToken:  res.AccessToken,
		CsrfToken:    res.CsrfToken,
		SessionToken: res.SessionToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) toPoolCredential(rec models.Credential) pool.Credential {
	region := rec.Region
	if region == "" {
		region = s.defaultRegion
	}
	return pool.Credential{
		ID:           rec.ID,
		AccountName:  rec.AccountName,
		Email:        rec.Email,
		Idp:          rec.Idp,
		Region:       region,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		CsrfToken:    rec.CsrfToken,
		SessionToken: rec.SessionToken,
		ExpiresAt:    rec.ExpiresAt,
		Status:       pool.StatusActive,
	}
}
