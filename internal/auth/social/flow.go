// Package social mints new pool credentials through the OAuth
// authorization-code-with-PKCE exchange against the web portal.
package social

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"time"

	"github.com/pysugar/kiro-nexus/internal/db/models"
	"github.com/pysugar/kiro-nexus/internal/upstream/portal"
	"golang.org/x/oauth2"
)

// ErrStateMismatch is a terminal CSRF failure: the callback's state did
// not match the one generated for this flow. Never retried.
var ErrStateMismatch = errors.New("oauth state mismatch")

// DefaultAuthURL is the portal's browser authorization page.
const DefaultAuthURL = portal.DefaultEndpoint + "/login"

// PortalAPI is the slice of the portal client the flow needs.
type PortalAPI interface {
	ExchangeToken(ctx context.Context, idp, code, codeVerifier, redirectURI, state string) (*portal.RefreshResult, error)
	GetUserInfo(ctx context.Context, auth portal.Auth) (*portal.UserInfo, error)
}

// CredentialSaver persists the minted credential. Pool population happens
// separately via the pool's Load.
type CredentialSaver interface {
	SaveToken(cred models.Credential) (string, error)
}

// Flow drives one acquisition: listener up, browser out, callback in,
// state check, code exchange, persistence.
type Flow struct {
	portal PortalAPI
	store  CredentialSaver

	authURL         string
	port            int
	region          string
	waitTimeout     time.Duration
	exchangeTimeout time.Duration

	openBrowser func(url string) error // test hook
}

// NewFlow builds a flow bound to a fixed callback port.
func NewFlow(portalAPI PortalAPI, store CredentialSaver, port int, region string, waitTimeout, exchangeTimeout time.Duration) *Flow {
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Minute
	}
	if exchangeTimeout <= 0 {
		exchangeTimeout = 30 * time.Second
	}
	return &Flow{
		portal:          portalAPI,
		store:           store,
		authURL:         DefaultAuthURL,
		port:            port,
		region:          region,
		waitTimeout:     waitTimeout,
		exchangeTimeout: exchangeTimeout,
		openBrowser:     openBrowser,
	}
}

// Run executes the whole flow for one identity provider and returns the
// persisted credential. Every failure path is terminal: the caller must
// start a fresh flow, never resume this one.
func (f *Flow) Run(ctx context.Context, idp string) (*models.Credential, error) {
	exch := NewExchange()

	srv := NewCallbackServer(f.port)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	defer srv.Close()

	authorizeURL := f.authorizeURL(idp, exch, srv.RedirectURI())
	log.Printf("[OAuth] Opening authorization page for %s", idp)
	if err := f.openBrowser(authorizeURL); err != nil {
		log.Printf("[OAuth] Could not open browser, visit manually: %s", authorizeURL)
	}

	result, err := srv.Wait(ctx, f.waitTimeout)
	if err != nil {
		return nil, err
	}
	if result.AuthError != "" {
		return nil, fmt.Errorf("authorization failed: %s: %s", result.AuthError, result.ErrorDescription)
	}
	if result.State != exch.State {
		return nil, ErrStateMismatch
	}

	exCtx, cancel := context.WithTimeout(ctx, f.exchangeTimeout)
	defer cancel()
	token, err := f.portal.ExchangeToken(exCtx, idp, result.Code, exch.Verifier, srv.RedirectURI(), exch.State)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	cred := models.Credential{
		Idp:          idp,
		Region:       f.region,
		AccessToken:  token.AccessToken,
		CsrfToken:    token.CsrfToken,
		SessionToken: token.SessionToken,
		ProfileArn:   token.ProfileArn,
		ExpiresAt:    token.ExpiresAt(time.Now()),
	}

	// Identity lookup is best effort; the credential works without it.
	if info, err := f.portal.GetUserInfo(exCtx, portal.Auth{
		Idp:          idp,
		AccessToken:  token.AccessToken,
		CsrfToken:    token.CsrfToken,
		SessionToken: token.SessionToken,
	}); err == nil {
		cred.Email = info.Email
		cred.AccountName = info.Name
	} else {
		log.Printf("[OAuth] User info lookup failed: %v", err)
	}

	id, err := f.store.SaveToken(cred)
	if err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}
	cred.ID = id

	log.Printf("[OAuth] Credential minted for %s (%s)", cred.Email, idp)
	return &cred, nil
}

// AuthorizeURL exposes the URL the flow would open, for callers that
// surface it to the operator instead of spawning a browser.
func (f *Flow) AuthorizeURL(idp string, exch Exchange, redirectURI string) string {
	return f.authorizeURL(idp, exch, redirectURI)
}

func (f *Flow) authorizeURL(idp string, exch Exchange, redirectURI string) string {
	cfg := oauth2.Config{
		Endpoint:    oauth2.Endpoint{AuthURL: f.authURL},
		RedirectURL: redirectURI,
	}
	return cfg.AuthCodeURL(exch.State,
		oauth2.S256ChallengeOption(exch.Verifier),
		oauth2.SetAuthURLParam("idp", idp),
	)
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
