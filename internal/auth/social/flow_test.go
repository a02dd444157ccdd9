package social

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/kiro-nexus/internal/db/models"
	"github.com/pysugar/kiro-nexus/internal/upstream/portal"
)

type fakePortal struct {
	exchangeCalls int
	gotIdp        string
	gotCode       string
	gotVerifier   string
	gotState      string
	exchangeErr   error
	userInfoErr   error
}

func (f *fakePortal) ExchangeToken(ctx context.Context, idp, code, codeVerifier, redirectURI, state string) (*portal.RefreshResult, error) {
	f.exchangeCalls++
	f.gotIdp, f.gotCode, f.gotVerifier, f.gotState = idp, code, codeVerifier, state
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &portal.RefreshResult{
		AccessToken:  "minted-access",
		CsrfToken:    "minted-csrf",
		SessionToken: "minted-session",
		ExpiresIn:    3600,
	}, nil
}

func (f *fakePortal) GetUserInfo(ctx context.Context, auth portal.Auth) (*portal.UserInfo, error) {
	if f.userInfoErr != nil {
		return nil, f.userInfoErr
	}
	return &portal.UserInfo{Email: "new@example.com", Name: "New User"}, nil
}

type fakeSaver struct {
	saved *models.Credential
}

func (f *fakeSaver) SaveToken(cred models.Credential) (string, error) {
	f.saved = &cred
	return "cred-id-1", nil
}

// browserStub simulates the user completing (or botching) the browser
// round trip: it parses the authorize URL and hits the redirect URI.
func browserStub(t *testing.T, mutateState func(string) string) func(string) error {
	t.Helper()
	return func(authorizeURL string) error {
		u, err := url.Parse(authorizeURL)
		if err != nil {
			t.Errorf("parse authorize url: %v", err)
			return err
		}
		q := u.Query()
		redirect := q.Get("redirect_uri")
		state := mutateState(q.Get("state"))

		go func() {
			cb := redirect + "?code=browser-code&state=" + url.QueryEscape(state)
			resp, err := http.Get(cb)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func newTestFlow(t *testing.T, p PortalAPI, s CredentialSaver) *Flow {
	t.Helper()
	f := NewFlow(p, s, freePort(t), "us-east-1", 5*time.Second, 5*time.Second)
	return f
}

func TestFlowRun(t *testing.T) {
	fp := &fakePortal{}
	fs := &fakeSaver{}
	f := newTestFlow(t, fp, fs)
	f.openBrowser = browserStub(t, func(s string) string { return s })

	cred, err := f.Run(context.Background(), "Google")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if fp.exchangeCalls != 1 {
		t.Fatalf("exchange calls = %d", fp.exchangeCalls)
	}
	if fp.gotIdp != "Google" || fp.gotCode != "browser-code" {
		t.Fatalf("exchange args = %q / %q", fp.gotIdp, fp.gotCode)
	}
	if fp.gotVerifier == "" || fp.gotState == "" {
		t.Fatal("verifier and state must flow into the exchange")
	}

	if cred.ID != "cred-id-1" {
		t.Fatalf("credential id = %q", cred.ID)
	}
	if cred.AccessToken != "minted-access" || cred.SessionToken != "minted-session" {
		t.Fatalf("tokens = %q / %q", cred.AccessToken, cred.SessionToken)
	}
	if cred.Email != "new@example.com" || cred.AccountName != "New User" {
		t.Fatalf("identity = %q / %q", cred.Email, cred.AccountName)
	}
	if fs.saved == nil || fs.saved.Idp != "Google" || fs.saved.Region != "us-east-1" {
		t.Fatalf("persisted = %+v", fs.saved)
	}
	if cred.ExpiresAt.Before(time.Now().Add(30 * time.Minute)) {
		t.Fatalf("expiry not applied: %v", cred.ExpiresAt)
	}
}

func TestFlowStateMismatch(t *testing.T) {
	fp := &fakePortal{}
	f := newTestFlow(t, fp, &fakeSaver{})
	f.openBrowser = browserStub(t, func(string) string { return "attacker-state" })

	_, err := f.Run(context.Background(), "Google")
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
	if fp.exchangeCalls != 0 {
		t.Fatal("exchange must not run after a state mismatch")
	}
}

func TestFlowAuthorizationDenied(t *testing.T) {
	fp := &fakePortal{}
	f := newTestFlow(t, fp, &fakeSaver{})
	f.openBrowser = func(authorizeURL string) error {
		u, _ := url.Parse(authorizeURL)
		redirect := u.Query().Get("redirect_uri")
		go func() {
			resp, err := http.Get(redirect + "?error=access_denied&error_description=nope")
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	_, err := f.Run(context.Background(), "Google")
	if err == nil || !strings.Contains(err.Error(), "access_denied") {
		t.Fatalf("expected denial error, got %v", err)
	}
	if fp.exchangeCalls != 0 {
		t.Fatal("exchange must not run after a denial")
	}
}

func TestFlowExchangeFailure(t *testing.T) {
	fp := &fakePortal{exchangeErr: errors.New("portal down")}
	fs := &fakeSaver{}
	f := newTestFlow(t, fp, fs)
	f.openBrowser = browserStub(t, func(s string) string { return s })

	_, err := f.Run(context.Background(), "Github")
	if err == nil || !strings.Contains(err.Error(), "code exchange") {
		t.Fatalf("expected exchange error, got %v", err)
	}
	if fs.saved != nil {
		t.Fatal("nothing should be persisted on exchange failure")
	}
}

func TestFlowUserInfoFailureIsNotFatal(t *testing.T) {
	fp := &fakePortal{userInfoErr: errors.New("lookup failed")}
	fs := &fakeSaver{}
	f := newTestFlow(t, fp, fs)
	f.openBrowser = browserStub(t, func(s string) string { return s })

	cred, err := f.Run(context.Background(), "Google")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cred.Email != "" {
		t.Fatalf("email should be empty, got %q", cred.Email)
	}
	if fs.saved == nil {
		t.Fatal("credential must persist without identity info")
	}
}

func TestAuthorizeURL(t *testing.T) {
	f := newTestFlow(t, &fakePortal{}, &fakeSaver{})
	exch := NewExchange()

	raw := f.AuthorizeURL("Github", exch, "http://127.0.0.1:43210/oauth/callback")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.HasPrefix(raw, DefaultAuthURL) {
		t.Fatalf("url %q not rooted at %q", raw, DefaultAuthURL)
	}

	q := u.Query()
	checks := map[string]string{
		"idp":                   "Github",
		"state":                 exch.State,
		"redirect_uri":          "http://127.0.0.1:43210/oauth/callback",
		"code_challenge":        exch.Challenge,
		"code_challenge_method": "S256",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Fatalf("param %s = %q, want %q", k, got, want)
		}
	}
}
