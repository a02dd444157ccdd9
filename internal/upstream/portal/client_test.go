package portal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func cborResponse(t *testing.T, w http.ResponseWriter, status int, body map[string]any) {
	t.Helper()
	data, err := encodeBody(body)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(data)
}

func testAuth() Auth {
	return Auth{
		Idp:          "Google",
		AccessToken:  "access-token-1",
		CsrfToken:    "csrf-token-1",
		SessionToken: "session-token-1",
	}
}

func TestCallWireFormat(t *testing.T) {
	var captured *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		cborResponse(t, w, http.StatusOK, map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	if _, _, err := c.call(context.Background(), "GetUserInfo", map[string]any{"origin": "KIRO_IDE"}, ptr(testAuth())); err != nil {
		t.Fatalf("call: %v", err)
	}

	if captured.URL.Path != "/service/KiroWebPortalService/operation/GetUserInfo" {
		t.Fatalf("unexpected path %q", captured.URL.Path)
	}
	headerChecks := map[string]string{
		"Content-Type":    "application/cbor",
		"Accept":          "application/cbor",
		"Smithy-Protocol": "rpc-v2-cbor",
		"Authorization":   "Bearer access-token-1",
		"X-Csrf-Token":    "csrf-token-1",
	}
	for name, want := range headerChecks {
		if got := captured.Header.Get(name); got != want {
			t.Fatalf("header %s = %q, want %q", name, got, want)
		}
	}

	cookie := captured.Header.Get("Cookie")
	want := "Idp=Google; AccessToken=access-token-1; csrfToken=csrf-token-1; RefreshToken=session-token-1"
	if cookie != want {
		t.Fatalf("cookie = %q, want %q", cookie, want)
	}
}

func TestCallWithoutAuth(t *testing.T) {
	var captured *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		cborResponse(t, w, http.StatusOK, map[string]any{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	if _, _, err := c.call(context.Background(), "ExchangeToken", map[string]any{}, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	if captured.Header.Get("Authorization") != "" || captured.Header.Get("Cookie") != "" {
		t.Fatal("unauthenticated call must not send auth headers")
	}
}

func TestCallStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   map[string]any
		check  func(t *testing.T, err error)
	}{
		{
			name:   "locked is suspension",
			status: http.StatusLocked,
			body:   map[string]any{"message": "account locked"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrSuspended) {
					t.Fatalf("expected ErrSuspended, got %v", err)
				}
			},
		},
		{
			name:   "suspension exception in body",
			status: http.StatusBadRequest,
			body:   map[string]any{"__type": "AccountSuspendedException"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrSuspended) {
					t.Fatalf("expected ErrSuspended, got %v", err)
				}
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   map[string]any{"message": "token expired"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUnauthorized) {
					t.Fatalf("expected ErrUnauthorized, got %v", err)
				}
			},
		},
		{
			name:   "other status is rpc error",
			status: http.StatusInternalServerError,
			body:   map[string]any{"message": "oops"},
			check: func(t *testing.T, err error) {
				var rpcErr *RPCError
				if !errors.As(err, &rpcErr) {
					t.Fatalf("expected RPCError, got %v", err)
				}
				if rpcErr.StatusCode != http.StatusInternalServerError {
					t.Fatalf("status = %d", rpcErr.StatusCode)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				cborResponse(t, w, tc.status, tc.body)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, 5*time.Second)
			_, _, err := c.call(context.Background(), "GetUserUsageAndLimits", map[string]any{}, ptr(testAuth()))
			if err == nil {
				t.Fatal("expected error")
			}
			tc.check(t, err)
		})
	}
}

func TestCallDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not cbor at all"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, _, err := c.call(context.Background(), "GetUserInfo", map[string]any{}, ptr(testAuth()))

	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decErr.Operation != "GetUserInfo" {
		t.Fatalf("operation = %q", decErr.Operation)
	}
}

func TestRefreshTokenCapturesSessionCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "RefreshToken", Value: "rotated-session"})
		cborResponse(t, w, http.StatusOK, map[string]any{
			"accessToken": "fresh-access",
			"csrfToken":   "fresh-csrf",
			"expiresIn":   int64(3600),
			"profileArn":  "arn:aws:codewhisperer:us-east-1::profile/X",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	res, err := c.RefreshToken(context.Background(), testAuth())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if res.AccessToken != "fresh-access" || res.CsrfToken != "fresh-csrf" {
		t.Fatalf("result = %+v", res)
	}
	if res.SessionToken != "rotated-session" {
		t.Fatalf("session token = %q, want rotated-session", res.SessionToken)
	}

	now := time.Now()
	expiry := res.ExpiresAt(now)
	if got := expiry.Sub(now); got != time.Hour {
		t.Fatalf("expiry offset = %v, want 1h", got)
	}
}

func TestExchangeTokenSendsPKCEFields(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		decoded, err := decodeBody(raw)
		if err != nil {
			t.Errorf("decode request: %v", err)
		}
		got, _ = decoded.(map[string]any)
		http.SetCookie(w, &http.Cookie{Name: "RefreshToken", Value: "new-session"})
		cborResponse(t, w, http.StatusOK, map[string]any{"accessToken": "acc", "expiresIn": int64(900)})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	res, err := c.ExchangeToken(context.Background(), "Github", "code-1", "verifier-1", "http://127.0.0.1:43210/oauth/callback", "state-1")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	want := map[string]any{
		"idp":          "Github",
		"code":         "code-1",
		"codeVerifier": "verifier-1",
		"redirectUri":  "http://127.0.0.1:43210/oauth/callback",
		"state":        "state-1",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("request field %s = %v, want %v", k, got[k], v)
		}
	}
	if res.SessionToken != "new-session" {
		t.Fatalf("session token = %q", res.SessionToken)
	}
}

func TestGetUserInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cborResponse(t, w, http.StatusOK, map[string]any{
			"email":  "user@example.com",
			"userId": "u-42",
			"name":   "Test User",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	info, err := c.GetUserInfo(context.Background(), testAuth())
	if err != nil {
		t.Fatalf("get user info: %v", err)
	}
	if info.Email != "user@example.com" || info.UserID != "u-42" || info.Name != "Test User" {
		t.Fatalf("info = %+v", info)
	}
}

func ptr(a Auth) *Auth { return &a }
