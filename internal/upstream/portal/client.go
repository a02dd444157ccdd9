// Package portal speaks the Kiro web-portal RPC protocol: CBOR envelopes
// over HTTPS with cookie plus bearer authentication.
package portal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/kiro-nexus/internal/util"
)

const (
	// DefaultEndpoint is the production web portal.
	DefaultEndpoint = "https://prod.us-east-1.webportal.kiro.dev"

	serviceName    = "KiroWebPortalService"
	protocolHeader = "rpc-v2-cbor"
	contentType    = "application/cbor"
)

// Auth carries everything needed to authenticate one portal call.
type Auth struct {
	Idp          string
	AccessToken  string
	CsrfToken    string
	SessionToken string
}

// Client is the usage-query RPC client.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a portal client. An empty endpoint selects production.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// call runs one encode → POST → classify → decode round trip. A nil auth
// sends an unauthenticated request (used by the code exchange).
func (c *Client) call(ctx context.Context, operation string, reqData map[string]any, auth *Auth) (map[string]any, *http.Response, error) {
	url := fmt.Sprintf("%s/service/%s/operation/%s", c.endpoint, serviceName, operation)

	body, err := encodeBody(reqData)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: encode request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
	req.Header.Set("smithy-protocol", protocolHeader)

	if auth != nil {
		req.Header.Set("Authorization", "Bearer "+auth.AccessToken)

		// Cookie auth the way a browser session carries it.
		cookies := []string{"Idp=" + auth.Idp, "AccessToken=" + auth.AccessToken}
		if auth.CsrfToken != "" {
			req.Header.Set("x-csrf-token", auth.CsrfToken)
			cookies = append(cookies, "csrfToken="+auth.CsrfToken)
		}
		if auth.SessionToken != "" {
			cookies = append(cookies, "RefreshToken="+auth.SessionToken)
		}
		req.Header.Set("Cookie", strings.Join(cookies, "; "))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read response: %w", operation, err)
	}
	log.Printf("[Portal] %s: %d (%d bytes)", operation, resp.StatusCode, len(raw))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, classifyError(operation, resp.StatusCode, raw)
	}

	decoded, err := decodeBody(raw)
	if err != nil {
		return nil, nil, &DecodeError{Operation: operation, Err: err}
	}
	result, ok := decoded.(map[string]any)
	if !ok {
		return nil, nil, &DecodeError{Operation: operation, Err: fmt.Errorf("unexpected payload shape %T", decoded)}
	}
	return result, resp, nil
}

// classifyError maps a non-2xx response to the domain error taxonomy.
// 423 Locked is the backend's AccountSuspendedException.
func classifyError(operation string, status int, raw []byte) error {
	detail := util.TruncateBytes(raw)
	if decoded, err := decodeBody(raw); err == nil {
		detail = util.TruncateLog(fmt.Sprintf("%v", decoded), util.DefaultLogMaxLen)
	}

	if status == http.StatusLocked || strings.Contains(detail, "AccountSuspendedException") {
		return fmt.Errorf("%s: %w", operation, ErrSuspended)
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", operation, ErrUnauthorized)
	}
	return &RPCError{Operation: operation, StatusCode: status, Detail: detail}
}

// GetUsage fetches account identity, subscription tier and quota usage.
func (c *Client) GetUsage(ctx context.Context, auth Auth) (*UsageSnapshot, error) {
	result, _, err := c.call(ctx, "GetUserUsageAndLimits", map[string]any{
		"isEmailRequired": true,
		"origin":          "KIRO_IDE",
	}, &auth)
	if err != nil {
		return nil, err
	}
	return parseUsage(result), nil
}

// UserInfo is the identity record behind a credential.
type UserInfo struct {
	Email  string
	UserID string
	Name   string
}

// GetUserInfo fetches the profile behind the access token.
func (c *Client) GetUserInfo(ctx context.Context, auth Auth) (*UserInfo, error) {
	result, _, err := c.call(ctx, "GetUserInfo", map[string]any{
		"origin": "KIRO_IDE",
	}, &auth)
	if err != nil {
		return nil, err
	}
	return &UserInfo{
		Email:  asString(result["email"]),
		UserID: asString(result["userId"]),
		Name:   asString(result["name"]),
	}, nil
}

// RefreshResult is the outcome of RefreshToken or ExchangeToken.
type RefreshResult struct {
	AccessToken  string
	CsrfToken    string
	ExpiresIn    int
	ProfileArn   string
	SessionToken string
}

// ExpiresAt converts the relative expiry to an absolute timestamp.
func (r *RefreshResult) ExpiresAt(now time.Time) time.Time {
	if r.ExpiresIn <= 0 {
		return now
	}
	return now.Add(time.Duration(r.ExpiresIn) * time.Second)
}

// RefreshToken exchanges the session cookie for a fresh access token.
func (c *Client) RefreshToken(ctx context.Context, auth Auth) (*RefreshResult, error) {
	result, resp, err := c.call(ctx, "RefreshToken", map[string]any{
		"csrfToken": auth.CsrfToken,
	}, &auth)
	if err != nil {
		return nil, err
	}
	out := refreshResultFrom(result)
	out.SessionToken = sessionTokenFromCookies(resp)
	log.Printf("[Portal] Refreshed token %s", util.MaskToken(out.AccessToken))
	return out, nil
}

// ExchangeToken completes the PKCE flow: authorization code in, full
// credential material out. The session token arrives as a Set-Cookie
// header, not in the envelope.
func (c *Client) ExchangeToken(ctx context.Context, idp, code, codeVerifier, redirectURI, state string) (*RefreshResult, error) {
	result, resp, err := c.call(ctx, "ExchangeToken", map[string]any{
		"idp":          idp,
		"code":         code,
		"codeVerifier": codeVerifier,
		"redirectUri":  redirectURI,
		"state":        state,
	}, nil)
	if err != nil {
		return nil, err
	}
	out := refreshResultFrom(result)
	out.SessionToken = sessionTokenFromCookies(resp)
	return out, nil
}

func refreshResultFrom(result map[string]any) *RefreshResult {
	return &RefreshResult{
		AccessToken: asString(result["accessToken"]),
		CsrfToken:   asString(result["csrfToken"]),
		ExpiresIn:   asInt(result["expiresIn"]),
		ProfileArn:  asString(result["profileArn"]),
	}
}

func sessionTokenFromCookies(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "RefreshToken" && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}
