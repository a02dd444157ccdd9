// Package assistant speaks the JSON conversational protocol to the
// generateAssistantResponse endpoint, dispatching over pool credentials.
package assistant

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/kiro-nexus/internal/pool"
	"github.com/pysugar/kiro-nexus/internal/util"
)

const clientVersion = "0.8.3"

// GenerateOptions tune a single generation call. MaxTokens and Temperature
// are accepted for interface compatibility but have no wire representation
// in the conversation-state protocol.
type GenerateOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client is the assistant protocol client. Every call selects a credential
// from the pool and reports the outcome back before returning.
type Client struct {
	pool         *pool.Pool
	httpClient   *http.Client
	defaultModel string
	machineID    string

	// test hook; empty means the regional production endpoint
	endpointOverride string
}

// NewClient creates an assistant client over the given pool.
func NewClient(p *pool.Pool, defaultModel string, timeout time.Duration) *Client {
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		pool:         p,
		httpClient:   &http.Client{Timeout: timeout},
		defaultModel: defaultModel,
		machineID:    machineID(),
	}
}

func endpointURL(region string) string {
	return fmt.Sprintf("https://codewhisperer.%s.amazonaws.com/generateAssistantResponse", region)
}

// machineID derives a stable pseudo-machine identifier from the hostname,
// mirroring what the IDE sends.
func machineID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "kiro-nexus"
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:])
}

// Generate produces a complete assistant response for the message history.
func (c *Client) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	cred, ok := c.pool.Select(ctx)
	if !ok {
		return "", ErrNoCredentials
	}

	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}
	state := buildConversationState(messages, ResolveModelID(model), uuid.New().String())
	body, err := json.Marshal(generateRequest{ConversationState: state})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpointOverride
	if url == "" {
		url = endpointURL(cred.Region)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, cred.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.pool.ReportFailure(cred.ID, "request failed: "+err.Error())
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.pool.ReportFailure(cred.ID, "read response: "+err.Error())
		return "", fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to parsing
	case http.StatusUnauthorized:
		c.pool.ReportFailure(cred.ID, "Unauthorized")
		return "", fmt.Errorf("%s: %w", cred.DisplayName(), ErrUnauthorized)
	case http.StatusForbidden:
		detail := util.TruncateLog(string(raw), 200)
		c.pool.ReportFailure(cred.ID, "Forbidden: "+detail)
		return "", fmt.Errorf("%s: %w", detail, ErrForbidden)
	case http.StatusTooManyRequests:
		c.pool.ReportQuotaExceeded(cred.ID)
		return "", ErrQuotaExceeded
	default:
		detail := util.TruncateLog(string(raw), 500)
		c.pool.ReportFailure(cred.ID, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, detail))
		return "", &APIError{StatusCode: resp.StatusCode, Body: detail}
	}

	text := extractContent(string(raw))
	c.pool.ReportSuccess(cred.ID)
	return text, nil
}

// GenerateStream simulates a streaming surface over Generate. Granularity
// is one whole-response chunk, not token-by-token: the backend contract
// offers no incremental delivery.
func (c *Client) GenerateStream(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan string, error) {
	text, err := c.Generate(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	out := make(chan string, 1)
	out <- text
	close(out)
	return out, nil
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	osInfo := runtime.GOOS + "#" + runtime.GOARCH

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("amz-sdk-invocation-id", uuid.New().String())
	req.Header.Set("amz-sdk-request", "attempt=1; max=1")
	req.Header.Set("x-amzn-kiro-agent-mode", "vibe")
	req.Header.Set("x-amz-user-agent",
		fmt.Sprintf("aws-sdk-js/1.0.7 KiroIDE-%s-%s", clientVersion, c.machineID))
	req.Header.Set("User-Agent",
		fmt.Sprintf("aws-sdk-js/1.0.7 ua/2.1 os/%s lang/js md/nodejs#20.16.0 api/codewhispererstreaming#1.0.7 m/E KiroIDE-%s-%s",
			osInfo, clientVersion, c.machineID))
}
