package pool

import "time"

// Status is the health state of a pool credential. A banned credential
// never un-bans itself; recovery means replacing the whole set via Load.
type Status string

const (
	StatusActive Status = "active"
	StatusBanned Status = "banned"
)

// DefaultQuotaLimit is the advisory per-account request quota assumed
// until the usage-query client reports the authoritative value.
const DefaultQuotaLimit = 500

// Credential is one registered account in the pool.
type Credential struct {
	ID           string
	AccountName  string
	Email        string
	Idp          string // identity provider, "Google" or "Github"
	Region       string
	AccessToken  string
	RefreshToken string
	CsrfToken    string
	SessionToken string
	ExpiresAt    time.Time

	Status    Status
	BanReason string

	RequestCount int64
	ErrorCount   int
	LastUsedAt   time.Time
	LastError    string

	QuotaUsed  int
	QuotaLimit int
}

// IsExpired reports whether the access token is past its expiry.
// A credential with no known expiry is treated as expired.
func (c *Credential) IsExpired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.After(c.ExpiresAt)
}

// IsAvailable reports whether the credential can be dispatched.
func (c *Credential) IsAvailable(now time.Time) bool {
	return c.Status != StatusBanned && !c.IsExpired(now)
}

// QuotaPercent returns the advisory quota consumption in percent.
func (c *Credential) QuotaPercent() float64 {
	if c.QuotaLimit <= 0 {
		return 0
	}
	return float64(c.QuotaUsed) / float64(c.QuotaLimit) * 100
}

// DisplayName returns the account name, falling back to the email.
func (c *Credential) DisplayName() string {
	if c.AccountName != "" {
		return c.AccountName
	}
	return c.Email
}

// Summary is the per-credential slice of Pool.Status output.
type Summary struct {
	ID           string  `json:"id"`
	Account      string  `json:"account"`
	Region       string  `json:"region"`
	Banned       bool    `json:"is_banned"`
	BanReason    string  `json:"ban_reason,omitempty"`
	Expired      bool    `json:"is_expired"`
	Available    bool    `json:"is_available"`
	RequestCount int64   `json:"request_count"`
	ErrorCount   int     `json:"error_count"`
	QuotaUsed    int     `json:"quota_used"`
	QuotaLimit   int     `json:"quota_limit"`
	QuotaPercent float64 `json:"quota_percent"`
}

func (c *Credential) summary(now time.Time) Summary {
	return Summary{
		ID:           c.ID,
		Account:      c.DisplayName(),
		Region:       c.Region,
		Banned:       c.Status == StatusBanned,
		BanReason:    c.BanReason,
		Expired:      c.IsExpired(now),
		Available:    c.IsAvailable(now),
		RequestCount: c.RequestCount,
		ErrorCount:   c.ErrorCount,
		QuotaUsed:    c.QuotaUsed,
		QuotaLimit:   c.QuotaLimit,
		QuotaPercent: c.QuotaPercent(),
	}
}
