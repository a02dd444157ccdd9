// Package pool manages a rotating set of Kiro credentials: round-robin
// selection, ban classification, refresh orchestration and usage counters.
package pool

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const refreshConcurrency = 4

// RefreshResult carries new token material back from the token-issuance
// collaborator after a successful refresh.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	CsrfToken    string
	SessionToken string
	ExpiresAt    time.Time
}

// TokenSource is the narrow capability the pool consumes from the
// persistence/issuance collaborator. RefreshToken performs network I/O and
// persists the outcome before returning.
type TokenSource interface {
	ListTokens(ctx context.Context) ([]Credential, error)
	RefreshToken(ctx context.Context, id string) (RefreshResult, error)
}

// DefaultBanKeywords are the failure-message substrings that ban a
// credential immediately.
var DefaultBanKeywords = []string{
	"banned", "suspended", "disabled", "unauthorized", "forbidden", "blocked",
}

// Policy controls ban classification. The keyword list and threshold are
// heuristic, not protocol fact, so they stay configurable.
type Policy struct {
	BanKeywords    []string
	ErrorThreshold int
}

// PoolStatus is the observability snapshot returned by Status.
type PoolStatus struct {
	Total       int       `json:"total"`
	Available   int       `json:"available"`
	Banned      int       `json:"banned"`
	Expired     int       `json:"expired"`
	Credentials []Summary `json:"credentials"`
}

// Pool owns the credential set. The mutex guards selection and status
// mutation only; it is never held across network calls — refresh I/O runs
// unlocked and its result is applied under a fresh acquisition.
type Pool struct {
	source TokenSource
	policy Policy

	mu     sync.Mutex
	creds  []*Credential
	cursor int

	now func() time.Time // test hook
}

// New creates an empty pool. Call Load to populate it.
func New(source TokenSource, policy Policy) *Pool {
	if policy.ErrorThreshold <= 0 {
		policy.ErrorThreshold = 5
	}
	if len(policy.BanKeywords) == 0 {
		policy.BanKeywords = DefaultBanKeywords
	}
	return &Pool{
		source: source,
		policy: policy,
		now:    time.Now,
	}
}

// Load replaces the credential set from the backing collaborator. Entries
// handed out by earlier Select calls are value copies, so replacing the set
// never clobbers a credential referenced by an in-flight call. Healthy
// credentials sort first; banned and expired sink to the back.
func (p *Pool) Load(ctx context.Context) (int, error) {
	listed, err := p.source.ListTokens(ctx)
	if err != nil {
		return 0, err
	}

	now := p.now()
	creds := make([]*Credential, 0, len(listed))
	for i := range listed {
		c := listed[i]
		if c.Status == "" {
			c.Status = StatusActive
		}
		if c.QuotaLimit == 0 {
			c.QuotaLimit = DefaultQuotaLimit
		}
		creds = append(creds, &c)
	}

	sort.SliceStable(creds, func(i, j int) bool {
		return credRank(creds[i], now) < credRank(creds[j], now)
	})

	p.mu.Lock()
	p.creds = creds
	p.cursor = 0
	p.mu.Unlock()

	log.Printf("[Pool] Loaded %d credentials", len(creds))
	for _, c := range creds {
		state := "OK"
		if c.Status == StatusBanned {
			state = "BANNED"
		} else if c.IsExpired(now) {
			state = "EXPIRED"
		}
		log.Printf("[Pool]   [%s] %s", state, c.DisplayName())
	}
	return len(creds), nil
}

func credRank(c *Credential, now time.Time) int {
	switch {
	case c.Status == StatusBanned:
		return 2
	case c.IsExpired(now):
		return 1
	default:
		return 0
	}
}

// Select returns the next available credential in round-robin order.
// Selection counts as a dispatch attempt: the request counter and last-used
// timestamp advance here, not on actual use. If nothing is available it
// attempts exactly one opportunistic refresh of the first expired-but-not-
// banned credential before giving up. An exhausted pool returns ok=false,
// never an error.
func (p *Pool) Select(ctx context.Context) (Credential, bool) {
	p.mu.Lock()
	now := p.now()
	avail := p.availableLocked(now)

	if len(avail) == 0 {
		candidate := ""
		for _, c := range p.creds {
			if c.Status != StatusBanned && c.IsExpired(now) {
				candidate = c.ID
				break
			}
		}
		p.mu.Unlock()

		if candidate == "" {
			return Credential{}, false
		}
		if !p.refreshOne(ctx, candidate) {
			return Credential{}, false
		}

		p.mu.Lock()
		now = p.now()
		avail = p.availableLocked(now)
		if len(avail) == 0 {
			p.mu.Unlock()
			return Credential{}, false
		}
	}

	// Cursor indexes the available subset computed now, never the backing
	// store, so it survives bans and expiries between calls.
	p.cursor = p.cursor % len(avail)
	c := avail[p.cursor]
	p.cursor++

	c.RequestCount++
	c.LastUsedAt = now
	out := *c
	p.mu.Unlock()
	return out, true
}

func (p *Pool) availableLocked(now time.Time) []*Credential {
	avail := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.IsAvailable(now) {
			avail = append(avail, c)
		}
	}
	return avail
}

// ReportSuccess resets the error counter after a successful call.
func (p *Pool) ReportSuccess(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.findLocked(id); c != nil {
		c.ErrorCount = 0
		c.LastError = ""
	}
}

// ReportFailure records a failed call and applies ban classification:
// a keyword match bans immediately; otherwise the credential is banned on
// the Nth cumulative failure since the last success. Reapplying a failure
// to an already-banned credential never overwrites the original ban reason.
func (p *Pool) ReportFailure(id, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.findLocked(id)
	if c == nil {
		return
	}

	c.ErrorCount++
	c.LastError = message
	if c.Status == StatusBanned {
		return
	}

	lower := strings.ToLower(message)
	for _, kw := range p.policy.BanKeywords {
		if strings.Contains(lower, kw) {
			c.Status = StatusBanned
			c.BanReason = message
			log.Printf("[Pool] Credential %s BANNED: %s", c.DisplayName(), message)
			return
		}
	}

	if c.ErrorCount >= p.policy.ErrorThreshold {
		c.Status = StatusBanned
		c.BanReason = "too many errors: " + message
		log.Printf("[Pool] Credential %s disabled after %d errors", c.DisplayName(), c.ErrorCount)
	}
}

// ReportQuotaExceeded pins the advisory quota counter at its limit.
// Quota exhaustion recovers at the reset boundary, so this is not a ban.
func (p *Pool) ReportQuotaExceeded(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.findLocked(id); c != nil {
		c.QuotaUsed = c.QuotaLimit
		log.Printf("[Pool] Credential %s quota exceeded", c.DisplayName())
	}
}

// SetQuota records the authoritative usage reported by the usage-query
// client.
func (p *Pool) SetQuota(id string, used, limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.findLocked(id); c != nil {
		c.QuotaUsed = used
		if limit > 0 {
			c.QuotaLimit = limit
		}
	}
}

// RefreshAll refreshes every expired-but-not-banned credential, best
// effort and independently: one failure does not abort the rest. Returns
// the number refreshed.
func (p *Pool) RefreshAll(ctx context.Context) int {
	p.mu.Lock()
	now := p.now()
	var candidates []string
	for _, c := range p.creds {
		if c.Status != StatusBanned && c.IsExpired(now) {
			candidates = append(candidates, c.ID)
		}
	}
	p.mu.Unlock()

	var (
		countMu   sync.Mutex
		refreshed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, id := range candidates {
		id := id
		g.Go(func() error {
			if p.refreshOne(gctx, id) {
				countMu.Lock()
				refreshed++
				countMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return refreshed
}

// refreshOne performs the network refresh unlocked, then applies the
// result under the lock.
func (p *Pool) refreshOne(ctx context.Context, id string) bool {
	res, err := p.source.RefreshToken(ctx, id)
	if err != nil {
		p.mu.Lock()
		name := id
		if c := p.findLocked(id); c != nil {
			name = c.DisplayName()
		}
		p.mu.Unlock()
		log.Printf("[Pool] Refresh failed for %s: %v", name, err)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.findLocked(id)
	if c == nil || c.Status == StatusBanned {
		return false
	}
	if res.AccessToken != "" {
		c.AccessToken = res.AccessToken
	}
	if res.RefreshToken != "" {
		c.RefreshToken = res.RefreshToken
	}
	if res.CsrfToken != "" {
		c.CsrfToken = res.CsrfToken
	}
	if res.SessionToken != "" {
		c.SessionToken = res.SessionToken
	}
	if !res.ExpiresAt.IsZero() {
		c.ExpiresAt = res.ExpiresAt
	}
	log.Printf("[Pool] Refreshed credential %s", c.DisplayName())
	return true
}

// Get returns a copy of the credential with the given ID.
func (p *Pool) Get(id string) (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.findLocked(id); c != nil {
		return *c, true
	}
	return Credential{}, false
}

// Status reports pool-wide and per-credential counters.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	st := PoolStatus{
		Total:       len(p.creds),
		Credentials: make([]Summary, 0, len(p.creds)),
	}
	for _, c := range p.creds {
		switch {
		case c.Status == StatusBanned:
			st.Banned++
		case c.IsExpired(now):
			st.Expired++
		default:
			st.Available++
		}
		st.Credentials = append(st.Credentials, c.summary(now))
	}
	return st
}

func (p *Pool) findLocked(id string) *Credential {
	for _, c := range p.creds {
		if c.ID == id {
			return c
		}
	}
	return nil
}
