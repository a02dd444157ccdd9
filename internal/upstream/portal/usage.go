package portal

import (
	"context"
	"errors"
	"time"
)

// UsageSnapshot is the decoded GetUserUsageAndLimits envelope.
type UsageSnapshot struct {
	Email             string
	UserID            string
	SubscriptionTier  string
	SubscriptionTitle string
	DaysUntilReset    int
	Resources         []ResourceUsage
}

// ResourceUsage is one usage breakdown entry.
type ResourceUsage struct {
	DisplayName  string
	ResourceType string
	Limit        int
	Used         int
	NextReset    time.Time
	Trial        *TrialUsage
	Bonuses      []BonusGrant
}

// TrialUsage is the optional free-trial sub-record.
type TrialUsage struct {
	Limit  int
	Used   int
	Status string
	Expiry time.Time
}

// BonusGrant is a promotional quota grant.
type BonusGrant struct {
	Code      string
	Name      string
	Limit     int
	Used      int
	Status    string
	ExpiresAt time.Time
}

// Remaining returns the base quota left, never negative.
func (r *ResourceUsage) Remaining() int {
	if r.Limit <= r.Used {
		return 0
	}
	return r.Limit - r.Used
}

// TrialRemaining returns the trial quota left, never negative.
func (r *ResourceUsage) TrialRemaining() int {
	if r.Trial == nil || r.Trial.Limit <= r.Trial.Used {
		return 0
	}
	return r.Trial.Limit - r.Trial.Used
}

// TotalRemaining sums base, trial and active bonus remainders.
func (r *ResourceUsage) TotalRemaining() int {
	total := r.Remaining() + r.TrialRemaining()
	for _, b := range r.Bonuses {
		if b.Status != "ACTIVE" {
			continue
		}
		if b.Limit > b.Used {
			total += b.Limit - b.Used
		}
	}
	return total
}

// TotalRemaining sums remainders across every resource.
func (s *UsageSnapshot) TotalRemaining() int {
	total := 0
	for i := range s.Resources {
		total += s.Resources[i].TotalRemaining()
	}
	return total
}

func parseUsage(data map[string]any) *UsageSnapshot {
	snap := &UsageSnapshot{
		DaysUntilReset: asInt(data["daysUntilReset"]),
	}

	if userInfo, ok := data["userInfo"].(map[string]any); ok {
		snap.Email = asString(userInfo["email"])
		snap.UserID = asString(userInfo["userId"])
	}
	if subInfo, ok := data["subscriptionInfo"].(map[string]any); ok {
		snap.SubscriptionTier = asString(subInfo["type"])
		snap.SubscriptionTitle = asString(subInfo["subscriptionTitle"])
	}
	if snap.SubscriptionTier == "" {
		snap.SubscriptionTier = "Free"
	}

	breakdowns, _ := data["usageBreakdownList"].([]any)
	for _, entry := range breakdowns {
		bd, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		res := ResourceUsage{
			DisplayName:  asString(bd["displayName"]),
			ResourceType: asString(bd["resourceType"]),
			Limit:        asInt(bd["usageLimit"]),
			Used:         asInt(bd["currentUsage"]),
			NextReset:    asUnixTime(bd["nextDateReset"]),
		}

		if trial, ok := bd["freeTrialInfo"].(map[string]any); ok {
			res.Trial = &TrialUsage{
				Limit:  asInt(trial["usageLimit"]),
				Used:   asInt(trial["currentUsage"]),
				Status: asString(trial["freeTrialStatus"]),
				Expiry: asUnixTime(trial["freeTrialExpiry"]),
			}
		}

		bonuses, _ := bd["bonuses"].([]any)
		for _, b := range bonuses {
			bm, ok := b.(map[string]any)
			if !ok {
				continue
			}
			res.Bonuses = append(res.Bonuses, BonusGrant{
				Code:      asString(bm["bonusCode"]),
				Name:      asString(bm["displayName"]),
				Limit:     asInt(bm["usageLimit"]),
				Used:      asInt(bm["currentUsage"]),
				Status:    asString(bm["status"]),
				ExpiresAt: asUnixTime(bm["expiresAt"]),
			})
		}

		snap.Resources = append(snap.Resources, res)
	}
	return snap
}

const (
	usageMaxRetries = 3
	usageRetryDelay = time.Second
)

// GetUsageRetry wraps GetUsage with a bounded retry. Suspension and
// unauthorized results are terminal for the credential and never retried.
func (c *Client) GetUsageRetry(ctx context.Context, auth Auth) (*UsageSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt < usageMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(usageRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		snap, err := c.GetUsage(ctx, auth)
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, ErrSuspended) || errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// CBOR integers normalize to int64 on decode, but floats and the odd
// uint64 still show up in timestamp fields.
func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// asUnixTime interprets a numeric field as seconds since the epoch.
func asUnixTime(v any) time.Time {
	switch n := v.(type) {
	case int64:
		if n > 0 {
			return time.Unix(n, 0)
		}
	case uint64:
		if n > 0 {
			return time.Unix(int64(n), 0)
		}
	case float64:
		if n > 0 {
			sec := int64(n)
			nsec := int64((n - float64(sec)) * 1e9)
			return time.Unix(sec, nsec)
		}
	}
	return time.Time{}
}
