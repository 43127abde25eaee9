package copilot

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
)

// renewalEstimate is added to the token expiry when GitHub does not report a
// quota reset date.
const renewalEstimate = 30 * 24 * time.Hour

// TokenInfo is the subset of copilot_internal/v2/token used for display.
type TokenInfo struct {
	SKU         string `json:"sku,omitempty" yaml:"sku,omitempty"`
	ChatEnabled *bool  `json:"chat_enabled,omitempty" yaml:"chatEnabled,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty" yaml:"expiresAt,omitempty"`
}

// UserInfo is the subset of copilot_internal/user used for display.
type UserInfo struct {
	CopilotPlan    string                   `json:"copilot_plan,omitempty" yaml:"copilotPlan,omitempty"`
	QuotaResetDate string                   `json:"quota_reset_date,omitempty" yaml:"quotaResetDate,omitempty"`
	QuotaSnapshots map[string]QuotaSnapshot `json:"quota_snapshots,omitempty" yaml:"quotaSnapshots,omitempty"`
}

// QuotaSnapshot fields are pointers because GitHub omits them for
// unlimited quotas.
type QuotaSnapshot struct {
	Entitlement      *float64 `json:"entitlement,omitempty" yaml:"entitlement,omitempty"`
	Remaining        *float64 `json:"remaining,omitempty" yaml:"remaining,omitempty"`
	PercentRemaining *float64 `json:"percent_remaining,omitempty" yaml:"percentRemaining,omitempty"`
	Unlimited        bool     `json:"unlimited,omitempty" yaml:"unlimited,omitempty"`
	Overage          *float64 `json:"overage,omitempty" yaml:"overage,omitempty"`
	OverageCount     *float64 `json:"overage_count,omitempty" yaml:"overageCount,omitempty"`
}

// Used is entitlement minus remaining, floored at zero.
func (q QuotaSnapshot) Used() (float64, bool) {
	if q.Entitlement == nil || q.Remaining == nil {
		return 0, false
	}
	return math.Max(*q.Entitlement-*q.Remaining, 0), true
}

// Percent is the remaining share in whole percent, preferring the value
// reported by GitHub.
func (q QuotaSnapshot) Percent() (int, bool) {
	if q.PercentRemaining != nil {
		return int(math.Round(*q.PercentRemaining)), true
	}
	if q.Entitlement != nil && *q.Entitlement != 0 && q.Remaining != nil {
		return int(math.Round(*q.Remaining / *q.Entitlement * 100)), true
	}
	return 0, false
}

// OverageRequests returns the number of requests beyond the entitlement, if
// any were made.
func (q QuotaSnapshot) OverageRequests() (float64, bool) {
	v := q.Overage
	if v == nil {
		v = q.OverageCount
	}
	if v == nil || *v <= 0 {
		return 0, false
	}
	return *v, true
}

// Exhausted reports a limited quota whose usage reached the entitlement.
func (q QuotaSnapshot) Exhausted() bool {
	used, ok := q.Used()
	return !q.Unlimited && ok && used >= *q.Entitlement
}

type NamedQuota struct {
	Key   string        `json:"key" yaml:"key"`
	Label string        `json:"label" yaml:"label"`
	Quota QuotaSnapshot `json:"quota" yaml:"quota"`
}

// QuotaLabel turns "premium_interactions" into "Premium Interactions".
func QuotaLabel(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Usage combines the token and user endpoints. Either part may be nil when
// GitHub refused it.
type Usage struct {
	Token *TokenInfo `json:"token,omitempty" yaml:"token,omitempty"`
	User  *UserInfo  `json:"user,omitempty" yaml:"user,omitempty"`
}

// Plan returns the Copilot plan, falling back to the token SKU.
func (u *Usage) Plan() string {
	if u.User != nil && u.User.CopilotPlan != "" {
		return u.User.CopilotPlan
	}
	if u.Token != nil && u.Token.SKU != "" {
		return u.Token.SKU
	}
	return ""
}

func (u *Usage) ChatEnabled() *bool {
	if u.Token == nil {
		return nil
	}
	return u.Token.ChatEnabled
}

func (u *Usage) TokenExpiry() (time.Time, bool) {
	if u.Token == nil || u.Token.ExpiresAt == 0 {
		return time.Time{}, false
	}
	return time.Unix(u.Token.ExpiresAt, 0), true
}

// Renewal returns the quota reset date. Without one it estimates the
// renewal as token expiry plus 30 days and reports estimated=true.
func (u *Usage) Renewal() (at time.Time, estimated, ok bool) {
	if u.User != nil && u.User.QuotaResetDate != "" {
		if t, err := parseDate(u.User.QuotaResetDate); err == nil {
			return t, false, true
		}
	}
	if exp, ok := u.TokenExpiry(); ok {
		return exp.Add(renewalEstimate), true, true
	}
	return time.Time{}, false, false
}

// Quotas returns the quota snapshots sorted by key.
func (u *Usage) Quotas() []NamedQuota {
	if u.User == nil {
		return nil
	}
	keys := make([]string, 0, len(u.User.QuotaSnapshots))
	for k := range u.User.QuotaSnapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]NamedQuota, 0, len(keys))
	for _, k := range keys {
		out = append(out, NamedQuota{Key: k, Label: QuotaLabel(k), Quota: u.User.QuotaSnapshots[k]})
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognised date")
}

// Usage fetches subscription and quota data. A part GitHub answers with an
// HTTP error is left nil; transport and decode errors are returned.
func (c *Client) Usage(ctx context.Context) (*Usage, error) {
	if _, err := c.token(); err != nil {
		return nil, err
	}
	hc := c.authClient("token")
	var usage Usage

	var tokenInfo TokenInfo
	header := http.Header{"Accept": {"application/json"}}
	if err := c.get(ctx, hc, c.githubURL("copilot_internal/v2/token"), header, &tokenInfo); err != nil {
		if !isHTTPError(err) {
			return nil, err
		}
		c.log.Debugw("Copilot token info unavailable", "error", err)
	} else {
		usage.Token = &tokenInfo
	}

	var userInfo UserInfo
	header = http.Header{
		"Accept":               {"application/json"},
		"X-Github-Api-Version": {githubAPIVersion},
	}
	if err := c.get(ctx, hc, c.githubURL("copilot_internal/user"), header, &userInfo); err != nil {
		if !isHTTPError(err) {
			return nil, err
		}
		c.log.Debugw("Copilot user info unavailable", "error", err)
	} else {
		usage.User = &userInfo
	}
	return &usage, nil
}

func isHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}
