package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mcpbox/control-plane/internal/store"
)

// Settings keys the email policy is stored under (internal/store.Setting),
// set by the setup wizard / management API and mirrored by this cache so
// the gateway's remote-auth path doesn't round-trip the store on every
// request.
const (
	SettingEmailPolicyType   = "gateway.email_policy.type" // "emails" | "email_domain" | "everyone"
	SettingEmailPolicyList   = "gateway.email_policy.emails"
	SettingEmailPolicyDomain = "gateway.email_policy.domain"
)

const emailPolicyTTL = 30 * time.Second

// EmailPolicyCache is a 30s-TTL cache over the gateway's email allowlist
// policy. It fails closed if the store is unreachable on first load, and
// otherwise keeps serving the last known policy across transient store
// errors.
type EmailPolicyCache struct {
	store store.SettingStore

	mu                sync.Mutex
	policyType        string
	allowedEmails     map[string]bool
	allowedDomain     string
	lastLoaded        time.Time
	loadedAtLeastOnce bool
	dbError           bool
}

func NewEmailPolicyCache(s store.SettingStore) *EmailPolicyCache {
	return &EmailPolicyCache{store: s}
}

func (c *EmailPolicyCache) refreshIfStale(ctx context.Context) {
	c.mu.Lock()
	stale := time.Since(c.lastLoaded) >= emailPolicyTTL
	c.mu.Unlock()
	if stale {
		c.load(ctx)
	}
}

func (c *EmailPolicyCache) load(ctx context.Context) {
	typeSetting, err := c.store.GetSetting(ctx, SettingEmailPolicyType)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			// No policy configured: not an error, just "no enforcement".
			c.mu.Lock()
			c.policyType = ""
			c.allowedEmails = nil
			c.allowedDomain = ""
			c.dbError = false
			c.lastLoaded = time.Now()
			c.loadedAtLeastOnce = true
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.loadedAtLeastOnce {
			// Retain last known policy; don't bump lastLoaded so the next
			// access retries immediately.
			return
		}
		c.dbError = true
		return
	}

	var allowedEmails map[string]bool
	var allowedDomain string

	switch typeSetting.Value {
	case "emails":
		if listSetting, err := c.store.GetSetting(ctx, SettingEmailPolicyList); err == nil {
			var raw []string
			if jsonErr := json.Unmarshal([]byte(listSetting.Value), &raw); jsonErr == nil {
				allowedEmails = make(map[string]bool, len(raw))
				for _, e := range raw {
					allowedEmails[strings.ToLower(e)] = true
				}
			} else {
				allowedEmails = map[string]bool{} // fail closed on parse error
			}
		}
	case "email_domain":
		if domainSetting, err := c.store.GetSetting(ctx, SettingEmailPolicyDomain); err == nil {
			allowedDomain = strings.ToLower(domainSetting.Value)
		}
	}

	c.mu.Lock()
	c.policyType = typeSetting.Value
	c.allowedEmails = allowedEmails
	c.allowedDomain = allowedDomain
	c.dbError = false
	c.lastLoaded = time.Now()
	c.loadedAtLeastOnce = true
	c.mu.Unlock()
}

// Invalidate clears the cache so the next access triggers a reload —
// called by the management API after a policy change.
func (c *EmailPolicyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policyType = ""
	c.allowedEmails = nil
	c.allowedDomain = ""
	c.dbError = false
	c.lastLoaded = time.Time{}
	c.loadedAtLeastOnce = false
}

// CheckEmail reports whether email is allowed to authenticate, and a
// reason string for denials (log-only — never expose to the client).
func (c *EmailPolicyCache) CheckEmail(ctx context.Context, email string) (bool, string) {
	c.refreshIfStale(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.policyType == "" && !c.dbError {
		return true, ""
	}
	if c.dbError {
		return false, "email policy unavailable (store unreachable)"
	}
	if c.policyType == "everyone" {
		return true, ""
	}
	if email == "" {
		return false, "email required by access policy but not provided"
	}

	normalised := strings.ToLower(email)

	switch c.policyType {
	case "emails":
		if c.allowedEmails[normalised] {
			return true, ""
		}
		return false, fmt.Sprintf("email %s not in gateway allowlist (%d allowed)", email, len(c.allowedEmails))
	case "email_domain":
		if c.allowedDomain != "" && strings.HasSuffix(normalised, "@"+c.allowedDomain) {
			return true, ""
		}
		return false, fmt.Sprintf("email domain of %s does not match allowed domain %s", email, c.allowedDomain)
	default:
		return false, fmt.Sprintf("unknown access policy type: %s", c.policyType)
	}
}
