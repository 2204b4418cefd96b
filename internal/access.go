package internal

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gorinidrive.com/vault/internal/access"
	"gorinidrive.com/vault/internal/audit"
	"gorinidrive.com/vault/internal/database"
	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/vault"
)

// requestContext collects what rules are evaluated against. The rule
// password comes from X-Access-Password.
func (h *Handler) requestContext(c *gin.Context) access.Request {
	return access.Request{
		Now:      h.now(),
		Country:  strings.ToUpper(strings.TrimSpace(c.GetHeader(h.Config.CountryHeader))),
		DeviceID: strings.TrimSpace(c.GetHeader(DeviceIDHeader)),
		Password: c.GetHeader(AccessPasswordHeader),
	}
}

// rulesPolicy decodes stored rules. A rule that no longer decodes is an
// internal error, so a broken rule never silently allows access.
func rulesPolicy(rules []database.DBAccessRule, loc *time.Location) (access.Policy, error) {
	decoded := make([]access.Rule, 0, len(rules))
	for _, r := range rules {
		kind, err := access.ParseKind(r.Kind)
		if err != nil {
			return access.Policy{}, errs.Internal(err)
		}
		rule, err := access.DecodeRule(kind, r.Config, loc)
		if err != nil {
			return access.Policy{}, errs.Internal(err)
		}
		decoded = append(decoded, rule)
	}
	return access.NewPolicy(decoded...), nil
}

// filePolicy is the owner's enabled global rules plus those scoped to f.
func (h *Handler) filePolicy(ctx context.Context, f *vault.File) (access.Policy, error) {
	rules, err := h.Database.EnabledRulesForFile(ctx, f.OwnerID, f.ID)
	if err != nil {
		return access.Policy{}, err
	}
	return rulesPolicy(rules, h.Config.Timezone)
}

// sharePolicy holds the link's own expiration and password.
func sharePolicy(s *database.DBShare) access.Policy {
	var rules []access.Rule
	if s.ExpiresAt != nil {
		rules = append(rules, access.ExpirationRule{ExpiresAt: *s.ExpiresAt})
	}
	if s.PasswordHash != "" {
		rules = append(rules, access.PasswordRule{Hash: s.PasswordHash})
	}
	return access.NewPolicy(rules...)
}

// authorize evaluates policy for an operation on f and audits a denial on
// the owner's trail.
func (h *Handler) authorize(c *gin.Context, f *vault.File, actor int32, op audit.Action, policy access.Policy, req access.Request) error {
	d := access.Evaluate(policy, req)
	if d.Allowed {
		return nil
	}
	err := errs.AccessDenied(d.Reason.String())
	h.record(c, f.OwnerID, actor, audit.ActionDenied, fileResource(f.ID), err, map[string]any{
		"operation": string(op),
		"rule":      string(d.Rule),
	})
	return err
}

// checkFileAccess applies the owner's rules to an operation by the caller.
func (h *Handler) checkFileAccess(c *gin.Context, f *vault.File, actor int32, op audit.Action) error {
	policy, err := h.filePolicy(c.Request.Context(), f)
	if err != nil {
		return err
	}
	return h.authorize(c, f, actor, op, policy, h.requestContext(c))
}
