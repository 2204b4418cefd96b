package internal

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gorinidrive.com/vault/internal/access"
	"gorinidrive.com/vault/internal/audit"
	"gorinidrive.com/vault/internal/database"
	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/middleware"
	"gorinidrive.com/vault/internal/password"
)

func ruleResource(id uuid.UUID) string { return "rule:" + id.String() }

// ruleRes hides the hash of password rules.
func ruleRes(r *database.DBAccessRule) RuleRes {
	config := r.Config
	if r.Kind == string(access.KindPassword) {
		config = json.RawMessage(`{}`)
	}
	return RuleRes{
		ID:        r.ID,
		Name:      r.Name,
		Kind:      r.Kind,
		FileID:    r.FileID,
		Enabled:   r.Enabled,
		Config:    config,
		CreatedAt: r.CreatedAt,
	}
}

// ruleConfig validates a submitted config and returns what gets stored.
// Password rules are submitted as {"password": ...} and stored hashed.
func (h *Handler) ruleConfig(kind access.RuleKind, raw json.RawMessage) (json.RawMessage, error) {
	if kind == access.KindPassword {
		var in struct {
			Password string `json:"password"`
		}
		if err := json.Unmarshal(raw, &in); err != nil || in.Password == "" {
			return nil, errs.Validation("password rule: password is required")
		}
		hash, err := password.Hash(in.Password)
		if err != nil {
			return nil, errs.Internal(err)
		}
		encoded, err := access.EncodeRule(access.PasswordRule{Hash: hash})
		if err != nil {
			return nil, errs.Internal(err)
		}
		return encoded, nil
	}

	if _, err := access.DecodeRule(kind, raw, h.Config.Timezone); err != nil {
		return nil, errs.Validation("%s", err)
	}
	return raw, nil
}

func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.Database.ListRules(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	res := ListRulesRes{Rules: make([]RuleRes, 0, len(rules))}
	for i := range rules {
		res.Rules = append(res.Rules, ruleRes(&rules[i]))
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CreateRule(c *gin.Context) {
	userID := middleware.UserID(c)
	var req = &CreateRuleReq{}
	if !bind(c, req) {
		return
	}

	kind, err := access.ParseKind(req.Kind)
	if err != nil {
		middleware.Abort(c, errs.Validation("%s", err))
		return
	}
	config, err := h.ruleConfig(kind, req.Config)
	if err != nil {
		middleware.Abort(c, err)
		return
	}

	rule := &database.DBAccessRule{
		ID:      uuid.New(),
		UserID:  userID,
		FileID:  req.FileID,
		Name:    req.Name,
		Kind:    string(kind),
		Enabled: req.Enabled == nil || *req.Enabled,
		Config:  config,
	}
	if err := h.Database.CreateRule(c.Request.Context(), rule); err != nil {
		middleware.Abort(c, err)
		return
	}

	detail := map[string]any{"kind": rule.Kind, "enabled": rule.Enabled}
	if rule.FileID != nil {
		detail["file_id"] = *rule.FileID
	}
	h.record(c, userID, userID, audit.ActionRuleCreate, ruleResource(rule.ID), nil, detail)
	c.JSON(http.StatusCreated, ruleRes(rule))
}

func (h *Handler) ToggleRule(c *gin.Context) {
	userID := middleware.UserID(c)
	id, ok := uuidParam(c)
	if !ok {
		return
	}
	rule, err := h.Database.ToggleRule(c.Request.Context(), userID, id)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	h.record(c, userID, userID, audit.ActionRuleToggle, ruleResource(id), nil, map[string]any{"enabled": rule.Enabled})
	c.JSON(http.StatusOK, ruleRes(rule))
}

func (h *Handler) DeleteRule(c *gin.Context) {
	userID := middleware.UserID(c)
	id, ok := uuidParam(c)
	if !ok {
		return
	}
	if err := h.Database.DeleteRule(c.Request.Context(), userID, id); err != nil {
		middleware.Abort(c, err)
		return
	}
	h.record(c, userID, userID, audit.ActionRuleDelete, ruleResource(id), nil, nil)
	c.Status(http.StatusOK)
}
