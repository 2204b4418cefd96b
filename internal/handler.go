// Package internal serves the vault REST API: accounts, files, shares, MFA,
// access-control rules and the audit trail.
package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gorinidrive.com/vault/internal/audit"
	"gorinidrive.com/vault/internal/auth"
	"gorinidrive.com/vault/internal/blob"
	"gorinidrive.com/vault/internal/clock"
	"gorinidrive.com/vault/internal/config"
	"gorinidrive.com/vault/internal/database"
	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/mfa"
	"gorinidrive.com/vault/internal/middleware"
	"gorinidrive.com/vault/internal/password"
	"gorinidrive.com/vault/internal/vault"
)

const resetCodeValidity = time.Hour

// Store is the persistence the handlers need beyond the services.
// *database.Store implements it.
type Store interface {
	GetUserByEmail(ctx context.Context, emailAddress string) (*database.DBUser, error)
	GetUserByID(ctx context.Context, id int32) (*database.DBUser, error)
	CreateUser(ctx context.Context, emailAddress, passwordHash string) (int32, error)
	UpdateLastSeen(ctx context.Context, id int32, at time.Time) error
	UpdatePassword(ctx context.Context, id int32, passwordHash string) error
	UpdateSessionTimeout(ctx context.Context, id int32, minutes int32) error
	DeleteUser(ctx context.Context, id int32) ([]string, error)
	CreatePasswordReset(ctx context.Context, userID int32, codeHash string) error
	ConsumePasswordReset(ctx context.Context, codeHash string, notBefore, now time.Time) (int32, error)

	GetFile(ctx context.Context, id int32) (*vault.File, error)
	GetOwnedFile(ctx context.Context, ownerID, id int32) (*vault.File, error)
	CreateFile(ctx context.Context, f *vault.File) error
	ListFiles(ctx context.Context, ownerID int32, folder string) ([]vault.File, error)
	ListDeletedFiles(ctx context.Context, ownerID int32) ([]vault.File, error)
	UpdateFileMeta(ctx context.Context, ownerID, id int32, name, folder string) error
	SoftDeleteFile(ctx context.Context, ownerID, id int32, at time.Time) error
	RestoreFile(ctx context.Context, ownerID, id int32) error
	RecordDownload(ctx context.Context, id int32, at time.Time) error
	ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]vault.File, error)
	PurgeFile(ctx context.Context, id int32, cutoff time.Time) error
	StorageUsed(ctx context.Context, ownerID int32) (int64, error)

	CreateShare(ctx context.Context, share *database.DBShare) error
	GetShareByAccessKey(ctx context.Context, accessKey string) (*database.DBShare, error)
	ListShares(ctx context.Context, ownerID, fileID int32) ([]database.DBShare, error)
	DeleteShare(ctx context.Context, ownerID int32, id uuid.UUID) (*database.DBShare, error)
	IncrementShareAccess(ctx context.Context, id uuid.UUID) error

	CreateRule(ctx context.Context, rule *database.DBAccessRule) error
	ListRules(ctx context.Context, ownerID int32) ([]database.DBAccessRule, error)
	ToggleRule(ctx context.Context, ownerID int32, id uuid.UUID) (*database.DBAccessRule, error)
	DeleteRule(ctx context.Context, ownerID int32, id uuid.UUID) error
	EnabledRulesForFile(ctx context.Context, ownerID, fileID int32) ([]database.DBAccessRule, error)

	DeleteExpiredChallenges(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ Store = (*database.Store)(nil)

type Handler struct {
	Logger   *logrus.Logger
	Config   *config.Config
	Database Store
	Blobs    blob.Store
	Vault    *vault.Engine
	MFA      *mfa.Manager
	Audit    *audit.Recorder
	Mailer   Mailer
	Clock    clock.Clock

	WebSockets sync.Map // socket key -> *socketConn
}

func (h *Handler) now() time.Time {
	if h.Clock == nil {
		return time.Now()
	}
	return h.Clock.Now()
}

// bind decodes the JSON body into req, reporting failures as validation
// errors.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.Abort(c, errs.Validation("invalid request body: %s", err))
		return false
	}
	return true
}

func fileIDParam(c *gin.Context) (int32, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil || id <= 0 {
		middleware.Abort(c, errs.Validation("invalid file id '%s'", c.Param("id")))
		return 0, false
	}
	return int32(id), true
}

func uuidParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.Abort(c, errs.Validation("invalid id '%s'", c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}

// record appends an audit entry to owner's trail. It never fails.
func (h *Handler) record(c *gin.Context, owner, actor int32, action audit.Action, resource string, err error, detail map[string]any) {
	e := audit.Entry{
		UserID:     owner,
		ActorID:    actor,
		Action:     action,
		Resource:   resource,
		Outcome:    audit.Success,
		SourceAddr: c.ClientIP(),
		Detail:     detail,
	}
	if err != nil {
		e.Outcome = audit.Failure
		if e.Detail == nil {
			e.Detail = map[string]any{}
		}
		e.Detail["error"] = string(errs.KindOf(err))
		if ae, ok := errs.As(err); ok && ae.Reason != "" {
			e.Detail["reason"] = ae.Reason
		}
	}
	h.Audit.Record(e)
}

func userResource(id int32) string { return fmt.Sprintf("user:%d", id) }
func fileResource(id int32) string { return fmt.Sprintf("file:%d", id) }

func (h *Handler) Login(c *gin.Context) {
	var req = &LoginReq{}
	if !bind(c, req) {
		return
	}
	ctx := c.Request.Context()

	user, err := h.Database.GetUserByEmail(ctx, req.EmailAddress)
	if errors.Is(err, errs.ErrNotFound) { // Email not found
		middleware.Abort(c, errs.ErrBadCredentials)
		return
	}
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	match, err := password.Compare(req.Password, user.Password)
	if err != nil { // Error hashing passwords
		middleware.Abort(c, errs.Internal(err))
		return
	}
	if !match { // Password mis-match
		h.record(c, user.ID, user.ID, audit.ActionLogin, userResource(user.ID), errs.ErrBadCredentials, nil)
		middleware.Abort(c, errs.ErrBadCredentials)
		return
	}

	mfaEnabled := user.MFAState == string(mfa.StateEnabled)
	if mfaEnabled {
		if req.Token == "" && req.BackupCode == "" {
			middleware.Abort(c, errs.ErrMFARequired)
			return
		}
		if err := h.MFA.Authenticate(ctx, user.ID, req.Token, req.BackupCode); err != nil {
			h.record(c, user.ID, user.ID, audit.ActionLogin, userResource(user.ID), err, map[string]any{"stage": "mfa"})
			middleware.Abort(c, err)
			return
		}
	}

	// Authentication succeeded, update last seen value in database
	if err := h.Database.UpdateLastSeen(ctx, user.ID, h.now()); err != nil {
		h.Logger.Warnf("Failed to update last_seen value for user %d: %s", user.ID, err)
	}

	token, err := auth.GenerateToken(user.ID, []byte(h.Config.JWTSecret), h.Config.AccessTokenTTL, h.now())
	if err != nil {
		middleware.Abort(c, errs.Internal(err))
		return
	}

	// Set authentication cookie
	h.createCookie(c, user.ID)
	h.record(c, user.ID, user.ID, audit.ActionLogin, userResource(user.ID), nil, map[string]any{"mfa": mfaEnabled})
	c.JSON(http.StatusOK, LoginRes{
		EmailAddress:   user.EmailAddress,
		CreatedAt:      user.CreatedAt,
		LastSeen:       user.LastSeen,
		MFAEnabled:     mfaEnabled,
		SessionTimeout: user.SessionTimeout,
		AccessToken:    token,
	})
}

func (h *Handler) Signup(c *gin.Context) {
	var req = &SignupReq{}
	if !bind(c, req) {
		return
	}

	if err := password.Validate(req.Password); err != nil {
		middleware.Abort(c, errs.Validation("%s", err))
		return
	}
	passwordHash, err := password.Hash(req.Password)
	if err != nil {
		middleware.Abort(c, errs.Internal(err))
		return
	}

	id, err := h.Database.CreateUser(c.Request.Context(), req.EmailAddress, passwordHash)
	if err != nil {
		middleware.Abort(c, err)
		return
	}

	h.record(c, id, id, audit.ActionSignup, userResource(id), nil, nil)
	c.Status(http.StatusCreated)
}

func (h *Handler) Logout(c *gin.Context) {
	if id, ok := sessionUser(c); ok {
		h.record(c, id, id, audit.ActionLogout, userResource(id), nil, nil)
	}
	// Clear authentication cookie
	h.destroyCookie(c)
	c.Status(http.StatusOK)
}

func (h *Handler) Session(c *gin.Context) {
	userID := middleware.UserID(c)
	user, err := h.Database.GetUserByID(c.Request.Context(), userID)
	if errors.Is(err, errs.ErrNotFound) {
		middleware.Abort(c, errs.ErrAuthentication)
		return
	}
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	used, err := h.Database.StorageUsed(c.Request.Context(), userID)
	if err != nil {
		middleware.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginRes{
		EmailAddress:   user.EmailAddress,
		CreatedAt:      user.CreatedAt,
		LastSeen:       user.LastSeen,
		MFAEnabled:     user.MFAState == string(mfa.StateEnabled),
		SessionTimeout: user.SessionTimeout,
		StorageUsed:    used,
	})
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	userID := middleware.UserID(c)
	var req = &SettingsReq{}
	if !bind(c, req) {
		return
	}
	if err := h.Database.UpdateSessionTimeout(c.Request.Context(), userID, req.SessionTimeout); err != nil {
		middleware.Abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	userID := middleware.UserID(c)
	var req = &ChangePasswordReq{}
	if !bind(c, req) {
		return
	}
	ctx := c.Request.Context()

	user, err := h.Database.GetUserByID(ctx, userID)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	match, err := password.Compare(req.OldPassword, user.Password)
	if err != nil {
		middleware.Abort(c, errs.Internal(err))
		return
	}
	if !match {
		h.record(c, userID, userID, audit.ActionPasswordChange, userResource(userID), errs.ErrBadCredentials, nil)
		middleware.Abort(c, errs.ErrBadCredentials)
		return
	}
	if err := h.setPassword(ctx, userID, req.NewPassword); err != nil {
		middleware.Abort(c, err)
		return
	}

	h.record(c, userID, userID, audit.ActionPasswordChange, userResource(userID), nil, nil)
	c.Status(http.StatusOK)
}

func (h *Handler) setPassword(ctx context.Context, userID int32, newPassword string) error {
	if err := password.Validate(newPassword); err != nil {
		return errs.Validation("%s", err)
	}
	passwordHash, err := password.Hash(newPassword)
	if err != nil {
		return errs.Internal(err)
	}
	return h.Database.UpdatePassword(ctx, userID, passwordHash)
}

// DeleteAccount removes the caller and all their files. It requires the
// account password and, with MFA enabled, a fresh challenge.
func (h *Handler) DeleteAccount(c *gin.Context) {
	userID := middleware.UserID(c)
	var req = &DeleteAccountReq{}
	if !bind(c, req) {
		return
	}
	ctx := c.Request.Context()

	user, err := h.Database.GetUserByID(ctx, userID)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	if err := middleware.SpendChallenge(c); err != nil {
		middleware.Abort(c, err)
		return
	}
	match, err := password.Compare(req.Password, user.Password)
	if err != nil {
		middleware.Abort(c, errs.Internal(err))
		return
	}
	if !match {
		h.record(c, userID, userID, audit.ActionAccountDelete, userResource(userID), errs.ErrBadCredentials, nil)
		middleware.Abort(c, errs.ErrBadCredentials)
		return
	}

	locations, err := h.Database.DeleteUser(ctx, userID)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	for _, loc := range locations {
		if err := h.Blobs.Delete(context.WithoutCancel(ctx), loc); err != nil {
			h.Logger.Warnf("Failed to remove blob %s of deleted user %d: %s", loc, userID, err)
		}
	}

	h.destroyCookie(c)
	h.record(c, userID, userID, audit.ActionAccountDelete, userResource(userID), nil, map[string]any{"files": len(locations)})
	c.Status(http.StatusOK)
}

func (h *Handler) RequestResetPassword(c *gin.Context) {
	emailAddress := c.Query("email_address")
	ctx := c.Request.Context()
	// Get user
	user, err := h.Database.GetUserByEmail(ctx, emailAddress)
	// To avoid enumeration attack
	if errors.Is(err, errs.ErrNotFound) {
		h.Logger.Warnf("Ignoring password reset request for non-existent user %s", emailAddress)
		c.Status(http.StatusOK)
		return
	}
	if err != nil {
		middleware.Abort(c, err)
		return
	}

	// Create reset-code and store its hash in database
	resetCode, err := randomHex(16)
	if err != nil {
		middleware.Abort(c, errs.Internal(err))
		return
	}
	if err := h.Database.CreatePasswordReset(ctx, user.ID, hashToken(resetCode)); err != nil {
		middleware.Abort(c, err)
		return
	}

	if err := h.Mailer.SendPasswordReset(ctx, user.EmailAddress, resetCode); err != nil {
		middleware.Abort(c, errs.Internal(err))
		return
	}

	c.Status(http.StatusOK)
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req = &ResetPasswordReq{}
	if !bind(c, req) {
		return
	}
	ctx := c.Request.Context()
	now := h.now()

	// Validate first so a weak password does not burn the code
	if err := password.Validate(req.NewPassword); err != nil {
		middleware.Abort(c, errs.Validation("%s", err))
		return
	}
	userID, err := h.Database.ConsumePasswordReset(ctx, hashToken(req.ResetCode), now.Add(-resetCodeValidity), now)
	if errors.Is(err, errs.ErrNotFound) {
		middleware.Abort(c, errs.ErrAuthentication.WithMessage("invalid or expired reset code"))
		return
	}
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	if err := h.setPassword(ctx, userID, req.NewPassword); err != nil {
		middleware.Abort(c, err)
		return
	}

	h.record(c, userID, 0, audit.ActionPasswordReset, userResource(userID), nil, nil)
	c.Status(http.StatusOK)
}
