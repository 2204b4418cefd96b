package internal

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gorinidrive.com/vault/internal/audit"
	"gorinidrive.com/vault/internal/database"
	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/middleware"
	"gorinidrive.com/vault/internal/password"
	"gorinidrive.com/vault/internal/vault"
)

// Share permissions. A view share can only be previewed.
const (
	PermissionView     = "view"
	PermissionDownload = "download"
)

func shareResource(id uuid.UUID) string { return "share:" + id.String() }

func (h *Handler) shareURL(accessKey string) string {
	return h.Config.PublicURL + "/share/" + accessKey
}

func (h *Handler) shareRes(s *database.DBShare) ShareRes {
	return ShareRes{
		ID:                s.ID,
		FileID:            s.FileID,
		RecipientEmail:    s.RecipientEmail,
		Permission:        s.Permission,
		ExpiresAt:         s.ExpiresAt,
		PasswordProtected: s.PasswordHash != "",
		AccessCount:       s.AccessCount,
		CreatedAt:         s.CreatedAt,
		ShareURL:          h.shareURL(s.AccessKey),
	}
}

func (h *Handler) CreateShare(c *gin.Context) {
	userID := middleware.UserID(c)
	f, ok := h.ownedFile(c)
	if !ok {
		return
	}
	var req = &CreateShareReq{}
	if !bind(c, req) {
		return
	}
	ctx := c.Request.Context()

	share := &database.DBShare{
		ID:             uuid.New(),
		FileID:         f.ID,
		CreatedBy:      userID,
		RecipientEmail: req.RecipientEmail,
		Permission:     req.Permissions,
		ExpiresAt:      req.ExpirationDate,
	}
	switch share.Permission {
	case "":
		share.Permission = PermissionView
	case PermissionView, PermissionDownload:
	default:
		middleware.Abort(c, errs.Validation("invalid permission '%s'", req.Permissions))
		return
	}
	if share.ExpiresAt != nil && !share.ExpiresAt.After(h.now()) {
		middleware.Abort(c, errs.Validation("expiration date must be in the future"))
		return
	}
	if req.NotifyRecipient && req.RecipientEmail == "" {
		middleware.Abort(c, errs.Validation("recipient email is required to notify the recipient"))
		return
	}
	if req.PasswordProtected {
		if req.Password == "" {
			middleware.Abort(c, errs.Validation("password is required for a password protected share"))
			return
		}
		hash, err := password.Hash(req.Password)
		if err != nil {
			middleware.Abort(c, errs.Internal(err))
			return
		}
		share.PasswordHash = hash
	}

	if err := h.checkFileAccess(c, f, userID, audit.ActionShareCreate); err != nil {
		middleware.Abort(c, err)
		return
	}

	accessKey, err := randomHex(32)
	if err != nil {
		middleware.Abort(c, errs.Internal(err))
		return
	}
	share.AccessKey = accessKey

	if err := h.Database.CreateShare(ctx, share); err != nil {
		middleware.Abort(c, err)
		return
	}
	h.record(c, userID, userID, audit.ActionShareCreate, shareResource(share.ID), nil, map[string]any{
		"file_id":            f.ID,
		"permission":         share.Permission,
		"password_protected": req.PasswordProtected,
	})

	if req.NotifyRecipient {
		h.notifyRecipient(c, userID, f, share)
	}

	c.JSON(http.StatusCreated, h.shareRes(share))
}

// notifyRecipient mails the share link. The share stays valid when sending
// fails.
func (h *Handler) notifyRecipient(c *gin.Context, userID int32, f *vault.File, share *database.DBShare) {
	ctx := c.Request.Context()
	owner, err := h.Database.GetUserByID(ctx, userID)
	if err != nil {
		h.Logger.Warnf("Failed to load user %d for share notification: %s", userID, err)
		return
	}
	err = h.Mailer.SendShareNotification(ctx, share.RecipientEmail, owner.EmailAddress, f.Name, h.shareURL(share.AccessKey), share.ExpiresAt)
	if err != nil {
		h.Logger.Warnf("Failed to notify recipient of share %s: %s", share.ID, err)
	}
}

func (h *Handler) ListShares(c *gin.Context) {
	userID := middleware.UserID(c)
	f, ok := h.ownedFile(c)
	if !ok {
		return
	}
	shares, err := h.Database.ListShares(c.Request.Context(), userID, f.ID)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	res := ListSharesRes{Shares: make([]ShareRes, 0, len(shares))}
	for i := range shares {
		res.Shares = append(res.Shares, h.shareRes(&shares[i]))
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteShare(c *gin.Context) {
	userID := middleware.UserID(c)
	id, ok := uuidParam(c)
	if !ok {
		return
	}
	share, err := h.Database.DeleteShare(c.Request.Context(), userID, id)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	h.record(c, userID, userID, audit.ActionShareDelete, shareResource(id), nil, map[string]any{"file_id": share.FileID})
	c.Status(http.StatusOK)
}

// PreviewLink serves a shared file inline to anyone holding the link.
func (h *Handler) PreviewLink(c *gin.Context) {
	h.serveLink(c, "preview", "inline")
}

// DownloadLink serves a shared file as an attachment. View-only shares are
// refused.
func (h *Handler) DownloadLink(c *gin.Context) {
	h.serveLink(c, "download", "attachment")
}

func (h *Handler) serveLink(c *gin.Context, operation, disposition string) {
	ctx := c.Request.Context()
	accessKey := c.Query("access_key")
	if accessKey == "" {
		middleware.Abort(c, errs.Validation("access_key is required"))
		return
	}

	share, err := h.Database.GetShareByAccessKey(ctx, accessKey)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	f, err := h.Database.GetFile(ctx, share.FileID)
	if err != nil {
		middleware.Abort(c, err)
		return
	}

	// The link's own policy first, with the share password from the query
	req := h.requestContext(c)
	req.Password = c.Query("password")
	if err := h.authorize(c, f, 0, audit.ActionShareAccess, sharePolicy(share), req); err != nil {
		middleware.Abort(c, err)
		return
	}
	// then whatever the owner set on the file
	if err := h.checkFileAccess(c, f, 0, audit.ActionShareAccess); err != nil {
		middleware.Abort(c, err)
		return
	}

	detail := map[string]any{"operation": operation, "share_id": share.ID.String()}
	if operation == "download" && share.Permission != PermissionDownload {
		err := errs.AccessDenied("view_only")
		h.record(c, f.OwnerID, 0, audit.ActionShareAccess, fileResource(f.ID), err, detail)
		middleware.Abort(c, err)
		return
	}

	data, err := h.Vault.ReadWithPassword(ctx, f.ID, c.Query("file_password"))
	h.record(c, f.OwnerID, 0, audit.ActionShareAccess, fileResource(f.ID), err, detail)
	if err != nil {
		middleware.Abort(c, err)
		return
	}

	if err := h.Database.IncrementShareAccess(ctx, share.ID); err != nil {
		h.Logger.Warnf("Failed to count access of share %s: %s", share.ID, err)
	}
	if operation == "download" {
		if err := h.Database.RecordDownload(ctx, f.ID, h.now()); err != nil {
			h.Logger.Warnf("Failed to update download count of file %d: %s", f.ID, err)
		}
	}
	writeContent(c, f, data, disposition)
}
