package internal

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gorinidrive.com/vault/internal/audit"
	"gorinidrive.com/vault/internal/middleware"
)

func (h *Handler) MFAStatus(c *gin.Context) {
	status, err := h.MFA.Status(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, MFAStatusRes{
		State:                string(status.State),
		Enabled:              status.Enabled(),
		BackupCodesRemaining: status.BackupCodesRemaining,
		PendingExpiresAt:     status.PendingExpiresAt,
	})
}

// SetupMFA starts enrollment. The secret and backup codes are only ever
// returned here.
func (h *Handler) SetupMFA(c *gin.Context) {
	userID := middleware.UserID(c)
	enrollment, err := h.MFA.BeginEnrollment(c.Request.Context(), userID)
	h.record(c, userID, userID, audit.ActionMFAEnrollBegin, userResource(userID), err, nil)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, MFASetupRes{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCode:          enrollment.QRCode,
		BackupCodes:     enrollment.BackupCodes,
	})
}

func (h *Handler) CancelMFASetup(c *gin.Context) {
	userID := middleware.UserID(c)
	err := h.MFA.CancelEnrollment(c.Request.Context(), userID)
	h.record(c, userID, userID, audit.ActionMFAEnrollCancel, userResource(userID), err, nil)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// VerifyMFASetup confirms the authenticator with a first code and enables
// MFA.
func (h *Handler) VerifyMFASetup(c *gin.Context) {
	userID := middleware.UserID(c)
	var req = &MFATokenReq{}
	if !bind(c, req) {
		return
	}
	err := h.MFA.CompleteEnrollment(c.Request.Context(), userID, req.Token)
	h.record(c, userID, userID, audit.ActionMFAEnrollComplete, userResource(userID), err, nil)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// VerifyMFA checks a TOTP or backup code and issues a step-up challenge for
// the X-MFA-Challenge header.
func (h *Handler) VerifyMFA(c *gin.Context) {
	userID := middleware.UserID(c)
	var req = &MFACredentialReq{}
	if !bind(c, req) {
		return
	}
	challenge, err := h.MFA.Verify(c.Request.Context(), userID, req.Token, req.BackupCode)
	h.record(c, userID, userID, audit.ActionMFAVerify, userResource(userID), err, map[string]any{"method": credentialMethod(req)})
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, MFAVerifyRes{ChallengeID: challenge.ID, ExpiresAt: challenge.ExpiresAt})
}

func (h *Handler) DisableMFA(c *gin.Context) {
	userID := middleware.UserID(c)
	var req = &MFACredentialReq{}
	if !bind(c, req) {
		return
	}
	err := h.MFA.Disable(c.Request.Context(), userID, req.Token, req.BackupCode)
	h.record(c, userID, userID, audit.ActionMFADisable, userResource(userID), err, map[string]any{"method": credentialMethod(req)})
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) RegenerateBackupCodes(c *gin.Context) {
	userID := middleware.UserID(c)
	var req = &MFATokenReq{}
	if !bind(c, req) {
		return
	}
	codes, err := h.MFA.RegenerateBackupCodes(c.Request.Context(), userID, req.Token)
	h.record(c, userID, userID, audit.ActionMFABackupRegenerate, userResource(userID), err, nil)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, BackupCodesRes{BackupCodes: codes})
}

func credentialMethod(req *MFACredentialReq) string {
	if req.BackupCode != "" {
		return "backup_code"
	}
	return "totp"
}
