package internal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"gorinidrive.com/vault/internal/vault"
)

// RESTful datatypes

type LoginReq struct {
	EmailAddress string `json:"email_address" binding:"required"`
	Password     string `json:"password" binding:"required"`
	Token        string `json:"totp"`
	BackupCode   string `json:"backup_code"`
}
type LoginRes struct {
	EmailAddress   string    `json:"email_address"`
	CreatedAt      time.Time `json:"created_at"`
	LastSeen       time.Time `json:"last_seen"`
	MFAEnabled     bool      `json:"mfa_enabled"`
	SessionTimeout int32     `json:"session_timeout"`
	StorageUsed    int64     `json:"storage_used,omitempty"`
	AccessToken    string    `json:"access_token,omitempty"`
}
type SignupReq struct {
	EmailAddress string `json:"email_address" binding:"required,email"`
	Password     string `json:"password" binding:"required"`
}
type ChangePasswordReq struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}
type DeleteAccountReq struct {
	Password string `json:"password" binding:"required"`
}
type ResetPasswordReq struct {
	ResetCode   string `json:"reset_code" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}
type SettingsReq struct {
	SessionTimeout int32 `json:"session_timeout" binding:"required,min=1,max=1440"`
}

type ListFilesRes struct {
	Files []File `json:"files"`
}
type UpdateFileReq struct {
	Name   string `json:"name"`
	Folder string `json:"folder"`
}
type EncryptReq struct {
	Password string `json:"password"`
}
type DecryptReq struct {
	Password  string `json:"password"`
	Permanent bool   `json:"permanent"`
}

type CreateShareReq struct {
	RecipientEmail    string     `json:"recipientEmail"`
	Permissions       string     `json:"permissions"`
	ExpirationDate    *time.Time `json:"expirationDate"`
	PasswordProtected bool       `json:"passwordProtected"`
	Password          string     `json:"password"`
	NotifyRecipient   bool       `json:"notifyRecipient"`
}
type ShareRes struct {
	ID                uuid.UUID  `json:"id"`
	FileID            int32      `json:"file_id"`
	RecipientEmail    string     `json:"recipient_email,omitempty"`
	Permission        string     `json:"permission"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	PasswordProtected bool       `json:"password_protected"`
	AccessCount       int64      `json:"access_count"`
	CreatedAt         time.Time  `json:"created_at"`
	ShareURL          string     `json:"shareUrl,omitempty"`
}
type ListSharesRes struct {
	Shares []ShareRes `json:"shares"`
}

type MFACredentialReq struct {
	Token      string `json:"token"`
	BackupCode string `json:"backupCode"`
}
type MFATokenReq struct {
	Token string `json:"token" binding:"required"`
}
type MFASetupRes struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioningUri"`
	QRCode          string   `json:"qrCode"`
	BackupCodes     []string `json:"backupCodes"`
}
type MFAStatusRes struct {
	State                string     `json:"state"`
	Enabled              bool       `json:"enabled"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
	PendingExpiresAt     *time.Time `json:"pending_expires_at,omitempty"`
}
type MFAVerifyRes struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}
type BackupCodesRes struct {
	BackupCodes []string `json:"backupCodes"`
}

type CreateRuleReq struct {
	Name    string          `json:"name" binding:"required"`
	Kind    string          `json:"kind" binding:"required"`
	FileID  *int32          `json:"file_id"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config" binding:"required"`
}
type RuleRes struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	FileID    *int32          `json:"file_id,omitempty"`
	Enabled   bool            `json:"enabled"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
}
type ListRulesRes struct {
	Rules []RuleRes `json:"rules"`
}

// Substructures

type File struct {
	ID             int32      `json:"id"`
	Name           string     `json:"name"`
	Folder         string     `json:"folder"`
	Size           int64      `json:"size"`
	Type           string     `json:"type,omitempty"`
	Encrypted      bool       `json:"encrypted"`
	DownloadCount  int64      `json:"download_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	Added          time.Time  `json:"added"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

func fileRes(f *vault.File) File {
	return File{
		ID:             f.ID,
		Name:           f.Name,
		Folder:         f.Folder,
		Size:           f.Size,
		Type:           f.MimeType,
		Encrypted:      f.Encrypted,
		DownloadCount:  f.DownloadCount,
		LastAccessedAt: f.LastAccessedAt,
		Added:          f.CreatedAt,
		DeletedAt:      f.DeletedAt,
	}
}

func filesRes(files []vault.File) ListFilesRes {
	out := ListFilesRes{Files: make([]File, 0, len(files))}
	for i := range files {
		out.Files = append(out.Files, fileRes(&files[i]))
	}
	return out
}
