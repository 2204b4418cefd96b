package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DBUser struct {
	ID             int32
	EmailAddress   string
	Password       string
	SessionTimeout int32 // minutes
	CreatedAt      time.Time
	LastSeen       time.Time
	MFAState       string
}

type DBShare struct {
	ID             uuid.UUID
	AccessKey      string
	FileID         int32
	CreatedBy      int32
	RecipientEmail string
	Permission     string
	ExpiresAt      *time.Time
	PasswordHash   string
	AccessCount    int64
	CreatedAt      time.Time
}

type DBAccessRule struct {
	ID        uuid.UUID
	UserID    int32
	FileID    *int32 // nil for rules covering every file of the owner
	Name      string
	Kind      string
	Enabled   bool
	Config    json.RawMessage
	CreatedAt time.Time
}

type DBPasswordReset struct {
	ID        int32
	UserID    int32
	CodeHash  string
	CreatedAt time.Time
	UsedAt    *time.Time
}
