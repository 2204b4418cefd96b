package mfa

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateDisabled State = "disabled"
	StatePending  State = "pending_verification"
	StateEnabled  State = "enabled"
)

// Account is the MFA view of a user row. Secrets are sealed; see Sealer.
type Account struct {
	UserID int32
	Email  string
	State  State

	Secret   []byte // sealed, set when State is enabled
	LastStep int64  // last accepted TOTP time step

	PendingSecret       []byte // sealed, set when State is pending
	PendingBackupHashes []string
	PendingAt           time.Time
}

// Challenge is a single-use proof of a recent successful verification.
type Challenge struct {
	ID         uuid.UUID
	UserID     int32
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

func (c *Challenge) Consumed() bool { return c.ConsumedAt != nil }

// Store persists MFA state. Every method returning a bool is a conditional
// update: false means the precondition no longer held and nothing changed.
type Store interface {
	GetAccount(ctx context.Context, userID int32) (*Account, error)

	// StartEnrollment moves the user to pending unless MFA is enabled or a
	// pending enrollment newer than staleBefore exists.
	StartEnrollment(ctx context.Context, userID int32, sealedSecret []byte, backupHashes []string, now, staleBefore time.Time) (bool, error)
	// CompleteEnrollment enables MFA if the pending secret is still
	// sealedSecret, replacing any backup codes with backupHashes.
	CompleteEnrollment(ctx context.Context, userID int32, sealedSecret []byte, backupHashes []string, step int64) (bool, error)
	CancelEnrollment(ctx context.Context, userID int32) (bool, error)
	// DisableMFA clears the secret and deletes every backup code.
	DisableMFA(ctx context.Context, userID int32) error

	// AdvanceTOTPStep records step as used if it is newer than the last one.
	AdvanceTOTPStep(ctx context.Context, userID int32, step int64) (bool, error)

	ConsumeBackupCode(ctx context.Context, userID int32, codeHash string, usedAt time.Time) (bool, error)
	ReplaceBackupCodes(ctx context.Context, userID int32, codeHashes []string) error
	CountBackupCodes(ctx context.Context, userID int32) (int, error)

	CreateChallenge(ctx context.Context, ch *Challenge) error
	// ConsumeChallenge marks the challenge used if it belongs to userID,
	// is unused and has not expired at now.
	ConsumeChallenge(ctx context.Context, id uuid.UUID, userID int32, now time.Time) (bool, error)
	GetChallenge(ctx context.Context, id uuid.UUID, userID int32) (*Challenge, error)
}
