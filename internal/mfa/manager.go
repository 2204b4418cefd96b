// Package mfa owns the TOTP secret lifecycle, backup codes and the
// single-use step-up challenges that gate sensitive operations.
package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gorinidrive.com/vault/internal/clock"
	"gorinidrive.com/vault/internal/errs"
)

type Options struct {
	Issuer        string
	SecretKey     []byte
	ChallengeTTL  time.Duration
	EnrollmentTTL time.Duration
	Clock         clock.Clock
	Logger        *logrus.Logger
}

type Manager struct {
	store         Store
	sealer        *Sealer
	clock         clock.Clock
	logger        *logrus.Logger
	issuer        string
	challengeTTL  time.Duration
	enrollmentTTL time.Duration
}

func NewManager(store Store, opts Options) (*Manager, error) {
	sealer, err := NewSealer(opts.SecretKey)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 5 * time.Minute
	}
	if opts.EnrollmentTTL <= 0 {
		opts.EnrollmentTTL = 10 * time.Minute
	}
	return &Manager{
		store:         store,
		sealer:        sealer,
		clock:         opts.Clock,
		logger:        opts.Logger,
		issuer:        opts.Issuer,
		challengeTTL:  opts.ChallengeTTL,
		enrollmentTTL: opts.EnrollmentTTL,
	}, nil
}

// Enrollment is returned once by BeginEnrollment. None of it can be
// retrieved again.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	QRCode          string
	BackupCodes     []string
}

// Status is the caller-visible MFA state.
type Status struct {
	State                State
	BackupCodesRemaining int
	PendingExpiresAt     *time.Time
}

func (s *Status) Enabled() bool { return s.State == StateEnabled }

// BeginEnrollment generates a fresh TOTP secret and backup codes and leaves
// the user pending until CompleteEnrollment. A pending enrollment older than
// the enrollment TTL is replaced.
func (m *Manager) BeginEnrollment(ctx context.Context, userID int32) (*Enrollment, error) {
	acct, err := m.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if err := m.checkCanEnroll(acct, now); err != nil {
		return nil, err
	}

	key, err := generateKey(m.issuer, acct.Email)
	if err != nil {
		return nil, errs.Internal(err)
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return nil, errs.Internal(err)
	}
	codes, hashes, err := newBackupCodes()
	if err != nil {
		return nil, errs.Internal(err)
	}
	sealed, err := m.sealer.Seal(userID, []byte(key.Secret()))
	if err != nil {
		return nil, errs.Internal(err)
	}

	ok, err := m.store.StartEnrollment(ctx, userID, sealed, hashes, now, now.Add(-m.enrollmentTTL))
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with another enrollment (or enable); report what won.
		if acct, err = m.store.GetAccount(ctx, userID); err != nil {
			return nil, err
		}
		if err := m.checkCanEnroll(acct, now); err != nil {
			return nil, err
		}
		return nil, errs.ErrAlreadyPending
	}

	m.logger.Infof("MFA enrollment started for user %d", userID)
	return &Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          qr,
		BackupCodes:     codes,
	}, nil
}

func (m *Manager) checkCanEnroll(acct *Account, now time.Time) error {
	switch {
	case acct.State == StateEnabled:
		return errs.ErrAlreadyEnrolled
	case acct.State == StatePending && now.Sub(acct.PendingAt) < m.enrollmentTTL:
		return errs.ErrAlreadyPending
	}
	return nil
}

// CompleteEnrollment enables MFA when code matches the pending secret. A
// wrong code leaves the enrollment pending.
func (m *Manager) CompleteEnrollment(ctx context.Context, userID int32, code string) error {
	acct, err := m.store.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	switch acct.State {
	case StateEnabled:
		return errs.ErrAlreadyEnrolled
	case StateDisabled:
		return errs.ErrNoPending
	}
	now := m.clock.Now()
	if now.Sub(acct.PendingAt) >= m.enrollmentTTL {
		return errs.ErrChallengeExpired.WithMessage("enrollment expired, start again")
	}

	secret, err := m.sealer.Open(userID, acct.PendingSecret)
	if err != nil {
		return errs.Internal(err)
	}
	step, ok := matchStep(string(secret), code, now)
	if !ok {
		countVerification(methodTOTP, errs.ErrInvalidCode)
		return errs.ErrInvalidCode
	}
	countVerification(methodTOTP, nil)

	ok, err = m.store.CompleteEnrollment(ctx, userID, acct.PendingSecret, acct.PendingBackupHashes, step)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNoPending
	}
	m.logger.Infof("MFA enabled for user %d", userID)
	return nil
}

// CancelEnrollment discards a pending enrollment.
func (m *Manager) CancelEnrollment(ctx context.Context, userID int32) error {
	ok, err := m.store.CancelEnrollment(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNoPending
	}
	return nil
}

// Verify checks exactly one of token or backupCode and, on success, issues a
// step-up challenge valid for the challenge TTL.
func (m *Manager) Verify(ctx context.Context, userID int32, token, backupCode string) (*Challenge, error) {
	if err := m.Authenticate(ctx, userID, token, backupCode); err != nil {
		return nil, err
	}
	now := m.clock.Now()
	ch := &Challenge{
		ID:        uuid.New(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.challengeTTL),
	}
	if err := m.store.CreateChallenge(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// Authenticate is Verify without issuing a challenge, used as the second
// factor at login.
func (m *Manager) Authenticate(ctx context.Context, userID int32, token, backupCode string) error {
	if (token == "") == (backupCode == "") {
		return errs.ErrMissingCredential
	}
	acct, err := m.store.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if acct.State != StateEnabled {
		return errs.ErrNotEnrolled
	}

	if token != "" {
		err = m.verifyToken(ctx, acct, token)
		countVerification(methodTOTP, err)
	} else {
		err = m.verifyBackupCode(ctx, acct, backupCode)
		countVerification(methodBackup, err)
	}
	if err != nil {
		m.logger.Warnf("MFA verification failed for user %d: %s", userID, err)
	}
	return err
}

func (m *Manager) verifyToken(ctx context.Context, acct *Account, token string) error {
	secret, err := m.sealer.Open(acct.UserID, acct.Secret)
	if err != nil {
		return errs.Internal(err)
	}
	step, ok := matchStep(string(secret), token, m.clock.Now())
	if !ok {
		return errs.ErrInvalidCode
	}
	// A code is accepted once: the step must be newer than the last one used.
	ok, err = m.store.AdvanceTOTPStep(ctx, acct.UserID, step)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrInvalidCode
	}
	return nil
}

func (m *Manager) verifyBackupCode(ctx context.Context, acct *Account, code string) error {
	ok, err := m.store.ConsumeBackupCode(ctx, acct.UserID, HashBackupCode(code), m.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrInvalidBackupCode
	}
	return nil
}

// Disable verifies the caller then clears the secret and all backup codes.
func (m *Manager) Disable(ctx context.Context, userID int32, token, backupCode string) error {
	if err := m.Authenticate(ctx, userID, token, backupCode); err != nil {
		return err
	}
	if err := m.store.DisableMFA(ctx, userID); err != nil {
		return err
	}
	m.logger.Infof("MFA disabled for user %d", userID)
	return nil
}

// RegenerateBackupCodes verifies token and replaces every backup code.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, userID int32, token string) ([]string, error) {
	if token == "" {
		return nil, errs.ErrMissingCredential.WithMessage("token is required")
	}
	if err := m.Authenticate(ctx, userID, token, ""); err != nil {
		return nil, err
	}
	codes, hashes, err := newBackupCodes()
	if err != nil {
		return nil, errs.Internal(err)
	}
	if err := m.store.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}
	m.logger.Infof("Backup codes regenerated for user %d", userID)
	return codes, nil
}

func parseChallengeID(rawID string) (uuid.UUID, error) {
	if rawID == "" {
		return uuid.Nil, errs.ErrMFARequired
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, errs.ErrMFARequired
	}
	return id, nil
}

// CheckChallenge reports why the challenge identified by rawID could not
// be spent right now, without spending it.
func (m *Manager) CheckChallenge(ctx context.Context, userID int32, rawID string) error {
	id, err := parseChallengeID(rawID)
	if err != nil {
		return err
	}
	return m.challengeState(ctx, id, userID, m.clock.Now())
}

// ConsumeChallenge spends the challenge identified by rawID. Each challenge
// authorizes exactly one operation.
func (m *Manager) ConsumeChallenge(ctx context.Context, userID int32, rawID string) error {
	id, err := parseChallengeID(rawID)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	ok, err := m.store.ConsumeChallenge(ctx, id, userID, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err := m.challengeState(ctx, id, userID, now); err != nil {
		return err
	}
	// usable when read back means it was spent in between
	return errs.ErrChallengeConsumed
}

func (m *Manager) challengeState(ctx context.Context, id uuid.UUID, userID int32, now time.Time) error {
	ch, err := m.store.GetChallenge(ctx, id, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrMFARequired
	}
	if err != nil {
		return err
	}
	if ch.Consumed() {
		return errs.ErrChallengeConsumed
	}
	if !now.Before(ch.ExpiresAt) {
		return errs.ErrChallengeExpired
	}
	return nil
}

func (m *Manager) Status(ctx context.Context, userID int32) (*Status, error) {
	acct, err := m.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := &Status{State: acct.State}
	switch acct.State {
	case StateEnabled:
		if st.BackupCodesRemaining, err = m.store.CountBackupCodes(ctx, userID); err != nil {
			return nil, err
		}
	case StatePending:
		exp := acct.PendingAt.Add(m.enrollmentTTL)
		st.PendingExpiresAt = &exp
	}
	return st, nil
}
