package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/mfa"
)

func (s *Store) GetAccount(ctx context.Context, userID int32) (*mfa.Account, error) {
	acct := &mfa.Account{}
	var pendingAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email_address, mfa_state, mfa_secret, mfa_last_step, mfa_pending_secret, mfa_pending_backup, mfa_pending_at
		 FROM users WHERE id = $1`, userID).
		Scan(&acct.UserID, &acct.Email, &acct.State, &acct.Secret, &acct.LastStep,
			&acct.PendingSecret, pq.Array(&acct.PendingBackupHashes), &pendingAt)
	if isNoRows(err) {
		return nil, errs.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	if pendingAt.Valid {
		acct.PendingAt = pendingAt.Time
	}
	return acct, nil
}

func (s *Store) StartEnrollment(ctx context.Context, userID int32, sealedSecret []byte, backupHashes []string, now, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users
		 SET mfa_state = 'pending_verification', mfa_pending_secret = $2, mfa_pending_backup = $3, mfa_pending_at = $4
		 WHERE id = $1 AND mfa_state <> 'enabled'
		   AND (mfa_state <> 'pending_verification' OR mfa_pending_at < $5)`,
		userID, sealedSecret, pq.Array(backupHashes), now, staleBefore)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

func (s *Store) CompleteEnrollment(ctx context.Context, userID int32, sealedSecret []byte, backupHashes []string, step int64) (bool, error) {
	var enabled bool
	err := WithTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users
			 SET mfa_state = 'enabled', mfa_secret = mfa_pending_secret, mfa_last_step = $3,
			     mfa_pending_secret = NULL, mfa_pending_backup = NULL, mfa_pending_at = NULL
			 WHERE id = $1 AND mfa_state = 'pending_verification' AND mfa_pending_secret = $2`,
			userID, sealedSecret, step)
		if err != nil {
			return err
		}
		if enabled, err = rowsAffected(res); err != nil || !enabled {
			return err
		}
		return replaceBackupCodes(ctx, tx, userID, backupHashes)
	})
	return enabled, err
}

func (s *Store) CancelEnrollment(ctx context.Context, userID int32) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users
		 SET mfa_state = 'disabled', mfa_pending_secret = NULL, mfa_pending_backup = NULL, mfa_pending_at = NULL
		 WHERE id = $1 AND mfa_state = 'pending_verification'`, userID)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

func (s *Store) DisableMFA(ctx context.Context, userID int32) error {
	return WithTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET mfa_state = 'disabled', mfa_secret = NULL, mfa_last_step = 0 WHERE id = $1`, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID)
		return err
	})
}

func (s *Store) AdvanceTOTPStep(ctx context.Context, userID int32, step int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET mfa_last_step = $2 WHERE id = $1 AND mfa_state = 'enabled' AND mfa_last_step < $2`,
		userID, step)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// ConsumeBackupCode is a single conditional update so two concurrent
// verifications of the same code cannot both succeed.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID int32, codeHash string, usedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mfa_backup_codes SET used_at = $3 WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		userID, codeHash, usedAt)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID int32, codeHashes []string) error {
	return WithTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		return replaceBackupCodes(ctx, tx, userID, codeHashes)
	})
}

func replaceBackupCodes(ctx context.Context, tx DBTX, userID int32, codeHashes []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO mfa_backup_codes(user_id, code_hash) SELECT $1, unnest($2::text[])`,
		userID, pq.Array(codeHashes))
	return err
}

func (s *Store) CountBackupCodes(ctx context.Context, userID int32) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NULL`, userID).Scan(&n)
	return n, err
}

func (s *Store) CreateChallenge(ctx context.Context, ch *mfa.Challenge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mfa_challenges(id, user_id, issued_at, expires_at) VALUES ($1, $2, $3, $4)`,
		ch.ID, ch.UserID, ch.IssuedAt, ch.ExpiresAt)
	return err
}

func (s *Store) ConsumeChallenge(ctx context.Context, id uuid.UUID, userID int32, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mfa_challenges SET consumed_at = $3
		 WHERE id = $1 AND user_id = $2 AND consumed_at IS NULL AND expires_at > $3`,
		id, userID, now)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

func (s *Store) GetChallenge(ctx context.Context, id uuid.UUID, userID int32) (*mfa.Challenge, error) {
	ch := &mfa.Challenge{}
	var consumedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, issued_at, expires_at, consumed_at FROM mfa_challenges WHERE id = $1 AND user_id = $2`,
		id, userID).Scan(&ch.ID, &ch.UserID, &ch.IssuedAt, &ch.ExpiresAt, &consumedAt)
	if isNoRows(err) {
		return nil, errs.NotFound("challenge")
	}
	if err != nil {
		return nil, err
	}
	if consumedAt.Valid {
		ch.ConsumedAt = &consumedAt.Time
	}
	return ch, nil
}

// DeleteExpiredChallenges removes challenges that expired before cutoff.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mfa_challenges WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
