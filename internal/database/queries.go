package database

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"

	"gorinidrive.com/vault/internal/errs"
)

const userColumns = `id, email_address, password, session_timeout, created_at, last_seen, mfa_state`

func scanUser(row interface{ Scan(...any) error }) (*DBUser, error) {
	user := &DBUser{}
	err := row.Scan(&user.ID, &user.EmailAddress, &user.Password, &user.SessionTimeout, &user.CreatedAt, &user.LastSeen, &user.MFAState)
	if isNoRows(err) {
		return nil, errs.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, emailAddress string) (*DBUser, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email_address = $1`, emailAddress)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id int32) (*DBUser, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// CreateUser inserts a user and returns its id. A taken email address is a
// conflict.
func (s *Store) CreateUser(ctx context.Context, emailAddress, passwordHash string) (int32, error) {
	var id int32
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users(email_address, password) VALUES($1, $2) RETURNING id`,
		emailAddress, passwordHash).Scan(&id)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return 0, errs.ErrConflict.WithMessage("email address already taken")
	}
	return id, err
}

func (s *Store) UpdateLastSeen(ctx context.Context, id int32, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen = $1 WHERE id = $2`, at, id)
	return err
}

func (s *Store) UpdatePassword(ctx context.Context, id int32, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $1 WHERE id = $2`, passwordHash, id)
	if err != nil {
		return err
	}
	if ok, err := rowsAffected(res); err != nil || !ok {
		return errors.Join(err, errs.NotFound("user"))
	}
	return nil
}

func (s *Store) UpdateSessionTimeout(ctx context.Context, id int32, minutes int32) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET session_timeout = $1 WHERE id = $2`, minutes, id)
	return err
}

// DeleteUser removes the account row; files, shares, rules and MFA rows
// cascade. Blob locations of the user's files are returned so the caller
// can remove the content.
func (s *Store) DeleteUser(ctx context.Context, id int32) ([]string, error) {
	var locations []string
	err := WithTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		rows, err := tx.QueryContext(ctx, `SELECT location FROM files WHERE user_id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var loc string
			if err := rows.Scan(&loc); err != nil {
				return err
			}
			locations = append(locations, loc)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if ok, err := rowsAffected(res); err != nil || !ok {
			return errors.Join(err, errs.NotFound("user"))
		}
		return nil
	})
	return locations, err
}

func (s *Store) CreatePasswordReset(ctx context.Context, userID int32, codeHash string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO password_reset_codes(user_id, code_hash) VALUES ($1, $2)`, userID, codeHash)
	return err
}

// ConsumePasswordReset marks an unused code newer than notBefore as used and
// returns the user it belongs to.
func (s *Store) ConsumePasswordReset(ctx context.Context, codeHash string, notBefore, now time.Time) (int32, error) {
	var userID int32
	err := s.db.QueryRowContext(ctx,
		`UPDATE password_reset_codes SET used_at = $3
		 WHERE code_hash = $1 AND used_at IS NULL AND created_at > $2
		 RETURNING user_id`,
		codeHash, notBefore, now).Scan(&userID)
	if isNoRows(err) {
		return 0, errs.NotFound("reset code")
	}
	return userID, err
}
