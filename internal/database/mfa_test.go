package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/mfa"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewStore(db), mock
}

func TestGetAccount(t *testing.T) {
	s, mock := newStoreWithMock(t)
	pendingAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "email_address", "mfa_state", "mfa_secret", "mfa_last_step",
		"mfa_pending_secret", "mfa_pending_backup", "mfa_pending_at"}).
		AddRow(int32(7), "a@example.com", "pending_verification", nil, int64(0), []byte("sealed"), "{h1,h2}", pendingAt)
	mock.ExpectQuery(`SELECT .* FROM users WHERE id = \$1`).WithArgs(int32(7)).WillReturnRows(rows)

	acct, err := s.GetAccount(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, mfa.StatePending, acct.State)
	assert.Equal(t, []byte("sealed"), acct.PendingSecret)
	assert.Equal(t, []string{"h1", "h2"}, acct.PendingBackupHashes)
	assert.True(t, acct.PendingAt.Equal(pendingAt))
}

func TestGetAccount_NotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectQuery(`FROM users WHERE id = \$1`).WithArgs(int32(9)).WillReturnError(sql.ErrNoRows)

	_, err := s.GetAccount(context.Background(), 9)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestConsumeBackupCode_ConditionalUpdate(t *testing.T) {
	s, mock := newStoreWithMock(t)
	now := time.Now()

	q := `UPDATE mfa_backup_codes SET used_at = \$3 WHERE user_id = \$1 AND code_hash = \$2 AND used_at IS NULL`
	mock.ExpectExec(q).WithArgs(int32(1), "hash", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(int32(1), "hash", now).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ConsumeBackupCode(context.Background(), 1, "hash", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ConsumeBackupCode(context.Background(), 1, "hash", now)
	require.NoError(t, err)
	assert.False(t, ok, "an already used code must not be consumed again")
}

func TestCompleteEnrollment_CommitsSecretAndCodes(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users\s+SET mfa_state = 'enabled'.*WHERE id = \$1 AND mfa_state = 'pending_verification' AND mfa_pending_secret = \$2`).
		WithArgs(int32(3), []byte("sealed"), int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM mfa_backup_codes WHERE user_id = \$1`).WithArgs(int32(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO mfa_backup_codes\(user_id, code_hash\) SELECT \$1, unnest`).
		WithArgs(int32(3), `{"a","b"}`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ok, err := s.CompleteEnrollment(context.Background(), 3, []byte("sealed"), []string{"a", "b"}, 1000)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompleteEnrollment_LostRace(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := s.CompleteEnrollment(context.Background(), 3, []byte("stale"), []string{"a"}, 1000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisableMFA_RollsBackOnError(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET mfa_state = 'disabled'`).WithArgs(int32(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM mfa_backup_codes`).WithArgs(int32(4)).
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	err := s.DisableMFA(context.Background(), 4)
	assert.EqualError(t, err, "db down")
}

func TestAdvanceTOTPStep(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(`UPDATE users SET mfa_last_step = \$2 WHERE id = \$1 AND mfa_state = 'enabled' AND mfa_last_step < \$2`).
		WithArgs(int32(2), int64(55)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.AdvanceTOTPStep(context.Background(), 2, 55)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeChallenge(t *testing.T) {
	s, mock := newStoreWithMock(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectExec(`UPDATE mfa_challenges SET consumed_at = \$3\s+WHERE id = \$1 AND user_id = \$2 AND consumed_at IS NULL AND expires_at > \$3`).
		WithArgs(id.String(), int32(5), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.ConsumeChallenge(context.Background(), id, 5, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetChallenge(t *testing.T) {
	s, mock := newStoreWithMock(t)
	id := uuid.New()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	consumed := issued.Add(time.Minute)

	rows := sqlmock.NewRows([]string{"id", "user_id", "issued_at", "expires_at", "consumed_at"}).
		AddRow(id.String(), int32(5), issued, issued.Add(5*time.Minute), consumed)
	mock.ExpectQuery(`FROM mfa_challenges WHERE id = \$1 AND user_id = \$2`).WillReturnRows(rows)
	mock.ExpectQuery(`FROM mfa_challenges WHERE id = \$1 AND user_id = \$2`).WillReturnError(sql.ErrNoRows)

	ch, err := s.GetChallenge(context.Background(), id, 5)
	require.NoError(t, err)
	assert.Equal(t, id, ch.ID)
	assert.True(t, ch.Consumed())

	_, err = s.GetChallenge(context.Background(), id, 6)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
