package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorinidrive.com/vault/internal/audit"
	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/vault"
)

var fileRowColumns = []string{"id", "user_id", "file_name", "folder", "file_size", "file_type", "location", "encrypted",
	"encryption", "version", "download_count", "last_accessed_at", "created_at", "deleted_at"}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectQuery(`INSERT INTO users\(email_address, password\) VALUES\(\$1, \$2\) RETURNING id`).
		WithArgs("a@example.com", "hash").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := s.CreateUser(context.Background(), "a@example.com", "hash")
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestDeleteUser_ReturnsBlobLocations(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT location FROM files WHERE user_id = \$1`).WithArgs(int32(2)).
		WillReturnRows(sqlmock.NewRows([]string{"location"}).AddRow("k1").AddRow("k2"))
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).WithArgs(int32(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	locations, err := s.DeleteUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, locations)
}

func TestConsumePasswordReset_UnknownCode(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectQuery(`UPDATE password_reset_codes SET used_at = \$3`).WillReturnError(sql.ErrNoRows)

	_, err := s.ConsumePasswordReset(context.Background(), "nope", time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetFile_DecodesEncryptionMetadata(t *testing.T) {
	s, mock := newStoreWithMock(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	meta := `{"cipher":"xchacha20-poly1305","kdf":"argon2id","salt":"AAAAAAAAAAAAAAAAAAAAAA==","nonce":"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA","memory":65536,"iterations":3,"parallelism":4}`

	rows := sqlmock.NewRows(fileRowColumns).
		AddRow(int32(11), int32(1), "a.txt", "/", int64(5), "text/plain", "loc", true, []byte(meta),
			int64(2), int64(0), nil, created, nil)
	mock.ExpectQuery(`FROM files WHERE id = \$1 AND deleted_at IS NULL`).WithArgs(int32(11)).WillReturnRows(rows)

	f, err := s.GetFile(context.Background(), 11)
	require.NoError(t, err)
	assert.True(t, f.Encrypted)
	require.NotNil(t, f.Encryption)
	assert.Equal(t, "argon2id", f.Encryption.KDF)
	assert.Len(t, f.Encryption.Salt, 16)
	assert.Len(t, f.Encryption.Nonce, 24)
	assert.Nil(t, f.LastAccessedAt)
	assert.Nil(t, f.DeletedAt)
}

func TestGetFile_NotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectQuery(`FROM files WHERE id = \$1`).WillReturnError(sql.ErrNoRows)

	_, err := s.GetFile(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdateContent_VersionCheck(t *testing.T) {
	s, mock := newStoreWithMock(t)
	q := `UPDATE files SET location = \$3, file_size = \$4, encrypted = \$5, encryption = \$6, version = version \+ 1\s+WHERE id = \$1 AND version = \$2`

	mock.ExpectExec(q).WithArgs(int32(1), int64(3), "new", int64(10), false, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.UpdateContent(context.Background(), 1, 3, vault.Content{Location: "new", Size: 10})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSoftDeleteFile_NotOwned(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(`UPDATE files SET deleted_at = \$3 WHERE id = \$1 AND user_id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SoftDeleteFile(context.Background(), 1, 99, time.Now())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCreateFile_NameTaken(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectQuery(`INSERT INTO files`).WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateFile(context.Background(), &vault.File{OwnerID: 1, Name: "a", Folder: "/", Location: "k"})
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestUniqueAsConflict_KeepsMessage(t *testing.T) {
	err := uniqueAsConflict(&pq.Error{Code: "23505"}, "100% taken")
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "100% taken", e.Message)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestPurgeFile(t *testing.T) {
	s, mock := newStoreWithMock(t)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := `DELETE FROM files WHERE id = \$1 AND deleted_at IS NOT NULL AND deleted_at < \$2`

	mock.ExpectExec(q).WithArgs(int32(4), cutoff).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.PurgeFile(context.Background(), 4, cutoff))

	// restored in between
	mock.ExpectExec(q).WithArgs(int32(4), cutoff).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.PurgeFile(context.Background(), 4, cutoff), errs.ErrNotFound)
}

func TestDeleteShare_NotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectQuery(`DELETE FROM shares WHERE id = \$1 AND created_by = \$2`).WillReturnError(sql.ErrNoRows)

	_, err := s.DeleteShare(context.Background(), 1, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestEnabledRulesForFile(t *testing.T) {
	s, mock := newStoreWithMock(t)
	created := time.Now()
	id1, id2 := uuid.New(), uuid.New()

	rows := sqlmock.NewRows([]string{"id", "user_id", "file_id", "name", "kind", "enabled", "config", "created_at"}).
		AddRow(id1.String(), int32(1), nil, "office hours", "time", true, []byte(`{"start_time":"09:00","end_time":"17:00"}`), created).
		AddRow(id2.String(), int32(1), int32(8), "laptop", "device", true, []byte(`{"allowed_devices":["d1"]}`), created)
	mock.ExpectQuery(`FROM access_rules\s+WHERE user_id = \$1 AND enabled AND \(file_id IS NULL OR file_id = \$2\)`).
		WithArgs(int32(1), int32(8)).
		WillReturnRows(rows)

	rules, err := s.EnabledRulesForFile(context.Background(), 1, 8)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Nil(t, rules[0].FileID)
	require.NotNil(t, rules[1].FileID)
	assert.Equal(t, int32(8), *rules[1].FileID)
	assert.JSONEq(t, `{"allowed_devices":["d1"]}`, string(rules[1].Config))
}

func TestQueryAuditEntries_Filters(t *testing.T) {
	s, mock := newStoreWithMock(t)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	actor := int32(3)
	q := audit.Query{UserID: 3, Actor: &actor, Category: "mfa", From: from, Search: "50%", Page: 2, PageSize: 10}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_log WHERE user_id = \$1 AND actor_id = \$2 AND action LIKE \$3 AND created_at >= \$4 AND \(action ILIKE \$5 OR resource ILIKE \$5 OR source_addr ILIKE \$5\)`).
		WithArgs(int32(3), int32(3), "mfa.%", from, `%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	id := uuid.New()
	created := from.Add(time.Hour)
	mock.ExpectQuery(`ORDER BY created_at DESC, id LIMIT \$6 OFFSET \$7`).
		WithArgs(int32(3), int32(3), "mfa.%", from, `%50\%%`, 10, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "actor_id", "action", "resource", "outcome", "source_addr", "detail", "created_at"}).
			AddRow(id.String(), int32(3), int32(3), "mfa.verify", "user:3", "failure", "10.0.0.1", []byte(`{"method":"totp"}`), created))

	entries, total, err := s.QueryAuditEntries(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionMFAVerify, entries[0].Action)
	assert.Equal(t, audit.Failure, entries[0].Outcome)
	assert.Equal(t, "totp", entries[0].Detail["method"])
}

func TestInsertAuditEntry(t *testing.T) {
	s, mock := newStoreWithMock(t)
	e := &audit.Entry{ID: uuid.New(), UserID: 1, ActorID: 0, Action: audit.ActionShareAccess, Resource: "file:4",
		Outcome: audit.Success, SourceAddr: "1.2.3.4", CreatedAt: time.Now().UTC()}

	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(e.ID.String(), int32(1), int32(0), "share.access", "file:4", "success", "1.2.3.4", nil, e.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.InsertAuditEntry(context.Background(), e))
}
