package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"gorinidrive.com/vault/internal/errs"
)

const shareColumns = `id, access_key, file_id, created_by, recipient_email, permission, expires_at, password_hash, access_count, created_at`

func scanShare(row interface{ Scan(...any) error }) (*DBShare, error) {
	s := &DBShare{}
	var expiresAt sql.NullTime
	err := row.Scan(&s.ID, &s.AccessKey, &s.FileID, &s.CreatedBy, &s.RecipientEmail, &s.Permission,
		&expiresAt, &s.PasswordHash, &s.AccessCount, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		s.ExpiresAt = &expiresAt.Time
	}
	return s, nil
}

// CreateShare inserts share and fills in its creation time.
func (s *Store) CreateShare(ctx context.Context, share *DBShare) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO shares(id, access_key, file_id, created_by, recipient_email, permission, expires_at, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		share.ID, share.AccessKey, share.FileID, share.CreatedBy, share.RecipientEmail, share.Permission,
		share.ExpiresAt, share.PasswordHash).Scan(&share.CreatedAt)
}

// GetShareByAccessKey resolves a public link. Shares of deleted files are
// not found.
func (s *Store) GetShareByAccessKey(ctx context.Context, accessKey string) (*DBShare, error) {
	share, err := scanShare(s.db.QueryRowContext(ctx,
		`SELECT s.id, s.access_key, s.file_id, s.created_by, s.recipient_email, s.permission, s.expires_at,
		        s.password_hash, s.access_count, s.created_at
		 FROM shares s JOIN files f ON f.id = s.file_id
		 WHERE s.access_key = $1 AND f.deleted_at IS NULL`, accessKey))
	if isNoRows(err) {
		return nil, errs.NotFound("link")
	}
	return share, err
}

func (s *Store) ListShares(ctx context.Context, ownerID, fileID int32) ([]DBShare, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shareColumns+` FROM shares WHERE created_by = $1 AND file_id = $2 ORDER BY created_at DESC`,
		ownerID, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shares := []DBShare{}
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		shares = append(shares, *share)
	}
	return shares, rows.Err()
}

// DeleteShare removes a share created by ownerID and returns it.
func (s *Store) DeleteShare(ctx context.Context, ownerID int32, id uuid.UUID) (*DBShare, error) {
	share, err := scanShare(s.db.QueryRowContext(ctx,
		`DELETE FROM shares WHERE id = $1 AND created_by = $2 RETURNING `+shareColumns, id, ownerID))
	if isNoRows(err) {
		return nil, errs.NotFound("share")
	}
	return share, err
}

func (s *Store) IncrementShareAccess(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE shares SET access_count = access_count + 1 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ok, err := rowsAffected(res); err != nil || !ok {
		return errors.Join(err, errs.NotFound("share"))
	}
	return nil
}
