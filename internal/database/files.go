package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/vault"
)

const fileColumns = `id, user_id, file_name, folder, file_size, file_type, location, encrypted, encryption,
	version, download_count, last_accessed_at, created_at, deleted_at`

func scanFile(row interface{ Scan(...any) error }) (*vault.File, error) {
	f := &vault.File{}
	var (
		encryption   []byte
		lastAccessed sql.NullTime
		deletedAt    sql.NullTime
	)
	err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.Folder, &f.Size, &f.MimeType, &f.Location, &f.Encrypted, &encryption,
		&f.Version, &f.DownloadCount, &lastAccessed, &f.CreatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if len(encryption) > 0 {
		f.Encryption = &vault.Metadata{}
		if err := json.Unmarshal(encryption, f.Encryption); err != nil {
			return nil, err
		}
	}
	if lastAccessed.Valid {
		f.LastAccessedAt = &lastAccessed.Time
	}
	if deletedAt.Valid {
		f.DeletedAt = &deletedAt.Time
	}
	return f, nil
}

func scanFiles(rows *sql.Rows) ([]vault.File, error) {
	defer rows.Close()
	files := []vault.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// encodeMetadata returns the JSONB argument for m, nil (SQL NULL) when m is
// nil.
func encodeMetadata(m *vault.Metadata) (any, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// GetFile returns a live (not soft deleted) file.
func (s *Store) GetFile(ctx context.Context, id int32) (*vault.File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND deleted_at IS NULL`, id))
	if isNoRows(err) {
		return nil, errs.NotFound("file")
	}
	return f, err
}

// GetOwnedFile is GetFile restricted to files of ownerID. Files of other
// users are reported as not found.
func (s *Store) GetOwnedFile(ctx context.Context, ownerID, id int32) (*vault.File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, ownerID))
	if isNoRows(err) {
		return nil, errs.NotFound("file")
	}
	return f, err
}

func (s *Store) UpdateContent(ctx context.Context, id int32, version int64, c vault.Content) (bool, error) {
	meta, err := encodeMetadata(c.Encryption)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET location = $3, file_size = $4, encrypted = $5, encryption = $6, version = version + 1
		 WHERE id = $1 AND version = $2 AND deleted_at IS NULL`,
		id, version, c.Location, c.Size, c.Encrypted, meta)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// CreateFile inserts f and fills in its id, version and creation time.
func (s *Store) CreateFile(ctx context.Context, f *vault.File) error {
	meta, err := encodeMetadata(f.Encryption)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO files(user_id, file_name, folder, file_size, file_type, location, encrypted, encryption)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, version, created_at`,
		f.OwnerID, f.Name, f.Folder, f.Size, f.MimeType, f.Location, f.Encrypted, meta).
		Scan(&f.ID, &f.Version, &f.CreatedAt)
	return uniqueAsConflict(err, "a file with that name already exists in the folder")
}

// ListFiles returns ownerID's live files, optionally limited to one folder.
func (s *Store) ListFiles(ctx context.Context, ownerID int32, folder string) ([]vault.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE user_id = $1 AND deleted_at IS NULL`
	args := []any{ownerID}
	if folder != "" {
		query += ` AND folder = $2`
		args = append(args, folder)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY folder, file_name`, args...)
	if err != nil {
		return nil, err
	}
	return scanFiles(rows)
}

// ListDeletedFiles returns ownerID's soft deleted files, most recent first.
func (s *Store) ListDeletedFiles(ctx context.Context, ownerID int32) ([]vault.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE user_id = $1 AND deleted_at IS NOT NULL ORDER BY deleted_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	return scanFiles(rows)
}

// UpdateFileMeta renames or moves a live file.
func (s *Store) UpdateFileMeta(ctx context.Context, ownerID, id int32, name, folder string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET file_name = $3, folder = $4 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, ownerID, name, folder)
	if err = uniqueAsConflict(err, "a file with that name already exists in the folder"); err != nil {
		return err
	}
	if ok, err := rowsAffected(res); err != nil || !ok {
		return errors.Join(err, errs.NotFound("file"))
	}
	return nil
}

func (s *Store) SoftDeleteFile(ctx context.Context, ownerID, id int32, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET deleted_at = $3 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, ownerID, at)
	if err != nil {
		return err
	}
	if ok, err := rowsAffected(res); err != nil || !ok {
		return errors.Join(err, errs.NotFound("file"))
	}
	return nil
}

// RestoreFile undoes a soft delete.
func (s *Store) RestoreFile(ctx context.Context, ownerID, id int32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET deleted_at = NULL WHERE id = $1 AND user_id = $2 AND deleted_at IS NOT NULL`, id, ownerID)
	if err = uniqueAsConflict(err, "a file with that name already exists in the folder"); err != nil {
		return err
	}
	if ok, err := rowsAffected(res); err != nil || !ok {
		return errors.Join(err, errs.NotFound("file"))
	}
	return nil
}

// RecordDownload bumps the download counter and last access time.
func (s *Store) RecordDownload(ctx context.Context, id int32, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET download_count = download_count + 1, last_accessed_at = $2 WHERE id = $1`, id, at)
	return err
}

// ListPurgeable returns files soft deleted before cutoff.
func (s *Store) ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]vault.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE deleted_at IS NOT NULL AND deleted_at < $1 ORDER BY deleted_at LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, err
	}
	return scanFiles(rows)
}

// PurgeFile removes a row soft deleted before cutoff for good. A row
// restored or deleted again since it was listed is left alone.
func (s *Store) PurgeFile(ctx context.Context, id int32, cutoff time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE id = $1 AND deleted_at IS NOT NULL AND deleted_at < $2`, id, cutoff)
	if err != nil {
		return err
	}
	if ok, err := rowsAffected(res); err != nil || !ok {
		return errors.Join(err, errs.NotFound("file"))
	}
	return nil
}

// StorageUsed sums the plaintext size of ownerID's files, deleted ones
// included.
func (s *Store) StorageUsed(ctx context.Context, ownerID int32) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_size), 0) FROM files WHERE user_id = $1`, ownerID).Scan(&n)
	return n, err
}

func uniqueAsConflict(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return errs.ErrConflict.WithMessage("%s", msg)
	}
	return err
}
