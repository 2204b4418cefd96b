package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"gorinidrive.com/vault/internal/errs"
)

const ruleColumns = `id, user_id, file_id, name, kind, enabled, config, created_at`

func scanRule(row interface{ Scan(...any) error }) (*DBAccessRule, error) {
	r := &DBAccessRule{}
	var (
		fileID sql.NullInt32
		config []byte
	)
	err := row.Scan(&r.ID, &r.UserID, &fileID, &r.Name, &r.Kind, &r.Enabled, &config, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Config = config
	if fileID.Valid {
		r.FileID = &fileID.Int32
	}
	return r, nil
}

func scanRules(rows *sql.Rows) ([]DBAccessRule, error) {
	defer rows.Close()
	rules := []DBAccessRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// CreateRule inserts rule and fills in its creation time. A file scope must
// name a live file of the same owner.
func (s *Store) CreateRule(ctx context.Context, rule *DBAccessRule) error {
	if rule.FileID != nil {
		if _, err := s.GetOwnedFile(ctx, rule.UserID, *rule.FileID); err != nil {
			return err
		}
	}
	return s.db.QueryRowContext(ctx,
		`INSERT INTO access_rules(id, user_id, file_id, name, kind, enabled, config)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		rule.ID, rule.UserID, rule.FileID, rule.Name, rule.Kind, rule.Enabled, []byte(rule.Config)).
		Scan(&rule.CreatedAt)
}

func (s *Store) ListRules(ctx context.Context, ownerID int32) ([]DBAccessRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM access_rules WHERE user_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

// ToggleRule flips the enabled flag and returns the updated rule.
func (s *Store) ToggleRule(ctx context.Context, ownerID int32, id uuid.UUID) (*DBAccessRule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx,
		`UPDATE access_rules SET enabled = NOT enabled WHERE id = $1 AND user_id = $2 RETURNING `+ruleColumns,
		id, ownerID))
	if isNoRows(err) {
		return nil, errs.NotFound("rule")
	}
	return r, err
}

func (s *Store) DeleteRule(ctx context.Context, ownerID int32, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_rules WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if ok, err := rowsAffected(res); err != nil {
		return err
	} else if !ok {
		return errs.NotFound("rule")
	}
	return nil
}

// EnabledRulesForFile returns the enabled rules of ownerID that apply to
// fileID: global ones and those scoped to the file.
func (s *Store) EnabledRulesForFile(ctx context.Context, ownerID, fileID int32) ([]DBAccessRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM access_rules
		 WHERE user_id = $1 AND enabled AND (file_id IS NULL OR file_id = $2)
		 ORDER BY created_at`, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}
