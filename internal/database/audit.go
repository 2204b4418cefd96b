package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorinidrive.com/vault/internal/audit"
)

func (s *Store) InsertAuditEntry(ctx context.Context, e *audit.Entry) error {
	var detail any
	if len(e.Detail) > 0 {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return err
		}
		detail = b
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(id, user_id, actor_id, action, resource, outcome, source_addr, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.UserID, e.ActorID, string(e.Action), e.Resource, string(e.Outcome), e.SourceAddr, detail, e.CreatedAt)
	return err
}

// auditWhere renders the filter of q as a WHERE clause with positional
// arguments.
func auditWhere(q audit.Query) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{q.UserID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Actor != nil {
		add("actor_id = $%d", *q.Actor)
	}
	if q.Category != "" {
		add("action LIKE $%d", q.Category+".%")
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at < $%d", q.To)
	}
	if q.Search != "" {
		args = append(args, "%"+escapeLike(q.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(action ILIKE $%d OR resource ILIKE $%d OR source_addr ILIKE $%d)", n, n, n))
	}
	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) QueryAuditEntries(ctx context.Context, q audit.Query) ([]audit.Entry, int, error) {
	where, args := auditWhere(q)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, q.PageSize, q.Offset())
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, user_id, actor_id, action, resource, outcome, source_addr, detail, created_at
		 FROM audit_log WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e      audit.Entry
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.ActorID, &e.Action, &e.Resource, &e.Outcome, &e.SourceAddr,
			&detail, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, 0, err
			}
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
