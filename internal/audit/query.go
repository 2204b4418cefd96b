package audit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorinidrive.com/vault/internal/errs"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var categories = map[string]bool{"auth": true, "mfa": true, "file": true, "share": true, "access": true}

var ranges = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// Query selects entries of one user. Zero values mean unrestricted.
type Query struct {
	UserID   int32
	Actor    *int32 // 0 selects anonymous share access
	Category string
	From     time.Time // inclusive
	To       time.Time // exclusive
	Search   string
	Page     int // 1-based
	PageSize int
}

func (q Query) Offset() int { return (q.Page - 1) * q.PageSize }

// Page is one page of entries, newest first.
type Page struct {
	Entries  []Entry `json:"entries"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// RawFilter holds the query string parameters of GET /api/audit/logs.
type RawFilter struct {
	Filter   string `form:"filter"`
	Range    string `form:"range"`
	Search   string `form:"search"`
	Actor    string `form:"actor"`
	From     string `form:"from"`
	To       string `form:"to"`
	Page     string `form:"page"`
	PageSize string `form:"page_size"`
}

// ParseQuery validates raw and resolves relative ranges against now.
// Explicit from/to take precedence over range.
func ParseQuery(userID int32, raw RawFilter, now time.Time) (Query, error) {
	q := Query{UserID: userID, Page: 1, PageSize: DefaultPageSize, Search: strings.TrimSpace(raw.Search)}

	switch f := strings.ToLower(strings.TrimSpace(raw.Filter)); {
	case f == "" || f == "all":
	case categories[f]:
		q.Category = f
	default:
		return Query{}, errs.Validation("unknown filter '%s'", raw.Filter)
	}

	switch r := strings.ToLower(strings.TrimSpace(raw.Range)); {
	case r == "" || r == "all":
	case ranges[r] > 0:
		q.From = now.Add(-ranges[r])
	default:
		return Query{}, errs.Validation("unknown range '%s'", raw.Range)
	}

	if a := strings.TrimSpace(raw.Actor); a != "" {
		n, err := strconv.ParseInt(a, 10, 32)
		if err != nil || n < 0 {
			return Query{}, errs.Validation("invalid actor '%s'", raw.Actor)
		}
		actor := int32(n)
		q.Actor = &actor
	}

	var err error
	if raw.From != "" {
		if q.From, err = time.Parse(time.RFC3339, raw.From); err != nil {
			return Query{}, errs.Validation("invalid from: %s", err)
		}
	}
	if raw.To != "" {
		if q.To, err = time.Parse(time.RFC3339, raw.To); err != nil {
			return Query{}, errs.Validation("invalid to: %s", err)
		}
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return Query{}, errs.Validation("from must be before to")
	}

	if q.Page, err = positiveInt(raw.Page, 1); err != nil {
		return Query{}, errs.Validation("invalid page: %s", err)
	}
	if q.PageSize, err = positiveInt(raw.PageSize, DefaultPageSize); err != nil {
		return Query{}, errs.Validation("invalid page_size: %s", err)
	}
	q.PageSize = min(q.PageSize, MaxPageSize)
	return q, nil
}

func positiveInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%d is not positive", n)
	}
	return n, nil
}

// Matches reports whether e satisfies q, ignoring pagination.
func (q Query) Matches(e *Entry) bool {
	if e.UserID != q.UserID {
		return false
	}
	if q.Actor != nil && e.ActorID != *q.Actor {
		return false
	}
	if q.Category != "" && e.Action.Category() != q.Category {
		return false
	}
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.CreatedAt.Before(q.To) {
		return false
	}
	if q.Search != "" {
		s := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(string(e.Action)), s) &&
			!strings.Contains(strings.ToLower(e.Resource), s) &&
			!strings.Contains(strings.ToLower(e.SourceAddr), s) {
			return false
		}
	}
	return true
}
