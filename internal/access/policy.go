// Package access evaluates access policies attached to files and share links.
//
// A Policy is a set of typed rules (expiration, time window, location,
// device, password). Evaluate is pure: it reads the policy and the request
// context and returns a Decision without touching any store.
package access

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"gorinidrive.com/vault/internal/password"
)

type RuleKind string

const (
	KindExpiration RuleKind = "expiration"
	KindTime       RuleKind = "time"
	KindLocation   RuleKind = "location"
	KindDevice     RuleKind = "device"
	KindPassword   RuleKind = "password"
)

// rank fixes the evaluation order so decisions are reproducible.
var rank = map[RuleKind]int{
	KindExpiration: 0,
	KindTime:       1,
	KindLocation:   2,
	KindDevice:     3,
	KindPassword:   4,
}

// ParseKind validates a rule kind name.
func ParseKind(s string) (RuleKind, error) {
	k := RuleKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rank[k]; !ok {
		return "", fmt.Errorf("unknown rule kind '%s'", s)
	}
	return k, nil
}

// Request is the context a file operation is evaluated against.
type Request struct {
	Now      time.Time
	Country  string // ISO 3166-1 alpha-2, empty when unresolved
	DeviceID string
	Password string // empty when none was supplied
}

// Rule is one restriction. The concrete variants are ExpirationRule,
// TimeRule, LocationRule, DeviceRule and PasswordRule.
type Rule interface {
	Kind() RuleKind
	check(req Request) (Reason, bool)
}

// ExpirationRule denies every request at or after ExpiresAt.
type ExpirationRule struct {
	ExpiresAt time.Time
}

func (ExpirationRule) Kind() RuleKind { return KindExpiration }

func (r ExpirationRule) check(req Request) (Reason, bool) {
	if !req.Now.Before(r.ExpiresAt) {
		return ReasonExpired, false
	}
	return ReasonNone, true
}

// TimeRule allows requests whose local time of day falls in [Start, End).
// A window with Start > End wraps midnight; Start == End covers the whole
// day. When Days is non-empty the weekday the window opened on must also be
// listed.
type TimeRule struct {
	Start    TimeOfDay
	End      TimeOfDay
	Days     []time.Weekday
	Location *time.Location
}

func (TimeRule) Kind() RuleKind { return KindTime }

func (r TimeRule) check(req Request) (Reason, bool) {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	local := req.Now.In(loc)
	t := TimeOfDay(local.Hour()*60 + local.Minute())
	if !r.contains(t) {
		return ReasonOutsideTimeWindow, false
	}
	if len(r.Days) > 0 && !slices.Contains(r.Days, r.windowDay(local, t)) {
		return ReasonOutsideTimeWindow, false
	}
	return ReasonNone, true
}

// windowDay is the weekday the window containing t opened on. The part of
// an overnight window after midnight belongs to the previous day.
func (r TimeRule) windowDay(local time.Time, t TimeOfDay) time.Weekday {
	if r.Start > r.End && t < r.End {
		return local.AddDate(0, 0, -1).Weekday()
	}
	return local.Weekday()
}

func (r TimeRule) contains(t TimeOfDay) bool {
	switch {
	case r.Start == r.End:
		return true
	case r.Start < r.End:
		return t >= r.Start && t < r.End
	default:
		return t >= r.Start || t < r.End
	}
}

// LocationRule allows requests whose resolved country is listed.
type LocationRule struct {
	AllowedCountries []string
}

func (LocationRule) Kind() RuleKind { return KindLocation }

func (r LocationRule) check(req Request) (Reason, bool) {
	if req.Country == "" {
		return ReasonLocationNotAllowed, false
	}
	for _, c := range r.AllowedCountries {
		if strings.EqualFold(c, req.Country) {
			return ReasonNone, true
		}
	}
	return ReasonLocationNotAllowed, false
}

// DeviceRule allows requests from listed device identifiers.
type DeviceRule struct {
	AllowedDevices []string
}

func (DeviceRule) Kind() RuleKind { return KindDevice }

func (r DeviceRule) check(req Request) (Reason, bool) {
	if req.DeviceID != "" && slices.Contains(r.AllowedDevices, req.DeviceID) {
		return ReasonNone, true
	}
	return ReasonDeviceNotAllowed, false
}

// PasswordRule requires a password matching an argon2id hash.
type PasswordRule struct {
	Hash string
}

func (PasswordRule) Kind() RuleKind { return KindPassword }

func (r PasswordRule) check(req Request) (Reason, bool) {
	// Compare always runs, even for an empty password, so a missing
	// password costs the same as a wrong one.
	ok, err := password.Compare(req.Password, r.Hash)
	if err != nil || !ok || req.Password == "" {
		return ReasonInvalidPassword, false
	}
	return ReasonNone, true
}

// Policy is the conjunction of its rules. A policy without rules allows
// everything; several rules of the same kind must all pass.
type Policy struct {
	Rules []Rule
}

// NewPolicy builds a Policy from rules, skipping nil entries.
func NewPolicy(rules ...Rule) Policy {
	p := Policy{}
	for _, r := range rules {
		if r != nil {
			p.Rules = append(p.Rules, r)
		}
	}
	return p
}

// Merge returns a policy holding the rules of p followed by those of others.
func (p Policy) Merge(others ...Policy) Policy {
	out := Policy{Rules: slices.Clone(p.Rules)}
	for _, o := range others {
		out.Rules = append(out.Rules, o.Rules...)
	}
	return out
}

// Empty reports whether the policy has no rules.
func (p Policy) Empty() bool { return len(p.Rules) == 0 }
