package access

import (
	"cmp"
	"slices"
)

// Reason describes why a request was denied.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonExpired
	ReasonOutsideTimeWindow
	ReasonLocationNotAllowed
	ReasonDeviceNotAllowed
	ReasonInvalidPassword
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonExpired:
		return "expired"
	case ReasonOutsideTimeWindow:
		return "outside_time_window"
	case ReasonLocationNotAllowed:
		return "location_not_allowed"
	case ReasonDeviceNotAllowed:
		return "device_not_allowed"
	case ReasonInvalidPassword:
		return "invalid_password"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Evaluate. Reason and Rule are only set when
// Allowed is false.
type Decision struct {
	Allowed bool
	Reason  Reason
	Rule    RuleKind
}

var allow = Decision{Allowed: true, Reason: ReasonNone}

// Evaluate checks req against policy in a fixed order (expiration, time
// window, location, device, password) and stops at the first failing rule.
func Evaluate(policy Policy, req Request) Decision {
	if policy.Empty() {
		return allow
	}

	rules := slices.Clone(policy.Rules)
	slices.SortStableFunc(rules, func(a, b Rule) int {
		return cmp.Compare(rank[a.Kind()], rank[b.Kind()])
	})

	for _, r := range rules {
		if reason, ok := r.check(req); !ok {
			return Decision{Allowed: false, Reason: reason, Rule: r.Kind()}
		}
	}
	return allow
}
