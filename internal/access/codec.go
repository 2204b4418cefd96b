package access

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is minutes since local midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day '%s', expected HH:MM", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Stored JSON shapes, one per rule kind.
type (
	expirationConfig struct {
		ExpiresAt time.Time `json:"expires_at"`
	}
	timeConfig struct {
		StartTime string   `json:"start_time"`
		EndTime   string   `json:"end_time"`
		Days      []string `json:"days,omitempty"`
		Timezone  string   `json:"timezone,omitempty"`
	}
	locationConfig struct {
		AllowedCountries []string `json:"allowed_countries"`
	}
	deviceConfig struct {
		AllowedDevices []string `json:"allowed_devices"`
	}
	passwordConfig struct {
		PasswordHash string `json:"password_hash"`
	}
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// DecodeRule turns a stored (kind, config) pair into a typed Rule. Time
// rules without a timezone use defaultLoc.
func DecodeRule(kind RuleKind, raw []byte, defaultLoc *time.Location) (Rule, error) {
	switch kind {
	case KindExpiration:
		var c expirationConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("expiration rule: %w", err)
		}
		if c.ExpiresAt.IsZero() {
			return nil, errors.New("expiration rule: expires_at is required")
		}
		return ExpirationRule{ExpiresAt: c.ExpiresAt}, nil

	case KindTime:
		var c timeConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("time rule: %w", err)
		}
		start, err := ParseTimeOfDay(c.StartTime)
		if err != nil {
			return nil, fmt.Errorf("time rule: %w", err)
		}
		end, err := ParseTimeOfDay(c.EndTime)
		if err != nil {
			return nil, fmt.Errorf("time rule: %w", err)
		}
		r := TimeRule{Start: start, End: end, Location: defaultLoc}
		if c.Timezone != "" {
			loc, err := time.LoadLocation(c.Timezone)
			if err != nil {
				return nil, fmt.Errorf("time rule: invalid timezone '%s'", c.Timezone)
			}
			r.Location = loc
		}
		for _, d := range c.Days {
			day := strings.ToLower(strings.TrimSpace(d))
			if len(day) > 3 {
				day = day[:3]
			}
			wd, ok := weekdays[day]
			if !ok {
				return nil, fmt.Errorf("time rule: invalid day '%s'", d)
			}
			r.Days = append(r.Days, wd)
		}
		return r, nil

	case KindLocation:
		var c locationConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("location rule: %w", err)
		}
		if len(c.AllowedCountries) == 0 {
			return nil, errors.New("location rule: allowed_countries must not be empty")
		}
		r := LocationRule{}
		for _, cc := range c.AllowedCountries {
			cc = strings.ToUpper(strings.TrimSpace(cc))
			if len(cc) != 2 {
				return nil, fmt.Errorf("location rule: invalid country code '%s'", cc)
			}
			r.AllowedCountries = append(r.AllowedCountries, cc)
		}
		return r, nil

	case KindDevice:
		var c deviceConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("device rule: %w", err)
		}
		if len(c.AllowedDevices) == 0 {
			return nil, errors.New("device rule: allowed_devices must not be empty")
		}
		return DeviceRule{AllowedDevices: c.AllowedDevices}, nil

	case KindPassword:
		var c passwordConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("password rule: %w", err)
		}
		if c.PasswordHash == "" {
			return nil, errors.New("password rule: password_hash is required")
		}
		return PasswordRule{Hash: c.PasswordHash}, nil
	}
	return nil, fmt.Errorf("unknown rule kind '%s'", kind)
}

// EncodeRule is the inverse of DecodeRule.
func EncodeRule(r Rule) ([]byte, error) {
	switch v := r.(type) {
	case ExpirationRule:
		return json.Marshal(expirationConfig{ExpiresAt: v.ExpiresAt.UTC()})
	case TimeRule:
		c := timeConfig{StartTime: v.Start.String(), EndTime: v.End.String()}
		if v.Location != nil {
			c.Timezone = v.Location.String()
		}
		for _, d := range v.Days {
			c.Days = append(c.Days, strings.ToLower(d.String()[:3]))
		}
		return json.Marshal(c)
	case LocationRule:
		return json.Marshal(locationConfig{AllowedCountries: v.AllowedCountries})
	case DeviceRule:
		return json.Marshal(deviceConfig{AllowedDevices: v.AllowedDevices})
	case PasswordRule:
		return json.Marshal(passwordConfig{PasswordHash: v.Hash})
	}
	return nil, fmt.Errorf("unsupported rule type %T", r)
}
