// Package validate holds the pure field validator: given a field
// definition and a raw reply it decides acceptance and produces the
// normalized value that gets persisted. No I/O happens here.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"formflow/pkg/models"
)

// Result is the validator outcome. When OK, Value holds the normalized
// value (never the raw input for choice kinds); when not OK, Err holds a
// respondent-facing message that names the field.
type Result struct {
	OK    bool
	Value string
	Err   string
}

func accept(v string) Result { return Result{OK: true, Value: v} }

func reject(format string, args ...any) Result {
	return Result{Err: fmt.Sprintf(format, args...)}
}

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^[\d\s\-\+\(\)\.]+$`)
	digitRe = regexp.MustCompile(`\D`)
)

// dateLayouts are the calendar formats accepted for date fields.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2 Jan 2006",
	"Jan 2 2006",
	time.RFC3339,
}

// Field validates raw against f and returns the normalized value or a
// field-label-specific error message. Empty input on an optional field is
// accepted as an empty value without further checks; empty input on a
// required field is always rejected.
func Field(raw string, f models.Field) Result {
	value := strings.TrimSpace(raw)

	if value == "" {
		if f.Required {
			return reject("%s is required", f.Label)
		}
		return accept("")
	}

	switch f.Kind {
	case models.KindShortText, models.KindLongText:
		if f.Meta.MaxLen > 0 && len(value) > f.Meta.MaxLen {
			return reject("%s must be at most %d characters", f.Label, f.Meta.MaxLen)
		}
		return accept(value)

	case models.KindEmail:
		if !emailRe.MatchString(value) {
			return reject("%s must be a valid email address", f.Label)
		}
		return accept(value)

	case models.KindPhone:
		if !phoneRe.MatchString(value) || len(digitRe.ReplaceAllString(value, "")) < 10 {
			return reject("%s must be a valid phone number", f.Label)
		}
		return accept(digitRe.ReplaceAllString(value, ""))

	case models.KindNumber:
		return validateNumber(value, f)

	case models.KindURL:
		u, err := url.Parse(value)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return reject("%s must be a valid URL", f.Label)
		}
		return accept(value)

	case models.KindDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return accept(t.Format("2006-01-02"))
			}
		}
		return reject("%s must be a valid date", f.Label)

	case models.KindSelect:
		if id, ok := matchOption(value, f.Meta.Options); ok {
			return accept(id)
		}
		return reject("%s must be a valid option", f.Label)

	case models.KindMultiSelect:
		return validateMultiSelect(value, f)

	case models.KindRating:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 5 {
			return reject("%s must be between 1 and 5", f.Label)
		}
		return accept(strconv.Itoa(n))

	case models.KindFile:
		// The raw value is a provider media ID; anything non-empty works.
		return accept(value)
	}

	return reject("%s is invalid", f.Label)
}

func validateNumber(value string, f models.Field) Result {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return numberReject(f)
	}
	if f.Meta.Min != nil && n < *f.Meta.Min {
		return numberReject(f)
	}
	if f.Meta.Max != nil && n > *f.Meta.Max {
		return numberReject(f)
	}
	return accept(strconv.FormatFloat(n, 'f', -1, 64))
}

func numberReject(f models.Field) Result {
	msg := fmt.Sprintf("%s must be a valid number", f.Label)
	switch {
	case f.Meta.Min != nil && f.Meta.Max != nil:
		msg += fmt.Sprintf(" between %s and %s", trimFloat(*f.Meta.Min), trimFloat(*f.Meta.Max))
	case f.Meta.Min != nil:
		msg += fmt.Sprintf(" at least %s", trimFloat(*f.Meta.Min))
	case f.Meta.Max != nil:
		msg += fmt.Sprintf(" at most %s", trimFloat(*f.Meta.Max))
	}
	return Result{Err: msg}
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// validateMultiSelect accepts one or more comma-separated replies. Every
// token must match a configured option; the normalized value is the
// comma-joined option IDs.
func validateMultiSelect(value string, f models.Field) Result {
	parts := strings.Split(value, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, ok := matchOption(p, f.Meta.Options)
		if !ok {
			return reject("%s contains invalid options", f.Label)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return reject("%s contains invalid options", f.Label)
	}
	return accept(strings.Join(ids, ","))
}

// matchOption resolves a submitted value against the configured options by
// ID first, then by label (case-insensitive). The normalized value is
// always the option ID.
func matchOption(value string, options []models.Option) (string, bool) {
	for _, opt := range options {
		if opt.ID == value {
			return opt.ID, true
		}
	}
	for _, opt := range options {
		if strings.EqualFold(opt.Label, value) {
			return opt.ID, true
		}
	}
	return "", false
}
