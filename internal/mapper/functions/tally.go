// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package functions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

var (
	ErrEmptyValue = errors.New("empty value")

	dateLayouts = []string{
		"20060102",
		isoDate,
		"2-Jan-2006",
		"2-Jan-06",
	}

	currencyPrefixes = []string{"₹", "Rs.", "Rs", "INR"}
)

// ParseAmount converts an engine amount to a float.
// Thousands separators and currency prefixes are ignored; a trailing "Dr"
// makes the amount negative and a trailing "Cr" keeps it positive, following
// the sign convention of the engine XML export.
func ParseAmount(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}

	raw := strings.TrimSpace(castToString(value))
	if raw == "" {
		return 0, ErrEmptyValue
	}

	sign := 1.0
	lower := strings.ToLower(raw)
	switch {
	case strings.HasSuffix(lower, "dr"):
		sign = -1
		raw = strings.TrimSpace(raw[:len(raw)-2])
	case strings.HasSuffix(lower, "cr"):
		raw = strings.TrimSpace(raw[:len(raw)-2])
	}

	for _, prefix := range currencyPrefixes {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, prefix))
	}
	raw = strings.ReplaceAll(raw, ",", "")
	raw = strings.ReplaceAll(raw, " ", "")

	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", castToString(value))
	}

	return sign * amount, nil
}

// ParseDate converts an engine date to a UTC midnight time.
func ParseDate(value any) (time.Time, error) {
	if t, ok := value.(time.Time); ok {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	raw := strings.TrimSpace(castToString(value))
	if raw == "" {
		return time.Time{}, ErrEmptyValue
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

// ParseBool converts engine flags such as "Yes" and "No" to a bool.
func ParseBool(value any) (bool, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}

	raw := strings.ToLower(strings.TrimSpace(castToString(value)))
	switch raw {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0":
		return false, nil
	case "":
		return false, ErrEmptyValue
	default:
		return false, fmt.Errorf("invalid flag %q", raw)
	}
}

// TallyDate normalizes an engine date to the YYYY-MM-DD form.
func TallyDate(value any) (string, error) {
	t, err := ParseDate(value)
	if err != nil {
		return "", err
	}
	return t.Format(isoDate), nil
}
