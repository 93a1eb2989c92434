// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package functions

import (
	"fmt"
	"strings"
)

// Trim removes leading and trailing whitespace from the string form of s.
func Trim(s any) string {
	return strings.TrimSpace(castToString(s))
}

// Upper converts the string form of s to uppercase.
func Upper(s any) string {
	return strings.ToUpper(castToString(s))
}

// Lower converts the string form of s to lowercase.
func Lower(s any) string {
	return strings.ToLower(castToString(s))
}

// Replace substitutes every occurrence of toChange with toBe in the string form of s.
func Replace(toChange, toBe string, s any) string {
	return strings.ReplaceAll(castToString(s), toChange, toBe)
}

// Truncate keeps at most length runes of s.
func Truncate(length int, s any) string {
	runes := []rune(castToString(s))
	if length < 0 || len(runes) <= length {
		return string(runes)
	}
	return string(runes[:length])
}

// castToString converts obj to its string representation; nil becomes the empty string.
func castToString(obj any) string {
	switch v := obj.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
