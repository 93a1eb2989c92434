// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package functions

import "strings"

// Get returns object[key] or defaultValue when the key is missing or nil.
func Get(key string, object map[string]any, defaultValue any) any {
	if val, exists := object[key]; exists && val != nil {
		return val
	}

	return defaultValue
}

// Default returns value unless it is nil or a blank string, in which case defaultValue is returned.
func Default(defaultValue, value any) any {
	if value == nil {
		return defaultValue
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return defaultValue
	}

	return value
}

// First returns the first element of a repeated nested field, or the value itself when it is not a list.
func First(value any) any {
	list, ok := value.([]any)
	if !ok {
		return value
	}
	if len(list) == 0 {
		return nil
	}
	return list[0]
}
