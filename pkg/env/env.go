package env

import (
	"os"
	"strings"
)

// Get returns the trimmed value of key, or fallback when unset or blank.
func Get(key, fallback string) string {
	if v := First(key); v != "" {
		return v
	}
	return fallback
}

// First returns the first non-blank value among keys. It lets a renamed
// variable keep honoring its legacy name.
func First(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
