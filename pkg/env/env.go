// Package env reads typed configuration values from the process environment.
// Unset or unparsable values fall back to the supplied default.
package env

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// GetStringFromFile prefers the file named by KEY_FILE (Docker secrets)
// and falls back to KEY itself
func GetStringFromFile(key, defaultValue string) string {
	if path := os.Getenv(key + "_FILE"); path != "" {
		if content, err := os.ReadFile(filepath.Clean(path)); err == nil {
			return string(bytes.TrimSpace(content))
		}
	}
	return GetString(key, defaultValue)
}

// GetString returns the value of key or defaultValue when unset or empty
func GetString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetStringSlice splits a comma separated value, trimming blanks and
// dropping empty items
func GetStringSlice(key, defaultValue string) []string {
	var items []string
	for _, part := range strings.Split(GetString(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// GetInt returns the value of key as an int
func GetInt(key string, defaultValue int) int {
	return parse(key, defaultValue, strconv.Atoi)
}

// GetBool returns the value of key as a bool
func GetBool(key string, defaultValue bool) bool {
	return parse(key, defaultValue, strconv.ParseBool)
}

// GetDuration returns the value of key as a time.Duration ("30s", "5m")
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	return parse(key, defaultValue, time.ParseDuration)
}

func parse[T any](key string, defaultValue T, convert func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := convert(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue
	}
	return value
}
