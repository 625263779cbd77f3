package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Get returns the environment variable key, falling back to the trimmed
// contents of the file named by key+"_FILE" (for docker secrets), then def.
func Get(key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func lookup(key string) (string, bool) {
	if val := os.Getenv(key); val != "" {
		return val, true
	}
	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// GetInt parses key as an integer, returning def when unset or malformed.
func GetInt(key string, def int) int {
	if val, ok := lookup(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

// GetBool accepts 1/t/true/y/yes and 0/f/false/n/no (case-insensitive).
func GetBool(key string, def bool) bool {
	val, ok := lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}

// ParseDuration is time.ParseDuration plus a day suffix ("7d").
func ParseDuration(s string) (time.Duration, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if days, ok := strings.CutSuffix(lower, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(lower)
}

// GetDuration parses key with ParseDuration, returning def when unset or malformed.
func GetDuration(key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if d, err := ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}

// GetList splits a comma separated variable, dropping empty entries.
func GetList(key string, def []string) []string {
	val, ok := lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
