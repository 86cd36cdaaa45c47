package normalize

import (
	"strings"
)

// ToLowerDotPath normalizes a configuration key to a lowercase dot-separated path.
// Double underscores (__) are treated as level separators and converted to dots.
// Single underscores within a level are preserved.
// Examples:
//   - "FOO__BAR" → "foo.bar"
//   - "DB_MAX_CONNECTIONS" → "db_max_connections"
//   - "API__RATE_LIMIT" → "api.rate_limit"
func ToLowerDotPath(key string) string {
	normalized := strings.ReplaceAll(key, "__", ".")
	return strings.ToLower(normalized)
}

// SplitPath splits a dot-separated key path into its segments.
// Empty segments are dropped, so "", "." and "a..b" yield nil, nil and [a b].
// Examples:
//   - "database.host" → ["database", "host"]
//   - "servers.0.port" → ["servers", "0", "port"]
func SplitPath(path string) []string {
	var out []string
	for _, part := range strings.Split(path, ".") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ApplyPrefix combines a prefix with a key to create a nested configuration path.
// If prefix is empty, returns the key unchanged.
// Otherwise, returns "prefix.key".
// Examples:
//   - ApplyPrefix("database", "host") → "database.host"
//   - ApplyPrefix("", "host") → "host"
//   - ApplyPrefix("api", "rate_limit") → "api.rate_limit"
func ApplyPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if key == "" {
		return prefix
	}
	return prefix + "." + key
}
