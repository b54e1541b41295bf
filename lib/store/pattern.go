package store

import "strings"

// Patterns used by Keys/Scan contain at most a single '*' wildcard token that
// matches any (possibly empty) substring; every other character matches
// literally. A pattern without '*' is an exact-key match.

// PatternToLIKE translates a key pattern into a SQL LIKE expression using
// '\' as the escape character.
func PatternToLIKE(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchPattern reports whether a key matches a pattern, mirroring the LIKE
// translation for in-memory key sets.
func MatchPattern(pattern, key string) bool {
	i := strings.IndexByte(pattern, '*')
	if i < 0 {
		return pattern == key
	}
	prefix, suffix := pattern[:i], pattern[i+1:]
	return len(key) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(key, prefix) &&
		strings.HasSuffix(key, suffix)
}
