package cache

import (
	"regexp"
	"strings"
)

// Key patterns support a single wildcard: '*' matches any run of
// characters. Everything else in the key is literal text, so regex
// metacharacters in keys ("user.1", "a+b") never change the match.

// hasWildcard reports whether s should be treated as a glob pattern.
func hasWildcard(s string) bool {
	return strings.Contains(s, "*")
}

// compilePattern translates a glob into an anchored regular expression.
// Literal segments are quoted so only '*' carries meaning.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

// likePattern translates a glob into a SQL LIKE pattern using '\' as
// the escape character, for backends that can filter server-side.
func likePattern(pattern string) string {
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

// matchKeys filters keys through a compiled glob. An empty pattern
// matches everything.
func matchKeys(keys []string, pattern string) ([]string, error) {
	if pattern == "" {
		return keys, nil
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	matched := make([]string, 0, len(keys))
	for _, k := range keys {
		if re.MatchString(k) {
			matched = append(matched, k)
		}
	}
	return matched, nil
}
