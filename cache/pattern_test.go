package cache

import (
	"testing"
)

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		match   bool
	}{
		{"exact literal", "user:1", "user:1", true},
		{"literal mismatch", "user:1", "user:2", false},
		{"prefix glob", "user:*", "user:42", true},
		{"prefix glob no match", "user:*", "session:42", false},
		{"suffix glob", "*:42", "user:42", true},
		{"middle glob", "user:*:profile", "user:42:profile", true},
		{"glob matches empty run", "user:*", "user:", true},
		{"glob is anchored", "user:*", "xuser:1", false},
		{"dot is literal", "a.b", "axb", false},
		{"plus is literal", "a+b", "a+b", true},
		{"bracket is literal", "a[0]", "a[0]", true},
		{"question mark is literal", "a?b", "axb", false},
		{"double glob", "a*b*c", "a-x-b-y-c", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := compilePattern(tt.pattern)
			if err != nil {
				t.Fatalf("unexpected error compiling %q: %v", tt.pattern, err)
			}
			if got := re.MatchString(tt.key); got != tt.match {
				t.Errorf("pattern %q against %q: expected %v, got %v", tt.pattern, tt.key, tt.match, got)
			}
		})
	}
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		pattern  string
		expected string
	}{
		{"user:*", "user:%"},
		{"user:1", "user:1"},
		{"50%off:*", "50\\%off:%"},
		{"a_b", "a\\_b"},
		{"a\\b", "a\\\\b"},
	}

	for _, tt := range tests {
		if got := likePattern(tt.pattern); got != tt.expected {
			t.Errorf("likePattern(%q): expected %q, got %q", tt.pattern, tt.expected, got)
		}
	}
}

func TestMatchKeys(t *testing.T) {
	keys := []string{"user:1", "user:2", "session:1"}

	matched, err := matchKeys(keys, "user:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 2 {
		t.Errorf("expected 2 matches, got %d", len(matched))
	}

	all, err := matchKeys(keys, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("empty pattern should match all keys, got %d", len(all))
	}
}
