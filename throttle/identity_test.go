package throttle

import (
	"testing"
)

func TestIdentity(t *testing.T) {
	a := Identity("203.0.113.7")
	b := Identity("203.0.113.7")
	if a != b {
		t.Errorf("identity must be stable, got %s and %s", a, b)
	}

	c := Identity("203.0.113.8")
	if a == c {
		t.Error("distinct addresses should hash to distinct identities")
	}

	// The raw address never appears in the key.
	if a == "203.0.113.7" {
		t.Error("identity must be a hash, not the raw address")
	}
}

func TestKeyLocks(t *testing.T) {
	var locks keyLocks

	l1 := locks.lockFor("throttle:abc")
	l2 := locks.lockFor("throttle:abc")
	if l1 != l2 {
		t.Error("same key must map to the same stripe")
	}

	// Locks are usable without initialization beyond the zero value.
	l1.Lock()
	l1.Unlock()
}
