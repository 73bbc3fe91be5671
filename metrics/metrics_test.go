package metrics

import (
	"testing"
	"time"
)

func TestInitIdempotent(t *testing.T) {
	// Registering the collectors twice would panic; Init must guard it.
	Init()
	Init()
}

func TestRecordFunctions(t *testing.T) {
	Init()

	// Smoke-test every recording path; panics here mean label mismatches.
	RecordCacheOperation("memory", "get", "ok")
	SetCacheEntries("memory", 3)
	RecordCacheExpired("memory", 2)
	RecordThrottleCheck(5 * time.Millisecond)
	RecordThrottleDenied("rate_limited")
	RecordThrottleBan()
	RecordThrottleStorageFailure("fail-open")
	SetCircuitBreakerState("throttle-storage", 1)
	RecordCircuitBreakerTransition("throttle-storage", "closed", "open")
	RecordHealthCheck("storage", "healthy", time.Millisecond)
}

func TestHandler(t *testing.T) {
	Init()
	if Handler() == nil {
		t.Fatal("expected a metrics handler")
	}
}
