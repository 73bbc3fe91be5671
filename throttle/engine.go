package throttle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gatecore/gatecore/cache"
	"github.com/gatecore/gatecore/circuitbreaker"
	"github.com/gatecore/gatecore/config"
	"github.com/gatecore/gatecore/logger"
	"github.com/gatecore/gatecore/metrics"
)

// Deny reasons returned in Decision.Reason. At most one applies per
// check: ban outranks burst, burst outranks user-agent rotation, and
// rotation outranks the plain window limit.
const (
	ReasonBanned             = "banned"
	ReasonRateLimited        = "rate_limited"
	ReasonBurstLimited       = "burst_limited"
	ReasonUARotation         = "ua_rotation"
	ReasonStorageUnavailable = "storage_unavailable"
)

// Failure modes for storage outages during a check.
const (
	FailOpen   = "fail-open"
	FailClosed = "fail-closed"
)

// Request carries the identity and context of one inbound request.
type Request struct {
	// IP is the client address; it forms the throttle identity
	IP string
	// UserAgent is the client's user-agent string
	UserAgent string
	// Path is the requested path, available to override functions
	Path string
	// Attrs carries caller-defined flags for dynamic policy decisions
	// (e.g. marking trusted integrations for a higher limit)
	Attrs map[string]string
}

// Decision is the verdict for one request.
type Decision struct {
	// Allowed indicates if the request may proceed
	Allowed bool
	// Reason is set on denial: banned, rate_limited, burst_limited,
	// ua_rotation, or storage_unavailable
	Reason string
	// RetryAfter is how long the client should wait before retrying
	RetryAfter time.Duration
	// Remaining is the number of requests left in the current window
	Remaining int
}

// Options configures engine behavior beyond the policy.
type Options struct {
	// FailureMode selects the verdict when throttle storage is
	// unreachable: FailOpen (default) admits the request, FailClosed
	// denies it. Either way the failure is logged and counted.
	FailureMode string
	// Breaker overrides the circuit breaker configuration guarding
	// storage access.
	Breaker *circuitbreaker.Config
}

// Engine is the adaptive request throttle. It classifies each request
// against the effective policy, persists per-identity counters through
// the shared cache, and escalates repeat offenders to time-boxed bans.
type Engine struct {
	cache       *cache.Engine
	policy      Policy
	failureMode string
	breaker     *circuitbreaker.CircuitBreaker
	locks       keyLocks
	log         *logger.ComponentLogger

	// now is swapped in tests to drive window and ban timing
	now func() time.Time
}

// New creates a throttle engine on top of the given cache engine. The
// policy is validated here; an invalid policy never reaches a check.
func New(c *cache.Engine, policy Policy, opts Options) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if !c.Enabled() {
		return nil, fmt.Errorf("throttle: cache engine is disabled, throttle state needs storage")
	}

	failureMode := opts.FailureMode
	if failureMode == "" {
		failureMode = FailOpen
	}
	if failureMode != FailOpen && failureMode != FailClosed {
		return nil, fmt.Errorf("throttle: invalid failure mode: %s", failureMode)
	}

	metrics.Init()

	return &Engine{
		cache:       c,
		policy:      policy.withDefaults(),
		failureMode: failureMode,
		breaker:     circuitbreaker.New("throttle-storage", opts.Breaker),
		log:         logger.Get().WithComponent("throttle"),
		now:         time.Now,
	}, nil
}

// NewFromConfig creates a throttle engine from the throttle
// configuration section. policies may be nil.
func NewFromConfig(c *cache.Engine, cfg *config.ThrottleConfig, policies OverrideFunc) (*Engine, error) {
	policy := PolicyFromConfig(cfg)
	policy.Policies = policies
	return New(c, policy, Options{FailureMode: cfg.FailureMode})
}

// Check classifies one request and returns the verdict. Checks for the
// same identity are serialized; checks for distinct identities proceed
// in parallel.
func (e *Engine) Check(ctx context.Context, req Request) (*Decision, error) {
	start := time.Now()
	defer func() {
		metrics.RecordThrottleCheck(time.Since(start))
	}()

	pol := e.policy
	if pol.Policies != nil {
		pol = pol.merge(pol.Policies(req))
	}

	key := pol.Namespace + ":" + Identity(req.IP)

	lock := e.locks.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	now := e.now()

	st, err := e.loadState(ctx, key)
	if err != nil {
		return e.storageFailure("load", err), nil
	}

	// An active ban denies unconditionally; counters stay untouched.
	if !st.BannedUntil.IsZero() && now.Before(st.BannedUntil) {
		metrics.RecordThrottleDenied(ReasonBanned)
		return &Decision{
			Allowed:    false,
			Reason:     ReasonBanned,
			RetryAfter: st.BannedUntil.Sub(now),
		}, nil
	}

	// Violation decay: a quiet period forgives accumulated violations
	// before this request is evaluated.
	if st.Violations > 0 && !st.LastViolation.IsZero() && now.Sub(st.LastViolation) > pol.ViolationDecay {
		st.Violations = 0
	}

	// Sliding window counter.
	if st.WindowStart.IsZero() || now.Sub(st.WindowStart) >= pol.Window {
		st.WindowStart = now
		st.WindowCount = 0
	}
	st.WindowCount++
	windowViolation := st.WindowCount > pol.Limit

	// Burst counter, evaluated independently of the window.
	if st.BurstStart.IsZero() || now.Sub(st.BurstStart) >= pol.BurstWindow {
		st.BurstStart = now
		st.BurstCount = 0
	}
	st.BurstCount++
	burstViolation := st.BurstCount > pol.BurstLimit

	// User-agent rotation within the window.
	st.recordAgent(req.UserAgent, now, pol.Window)
	uaViolation := st.distinctAgents() > pol.UARotationThreshold

	decision := &Decision{
		Allowed:   true,
		Remaining: pol.Limit - st.WindowCount,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	if windowViolation || burstViolation || uaViolation {
		st.Violations++
		st.LastViolation = now
		decision.Allowed = false

		if st.Violations >= pol.BanThreshold {
			st.BannedUntil = now.Add(pol.BanDuration)
			decision.Reason = ReasonBanned
			decision.RetryAfter = pol.BanDuration
			metrics.RecordThrottleBan()
			e.log.Warn("identity banned", logger.Fields{
				"key":        key,
				"violations": st.Violations,
				"ban_until":  st.BannedUntil.UTC().Format(time.RFC3339),
			})
		} else {
			switch {
			case burstViolation:
				decision.Reason = ReasonBurstLimited
				decision.RetryAfter = st.BurstStart.Add(pol.BurstWindow).Sub(now)
			case uaViolation:
				decision.Reason = ReasonUARotation
				decision.RetryAfter = st.WindowStart.Add(pol.Window).Sub(now)
			default:
				decision.Reason = ReasonRateLimited
				decision.RetryAfter = st.WindowStart.Add(pol.Window).Sub(now)
			}
			if decision.RetryAfter < 0 {
				decision.RetryAfter = 0
			}
		}
		metrics.RecordThrottleDenied(decision.Reason)
	}

	// State must outlive the longest horizon it feeds, then expire with
	// the identity's inactivity.
	ttl := maxDuration(pol.Window, pol.BurstWindow, pol.BanDuration)
	if err := e.saveState(ctx, key, st, ttl); err != nil {
		return e.storageFailure("save", err), nil
	}

	return decision, nil
}

// loadState reads the identity's state, returning zeroed state when
// absent. Unreadable state is treated as absent rather than failing the
// request: it self-heals on the next write.
func (e *Engine) loadState(ctx context.Context, key string) (*state, error) {
	var raw any
	var found bool
	err := e.breaker.Execute(func() error {
		var err error
		raw, found, err = e.cache.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return &state{}, nil
	}

	encoded, ok := raw.(string)
	if !ok {
		return &state{}, nil
	}
	var st state
	if err := json.Unmarshal([]byte(encoded), &st); err != nil {
		return &state{}, nil
	}
	return &st, nil
}

// saveState persists the identity's state as a JSON string, which
// round-trips byte-identically through every storage backend.
func (e *Engine) saveState(ctx context.Context, key string, st *state, ttl time.Duration) error {
	encoded, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return e.breaker.Execute(func() error {
		return e.cache.SetWithTTL(ctx, key, string(encoded), ttl)
	})
}

// storageFailure converts a storage outage into the configured verdict.
// The failure itself is logged and counted; enforcement resumes when
// storage recovers.
func (e *Engine) storageFailure(op string, err error) *Decision {
	metrics.RecordThrottleStorageFailure(e.failureMode)
	e.log.Error("throttle storage unavailable", logger.Fields{
		"op":    op,
		"mode":  e.failureMode,
		"error": err.Error(),
	})

	if e.failureMode == FailClosed {
		metrics.RecordThrottleDenied(ReasonStorageUnavailable)
		return &Decision{Allowed: false, Reason: ReasonStorageUnavailable}
	}
	return &Decision{Allowed: true}
}

// maxDuration returns the largest of the given durations.
func maxDuration(durations ...time.Duration) time.Duration {
	var max time.Duration
	for _, d := range durations {
		if d > max {
			max = d
		}
	}
	return max
}
