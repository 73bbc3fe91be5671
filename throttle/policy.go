package throttle

import (
	"fmt"
	"time"

	"github.com/gatecore/gatecore/config"
)

// Default policy knobs, applied for any zero field.
const (
	DefaultBurstLimit          = 20
	DefaultBurstWindow         = 1 * time.Second
	DefaultBanThreshold        = 5
	DefaultBanDuration         = 24 * time.Hour
	DefaultViolationDecay      = 1 * time.Hour
	DefaultUARotationThreshold = 5
	DefaultNamespace           = "throttle"
)

// Policy is the immutable throttle configuration. Limit and Window are
// required; every other field falls back to its default. A Policy is
// validated once at engine construction, never per request.
type Policy struct {
	// Limit is the maximum number of requests per Window
	Limit int
	// Window is the sliding counting window
	Window time.Duration
	// BurstLimit is the maximum number of requests per BurstWindow,
	// catching rapid spikes the longer window would average out
	BurstLimit int
	// BurstWindow is the short burst-detection window
	BurstWindow time.Duration
	// BanThreshold is the violation count that triggers a ban
	BanThreshold int
	// BanDuration is how long a ban holds
	BanDuration time.Duration
	// ViolationDecay is the quiet period after which accumulated
	// violations are forgiven
	ViolationDecay time.Duration
	// UARotationThreshold is the maximum number of distinct user agents
	// per identity within one Window
	UARotationThreshold int
	// Namespace prefixes all throttle state keys in the shared cache
	Namespace string
	// Policies optionally overrides parts of this policy per request.
	// It must be side-effect-free from the engine's perspective; the
	// returned fields replace the base values, all others keep them.
	Policies OverrideFunc
}

// Override is a partial policy. Nil fields keep the base policy value.
type Override struct {
	Limit               *int
	Window              *time.Duration
	BurstLimit          *int
	BurstWindow         *time.Duration
	BanThreshold        *int
	BanDuration         *time.Duration
	ViolationDecay      *time.Duration
	UARotationThreshold *int
}

// OverrideFunc maps a request to a partial policy override. Returning
// nil keeps the base policy.
type OverrideFunc func(req Request) *Override

// Validate checks the required policy invariants.
func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("throttle policy: limit must be positive")
	}
	if p.Window <= 0 {
		return fmt.Errorf("throttle policy: window must be positive")
	}
	return nil
}

// withDefaults fills every zero optional field.
func (p Policy) withDefaults() Policy {
	if p.BurstLimit == 0 {
		p.BurstLimit = DefaultBurstLimit
	}
	if p.BurstWindow == 0 {
		p.BurstWindow = DefaultBurstWindow
	}
	if p.BanThreshold == 0 {
		p.BanThreshold = DefaultBanThreshold
	}
	if p.BanDuration == 0 {
		p.BanDuration = DefaultBanDuration
	}
	if p.ViolationDecay == 0 {
		p.ViolationDecay = DefaultViolationDecay
	}
	if p.UARotationThreshold == 0 {
		p.UARotationThreshold = DefaultUARotationThreshold
	}
	if p.Namespace == "" {
		p.Namespace = DefaultNamespace
	}
	return p
}

// merge lays a partial override over the base policy. Merging is
// deterministic: set fields win, nil fields keep the base value.
func (p Policy) merge(o *Override) Policy {
	if o == nil {
		return p
	}
	if o.Limit != nil {
		p.Limit = *o.Limit
	}
	if o.Window != nil {
		p.Window = *o.Window
	}
	if o.BurstLimit != nil {
		p.BurstLimit = *o.BurstLimit
	}
	if o.BurstWindow != nil {
		p.BurstWindow = *o.BurstWindow
	}
	if o.BanThreshold != nil {
		p.BanThreshold = *o.BanThreshold
	}
	if o.BanDuration != nil {
		p.BanDuration = *o.BanDuration
	}
	if o.ViolationDecay != nil {
		p.ViolationDecay = *o.ViolationDecay
	}
	if o.UARotationThreshold != nil {
		p.UARotationThreshold = *o.UARotationThreshold
	}
	return p
}

// PolicyFromConfig builds a Policy from the throttle configuration
// section. The Policies override function cannot be expressed in config
// and is attached programmatically by the caller.
func PolicyFromConfig(cfg *config.ThrottleConfig) Policy {
	return Policy{
		Limit:               cfg.Limit,
		Window:              cfg.Window,
		BurstLimit:          cfg.BurstLimit,
		BurstWindow:         cfg.BurstWindow,
		BanThreshold:        cfg.BanThreshold,
		BanDuration:         cfg.BanDuration,
		ViolationDecay:      cfg.ViolationDecay,
		UARotationThreshold: cfg.UARotationThreshold,
		Namespace:           cfg.Namespace,
	}
}
