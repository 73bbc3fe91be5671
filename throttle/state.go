package throttle

import (
	"time"
)

// maxSeenAgents bounds the per-identity user-agent history.
const maxSeenAgents = 32

// agentSighting records one observed user agent with its last-seen time.
type agentSighting struct {
	Agent string    `json:"agent"`
	Seen  time.Time `json:"seen"`
}

// state is the per-identity throttle state, persisted through the cache
// engine as a JSON string under "namespace:identity". It is created
// lazily on the first request from an identity and disappears through
// normal TTL expiry once the identity goes idle.
type state struct {
	WindowStart   time.Time       `json:"window_start"`
	WindowCount   int             `json:"window_count"`
	BurstStart    time.Time       `json:"burst_start"`
	BurstCount    int             `json:"burst_count"`
	Violations    int             `json:"violations"`
	LastViolation time.Time       `json:"last_violation"`
	BannedUntil   time.Time       `json:"banned_until"` // zero = not banned
	SeenAgents    []agentSighting `json:"seen_agents,omitempty"`
}

// recordAgent notes the current user agent and prunes sightings that
// fell out of the window. The history is bounded: when full, the oldest
// sighting is dropped.
func (s *state) recordAgent(agent string, now time.Time, window time.Duration) {
	kept := s.SeenAgents[:0]
	cutoff := now.Add(-window)
	for _, sighting := range s.SeenAgents {
		if sighting.Seen.After(cutoff) {
			kept = append(kept, sighting)
		}
	}
	s.SeenAgents = kept

	for i := range s.SeenAgents {
		if s.SeenAgents[i].Agent == agent {
			s.SeenAgents[i].Seen = now
			return
		}
	}

	if len(s.SeenAgents) >= maxSeenAgents {
		oldest := 0
		for i := range s.SeenAgents {
			if s.SeenAgents[i].Seen.Before(s.SeenAgents[oldest].Seen) {
				oldest = i
			}
		}
		s.SeenAgents = append(s.SeenAgents[:oldest], s.SeenAgents[oldest+1:]...)
	}

	s.SeenAgents = append(s.SeenAgents, agentSighting{Agent: agent, Seen: now})
}

// distinctAgents returns the number of distinct user agents seen within
// the current window.
func (s *state) distinctAgents() int {
	return len(s.SeenAgents)
}
