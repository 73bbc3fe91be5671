package throttle

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestStateRecordAgent(t *testing.T) {
	now := time.Now()
	window := time.Minute
	st := &state{}

	st.recordAgent("curl/8.0", now, window)
	st.recordAgent("Mozilla/5.0", now, window)
	if st.distinctAgents() != 2 {
		t.Errorf("expected 2 distinct agents, got %d", st.distinctAgents())
	}

	// Re-seeing an agent refreshes its timestamp instead of duplicating.
	st.recordAgent("curl/8.0", now.Add(time.Second), window)
	if st.distinctAgents() != 2 {
		t.Errorf("expected 2 distinct agents after refresh, got %d", st.distinctAgents())
	}
}

func TestStateRecordAgentPrunesOldSightings(t *testing.T) {
	now := time.Now()
	window := time.Minute
	st := &state{}

	st.recordAgent("old-agent", now, window)

	// A sighting older than the window falls out on the next record.
	later := now.Add(2 * time.Minute)
	st.recordAgent("new-agent", later, window)

	if st.distinctAgents() != 1 {
		t.Errorf("expected stale sighting to be pruned, got %d agents", st.distinctAgents())
	}
	if st.SeenAgents[0].Agent != "new-agent" {
		t.Errorf("expected new-agent to remain, got %s", st.SeenAgents[0].Agent)
	}
}

func TestStateRecordAgentBounded(t *testing.T) {
	now := time.Now()
	window := time.Hour
	st := &state{}

	for i := 0; i < maxSeenAgents+10; i++ {
		st.recordAgent(fmt.Sprintf("agent-%d", i), now.Add(time.Duration(i)*time.Second), window)
	}

	if len(st.SeenAgents) != maxSeenAgents {
		t.Errorf("expected history bounded at %d, got %d", maxSeenAgents, len(st.SeenAgents))
	}
	// The oldest sightings were dropped, the newest kept.
	last := st.SeenAgents[len(st.SeenAgents)-1]
	if last.Agent != fmt.Sprintf("agent-%d", maxSeenAgents+9) {
		t.Errorf("expected newest agent kept, got %s", last.Agent)
	}
}

func TestStateJSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	st := &state{
		WindowStart:   now,
		WindowCount:   7,
		BurstStart:    now,
		BurstCount:    2,
		Violations:    1,
		LastViolation: now,
		SeenAgents:    []agentSighting{{Agent: "curl/8.0", Seen: now}},
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded state
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !decoded.WindowStart.Equal(st.WindowStart) || decoded.WindowCount != st.WindowCount {
		t.Errorf("window state did not round-trip: %+v", decoded)
	}
	if decoded.Violations != 1 || len(decoded.SeenAgents) != 1 {
		t.Errorf("violation state did not round-trip: %+v", decoded)
	}
	if !decoded.BannedUntil.IsZero() {
		t.Errorf("zero ban time must stay zero, got %v", decoded.BannedUntil)
	}
}
