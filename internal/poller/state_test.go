package poller

import "testing"

func TestStateTableGetCreatesAndReuses(t *testing.T) {
	table := newStateTable()

	s1 := table.get("agent-1")
	s1.lastFinalizedCount = 3

	s2 := table.get("agent-1")
	if s2.lastFinalizedCount != 3 {
		t.Errorf("expected the same state to be reused across get calls, got %+v", s2)
	}
	if s1 != s2 {
		t.Error("expected get to return the same pointer for the same agent id")
	}
}

func TestStateTableGetDistinctAgents(t *testing.T) {
	table := newStateTable()

	a := table.get("agent-1")
	b := table.get("agent-2")
	if a == b {
		t.Error("expected distinct agents to get distinct state")
	}
}

func TestStateTablePrune(t *testing.T) {
	table := newStateTable()
	table.get("agent-1")
	table.get("agent-2")
	table.get("agent-3")

	table.prune(map[string]struct{}{"agent-2": {}})

	if len(table.states) != 1 {
		t.Fatalf("expected exactly one surviving agent, got %d", len(table.states))
	}
	if _, ok := table.states["agent-2"]; !ok {
		t.Error("expected agent-2 to survive the prune")
	}
}

func TestStateTablePruneEmptyLiveSetClearsAll(t *testing.T) {
	table := newStateTable()
	table.get("agent-1")
	table.get("agent-2")

	table.prune(map[string]struct{}{})

	if len(table.states) != 0 {
		t.Errorf("expected all state pruned when the live set is empty, got %d entries", len(table.states))
	}
}
