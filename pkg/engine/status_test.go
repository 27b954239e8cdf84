package engine

import (
	"encoding/json"
	"testing"
)

func TestNodeStateTerminal(t *testing.T) {
	terminal := []NodeState{NodeSucceeded, NodeFailed, NodeBlocked, NodeSkipped}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []NodeState{NodePending, NodeReady, NodeRunning} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNodeStateJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(NodeRunning)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"running"` {
		t.Errorf("marshaled as %s", data)
	}

	var s NodeState
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	if s != NodeRunning {
		t.Errorf("round trip gave %s", s)
	}

	if err := json.Unmarshal([]byte(`"exploded"`), &s); err == nil {
		t.Error("unknown state should fail to unmarshal")
	}
}

func TestFailurePolicyValidate(t *testing.T) {
	if err := StopOnFailure.Validate(); err != nil {
		t.Error(err)
	}
	if err := ContinueAndIsolate.Validate(); err != nil {
		t.Error(err)
	}
	if err := FailurePolicy("retry").Validate(); err == nil {
		t.Error("unknown policy should be invalid")
	}
}
