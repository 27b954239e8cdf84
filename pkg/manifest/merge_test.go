package manifest

import (
	"reflect"
	"testing"
)

func TestDeepMergeMaps(t *testing.T) {
	base := map[string]any{
		"stack": map[string]any{
			"name":        "network",
			"description": "base description",
		},
		"kept": "base",
	}
	override := map[string]any{
		"stack": map[string]any{
			"description": "child description",
		},
		"added": true,
	}

	got, ok := deepMerge(base, override).(map[string]any)
	if !ok {
		t.Fatalf("deepMerge returned %T, want map", got)
	}
	stack := got["stack"].(map[string]any)
	if stack["name"] != "network" {
		t.Errorf("base key lost: name = %v", stack["name"])
	}
	if stack["description"] != "child description" {
		t.Errorf("override did not win: description = %v", stack["description"])
	}
	if got["kept"] != "base" || got["added"] != true {
		t.Errorf("sibling keys wrong: kept=%v added=%v", got["kept"], got["added"])
	}
}

func TestDeepMergeScalarOverride(t *testing.T) {
	if got := deepMerge("base", "override"); got != "override" {
		t.Errorf("deepMerge scalar = %v, want override", got)
	}
	if got := deepMerge(map[string]any{"a": 1}, "scalar"); got != "scalar" {
		t.Errorf("deepMerge map/scalar = %v, want scalar", got)
	}
}

func TestMergeKeyedSequences(t *testing.T) {
	base := []any{
		map[string]any{"name": "identity", "stackName": "identity-prod"},
		map[string]any{"name": "network", "outputs": map[string]any{"vnetId": "vnet"}},
	}
	override := []any{
		map[string]any{"name": "network", "outputs": map[string]any{"subnetId": "subnet"}},
		map[string]any{"name": "dns"},
	}

	got := mergeSequences(base, override)
	if len(got) != 3 {
		t.Fatalf("merged length = %d, want 3", len(got))
	}

	// Base order is preserved, appended entries follow.
	names := make([]string, len(got))
	for i, item := range got {
		names[i] = item.(map[string]any)["name"].(string)
	}
	want := []string{"identity", "network", "dns"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("order = %v, want %v", names, want)
	}

	network := got[1].(map[string]any)
	outputs := network["outputs"].(map[string]any)
	if outputs["vnetId"] != "vnet" || outputs["subnetId"] != "subnet" {
		t.Errorf("matching element not deep-merged: %v", outputs)
	}
}

func TestMergeSequencesUnkeyedReplaces(t *testing.T) {
	base := []any{"a", "b"}
	override := []any{"c"}
	got := mergeSequences(base, override)
	if !reflect.DeepEqual(got, []any{"c"}) {
		t.Errorf("unkeyed merge = %v, want wholesale override", got)
	}
}

func TestMergeSequencesDuplicateKeysReplace(t *testing.T) {
	base := []any{
		map[string]any{"name": "dup"},
		map[string]any{"name": "dup"},
	}
	override := []any{map[string]any{"name": "only"}}
	got := mergeSequences(base, override)
	if len(got) != 1 || got[0].(map[string]any)["name"] != "only" {
		t.Errorf("duplicate-keyed base not replaced wholesale: %v", got)
	}
}

func TestDeepMergeIdempotent(t *testing.T) {
	doc := map[string]any{
		"stack": map[string]any{"name": "app"},
		"dependencies": []any{
			map[string]any{"stackName": "network"},
		},
	}
	once := deepMerge(map[string]any{}, doc)
	twice := deepMerge(once, doc)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merge not idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestDeepMergeDoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"nested": map[string]any{"a": 1}}
	override := map[string]any{"nested": map[string]any{"b": 2}}
	merged := deepMerge(base, override).(map[string]any)
	merged["nested"].(map[string]any)["a"] = 99

	if base["nested"].(map[string]any)["a"] != 1 {
		t.Error("base mutated through merge result")
	}
	if _, ok := override["nested"].(map[string]any)["a"]; ok {
		t.Error("override mutated through merge result")
	}
}
