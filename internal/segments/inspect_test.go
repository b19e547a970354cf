package segments

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Identifier scan
// ---------------------------------------------------------------------------

func TestContainsIdentifier_NoIDs(t *testing.T) {
	tests := []struct {
		name  string
		rules []RulePayload
	}{
		{"empty payload", nil},
		{"empty rules array", []RulePayload{}},
		{
			"single rule no children",
			[]RulePayload{{Kind: KindAll}},
		},
		{
			"empty arrays at every level",
			[]RulePayload{{Kind: KindAll, Rules: []RulePayload{}, Conditions: []ConditionPayload{}}},
		},
		{
			"conditions without ids",
			[]RulePayload{{
				Kind: KindAll,
				Conditions: []ConditionPayload{
					{Operator: OpEqual, Property: "plan", Value: "beta"},
				},
			}},
		},
		{
			"nested rules without ids",
			[]RulePayload{{
				Kind: KindAll,
				Rules: []RulePayload{{
					Kind: KindAny,
					Conditions: []ConditionPayload{
						{Operator: OpEqual, Value: "x"},
					},
				}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ContainsIdentifier(tt.rules) {
				t.Errorf("ContainsIdentifier = true, want false")
			}
		})
	}
}

func TestContainsIdentifier_WithIDs(t *testing.T) {
	tests := []struct {
		name  string
		rules []RulePayload
	}{
		{
			"id on top-level rule",
			[]RulePayload{{ID: 42, Kind: KindAll}},
		},
		{
			"id on nested rule",
			[]RulePayload{{Kind: KindAll, Rules: []RulePayload{{ID: 7, Kind: KindAny}}}},
		},
		{
			"id on top-level condition",
			[]RulePayload{{Kind: KindAll, Conditions: []ConditionPayload{{ID: 3, Operator: OpEqual, Value: "x"}}}},
		},
		{
			"id on condition two levels deep",
			[]RulePayload{{
				Kind: KindAll,
				Rules: []RulePayload{{
					Kind:       KindNone,
					Conditions: []ConditionPayload{{ID: 9, Operator: OpEqual, Value: "x"}},
				}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !ContainsIdentifier(tt.rules) {
				t.Errorf("ContainsIdentifier = false, want true")
			}
		})
	}
}

// The scan must stop at the first id found, not walk the whole tree.
func TestContainsIdentifier_ShortCircuits(t *testing.T) {
	rules := []RulePayload{
		{ID: 1, Kind: KindAll},
		{Kind: KindAny, Conditions: []ConditionPayload{
			{Operator: OpEqual, Value: "a"},
			{Operator: OpEqual, Value: "b"},
		}},
		{Kind: KindNone, Rules: []RulePayload{{Kind: KindAll}}},
	}

	visited := 0
	if !containsIdentifier(rules, func() { visited++ }) {
		t.Fatal("containsIdentifier = false, want true")
	}
	if visited != 1 {
		t.Errorf("visited %d nodes, want 1 (first rule carries the id)", visited)
	}
}

func TestContainsIdentifier_FullScanCountsEveryNode(t *testing.T) {
	rules := []RulePayload{
		{Kind: KindAll, Conditions: []ConditionPayload{{Operator: OpEqual, Value: "a"}}},
		{Kind: KindAny, Rules: []RulePayload{{Kind: KindNone}}},
	}

	// 2 top rules + 1 nested rule + 1 condition
	visited := 0
	if containsIdentifier(rules, func() { visited++ }) {
		t.Fatal("containsIdentifier = true, want false")
	}
	if visited != 4 {
		t.Errorf("visited %d nodes, want 4", visited)
	}
}

// ---------------------------------------------------------------------------
// Wire-shape compatibility
// ---------------------------------------------------------------------------

func TestContainsIdentifier_JSONPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{
			"rule with id",
			`[{"id": 42, "type": "ALL", "conditions": []}]`,
			true,
		},
		{
			"id-free rule with condition",
			`[{"type": "ALL", "conditions": [{"operator":"EQUAL","value":"x"}]}]`,
			false,
		},
		{
			"missing rules and conditions keys",
			`[{"type": "ANY"}]`,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rules []RulePayload
			if err := json.Unmarshal([]byte(tt.body), &rules); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := ContainsIdentifier(rules); got != tt.want {
				t.Errorf("ContainsIdentifier = %v, want %v", got, tt.want)
			}
		})
	}
}
