package segments

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Payload validation
// ---------------------------------------------------------------------------

func TestValidatePayload_Success(t *testing.T) {
	limits := Limits{ConditionValueLimit: 1000, RulesConditionsLimit: 100}

	tests := []struct {
		name  string
		rules []RulePayload
	}{
		{"empty payload", nil},
		{"single rule", []RulePayload{{Kind: KindAll}}},
		{
			"full two-level tree",
			[]RulePayload{{
				Kind: KindAll,
				Conditions: []ConditionPayload{
					{Operator: OpEqual, Property: "plan", Value: "beta"},
				},
				Rules: []RulePayload{{
					Kind: KindAny,
					Conditions: []ConditionPayload{
						{Operator: OpPercentageSplit, Value: "25"},
					},
				}},
			}},
		},
		{
			"every operator accepted",
			[]RulePayload{{
				Kind: KindNone,
				Conditions: []ConditionPayload{
					{Operator: OpEqual, Value: "v"},
					{Operator: OpNotEqual, Value: "v"},
					{Operator: OpGreaterThan, Value: "1"},
					{Operator: OpGreaterThanInclusive, Value: "1"},
					{Operator: OpLessThan, Value: "1"},
					{Operator: OpLessThanInclusive, Value: "1"},
					{Operator: OpContains, Value: "v"},
					{Operator: OpNotContains, Value: "v"},
					{Operator: OpRegex, Value: ".*"},
					{Operator: OpIn, Value: "a,b"},
					{Operator: OpIsSet, Value: ""},
					{Operator: OpIsNotSet, Value: ""},
					{Operator: OpPercentageSplit, Value: "10"},
					{Operator: OpModulo, Value: "2|0"},
				},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidatePayload(tt.rules, limits); err != nil {
				t.Errorf("ValidatePayload: %v", err)
			}
		})
	}
}

func TestValidatePayload_Failures(t *testing.T) {
	limits := Limits{ConditionValueLimit: 10, RulesConditionsLimit: 3}

	tests := []struct {
		name    string
		rules   []RulePayload
		wantErr error
	}{
		{
			"unknown kind",
			[]RulePayload{{Kind: "SOME"}},
			ErrInvalidKind,
		},
		{
			"unknown operator",
			[]RulePayload{{Kind: KindAll, Conditions: []ConditionPayload{{Operator: "LIKE", Value: "x"}}}},
			ErrInvalidOperator,
		},
		{
			"value over the limit",
			[]RulePayload{{Kind: KindAll, Conditions: []ConditionPayload{
				{Operator: OpEqual, Value: strings.Repeat("x", 11)},
			}}},
			ErrValueTooLong,
		},
		{
			"third nesting level",
			[]RulePayload{{
				Kind: KindAll,
				Rules: []RulePayload{{
					Kind:  KindAny,
					Rules: []RulePayload{{Kind: KindNone}},
				}},
			}},
			ErrTooDeeplyNested,
		},
		{
			"too many rules and conditions",
			[]RulePayload{
				{Kind: KindAll, Conditions: []ConditionPayload{
					{Operator: OpEqual, Value: "a"},
					{Operator: OpEqual, Value: "b"},
					{Operator: OpEqual, Value: "c"},
				}},
			},
			ErrDefinitionTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.rules, limits)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePayload = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePayload_WhitelistExemption(t *testing.T) {
	limits := Limits{ConditionValueLimit: 1000, RulesConditionsLimit: 2}
	rules := []RulePayload{{Kind: KindAll, Conditions: []ConditionPayload{
		{Operator: OpEqual, Value: "a"},
		{Operator: OpEqual, Value: "b"},
		{Operator: OpEqual, Value: "c"},
	}}}

	if err := ValidatePayload(rules, limits); !errors.Is(err, ErrDefinitionTooLarge) {
		t.Fatalf("without exemption: got %v, want ErrDefinitionTooLarge", err)
	}

	limits.Exempt = true
	if err := ValidatePayload(rules, limits); err != nil {
		t.Errorf("with exemption: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Name and parentage
// ---------------------------------------------------------------------------

func TestValidateName(t *testing.T) {
	if err := ValidateName(""); !errors.Is(err, ErrNameRequired) {
		t.Errorf("empty name: got %v, want ErrNameRequired", err)
	}
	if err := ValidateName(strings.Repeat("n", MaxNameLength+1)); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("oversized name: got %v, want ErrNameTooLong", err)
	}
	if err := ValidateName("Beta users"); err != nil {
		t.Errorf("valid name: %v", err)
	}
}

func TestValidateParentage(t *testing.T) {
	segID := int64(1)
	ruleID := int64(2)

	tests := []struct {
		name    string
		rule    SegmentRule
		wantErr bool
	}{
		{"segment parent only", SegmentRule{Kind: KindAll, SegmentID: &segID}, false},
		{"rule parent only", SegmentRule{Kind: KindAll, RuleID: &ruleID}, false},
		{"both parents", SegmentRule{Kind: KindAll, SegmentID: &segID, RuleID: &ruleID}, true},
		{"no parent", SegmentRule{Kind: KindAll}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParentage(tt.rule)
			if tt.wantErr && !errors.Is(err, ErrInvalidParentage) {
				t.Errorf("got %v, want ErrInvalidParentage", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
