package segments

import "fmt"

// MaxNameLength bounds segment names, matching the storage column width.
const MaxNameLength = 2000

// validKinds is the set of recognised rule combinators.
var validKinds = map[RuleKind]struct{}{
	KindAll:  {},
	KindAny:  {},
	KindNone: {},
}

// validOperators is the closed set of recognised condition operators.
var validOperators = map[Operator]struct{}{
	OpEqual:                {},
	OpNotEqual:             {},
	OpGreaterThan:          {},
	OpGreaterThanInclusive: {},
	OpLessThan:             {},
	OpLessThanInclusive:    {},
	OpContains:             {},
	OpNotContains:          {},
	OpRegex:                {},
	OpIn:                   {},
	OpIsSet:                {},
	OpIsNotSet:             {},
	OpPercentageSplit:      {},
	OpModulo:               {},
}

// Limits carries the configurable validation bounds for incoming
// definitions. The zero value disables both bounds, which is only
// appropriate in tests.
type Limits struct {
	// ConditionValueLimit bounds the length of a condition's value.
	ConditionValueLimit int
	// RulesConditionsLimit bounds the total number of rules plus
	// conditions in one definition payload. Whitelisted segments are
	// exempt; callers pass Exempt to skip the check.
	RulesConditionsLimit int
	// Exempt skips the RulesConditionsLimit check for grandfathered
	// segments.
	Exempt bool
}

// ValidatePayload performs strict validation of an incoming definition
// payload: recognised kinds and operators, bounded condition values,
// nesting capped at MaxRuleDepth, and the overall size limit unless the
// segment is whitelisted. It is a pure function with no side effects.
func ValidatePayload(rules []RulePayload, limits Limits) error {
	nodes := 0
	for i, r := range rules {
		n, err := validateRulePayload(fmt.Sprintf("rules[%d]", i), r, 1, limits)
		if err != nil {
			return err
		}
		nodes += n
	}

	if !limits.Exempt && limits.RulesConditionsLimit > 0 && nodes > limits.RulesConditionsLimit {
		return fmt.Errorf("%w: %d rules and conditions, limit %d",
			ErrDefinitionTooLarge, nodes, limits.RulesConditionsLimit)
	}
	return nil
}

// validateRulePayload checks one rule and its subtree, returning the number
// of rules and conditions it contains.
func validateRulePayload(path string, r RulePayload, depth int, limits Limits) (int, error) {
	if _, ok := validKinds[r.Kind]; !ok {
		return 0, fmt.Errorf("%w: %s type %q", ErrInvalidKind, path, r.Kind)
	}

	if depth > MaxRuleDepth {
		return 0, fmt.Errorf("%w: %s is %d levels below the segment, max %d",
			ErrTooDeeplyNested, path, depth, MaxRuleDepth)
	}
	if depth == MaxRuleDepth && len(r.Rules) > 0 {
		return 0, fmt.Errorf("%w: %s may not contain further nested rules",
			ErrTooDeeplyNested, path)
	}

	nodes := 1
	for i, c := range r.Conditions {
		if err := validateConditionPayload(fmt.Sprintf("%s.conditions[%d]", path, i), c, limits); err != nil {
			return 0, err
		}
		nodes++
	}

	for i, sub := range r.Rules {
		n, err := validateRulePayload(fmt.Sprintf("%s.rules[%d]", path, i), sub, depth+1, limits)
		if err != nil {
			return 0, err
		}
		nodes += n
	}

	return nodes, nil
}

func validateConditionPayload(path string, c ConditionPayload, limits Limits) error {
	if _, ok := validOperators[c.Operator]; !ok {
		return fmt.Errorf("%w: %s operator %q is not supported", ErrInvalidOperator, path, c.Operator)
	}
	if limits.ConditionValueLimit > 0 && len(c.Value) > limits.ConditionValueLimit {
		return fmt.Errorf("%w: %s value is %d bytes, limit %d",
			ErrValueTooLong, path, len(c.Value), limits.ConditionValueLimit)
	}
	return nil
}

// ValidateName checks the segment name bounds shared by create and update.
func ValidateName(name string) error {
	if name == "" {
		return ErrNameRequired
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrNameTooLong, len(name), MaxNameLength)
	}
	return nil
}

// ValidateParentage fails unless exactly one of the rule's segment parent
// and rule parent is set. A rule with both or neither is malformed input,
// never something to coerce silently.
func ValidateParentage(r SegmentRule) error {
	parents := 0
	if r.SegmentID != nil {
		parents++
	}
	if r.RuleID != nil {
		parents++
	}
	if parents != 1 {
		return fmt.Errorf("%w: %d found", ErrInvalidParentage, parents)
	}
	return nil
}
