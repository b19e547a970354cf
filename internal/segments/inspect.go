package segments

// ContainsIdentifier reports whether any rule or condition anywhere in the
// payload tree carries a non-zero id. An id means the client is referencing
// rows that already exist, i.e. editing the live definition in place; an
// id-free payload is a structurally new definition that must be version
// snapshotted before it is applied.
//
// The scan is iterative and short-circuits on the first id found. Missing
// rules/conditions arrays are treated as empty. Depth is not bounded here:
// excessively deep input is the caller's payload-size problem, and depth
// validation happens separately.
func ContainsIdentifier(rules []RulePayload) bool {
	return containsIdentifier(rules, nil)
}

// containsIdentifier is the instrumentable core of ContainsIdentifier.
// visited, when non-nil, is called once per rule or condition examined,
// which lets tests verify the short-circuit without timing games.
func containsIdentifier(rules []RulePayload, visited func()) bool {
	visit := func() {
		if visited != nil {
			visited()
		}
	}

	var pendingRules []RulePayload
	var pendingConds []ConditionPayload

	for _, r := range rules {
		visit()
		if r.ID != 0 {
			return true
		}
		pendingRules = append(pendingRules, r.Rules...)
		pendingConds = append(pendingConds, r.Conditions...)
	}

	for len(pendingRules) > 0 {
		r := pendingRules[len(pendingRules)-1]
		pendingRules = pendingRules[:len(pendingRules)-1]
		visit()
		if r.ID != 0 {
			return true
		}
		pendingRules = append(pendingRules, r.Rules...)
		pendingConds = append(pendingConds, r.Conditions...)
	}

	for _, c := range pendingConds {
		visit()
		if c.ID != 0 {
			return true
		}
	}

	return false
}
