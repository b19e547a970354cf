package segments

import (
	"context"
	"fmt"
)

// TreeSource is the narrow read surface resolution needs: rules and
// segments by id. The persistence layer satisfies it.
type TreeSource interface {
	GetRule(ctx context.Context, id int64) (SegmentRule, error)
	GetSegment(ctx context.Context, id int64) (Segment, error)
}

// ResolveOwningSegment walks upward from a rule through rule-parent links
// until it reaches a rule hanging directly off a segment, then loads that
// segment. The single-parent invariant makes the links acyclic, but the
// walk is still bounded at MaxRuleDepth steps; exceeding the bound is a
// structural failure, not grounds for looping.
func ResolveOwningSegment(ctx context.Context, src TreeSource, rule SegmentRule) (Segment, error) {
	current := rule
	for step := 0; step < MaxRuleDepth; step++ {
		if current.SegmentID != nil {
			return src.GetSegment(ctx, *current.SegmentID)
		}
		if current.RuleID == nil {
			return Segment{}, fmt.Errorf("%w: rule %d", ErrOrphanedRule, current.ID)
		}
		parent, err := src.GetRule(ctx, *current.RuleID)
		if err != nil {
			return Segment{}, fmt.Errorf("resolve owning segment of rule %d: %w", rule.ID, err)
		}
		current = parent
	}
	if current.SegmentID != nil {
		return src.GetSegment(ctx, *current.SegmentID)
	}
	return Segment{}, fmt.Errorf("%w: rule %d exceeds depth %d", ErrStructuralDepth, rule.ID, MaxRuleDepth)
}

// SegmentResolver memoizes owning-segment lookups for the duration of one
// operation, keyed by condition id. Audit message generation resolves the
// same segment for every condition in a rule; caching here keeps that to
// one walk per condition without hanging mutable state off the entities.
type SegmentResolver struct {
	src   TreeSource
	cache map[int64]Segment
}

// NewSegmentResolver creates a resolver scoped to a single operation.
func NewSegmentResolver(src TreeSource) *SegmentResolver {
	return &SegmentResolver{src: src, cache: make(map[int64]Segment)}
}

// ForCondition resolves the segment owning the rule the condition belongs
// to, consulting the per-operation cache first.
func (r *SegmentResolver) ForCondition(ctx context.Context, c Condition) (Segment, error) {
	if seg, ok := r.cache[c.ID]; ok {
		return seg, nil
	}
	rule, err := r.src.GetRule(ctx, c.RuleID)
	if err != nil {
		return Segment{}, fmt.Errorf("resolve rule %d of condition %d: %w", c.RuleID, c.ID, err)
	}
	seg, err := ResolveOwningSegment(ctx, r.src, rule)
	if err != nil {
		return Segment{}, err
	}
	r.cache[c.ID] = seg
	return seg, nil
}
