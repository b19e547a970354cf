package segments

import "fmt"

// Audit message templates. The wording is part of the external contract
// with the audit collaborator and must not drift.
const (
	segmentCreatedMessage   = "%s created"
	segmentUpdatedMessage   = "%s updated"
	segmentDeletedMessage   = "%s deleted"
	conditionAddedMessage   = "Condition added to segment '%s'."
	conditionRemovedMessage = "Condition removed from segment '%s'."
	conditionUpdatedMessage = "Condition updated on segment '%s'."
)

// SegmentCreatedMessage returns the audit line for a newly created segment.
func SegmentCreatedMessage(s Segment) string {
	return fmt.Sprintf(segmentCreatedMessage, s.Name)
}

// SegmentUpdatedMessage returns the audit line for an updated segment.
func SegmentUpdatedMessage(s Segment) string {
	return fmt.Sprintf(segmentUpdatedMessage, s.Name)
}

// SegmentDeletedMessage returns the audit line for a deleted segment.
func SegmentDeletedMessage(s Segment) string {
	return fmt.Sprintf(segmentDeletedMessage, s.Name)
}

// ConditionAddedMessage returns the audit line for a condition added after
// segment creation, or "" for conditions created together with their
// segment, which get no standalone entry.
func ConditionAddedMessage(c Condition, owner Segment) string {
	if c.CreatedWithSegment {
		return ""
	}
	return fmt.Sprintf(conditionAddedMessage, owner.Name)
}

// ConditionRemovedMessage returns the audit line for a removed condition,
// or "" when the owning segment is itself already deleted: the segment
// deletion entry covers the cascade.
func ConditionRemovedMessage(owner Segment) string {
	if owner.Deleted() {
		return ""
	}
	return fmt.Sprintf(conditionRemovedMessage, owner.Name)
}

// ConditionUpdatedMessage returns the audit line for an updated condition.
func ConditionUpdatedMessage(owner Segment) string {
	return fmt.Sprintf(conditionUpdatedMessage, owner.Name)
}
