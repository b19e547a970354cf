package segments

import (
	"time"

	"github.com/google/uuid"
)

// RuleKind is the boolean combinator a rule applies over its children.
type RuleKind string

// Supported rule combinators. All of them are commutative over their
// children, so no ordering is guaranteed among sibling rules or conditions.
const (
	KindAll  RuleKind = "ALL"
	KindAny  RuleKind = "ANY"
	KindNone RuleKind = "NONE"
)

// Operator represents a comparison operator used in segment conditions.
type Operator string

// Supported condition operators (string values for clean JSON serialization).
const (
	OpEqual                Operator = "EQUAL"
	OpNotEqual             Operator = "NOT_EQUAL"
	OpGreaterThan          Operator = "GREATER_THAN"
	OpGreaterThanInclusive Operator = "GREATER_THAN_INCLUSIVE"
	OpLessThan             Operator = "LESS_THAN"
	OpLessThanInclusive    Operator = "LESS_THAN_INCLUSIVE"
	OpContains             Operator = "CONTAINS"
	OpNotContains          Operator = "NOT_CONTAINS"
	OpRegex                Operator = "REGEX"
	OpIn                   Operator = "IN"
	OpIsSet                Operator = "IS_SET"
	OpIsNotSet             Operator = "IS_NOT_SET"
	OpPercentageSplit      Operator = "PERCENTAGE_SPLIT"
	OpModulo               Operator = "MODULO"
)

// MaxRuleDepth is the deepest a rule may sit below its segment: root rules
// directly on the segment, plus one level of nested rules. Anything deeper
// is a structural defect, not a supported configuration.
const MaxRuleDepth = 2

// Segment is a named, versioned audience-targeting definition. The live row
// carries the current rule tree; every structural edit snapshots the previous
// tree into a frozen historical Segment that shares the same VersionOf
// lineage.
type Segment struct {
	ID          int64      `json:"id"`
	UUID        uuid.UUID  `json:"uuid"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ProjectID   int64      `json:"projectId"`
	FeatureID   *int64     `json:"featureId,omitempty"`

	// Version starts at 1 and is bumped on the live row each time a
	// snapshot is taken. VersionOf points at the genesis row of the
	// lineage; the genesis row points at itself, so "all versions of X"
	// is a single filter on VersionOf rather than a chain walk.
	Version   int   `json:"version"`
	VersionOf int64 `json:"versionOf"`

	Rules []SegmentRule `json:"rules,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// IsGenesis reports whether s is the first row of its version lineage.
func (s *Segment) IsGenesis() bool { return s.VersionOf == s.ID }

// Deleted reports whether the segment has been soft-deleted.
func (s *Segment) Deleted() bool { return s.DeletedAt != nil }

// SegmentRule is one node of a segment's rule tree: a combinator over its
// conditions and, for root rules only, over one further level of child rules.
// Exactly one of SegmentID and RuleID must be set.
type SegmentRule struct {
	ID        int64    `json:"id"`
	Kind      RuleKind `json:"type"`
	SegmentID *int64   `json:"segmentId,omitempty"`
	RuleID    *int64   `json:"ruleId,omitempty"`

	Conditions []Condition   `json:"conditions,omitempty"`
	Rules      []SegmentRule `json:"rules,omitempty"`
}

// IsRoot reports whether the rule hangs directly off a segment.
func (r *SegmentRule) IsRoot() bool { return r.SegmentID != nil }

// Condition is a single predicate over a user attribute. Conditions have no
// lifecycle of their own: they are created and destroyed with their owning
// rule.
type Condition struct {
	ID          int64    `json:"id"`
	RuleID      int64    `json:"ruleId"`
	Operator    Operator `json:"operator"`
	Property    string   `json:"property,omitempty"`
	Value       string   `json:"value"`
	Description string   `json:"description,omitempty"`

	// CreatedWithSegment marks conditions that were part of the segment's
	// initial definition. It only affects audit wording: such conditions
	// get no standalone "added" audit entry.
	CreatedWithSegment bool `json:"createdWithSegment"`
}

// WhitelistedSegment records a segment grandfathered past the rules and
// conditions count limit. Presence of the row is the whole contract;
// whitelist entries are created and removed administratively and never
// expire on their own.
type WhitelistedSegment struct {
	SegmentID int64     `json:"segmentId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RulePayload mirrors the incoming JSON shape of a rule, before any row
// exists for it. The optional IDs are what PayloadInspector scans for: a
// payload carrying any ID references existing rows and is an in-place edit,
// not a new definition.
type RulePayload struct {
	ID         int64              `json:"id,omitempty"`
	Kind       RuleKind           `json:"type"`
	Rules      []RulePayload      `json:"rules,omitempty"`
	Conditions []ConditionPayload `json:"conditions,omitempty"`
}

// ConditionPayload mirrors the incoming JSON shape of a condition.
type ConditionPayload struct {
	ID          int64    `json:"id,omitempty"`
	Operator    Operator `json:"operator"`
	Property    string   `json:"property,omitempty"`
	Value       string   `json:"value"`
	Description string   `json:"description,omitempty"`
}
