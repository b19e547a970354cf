package store

import (
	"context"
	"errors"
	"time"

	"github.com/TimurManjosov/gosegmentd/internal/segments"
)

// Sentinel errors shared by all Store implementations.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by IncrementVersion when the live
	// row's version moved between read and write. It is retryable by the
	// caller and must never be conflated with validation failures.
	ErrVersionConflict = errors.New("segment version conflict")
)

// Store defines the persistence operations the versioning engine needs.
// Implementations must be safe for concurrent use.
//
// All mutations performed inside Atomic are all-or-nothing: if the
// callback returns an error, every row it wrote is rolled back. The
// versioning engine relies on this for clone atomicity — a half-written
// historical snapshot must never become observable.
type Store interface {
	// CreateSegment inserts a new segment row, assigning its ID, UUID
	// and timestamps. VersionOf is stored as given; a genesis segment's
	// self-reference is set afterwards via SetVersionOf, once the ID is
	// known, within the same atomic unit.
	CreateSegment(ctx context.Context, params CreateSegmentParams) (segments.Segment, error)

	// SetVersionOf updates a segment's genesis pointer.
	SetVersionOf(ctx context.Context, id, versionOf int64) error

	// GetSegment retrieves a bare segment row (no rule tree), including
	// soft-deleted and historical rows.
	GetSegment(ctx context.Context, id int64) (segments.Segment, error)

	// ListSegments retrieves the live, non-deleted segments of a
	// project. Historical rows are excluded.
	ListSegments(ctx context.Context, projectID int64) ([]segments.Segment, error)

	// ListVersions retrieves every segment row referencing the given
	// genesis, including the live row, ordered by version.
	ListVersions(ctx context.Context, genesisID int64) ([]segments.Segment, error)

	// IncrementVersion bumps a segment's version by one, but only if the
	// stored version still equals fromVersion. Returns ErrVersionConflict
	// otherwise. This compare-and-set is the lost-update guard for
	// concurrent clones of the same live row.
	IncrementVersion(ctx context.Context, id int64, fromVersion int) error

	// SoftDeleteSegment marks a segment deleted at the given time.
	// Idempotent: deleting an already-deleted row is not an error.
	SoftDeleteSegment(ctx context.Context, id int64, at time.Time) error

	// CreateRule inserts a rule row, assigning its ID. Rows with zero or
	// two parents are rejected with segments.ErrInvalidParentage.
	CreateRule(ctx context.Context, rule segments.SegmentRule) (segments.SegmentRule, error)

	// GetRule retrieves a bare rule row.
	GetRule(ctx context.Context, id int64) (segments.SegmentRule, error)

	// ListRootRules retrieves the rules owned directly by a segment.
	ListRootRules(ctx context.Context, segmentID int64) ([]segments.SegmentRule, error)

	// ListChildRules retrieves the rules nested under a rule.
	ListChildRules(ctx context.Context, ruleID int64) ([]segments.SegmentRule, error)

	// DeleteRulesBySegment removes a segment's entire rule tree: root
	// rules, nested rules and the conditions of both. Used when a new
	// definition replaces the live tree.
	DeleteRulesBySegment(ctx context.Context, segmentID int64) error

	// BulkCreateConditions inserts conditions in one batch, assigning
	// their IDs.
	BulkCreateConditions(ctx context.Context, conds []segments.Condition) ([]segments.Condition, error)

	// ListConditions retrieves the conditions owned by a rule.
	ListConditions(ctx context.Context, ruleID int64) ([]segments.Condition, error)

	// CreateWhitelist records a segment as exempt from the rules and
	// conditions limit. Idempotent.
	CreateWhitelist(ctx context.Context, segmentID int64) (segments.WhitelistedSegment, error)

	// DeleteWhitelist removes a segment's exemption. Idempotent.
	DeleteWhitelist(ctx context.Context, segmentID int64) error

	// IsWhitelisted reports whether a segment is exempt from the rules
	// and conditions limit.
	IsWhitelisted(ctx context.Context, segmentID int64) (bool, error)

	// Atomic runs fn as one all-or-nothing unit of work against the
	// Store passed to it. A non-nil error from fn rolls back everything
	// written inside the unit.
	Atomic(ctx context.Context, fn func(Store) error) error

	// Close releases any resources held by the store.
	Close() error
}

// CreateSegmentParams contains the parameters for inserting a segment row.
type CreateSegmentParams struct {
	Name        string
	Description string
	ProjectID   int64
	FeatureID   *int64
	Version     int
	VersionOf   int64 // 0 for a genesis row; set via SetVersionOf after insert
}

// LoadTree populates a segment's full rule tree from the store: root rules,
// one level of child rules, and the conditions of both.
func LoadTree(ctx context.Context, s Store, seg *segments.Segment) error {
	roots, err := s.ListRootRules(ctx, seg.ID)
	if err != nil {
		return err
	}
	for i := range roots {
		if err := loadRule(ctx, s, &roots[i], true); err != nil {
			return err
		}
	}
	seg.Rules = roots
	return nil
}

func loadRule(ctx context.Context, s Store, rule *segments.SegmentRule, withChildren bool) error {
	conds, err := s.ListConditions(ctx, rule.ID)
	if err != nil {
		return err
	}
	rule.Conditions = conds

	if !withChildren {
		return nil
	}
	children, err := s.ListChildRules(ctx, rule.ID)
	if err != nil {
		return err
	}
	for i := range children {
		if err := loadRule(ctx, s, &children[i], false); err != nil {
			return err
		}
	}
	rule.Rules = children
	return nil
}
