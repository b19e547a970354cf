// Package versioning implements copy-on-write versioning of segment
// definitions: deciding when an edit needs a point-in-time snapshot and
// performing the recursive deep clone that takes one.
package versioning

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/gosegmentd/internal/segments"
	"github.com/TimurManjosov/gosegmentd/internal/store"
	"github.com/TimurManjosov/gosegmentd/internal/telemetry"
)

// Engine performs deep clones of live segment trees. It must run inside
// an atomic store unit: it mutates the live row (version bump) alongside
// the rows it creates, and the caller commits or rolls back both together.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a clone engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log}
}

// DeepClone snapshots the live segment's entire current rule tree into a
// new frozen segment row and bumps the live row's version. The snapshot
// carries the version number the live segment had before this edit; the
// returned segment has its full tree populated.
//
// Any structural defect found in the stored tree (a rule nested three
// levels down, a rule-count mismatch after cloning) aborts with an error;
// the surrounding atomic unit guarantees no partial snapshot survives.
func (e *Engine) DeepClone(ctx context.Context, s store.Store, live segments.Segment) (segments.Segment, error) {
	start := time.Now()

	snapshot, err := s.CreateSegment(ctx, store.CreateSegmentParams{
		Name:        live.Name,
		Description: live.Description,
		ProjectID:   live.ProjectID,
		FeatureID:   live.FeatureID,
		Version:     live.Version,
		VersionOf:   live.ID,
	})
	if err != nil {
		return segments.Segment{}, fmt.Errorf("create snapshot segment: %w", err)
	}

	// The bump is a compare-and-set against the version we read; losing
	// the race to a concurrent edit of the same segment surfaces as
	// ErrVersionConflict and rolls the whole clone back.
	if err := s.IncrementVersion(ctx, live.ID, live.Version); err != nil {
		return segments.Segment{}, err
	}

	roots, err := s.ListRootRules(ctx, live.ID)
	if err != nil {
		return segments.Segment{}, fmt.Errorf("list root rules of segment %d: %w", live.ID, err)
	}

	for _, root := range roots {
		if err := e.cloneRootRule(ctx, s, root, snapshot.ID); err != nil {
			return segments.Segment{}, err
		}
	}

	snapshotRoots, err := s.ListRootRules(ctx, snapshot.ID)
	if err != nil {
		return segments.Segment{}, fmt.Errorf("list root rules of snapshot %d: %w", snapshot.ID, err)
	}
	if len(snapshotRoots) != len(roots) {
		telemetry.StructuralFailures.Inc()
		e.log.Error().
			Int64("segment_id", live.ID).
			Int("live_rules", len(roots)).
			Int("snapshot_rules", len(snapshotRoots)).
			Msg("rule count mismatch after clone")
		return segments.Segment{}, fmt.Errorf("%w: segment %d has %d rules, snapshot %d has %d",
			segments.ErrCloneMismatch, live.ID, len(roots), snapshot.ID, len(snapshotRoots))
	}

	if err := store.LoadTree(ctx, s, &snapshot); err != nil {
		return segments.Segment{}, fmt.Errorf("load snapshot tree: %w", err)
	}

	telemetry.SnapshotsTaken.Inc()
	telemetry.CloneDuration.Observe(time.Since(start).Seconds())
	return snapshot, nil
}

// cloneRootRule copies one root rule, its conditions, and its child rules
// onto the snapshot segment.
func (e *Engine) cloneRootRule(ctx context.Context, s store.Store, root segments.SegmentRule, snapshotID int64) error {
	if !root.IsRoot() {
		return fmt.Errorf("%w: rule %d listed as root but has a rule parent",
			segments.ErrInvalidParentage, root.ID)
	}

	newRoot, err := s.CreateRule(ctx, segments.SegmentRule{Kind: root.Kind, SegmentID: &snapshotID})
	if err != nil {
		return fmt.Errorf("clone rule %d: %w", root.ID, err)
	}

	if err := e.cloneConditions(ctx, s, root.ID, newRoot.ID); err != nil {
		return err
	}

	children, err := s.ListChildRules(ctx, root.ID)
	if err != nil {
		return fmt.Errorf("list child rules of rule %d: %w", root.ID, err)
	}
	for _, child := range children {
		grandchildren, err := s.ListChildRules(ctx, child.ID)
		if err != nil {
			return fmt.Errorf("list child rules of rule %d: %w", child.ID, err)
		}
		if len(grandchildren) > 0 {
			// The stored tree is deeper than the model allows. Cloning
			// only the first two levels would silently drop targeting
			// rules from the snapshot, so this aborts instead.
			telemetry.StructuralFailures.Inc()
			e.log.Error().
				Int64("rule_id", child.ID).
				Int("grandchildren", len(grandchildren)).
				Msg("expected two layers of rules, not more")
			return fmt.Errorf("%w: rule %d owns nested rules at depth 3",
				segments.ErrStructuralDepth, child.ID)
		}

		newChild, err := s.CreateRule(ctx, segments.SegmentRule{Kind: child.Kind, RuleID: &newRoot.ID})
		if err != nil {
			return fmt.Errorf("clone rule %d: %w", child.ID, err)
		}
		if err := e.cloneConditions(ctx, s, child.ID, newChild.ID); err != nil {
			return err
		}
	}

	return nil
}

// cloneConditions copies every condition of fromRule verbatim, re-parented
// to toRule, in one bulk insert.
func (e *Engine) cloneConditions(ctx context.Context, s store.Store, fromRule, toRule int64) error {
	conds, err := s.ListConditions(ctx, fromRule)
	if err != nil {
		return fmt.Errorf("list conditions of rule %d: %w", fromRule, err)
	}
	if len(conds) == 0 {
		return nil
	}

	clones := make([]segments.Condition, 0, len(conds))
	for _, c := range conds {
		clones = append(clones, segments.Condition{
			RuleID:             toRule,
			Operator:           c.Operator,
			Property:           c.Property,
			Value:              c.Value,
			Description:        c.Description,
			CreatedWithSegment: c.CreatedWithSegment,
		})
	}
	if _, err := s.BulkCreateConditions(ctx, clones); err != nil {
		return fmt.Errorf("clone conditions of rule %d: %w", fromRule, err)
	}
	return nil
}
