package versioning

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/gosegmentd/internal/audit"
	"github.com/TimurManjosov/gosegmentd/internal/authz"
	"github.com/TimurManjosov/gosegmentd/internal/segments"
	"github.com/TimurManjosov/gosegmentd/internal/store"
)

// Service exposes the segment definition operations to callers: creating
// segments, submitting new definitions (with copy-on-write versioning),
// deleting, and whitelist administration. Each mutation runs as one atomic
// store unit; a failure leaves every row exactly as it was.
type Service struct {
	store  store.Store
	engine *Engine
	authz  authz.Decider
	audit  *audit.Service
	log    zerolog.Logger
	limits segments.Limits
}

// NewService wires the service. limits carries the configured condition
// value and definition size bounds.
func NewService(st store.Store, decider authz.Decider, auditSvc *audit.Service, log zerolog.Logger, limits segments.Limits) *Service {
	return &Service{
		store:  st,
		engine: NewEngine(log),
		authz:  decider,
		audit:  auditSvc,
		log:    log,
		limits: limits,
	}
}

// CreateParams describes a new segment.
type CreateParams struct {
	Name        string
	Description string
	ProjectID   int64
	FeatureID   *int64
	Rules       []segments.RulePayload
}

// SubmitResult is returned by SubmitDefinition: the updated live segment
// with its new tree, and the id of the historical snapshot when one was
// taken.
type SubmitResult struct {
	Live       segments.Segment
	SnapshotID *int64
}

// CreateSegment creates a live segment at version 1 with its rule tree.
// The genesis self-reference is set in a second step once the row id is
// known, inside the same atomic unit, so no intermediate state is
// observable.
func (s *Service) CreateSegment(ctx context.Context, actor authz.Actor, params CreateParams) (segments.Segment, error) {
	if err := segments.ValidateName(params.Name); err != nil {
		return segments.Segment{}, err
	}
	if err := segments.ValidatePayload(params.Rules, s.limits); err != nil {
		return segments.Segment{}, err
	}

	var created segments.Segment
	err := s.store.Atomic(ctx, func(tx store.Store) error {
		seg, err := tx.CreateSegment(ctx, store.CreateSegmentParams{
			Name:        params.Name,
			Description: params.Description,
			ProjectID:   params.ProjectID,
			FeatureID:   params.FeatureID,
			Version:     1,
		})
		if err != nil {
			return err
		}
		if err := tx.SetVersionOf(ctx, seg.ID, seg.ID); err != nil {
			return err
		}
		seg.VersionOf = seg.ID

		if err := createTree(ctx, tx, seg.ID, params.Rules, true); err != nil {
			return err
		}
		if err := store.LoadTree(ctx, tx, &seg); err != nil {
			return err
		}
		created = seg
		return nil
	})
	if err != nil {
		return segments.Segment{}, err
	}

	s.audit.Record(segments.SegmentCreatedMessage(created), created.ID, created.ProjectID)
	return created, nil
}

// SubmitDefinition applies an incoming rule-tree payload to the live
// segment. Payloads carrying no ids are structurally new definitions: the
// current tree is snapshotted into a frozen historical version before the
// new tree replaces it. Payloads referencing existing rows are in-place
// edits and take no snapshot.
//
// Only the genesis row of a lineage accepts edits. Historical snapshots
// are frozen: they are not served for mutation, same as deleted rows.
func (s *Service) SubmitDefinition(ctx context.Context, actor authz.Actor, segmentID int64, payload []segments.RulePayload) (SubmitResult, error) {
	var result SubmitResult
	var messages []string

	err := s.store.Atomic(ctx, func(tx store.Store) error {
		live, err := tx.GetSegment(ctx, segmentID)
		if err != nil {
			return err
		}
		if live.Deleted() || !live.IsGenesis() {
			return store.ErrNotFound
		}
		if !s.authz.CanModifySegment(ctx, actor, live) {
			return authz.ErrDenied
		}

		limits := s.limits
		limits.Exempt, err = tx.IsWhitelisted(ctx, live.ID)
		if err != nil {
			return err
		}
		if err := segments.ValidatePayload(payload, limits); err != nil {
			return err
		}

		inPlace := segments.ContainsIdentifier(payload)
		if !inPlace {
			snapshot, err := s.engine.DeepClone(ctx, tx, live)
			if err != nil {
				return err
			}
			result.SnapshotID = &snapshot.ID
			live.Version++
		}

		messages, err = conditionChangeMessages(ctx, tx, live, payload, inPlace)
		if err != nil {
			return err
		}

		if err := tx.DeleteRulesBySegment(ctx, live.ID); err != nil {
			return err
		}
		if err := createTree(ctx, tx, live.ID, payload, false); err != nil {
			return err
		}
		if err := store.LoadTree(ctx, tx, &live); err != nil {
			return err
		}
		result.Live = live
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	s.audit.Record(segments.SegmentUpdatedMessage(result.Live), result.Live.ID, result.Live.ProjectID)
	for _, msg := range messages {
		s.audit.Record(msg, result.Live.ID, result.Live.ProjectID)
	}
	return result, nil
}

// DeleteSegment soft-deletes the live segment and cascades the marker to
// its historical versions. Rows referenced by history are never removed.
func (s *Service) DeleteSegment(ctx context.Context, actor authz.Actor, segmentID int64) error {
	var deleted segments.Segment
	err := s.store.Atomic(ctx, func(tx store.Store) error {
		live, err := tx.GetSegment(ctx, segmentID)
		if err != nil {
			return err
		}
		if live.Deleted() || !live.IsGenesis() {
			return store.ErrNotFound
		}
		if !s.authz.CanModifySegment(ctx, actor, live) {
			return authz.ErrDenied
		}

		now := time.Now().UTC()
		versions, err := tx.ListVersions(ctx, live.VersionOf)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if err := tx.SoftDeleteSegment(ctx, v.ID, now); err != nil {
				return err
			}
		}
		deleted = live
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.Record(segments.SegmentDeletedMessage(deleted), deleted.ID, deleted.ProjectID)
	return nil
}

// GetSegment retrieves a segment with its full rule tree. Historical
// versions are retrievable by id like any other row.
func (s *Service) GetSegment(ctx context.Context, segmentID int64) (segments.Segment, error) {
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return segments.Segment{}, err
	}
	if err := store.LoadTree(ctx, s.store, &seg); err != nil {
		return segments.Segment{}, err
	}
	return seg, nil
}

// ListSegments retrieves the live segments of a project, trees excluded.
func (s *Service) ListSegments(ctx context.Context, projectID int64) ([]segments.Segment, error) {
	return s.store.ListSegments(ctx, projectID)
}

// ListVersions retrieves the full version lineage of a segment, ordered
// by version.
func (s *Service) ListVersions(ctx context.Context, segmentID int64) ([]segments.Segment, error) {
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, seg.VersionOf)
}

// Whitelist exempts a segment from the definition size limit.
func (s *Service) Whitelist(ctx context.Context, actor authz.Actor, segmentID int64) (segments.WhitelistedSegment, error) {
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return segments.WhitelistedSegment{}, err
	}
	if !seg.IsGenesis() {
		return segments.WhitelistedSegment{}, store.ErrNotFound
	}
	if !s.authz.CanModifySegment(ctx, actor, seg) {
		return segments.WhitelistedSegment{}, authz.ErrDenied
	}
	return s.store.CreateWhitelist(ctx, segmentID)
}

// Unwhitelist removes a segment's size-limit exemption.
func (s *Service) Unwhitelist(ctx context.Context, actor authz.Actor, segmentID int64) error {
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	if !seg.IsGenesis() {
		return store.ErrNotFound
	}
	if !s.authz.CanModifySegment(ctx, actor, seg) {
		return authz.ErrDenied
	}
	return s.store.DeleteWhitelist(ctx, segmentID)
}

// createTree persists a payload tree under the segment. Depth has already
// been validated, so this only walks two levels.
func createTree(ctx context.Context, tx store.Store, segmentID int64, rules []segments.RulePayload, withSegment bool) error {
	for _, r := range rules {
		root, err := tx.CreateRule(ctx, segments.SegmentRule{Kind: r.Kind, SegmentID: &segmentID})
		if err != nil {
			return err
		}
		if err := createConditions(ctx, tx, root.ID, r.Conditions, withSegment); err != nil {
			return err
		}
		for _, child := range r.Rules {
			sub, err := tx.CreateRule(ctx, segments.SegmentRule{Kind: child.Kind, RuleID: &root.ID})
			if err != nil {
				return err
			}
			if err := createConditions(ctx, tx, sub.ID, child.Conditions, withSegment); err != nil {
				return err
			}
		}
	}
	return nil
}

func createConditions(ctx context.Context, tx store.Store, ruleID int64, conds []segments.ConditionPayload, withSegment bool) error {
	if len(conds) == 0 {
		return nil
	}
	rows := make([]segments.Condition, 0, len(conds))
	for _, c := range conds {
		rows = append(rows, segments.Condition{
			RuleID:             ruleID,
			Operator:           c.Operator,
			Property:           c.Property,
			Value:              c.Value,
			Description:        c.Description,
			CreatedWithSegment: withSegment,
		})
	}
	_, err := tx.BulkCreateConditions(ctx, rows)
	return err
}

// conditionChangeMessages generates per-condition audit lines for an
// in-place edit by diffing payload condition ids against the stored tree.
// A new-definition submit gets no per-condition lines: the snapshot plus
// the segment-updated entry cover it. Owning segments for stored
// conditions are resolved by walking the rule chain, so wording reflects
// the row the condition actually hangs off rather than the submit target.
func conditionChangeMessages(ctx context.Context, tx store.Store, live segments.Segment, payload []segments.RulePayload, inPlace bool) ([]string, error) {
	if !inPlace {
		return nil, nil
	}

	existing, err := collectConditions(ctx, tx, live.ID)
	if err != nil {
		return nil, err
	}

	resolver := segments.NewSegmentResolver(tx)
	payloadIDs := make(map[int64]struct{})
	var messages []string
	var resolveErr error
	walkPayloadConditions(payload, func(c segments.ConditionPayload) {
		if resolveErr != nil {
			return
		}
		if c.ID == 0 {
			messages = append(messages, segments.ConditionAddedMessage(segments.Condition{}, live))
			return
		}
		payloadIDs[c.ID] = struct{}{}
		cond, ok := existing[c.ID]
		if !ok {
			return
		}
		owner, err := resolver.ForCondition(ctx, cond)
		if err != nil {
			resolveErr = err
			return
		}
		messages = append(messages, segments.ConditionUpdatedMessage(owner))
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	for id, cond := range existing {
		if _, ok := payloadIDs[id]; ok {
			continue
		}
		owner, err := resolver.ForCondition(ctx, cond)
		if err != nil {
			return nil, err
		}
		if msg := segments.ConditionRemovedMessage(owner); msg != "" {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func collectConditions(ctx context.Context, tx store.Store, segmentID int64) (map[int64]segments.Condition, error) {
	conditions := make(map[int64]segments.Condition)
	roots, err := tx.ListRootRules(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		conds, err := tx.ListConditions(ctx, root.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range conds {
			conditions[c.ID] = c
		}
		children, err := tx.ListChildRules(ctx, root.ID)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			conds, err := tx.ListConditions(ctx, child.ID)
			if err != nil {
				return nil, err
			}
			for _, c := range conds {
				conditions[c.ID] = c
			}
		}
	}
	return conditions, nil
}

func walkPayloadConditions(rules []segments.RulePayload, fn func(segments.ConditionPayload)) {
	for _, r := range rules {
		for _, c := range r.Conditions {
			fn(c)
		}
		walkPayloadConditions(r.Rules, fn)
	}
}

// String satisfies fmt.Stringer for readable SubmitResult logging.
func (r SubmitResult) String() string {
	if r.SnapshotID != nil {
		return fmt.Sprintf("segment %d at version %d (snapshot %d taken)", r.Live.ID, r.Live.Version, *r.SnapshotID)
	}
	return fmt.Sprintf("segment %d at version %d (edited in place)", r.Live.ID, r.Live.Version)
}
