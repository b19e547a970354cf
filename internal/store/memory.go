package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TimurManjosov/gosegmentd/internal/segments"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It keeps bare rows in maps guarded by an RWMutex and implements Atomic
// by snapshotting the whole state before the callback and restoring it on
// error. Suitable for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// memState holds the row maps. Rows are stored bare: rules carry no
// children or conditions, segments carry no rules. Tree assembly goes
// through the List methods, same as the SQL-backed store.
type memState struct {
	segments   map[int64]segments.Segment
	rules      map[int64]segments.SegmentRule
	conditions map[int64]segments.Condition
	whitelist  map[int64]segments.WhitelistedSegment

	nextSegmentID   int64
	nextRuleID      int64
	nextConditionID int64
}

func newMemState() *memState {
	return &memState{
		segments:   make(map[int64]segments.Segment),
		rules:      make(map[int64]segments.SegmentRule),
		conditions: make(map[int64]segments.Condition),
		whitelist:  make(map[int64]segments.WhitelistedSegment),
	}
}

// clone makes a shallow-per-row copy of the state. Rows are value types
// and every mutation replaces the whole row, so copying the maps is enough
// for rollback.
func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.segments {
		c.segments[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.conditions {
		c.conditions[k] = v
	}
	for k, v := range s.whitelist {
		c.whitelist[k] = v
	}
	c.nextSegmentID = s.nextSegmentID
	c.nextRuleID = s.nextRuleID
	c.nextConditionID = s.nextConditionID
	return c
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// CreateSegment inserts a new segment row.
func (m *MemoryStore) CreateSegment(ctx context.Context, params CreateSegmentParams) (segments.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createSegment(params)
}

func (s *memState) createSegment(params CreateSegmentParams) (segments.Segment, error) {
	s.nextSegmentID++
	now := time.Now().UTC()
	seg := segments.Segment{
		ID:          s.nextSegmentID,
		UUID:        uuid.New(),
		Name:        params.Name,
		Description: params.Description,
		ProjectID:   params.ProjectID,
		FeatureID:   params.FeatureID,
		Version:     params.Version,
		VersionOf:   params.VersionOf,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.segments[seg.ID] = seg
	return seg, nil
}

// SetVersionOf updates a segment's genesis pointer.
func (m *MemoryStore) SetVersionOf(ctx context.Context, id, versionOf int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.setVersionOf(id, versionOf)
}

func (s *memState) setVersionOf(id, versionOf int64) error {
	seg, ok := s.segments[id]
	if !ok {
		return ErrNotFound
	}
	seg.VersionOf = versionOf
	seg.UpdatedAt = time.Now().UTC()
	s.segments[id] = seg
	return nil
}

// GetSegment retrieves a bare segment row.
func (m *MemoryStore) GetSegment(ctx context.Context, id int64) (segments.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getSegment(id)
}

func (s *memState) getSegment(id int64) (segments.Segment, error) {
	seg, ok := s.segments[id]
	if !ok {
		return segments.Segment{}, ErrNotFound
	}
	return seg, nil
}

// ListSegments retrieves the live, non-deleted segments of a project.
func (m *MemoryStore) ListSegments(ctx context.Context, projectID int64) ([]segments.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listSegments(projectID)
}

func (s *memState) listSegments(projectID int64) ([]segments.Segment, error) {
	var result []segments.Segment
	for _, seg := range s.segments {
		if seg.ProjectID == projectID && seg.VersionOf == seg.ID && !seg.Deleted() {
			result = append(result, seg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListVersions retrieves every segment row in a version lineage.
func (m *MemoryStore) ListVersions(ctx context.Context, genesisID int64) ([]segments.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listVersions(genesisID)
}

func (s *memState) listVersions(genesisID int64) ([]segments.Segment, error) {
	var result []segments.Segment
	for _, seg := range s.segments {
		if seg.VersionOf == genesisID {
			result = append(result, seg)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Version != result[j].Version {
			return result[i].Version < result[j].Version
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// IncrementVersion bumps a segment's version via compare-and-set.
func (m *MemoryStore) IncrementVersion(ctx context.Context, id int64, fromVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.incrementVersion(id, fromVersion)
}

func (s *memState) incrementVersion(id int64, fromVersion int) error {
	seg, ok := s.segments[id]
	if !ok {
		return ErrNotFound
	}
	if seg.Version != fromVersion {
		return ErrVersionConflict
	}
	seg.Version = fromVersion + 1
	seg.UpdatedAt = time.Now().UTC()
	s.segments[id] = seg
	return nil
}

// SoftDeleteSegment marks a segment deleted.
func (m *MemoryStore) SoftDeleteSegment(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.softDeleteSegment(id, at)
}

func (s *memState) softDeleteSegment(id int64, at time.Time) error {
	seg, ok := s.segments[id]
	if !ok {
		return ErrNotFound
	}
	if seg.Deleted() {
		return nil
	}
	seg.DeletedAt = &at
	seg.UpdatedAt = at
	s.segments[id] = seg
	return nil
}

// CreateRule inserts a rule row after checking its parentage.
func (m *MemoryStore) CreateRule(ctx context.Context, rule segments.SegmentRule) (segments.SegmentRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createRule(rule)
}

func (s *memState) createRule(rule segments.SegmentRule) (segments.SegmentRule, error) {
	if err := segments.ValidateParentage(rule); err != nil {
		return segments.SegmentRule{}, err
	}
	s.nextRuleID++
	rule.ID = s.nextRuleID
	rule.Conditions = nil
	rule.Rules = nil
	s.rules[rule.ID] = rule
	return rule, nil
}

// GetRule retrieves a bare rule row.
func (m *MemoryStore) GetRule(ctx context.Context, id int64) (segments.SegmentRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getRule(id)
}

func (s *memState) getRule(id int64) (segments.SegmentRule, error) {
	rule, ok := s.rules[id]
	if !ok {
		return segments.SegmentRule{}, ErrNotFound
	}
	return rule, nil
}

// ListRootRules retrieves the rules owned directly by a segment.
func (m *MemoryStore) ListRootRules(ctx context.Context, segmentID int64) ([]segments.SegmentRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listRootRules(segmentID)
}

func (s *memState) listRootRules(segmentID int64) ([]segments.SegmentRule, error) {
	var result []segments.SegmentRule
	for _, rule := range s.rules {
		if rule.SegmentID != nil && *rule.SegmentID == segmentID {
			result = append(result, rule)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListChildRules retrieves the rules nested under a rule.
func (m *MemoryStore) ListChildRules(ctx context.Context, ruleID int64) ([]segments.SegmentRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listChildRules(ruleID)
}

func (s *memState) listChildRules(ruleID int64) ([]segments.SegmentRule, error) {
	var result []segments.SegmentRule
	for _, rule := range s.rules {
		if rule.RuleID != nil && *rule.RuleID == ruleID {
			result = append(result, rule)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DeleteRulesBySegment removes a segment's entire rule tree.
func (m *MemoryStore) DeleteRulesBySegment(ctx context.Context, segmentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteRulesBySegment(segmentID)
}

func (s *memState) deleteRulesBySegment(segmentID int64) error {
	doomed := make(map[int64]struct{})
	for id, rule := range s.rules {
		if rule.SegmentID != nil && *rule.SegmentID == segmentID {
			doomed[id] = struct{}{}
		}
	}
	for id, rule := range s.rules {
		if rule.RuleID != nil {
			if _, ok := doomed[*rule.RuleID]; ok {
				doomed[id] = struct{}{}
			}
		}
	}
	for id, cond := range s.conditions {
		if _, ok := doomed[cond.RuleID]; ok {
			delete(s.conditions, id)
		}
	}
	for id := range doomed {
		delete(s.rules, id)
	}
	return nil
}

// BulkCreateConditions inserts conditions in one batch.
func (m *MemoryStore) BulkCreateConditions(ctx context.Context, conds []segments.Condition) ([]segments.Condition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.bulkCreateConditions(conds)
}

func (s *memState) bulkCreateConditions(conds []segments.Condition) ([]segments.Condition, error) {
	created := make([]segments.Condition, 0, len(conds))
	for _, c := range conds {
		s.nextConditionID++
		c.ID = s.nextConditionID
		s.conditions[c.ID] = c
		created = append(created, c)
	}
	return created, nil
}

// ListConditions retrieves the conditions owned by a rule.
func (m *MemoryStore) ListConditions(ctx context.Context, ruleID int64) ([]segments.Condition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listConditions(ruleID)
}

func (s *memState) listConditions(ruleID int64) ([]segments.Condition, error) {
	var result []segments.Condition
	for _, c := range s.conditions {
		if c.RuleID == ruleID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CreateWhitelist records a segment as exempt from the size limit.
func (m *MemoryStore) CreateWhitelist(ctx context.Context, segmentID int64) (segments.WhitelistedSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createWhitelist(segmentID)
}

func (s *memState) createWhitelist(segmentID int64) (segments.WhitelistedSegment, error) {
	if existing, ok := s.whitelist[segmentID]; ok {
		return existing, nil
	}
	if _, ok := s.segments[segmentID]; !ok {
		return segments.WhitelistedSegment{}, ErrNotFound
	}
	now := time.Now().UTC()
	w := segments.WhitelistedSegment{SegmentID: segmentID, CreatedAt: now, UpdatedAt: now}
	s.whitelist[segmentID] = w
	return w, nil
}

// DeleteWhitelist removes a segment's exemption.
func (m *MemoryStore) DeleteWhitelist(ctx context.Context, segmentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.whitelist, segmentID)
	return nil
}

// IsWhitelisted reports whether a segment is exempt.
func (m *MemoryStore) IsWhitelisted(ctx context.Context, segmentID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.state.whitelist[segmentID]
	return ok, nil
}

// Atomic runs fn under the store's write lock against an unlocked view of
// the state. On error the pre-callback snapshot is restored, so partial
// writes never become visible.
func (m *MemoryStore) Atomic(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memTx{state: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error { return nil }

// memTx is the Store view handed to Atomic callbacks. It operates on the
// live state without locking; the outer Atomic holds the write lock for
// the whole unit of work.
type memTx struct {
	state *memState
}

func (t *memTx) CreateSegment(ctx context.Context, params CreateSegmentParams) (segments.Segment, error) {
	return t.state.createSegment(params)
}

func (t *memTx) SetVersionOf(ctx context.Context, id, versionOf int64) error {
	return t.state.setVersionOf(id, versionOf)
}

func (t *memTx) GetSegment(ctx context.Context, id int64) (segments.Segment, error) {
	return t.state.getSegment(id)
}

func (t *memTx) ListSegments(ctx context.Context, projectID int64) ([]segments.Segment, error) {
	return t.state.listSegments(projectID)
}

func (t *memTx) ListVersions(ctx context.Context, genesisID int64) ([]segments.Segment, error) {
	return t.state.listVersions(genesisID)
}

func (t *memTx) IncrementVersion(ctx context.Context, id int64, fromVersion int) error {
	return t.state.incrementVersion(id, fromVersion)
}

func (t *memTx) SoftDeleteSegment(ctx context.Context, id int64, at time.Time) error {
	return t.state.softDeleteSegment(id, at)
}

func (t *memTx) CreateRule(ctx context.Context, rule segments.SegmentRule) (segments.SegmentRule, error) {
	return t.state.createRule(rule)
}

func (t *memTx) GetRule(ctx context.Context, id int64) (segments.SegmentRule, error) {
	return t.state.getRule(id)
}

func (t *memTx) ListRootRules(ctx context.Context, segmentID int64) ([]segments.SegmentRule, error) {
	return t.state.listRootRules(segmentID)
}

func (t *memTx) ListChildRules(ctx context.Context, ruleID int64) ([]segments.SegmentRule, error) {
	return t.state.listChildRules(ruleID)
}

func (t *memTx) DeleteRulesBySegment(ctx context.Context, segmentID int64) error {
	return t.state.deleteRulesBySegment(segmentID)
}

func (t *memTx) BulkCreateConditions(ctx context.Context, conds []segments.Condition) ([]segments.Condition, error) {
	return t.state.bulkCreateConditions(conds)
}

func (t *memTx) ListConditions(ctx context.Context, ruleID int64) ([]segments.Condition, error) {
	return t.state.listConditions(ruleID)
}

func (t *memTx) CreateWhitelist(ctx context.Context, segmentID int64) (segments.WhitelistedSegment, error) {
	return t.state.createWhitelist(segmentID)
}

func (t *memTx) DeleteWhitelist(ctx context.Context, segmentID int64) error {
	delete(t.state.whitelist, segmentID)
	return nil
}

func (t *memTx) IsWhitelisted(ctx context.Context, segmentID int64) (bool, error) {
	_, ok := t.state.whitelist[segmentID]
	return ok, nil
}

// Atomic on an already-open unit of work just runs the callback: the outer
// unit owns commit and rollback.
func (t *memTx) Atomic(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

func (t *memTx) Close() error { return nil }
