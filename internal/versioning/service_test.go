package versioning_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/gosegmentd/internal/audit"
	"github.com/TimurManjosov/gosegmentd/internal/authz"
	"github.com/TimurManjosov/gosegmentd/internal/segments"
	"github.com/TimurManjosov/gosegmentd/internal/store"
	"github.com/TimurManjosov/gosegmentd/internal/testutil"
	"github.com/TimurManjosov/gosegmentd/internal/versioning"
)

var admin = authz.Actor{ID: "admin", Role: authz.RoleAdmin}

func betaUsersRules(t *testing.T) []segments.RulePayload {
	t.Helper()
	const raw = `[
		{
			"type": "ALL",
			"conditions": [{"operator": "EQUAL", "property": "plan", "value": "beta"}],
			"rules": [
				{
					"type": "ANY",
					"conditions": [
						{"operator": "GREATER_THAN", "property": "age", "value": "18"},
						{"operator": "IN", "property": "country", "value": "GB,US"}
					]
				}
			]
		}
	]`
	var rules []segments.RulePayload
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		t.Fatalf("parse rules: %v", err)
	}
	return rules
}

func mustCreate(t *testing.T, svc *versioning.Service, name string, rules []segments.RulePayload) segments.Segment {
	t.Helper()
	seg, err := svc.CreateSegment(context.Background(), admin, versioning.CreateParams{
		Name:      name,
		ProjectID: 1,
		Rules:     rules,
	})
	if err != nil {
		t.Fatalf("create segment: %v", err)
	}
	return seg
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestService_CreateSegment(t *testing.T) {
	svc, _, sink := testutil.NewTestService(t)
	seg := mustCreate(t, svc, "Beta users", betaUsersRules(t))

	if seg.Version != 1 {
		t.Errorf("version = %d, want 1", seg.Version)
	}
	if !seg.IsGenesis() {
		t.Errorf("VersionOf = %d, want self (%d)", seg.VersionOf, seg.ID)
	}
	if len(seg.Rules) != 1 || len(seg.Rules[0].Rules) != 1 {
		t.Fatalf("tree shape = %+v", seg.Rules)
	}
	for _, c := range seg.Rules[0].Conditions {
		if !c.CreatedWithSegment {
			t.Error("root condition missing CreatedWithSegment")
		}
	}

	records := testutil.WaitForRecords(t, sink, 1)
	if records[0].Message != "Beta users created" {
		t.Errorf("audit message = %q, want %q", records[0].Message, "Beta users created")
	}
	if records[0].SegmentID != seg.ID || records[0].ProjectID != 1 {
		t.Errorf("audit ids = (%d, %d)", records[0].SegmentID, records[0].ProjectID)
	}
}

func TestService_CreateSegmentValidation(t *testing.T) {
	svc, _, _ := testutil.NewTestService(t)
	ctx := context.Background()

	_, err := svc.CreateSegment(ctx, admin, versioning.CreateParams{Name: "", ProjectID: 1})
	if !errors.Is(err, segments.ErrNameRequired) {
		t.Errorf("empty name: got %v, want ErrNameRequired", err)
	}

	_, err = svc.CreateSegment(ctx, admin, versioning.CreateParams{
		Name:      "bad",
		ProjectID: 1,
		Rules:     []segments.RulePayload{{Kind: "SOME"}},
	})
	if !errors.Is(err, segments.ErrInvalidKind) {
		t.Errorf("bad kind: got %v, want ErrInvalidKind", err)
	}
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

func TestService_SubmitNewDefinitionTakesSnapshot(t *testing.T) {
	svc, st, _ := testutil.NewTestService(t)
	seg := mustCreate(t, svc, "Beta users", betaUsersRules(t))
	ctx := context.Background()

	// No ids anywhere in the payload: a structurally new definition.
	replacement := []segments.RulePayload{{
		Kind: segments.KindAny,
		Conditions: []segments.ConditionPayload{
			{Operator: segments.OpPercentageSplit, Value: "25"},
		},
	}}

	result, err := svc.SubmitDefinition(ctx, admin, seg.ID, replacement)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.SnapshotID == nil {
		t.Fatal("SnapshotID = nil, want snapshot")
	}
	if result.Live.Version != 2 {
		t.Errorf("live version = %d, want 2", result.Live.Version)
	}
	if len(result.Live.Rules) != 1 || result.Live.Rules[0].Kind != segments.KindAny {
		t.Errorf("live tree = %+v", result.Live.Rules)
	}

	// The snapshot froze the pre-edit tree at the pre-edit version.
	snapshot, err := svc.GetSegment(ctx, *result.SnapshotID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snapshot.Version != 1 {
		t.Errorf("snapshot version = %d, want 1", snapshot.Version)
	}
	if snapshot.VersionOf != seg.ID {
		t.Errorf("snapshot VersionOf = %d, want %d", snapshot.VersionOf, seg.ID)
	}
	if len(snapshot.Rules) != 1 || snapshot.Rules[0].Kind != segments.KindAll {
		t.Fatalf("snapshot tree = %+v", snapshot.Rules)
	}
	if len(snapshot.Rules[0].Rules) != 1 || len(snapshot.Rules[0].Rules[0].Conditions) != 2 {
		t.Errorf("snapshot nested tree = %+v", snapshot.Rules[0].Rules)
	}

	versions, err := st.ListVersions(ctx, seg.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("lineage rows = %d, want 2", len(versions))
	}
}

func TestService_SubmitInPlaceEditSkipsSnapshot(t *testing.T) {
	svc, st, _ := testutil.NewTestService(t)
	seg := mustCreate(t, svc, "Beta users", betaUsersRules(t))
	ctx := context.Background()

	// Reference an existing condition id: an in-place edit.
	existingCond := seg.Rules[0].Conditions[0]
	payload := []segments.RulePayload{{
		Kind: segments.KindAll,
		Conditions: []segments.ConditionPayload{
			{ID: existingCond.ID, Operator: segments.OpEqual, Property: "plan", Value: "beta2"},
		},
	}}

	result, err := svc.SubmitDefinition(ctx, admin, seg.ID, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.SnapshotID != nil {
		t.Errorf("SnapshotID = %d, want none for in-place edit", *result.SnapshotID)
	}
	if result.Live.Version != 1 {
		t.Errorf("live version = %d, want 1 (no bump)", result.Live.Version)
	}

	versions, _ := st.ListVersions(ctx, seg.ID)
	if len(versions) != 1 {
		t.Errorf("lineage rows = %d, want 1", len(versions))
	}
	got, _ := svc.GetSegment(ctx, seg.ID)
	if len(got.Rules) != 1 || got.Rules[0].Conditions[0].Value != "beta2" {
		t.Errorf("live tree = %+v", got.Rules)
	}
}

func TestService_SubmitInPlaceAuditMessages(t *testing.T) {
	svc, _, sink := testutil.NewTestService(t)
	seg := mustCreate(t, svc, "Beta users", betaUsersRules(t))
	ctx := context.Background()

	keep := seg.Rules[0].Conditions[0]
	// Keep one existing condition (updated), add one id-free condition
	// (added), drop the two nested ones (removed).
	payload := []segments.RulePayload{{
		Kind: segments.KindAll,
		Conditions: []segments.ConditionPayload{
			{ID: keep.ID, Operator: segments.OpEqual, Property: "plan", Value: "beta"},
			{Operator: segments.OpIsSet, Property: "email", Value: ""},
		},
	}}

	if _, err := svc.SubmitDefinition(ctx, admin, seg.ID, payload); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// 1 created + 1 updated + 4 condition lines.
	records := testutil.WaitForRecords(t, sink, 6)
	counts := map[string]int{}
	for _, r := range records[1:] {
		counts[r.Message]++
	}
	wantCounts := map[string]int{
		"Beta users updated":                           1,
		"Condition added to segment 'Beta users'.":     1,
		"Condition updated on segment 'Beta users'.":   1,
		"Condition removed from segment 'Beta users'.": 2,
	}
	for msg, want := range wantCounts {
		if counts[msg] != want {
			t.Errorf("message %q recorded %d times, want %d", msg, counts[msg], want)
		}
	}
}

func TestService_SubmitWhitelistedSegmentBypassesSizeLimit(t *testing.T) {
	svc, _, _ := testutil.NewTestService(t)
	seg := mustCreate(t, svc, "Big", nil)
	ctx := context.Background()

	// One rule + conditions beyond the configured limit.
	over := testutil.DefaultLimits.RulesConditionsLimit
	conds := make([]segments.ConditionPayload, over)
	for i := range conds {
		conds[i] = segments.ConditionPayload{
			Operator: segments.OpEqual,
			Property: fmt.Sprintf("p%d", i),
			Value:    "v",
		}
	}
	payload := []segments.RulePayload{{Kind: segments.KindAll, Conditions: conds}}

	if _, err := svc.SubmitDefinition(ctx, admin, seg.ID, payload); !errors.Is(err, segments.ErrDefinitionTooLarge) {
		t.Fatalf("oversized submit: got %v, want ErrDefinitionTooLarge", err)
	}

	if _, err := svc.Whitelist(ctx, admin, seg.ID); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if _, err := svc.SubmitDefinition(ctx, admin, seg.ID, payload); err != nil {
		t.Fatalf("whitelisted submit: %v", err)
	}

	if err := svc.Unwhitelist(ctx, admin, seg.ID); err != nil {
		t.Fatalf("unwhitelist: %v", err)
	}
	if _, err := svc.SubmitDefinition(ctx, admin, seg.ID, payload); !errors.Is(err, segments.ErrDefinitionTooLarge) {
		t.Fatalf("post-unwhitelist submit: got %v, want ErrDefinitionTooLarge", err)
	}
}

func TestService_SubmitMissingSegment(t *testing.T) {
	svc, _, _ := testutil.NewTestService(t)
	_, err := svc.SubmitDefinition(context.Background(), admin, 12345, betaUsersRules(t))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestService_HistoricalRowsRejectMutation(t *testing.T) {
	svc, _, _ := testutil.NewTestService(t)
	seg := mustCreate(t, svc, "Frozen", betaUsersRules(t))
	ctx := context.Background()

	replacement := []segments.RulePayload{{
		Kind: segments.KindAny,
		Conditions: []segments.ConditionPayload{
			{Operator: segments.OpPercentageSplit, Value: "25"},
		},
	}}
	result, err := svc.SubmitDefinition(ctx, admin, seg.ID, replacement)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.SnapshotID == nil {
		t.Fatal("SnapshotID = nil, want snapshot")
	}
	snapshotID := *result.SnapshotID

	// A snapshot is not a mutation target. Submitting against its id must
	// not fork a second lineage or touch the frozen tree.
	if _, err := svc.SubmitDefinition(ctx, admin, snapshotID, replacement); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("submit against snapshot: got %v, want ErrNotFound", err)
	}
	if err := svc.DeleteSegment(ctx, admin, snapshotID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("delete against snapshot: got %v, want ErrNotFound", err)
	}
	if _, err := svc.Whitelist(ctx, admin, snapshotID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("whitelist against snapshot: got %v, want ErrNotFound", err)
	}
	if err := svc.Unwhitelist(ctx, admin, snapshotID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unwhitelist against snapshot: got %v, want ErrNotFound", err)
	}

	snapshot, err := svc.GetSegment(ctx, snapshotID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snapshot.Version != 1 {
		t.Errorf("snapshot version = %d, want 1", snapshot.Version)
	}
	if snapshot.VersionOf != seg.ID {
		t.Errorf("snapshot VersionOf = %d, want %d", snapshot.VersionOf, seg.ID)
	}
	if len(snapshot.Rules) != 1 || snapshot.Rules[0].Kind != segments.KindAll {
		t.Errorf("snapshot tree = %+v", snapshot.Rules)
	}
}

func TestService_SubmitDeniedLeavesStateUntouched(t *testing.T) {
	memStore := store.NewMemoryStore()
	sink := audit.NewMemorySink()
	auditSvc := audit.NewService(sink, nil, zerolog.Nop(), 64)
	t.Cleanup(func() { _ = auditSvc.Close() })

	// Build with a permissive service, then submit through a deny-all one.
	open := versioning.NewService(memStore, authz.AllowAll{}, auditSvc, zerolog.Nop(), testutil.DefaultLimits)
	seg, err := open.CreateSegment(context.Background(), admin, versioning.CreateParams{
		Name: "Locked", ProjectID: 1, Rules: betaUsersRules(t),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	locked := versioning.NewService(memStore, authz.RoleDecider{}, auditSvc, zerolog.Nop(), testutil.DefaultLimits)
	reader := authz.Actor{ID: "viewer", Role: authz.RoleReader}
	_, err = locked.SubmitDefinition(context.Background(), reader, seg.ID, nil)
	if !errors.Is(err, authz.ErrDenied) {
		t.Fatalf("reader submit: got %v, want ErrDenied", err)
	}

	got, _ := open.GetSegment(context.Background(), seg.ID)
	if got.Version != 1 || len(got.Rules) != 1 {
		t.Errorf("segment changed by denied submit: v%d, %d rules", got.Version, len(got.Rules))
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestService_DeleteCascadesToVersions(t *testing.T) {
	svc, st, sink := testutil.NewTestService(t)
	seg := mustCreate(t, svc, "Doomed", betaUsersRules(t))
	ctx := context.Background()

	// Take two snapshots first.
	for i := 0; i < 2; i++ {
		if _, err := svc.SubmitDefinition(ctx, admin, seg.ID, betaUsersRules(t)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if err := svc.DeleteSegment(ctx, admin, seg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	versions, _ := st.ListVersions(ctx, seg.ID)
	if len(versions) != 3 {
		t.Fatalf("lineage rows = %d, want 3", len(versions))
	}
	for _, v := range versions {
		if !v.Deleted() {
			t.Errorf("version %d (row %d) not soft-deleted", v.Version, v.ID)
		}
	}

	// Gone from project listings but still retrievable by id.
	live, _ := st.ListSegments(ctx, 1)
	if len(live) != 0 {
		t.Errorf("ListSegments = %v after delete", live)
	}
	if _, err := svc.GetSegment(ctx, seg.ID); err != nil {
		t.Errorf("GetSegment after delete: %v", err)
	}

	// Repeat delete is a not-found, not a second cascade.
	if err := svc.DeleteSegment(ctx, admin, seg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("repeat delete: got %v, want ErrNotFound", err)
	}

	records := testutil.WaitForRecords(t, sink, 1)
	var sawDeleted bool
	for _, r := range records {
		if r.Message == "Doomed deleted" {
			sawDeleted = true
		}
		if strings.HasPrefix(r.Message, "Condition removed") {
			t.Errorf("unexpected condition-removed entry during delete: %q", r.Message)
		}
	}
	if !sawDeleted {
		t.Error("no 'Doomed deleted' audit entry")
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestService_ListVersionsFromAnyRow(t *testing.T) {
	svc, _, _ := testutil.NewTestService(t)
	seg := mustCreate(t, svc, "Seg", betaUsersRules(t))
	ctx := context.Background()

	result, err := svc.SubmitDefinition(ctx, admin, seg.ID, betaUsersRules(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The lineage is reachable through the live row and through a snapshot.
	fromLive, err := svc.ListVersions(ctx, seg.ID)
	if err != nil {
		t.Fatalf("list from live: %v", err)
	}
	fromSnapshot, err := svc.ListVersions(ctx, *result.SnapshotID)
	if err != nil {
		t.Fatalf("list from snapshot: %v", err)
	}
	if len(fromLive) != 2 || len(fromSnapshot) != 2 {
		t.Errorf("lineage lengths = %d, %d, want 2, 2", len(fromLive), len(fromSnapshot))
	}
}
