package segments

import (
	"context"
	"errors"
	"testing"
)

// fakeTreeSource serves rules and segments from maps and counts lookups.
type fakeTreeSource struct {
	rules       map[int64]SegmentRule
	segments    map[int64]Segment
	ruleLookups int
}

func (f *fakeTreeSource) GetRule(ctx context.Context, id int64) (SegmentRule, error) {
	f.ruleLookups++
	r, ok := f.rules[id]
	if !ok {
		return SegmentRule{}, errors.New("rule not found")
	}
	return r, nil
}

func (f *fakeTreeSource) GetSegment(ctx context.Context, id int64) (Segment, error) {
	s, ok := f.segments[id]
	if !ok {
		return Segment{}, errors.New("segment not found")
	}
	return s, nil
}

func ptr(v int64) *int64 { return &v }

func newFakeTree() *fakeTreeSource {
	return &fakeTreeSource{
		segments: map[int64]Segment{
			10: {ID: 10, Name: "Beta users", ProjectID: 1},
		},
		rules: map[int64]SegmentRule{
			1: {ID: 1, Kind: KindAll, SegmentID: ptr(10)},
			2: {ID: 2, Kind: KindAny, RuleID: ptr(1)},
		},
	}
}

func TestResolveOwningSegment(t *testing.T) {
	src := newFakeTree()
	ctx := context.Background()

	// Root rule resolves directly.
	seg, err := ResolveOwningSegment(ctx, src, src.rules[1])
	if err != nil {
		t.Fatalf("root rule: %v", err)
	}
	if seg.ID != 10 {
		t.Errorf("root rule: segment %d, want 10", seg.ID)
	}

	// Nested rule walks one step up.
	seg, err = ResolveOwningSegment(ctx, src, src.rules[2])
	if err != nil {
		t.Fatalf("nested rule: %v", err)
	}
	if seg.ID != 10 {
		t.Errorf("nested rule: segment %d, want 10", seg.ID)
	}
}

func TestResolveOwningSegment_BoundedWalk(t *testing.T) {
	src := newFakeTree()
	// A chain deeper than the model allows: 4 -> 3 -> 2 -> 1 -> segment.
	src.rules[3] = SegmentRule{ID: 3, Kind: KindAll, RuleID: ptr(2)}
	src.rules[4] = SegmentRule{ID: 4, Kind: KindAll, RuleID: ptr(3)}

	_, err := ResolveOwningSegment(context.Background(), src, src.rules[4])
	if !errors.Is(err, ErrStructuralDepth) {
		t.Errorf("got %v, want ErrStructuralDepth", err)
	}
}

func TestResolveOwningSegment_Orphan(t *testing.T) {
	src := newFakeTree()
	orphan := SegmentRule{ID: 99, Kind: KindAll}

	_, err := ResolveOwningSegment(context.Background(), src, orphan)
	if !errors.Is(err, ErrOrphanedRule) {
		t.Errorf("got %v, want ErrOrphanedRule", err)
	}
}

func TestSegmentResolver_Memoizes(t *testing.T) {
	src := newFakeTree()
	resolver := NewSegmentResolver(src)
	ctx := context.Background()

	cond := Condition{ID: 50, RuleID: 2, Operator: OpEqual, Value: "x"}

	for i := 0; i < 3; i++ {
		seg, err := resolver.ForCondition(ctx, cond)
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if seg.ID != 10 {
			t.Errorf("resolve %d: segment %d, want 10", i, seg.ID)
		}
	}

	// First resolution:  GetRule(2) + upward GetRule(1) = 2 lookups.
	// Later resolutions: served from the cache.
	if src.ruleLookups != 2 {
		t.Errorf("rule lookups = %d, want 2", src.ruleLookups)
	}
}
