// Package authz answers "may this actor modify this segment". Resolution
// of the answer lives with the caller's policy system; the core only
// consumes the boolean decision before attempting any mutation.
package authz

import (
	"context"
	"errors"

	"github.com/TimurManjosov/gosegmentd/internal/segments"
)

// ErrDenied is returned by mutating operations when the decider says no.
var ErrDenied = errors.New("actor may not modify segment")

// Role classifies an actor's capability level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleReader Role = "reader"
)

// Actor identifies who is attempting a mutation.
type Actor struct {
	ID   string
	Role Role
}

// Decider is the authorization decision point.
type Decider interface {
	// CanModifySegment reports whether the actor may mutate the segment.
	CanModifySegment(ctx context.Context, actor Actor, seg segments.Segment) bool
}

// RoleDecider grants modification to admins only.
type RoleDecider struct{}

func (RoleDecider) CanModifySegment(ctx context.Context, actor Actor, seg segments.Segment) bool {
	return actor.Role == RoleAdmin
}

// AllowAll grants everything; for tests and single-operator deployments.
type AllowAll struct{}

func (AllowAll) CanModifySegment(ctx context.Context, actor Actor, seg segments.Segment) bool {
	return true
}
