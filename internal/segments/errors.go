package segments

import "errors"

// Caller-fixable validation errors. These are wrapped with %w and carry
// enough position detail for the caller to correct the payload.
var (
	ErrInvalidKind        = errors.New("invalid rule kind")
	ErrInvalidOperator    = errors.New("invalid operator")
	ErrValueTooLong       = errors.New("condition value too long")
	ErrInvalidParentage   = errors.New("segment rule must have exactly one parent")
	ErrTooDeeplyNested    = errors.New("rules nested too deeply")
	ErrDefinitionTooLarge = errors.New("segment definition exceeds rules and conditions limit")
	ErrNameRequired       = errors.New("segment name is required")
	ErrNameTooLong        = errors.New("segment name too long")
)

// Internal-consistency failures. These are never caller-fixable: they mean
// the stored tree or the clone itself violated an invariant, and the whole
// operation must be rolled back.
var (
	ErrStructuralDepth = errors.New("structural invariant violated: rule tree deeper than two levels")
	ErrCloneMismatch   = errors.New("structural invariant violated: rule count mismatch after clone")
	ErrOrphanedRule    = errors.New("structural invariant violated: rule resolves to no owning segment")
)
