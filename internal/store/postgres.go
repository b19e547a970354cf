package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TimurManjosov/gosegmentd/internal/segments"
)

// querier is the common surface of pgxpool.Pool and pgx.Tx that the store
// needs, so the same methods serve both pooled and transactional calls.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore is a PostgreSQL implementation of the Store interface.
// Atomic opens a transaction and hands the callback a PostgresStore bound
// to it; row-level locking on the live segment row (taken implicitly by
// IncrementVersion's UPDATE) serializes concurrent clones of one segment.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

const segmentColumns = `id, uuid, name, COALESCE(description, ''), project_id, feature_id,
	version, COALESCE(version_of, 0), created_at, updated_at, deleted_at`

// CreateSegment inserts a new segment row.
func (p *PostgresStore) CreateSegment(ctx context.Context, params CreateSegmentParams) (segments.Segment, error) {
	var versionOf *int64
	if params.VersionOf != 0 {
		versionOf = &params.VersionOf
	}
	var description *string
	if params.Description != "" {
		description = &params.Description
	}

	row := p.db.QueryRow(ctx, `
		INSERT INTO segments (name, description, project_id, feature_id, version, version_of)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+segmentColumns,
		params.Name, description, params.ProjectID, params.FeatureID, params.Version, versionOf)
	return scanSegment(row)
}

// SetVersionOf updates a segment's genesis pointer.
func (p *PostgresStore) SetVersionOf(ctx context.Context, id, versionOf int64) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE segments SET version_of = $2, updated_at = now() WHERE id = $1`,
		id, versionOf)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSegment retrieves a bare segment row.
func (p *PostgresStore) GetSegment(ctx context.Context, id int64) (segments.Segment, error) {
	row := p.db.QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = $1`, id)
	seg, err := scanSegment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return segments.Segment{}, ErrNotFound
	}
	return seg, err
}

// ListSegments retrieves the live, non-deleted segments of a project.
// Live rows are the ones heading their own lineage.
func (p *PostgresStore) ListSegments(ctx context.Context, projectID int64) ([]segments.Segment, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+segmentColumns+` FROM segments
		WHERE project_id = $1 AND version_of = id AND deleted_at IS NULL
		ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	return scanSegments(rows)
}

// ListVersions retrieves every segment row in a version lineage.
func (p *PostgresStore) ListVersions(ctx context.Context, genesisID int64) ([]segments.Segment, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+segmentColumns+` FROM segments
		WHERE version_of = $1
		ORDER BY version, id`, genesisID)
	if err != nil {
		return nil, err
	}
	return scanSegments(rows)
}

// IncrementVersion bumps the version with a compare-and-set. The UPDATE
// takes a row lock on the live segment, which is the serialization point
// for concurrent edits of the same segment.
func (p *PostgresStore) IncrementVersion(ctx context.Context, id int64, fromVersion int) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE segments SET version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2`,
		id, fromVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetSegment(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// SoftDeleteSegment marks a segment deleted.
func (p *PostgresStore) SoftDeleteSegment(ctx context.Context, id int64, at time.Time) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE segments SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`,
		id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetSegment(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		// Already deleted: idempotent.
	}
	return nil
}

// CreateRule inserts a rule row after checking its parentage.
func (p *PostgresStore) CreateRule(ctx context.Context, rule segments.SegmentRule) (segments.SegmentRule, error) {
	if err := segments.ValidateParentage(rule); err != nil {
		return segments.SegmentRule{}, err
	}
	row := p.db.QueryRow(ctx, `
		INSERT INTO segment_rules (kind, segment_id, rule_id)
		VALUES ($1, $2, $3)
		RETURNING id`,
		rule.Kind, rule.SegmentID, rule.RuleID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return segments.SegmentRule{}, err
	}
	created := segments.SegmentRule{ID: id, Kind: rule.Kind, SegmentID: rule.SegmentID, RuleID: rule.RuleID}
	return created, nil
}

// GetRule retrieves a bare rule row.
func (p *PostgresStore) GetRule(ctx context.Context, id int64) (segments.SegmentRule, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, kind, segment_id, rule_id FROM segment_rules WHERE id = $1`, id)
	var rule segments.SegmentRule
	if err := row.Scan(&rule.ID, &rule.Kind, &rule.SegmentID, &rule.RuleID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return segments.SegmentRule{}, ErrNotFound
		}
		return segments.SegmentRule{}, err
	}
	return rule, nil
}

// ListRootRules retrieves the rules owned directly by a segment.
func (p *PostgresStore) ListRootRules(ctx context.Context, segmentID int64) ([]segments.SegmentRule, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, kind, segment_id, rule_id FROM segment_rules
		WHERE segment_id = $1 ORDER BY id`, segmentID)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

// ListChildRules retrieves the rules nested under a rule.
func (p *PostgresStore) ListChildRules(ctx context.Context, ruleID int64) ([]segments.SegmentRule, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, kind, segment_id, rule_id FROM segment_rules
		WHERE rule_id = $1 ORDER BY id`, ruleID)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

// DeleteRulesBySegment removes a segment's rule tree. Conditions and child
// rules go with their parents via ON DELETE CASCADE.
func (p *PostgresStore) DeleteRulesBySegment(ctx context.Context, segmentID int64) error {
	_, err := p.db.Exec(ctx, `DELETE FROM segment_rules WHERE segment_id = $1`, segmentID)
	return err
}

// BulkCreateConditions inserts conditions in one batch.
func (p *PostgresStore) BulkCreateConditions(ctx context.Context, conds []segments.Condition) ([]segments.Condition, error) {
	if len(conds) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, c := range conds {
		var property, description *string
		if c.Property != "" {
			property = &c.Property
		}
		if c.Description != "" {
			description = &c.Description
		}
		batch.Queue(`
			INSERT INTO conditions (rule_id, operator, property, value, description, created_with_segment)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			c.RuleID, c.Operator, property, c.Value, description, c.CreatedWithSegment)
	}

	results := p.db.SendBatch(ctx, batch)
	defer results.Close()

	created := make([]segments.Condition, 0, len(conds))
	for _, c := range conds {
		var id int64
		if err := results.QueryRow().Scan(&id); err != nil {
			return nil, fmt.Errorf("bulk create conditions: %w", err)
		}
		c.ID = id
		created = append(created, c)
	}
	return created, nil
}

// ListConditions retrieves the conditions owned by a rule.
func (p *PostgresStore) ListConditions(ctx context.Context, ruleID int64) ([]segments.Condition, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, rule_id, operator, COALESCE(property, ''), value,
		       COALESCE(description, ''), created_with_segment
		FROM conditions WHERE rule_id = $1 ORDER BY id`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []segments.Condition
	for rows.Next() {
		var c segments.Condition
		if err := rows.Scan(&c.ID, &c.RuleID, &c.Operator, &c.Property, &c.Value,
			&c.Description, &c.CreatedWithSegment); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// CreateWhitelist records a segment as exempt from the size limit.
func (p *PostgresStore) CreateWhitelist(ctx context.Context, segmentID int64) (segments.WhitelistedSegment, error) {
	row := p.db.QueryRow(ctx, `
		INSERT INTO whitelisted_segments (segment_id)
		VALUES ($1)
		ON CONFLICT (segment_id) DO UPDATE SET updated_at = now()
		RETURNING segment_id, created_at, updated_at`, segmentID)
	var w segments.WhitelistedSegment
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&w.SegmentID, &createdAt, &updatedAt); err != nil {
		return segments.WhitelistedSegment{}, err
	}
	w.CreatedAt = createdAt.Time
	w.UpdatedAt = updatedAt.Time
	return w, nil
}

// DeleteWhitelist removes a segment's exemption.
func (p *PostgresStore) DeleteWhitelist(ctx context.Context, segmentID int64) error {
	_, err := p.db.Exec(ctx, `DELETE FROM whitelisted_segments WHERE segment_id = $1`, segmentID)
	return err
}

// IsWhitelisted reports whether a segment is exempt.
func (p *PostgresStore) IsWhitelisted(ctx context.Context, segmentID int64) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM whitelisted_segments WHERE segment_id = $1)`,
		segmentID).Scan(&exists)
	return exists, err
}

// Atomic runs fn inside a database transaction. When the receiver is
// already transaction-bound, fn runs in the open transaction; the outer
// unit owns commit and rollback.
func (p *PostgresStore) Atomic(ctx context.Context, fn func(Store) error) error {
	if _, ok := p.db.(pgx.Tx); ok {
		return fn(p)
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: p.pool, db: tx})
	})
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func scanSegment(row pgx.Row) (segments.Segment, error) {
	var seg segments.Segment
	var deletedAt pgtype.Timestamptz
	err := row.Scan(&seg.ID, &seg.UUID, &seg.Name, &seg.Description, &seg.ProjectID,
		&seg.FeatureID, &seg.Version, &seg.VersionOf, &seg.CreatedAt, &seg.UpdatedAt, &deletedAt)
	if err != nil {
		return segments.Segment{}, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		seg.DeletedAt = &t
	}
	return seg, nil
}

func scanSegments(rows pgx.Rows) ([]segments.Segment, error) {
	defer rows.Close()
	var result []segments.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, seg)
	}
	return result, rows.Err()
}

func scanRules(rows pgx.Rows) ([]segments.SegmentRule, error) {
	defer rows.Close()
	var result []segments.SegmentRule
	for rows.Next() {
		var rule segments.SegmentRule
		if err := rows.Scan(&rule.ID, &rule.Kind, &rule.SegmentID, &rule.RuleID); err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}
