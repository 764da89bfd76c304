package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
	now  func() time.Time
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn, now: func() time.Time { return time.Now().UTC() }}
}

const progressColumns = `tenant_id, user_id, module_id, course_id, status, time_spent_seconds,
	score, completed_at, created_at, updated_at`

// upsertProgressSQL records the idempotency key (when given) and merges the
// update in one statement. The merge mirrors progress.Record.Apply:
//   - completed never regresses, other statuses overwrite when supplied
//   - the time delta is added on the row itself, so concurrent writers serialize on the row lock
//   - score is last-write-wins
//   - completed_at is stamped only when it is still NULL
//
// When the key was already applied, or the row belongs to another course, the
// merge does nothing and the second branch returns the stored row instead.
//
// $1 tenant, $2 user, $3 module, $4 course, $5 status, $6 delta, $7 score,
// $8 idempotency key ('' = none), $9 now
const upsertProgressSQL = `
WITH dedup AS (
    INSERT INTO progress_event_keys (tenant_id, user_id, module_id, idempotency_key, applied_at)
    SELECT $1::text, $2::text, $3::text, $8::text, $9::timestamptz
    WHERE $8::text <> ''
    ON CONFLICT DO NOTHING
    RETURNING 1
),
applied AS (
    INSERT INTO progress_records AS p (` + progressColumns + `)
    SELECT $1::text, $2::text, $3::text, $4::text,
           COALESCE($5::text, 'in_progress'),
           COALESCE($6::bigint, 0),
           $7::integer,
           CASE WHEN $5::text = 'completed' THEN $9::timestamptz END,
           $9::timestamptz, $9::timestamptz
    WHERE $8::text = '' OR EXISTS (SELECT 1 FROM dedup)
    ON CONFLICT (tenant_id, user_id, module_id) DO UPDATE SET
        status = CASE
            WHEN p.status = 'completed' OR $5::text IS NULL THEN p.status
            ELSE $5::text
        END,
        time_spent_seconds = p.time_spent_seconds + COALESCE($6::bigint, 0),
        score = COALESCE($7::integer, p.score),
        completed_at = CASE
            WHEN p.completed_at IS NULL AND $5::text = 'completed' THEN $9::timestamptz
            ELSE p.completed_at
        END,
        updated_at = $9::timestamptz
    WHERE p.course_id = $4
    RETURNING p.tenant_id, p.user_id, p.module_id, p.course_id, p.status, p.time_spent_seconds,
              p.score, p.completed_at, p.created_at, p.updated_at,
              (xmax = 0) AS inserted,
              COALESCE(p.completed_at = $9::timestamptz, false) AS became_completed
)
SELECT a.*, false AS duplicate FROM applied a
UNION ALL
SELECT ` + progressColumns + `, false, false,
       ($8::text <> '' AND NOT EXISTS (SELECT 1 FROM dedup)) AS duplicate
FROM progress_records
WHERE tenant_id = $1 AND user_id = $2 AND module_id = $3
  AND NOT EXISTS (SELECT 1 FROM applied)
`

// Upsert atomically creates or merges the record for key.
func (r *ProgressRepository) Upsert(ctx context.Context, key progress.Key, courseID shared.CourseID, u progress.Update) (*progress.UpsertResult, error) {
	var status *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}

	var result *progress.UpsertResult
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, upsertProgressSQL,
			string(key.TenantID),
			string(key.UserID),
			string(key.ModuleID),
			string(courseID),
			status,
			u.TimeSpentDelta,
			u.Score,
			u.IdempotencyKey,
			r.now(),
		)

		rec := &progress.Record{}
		var res progress.UpsertResult
		if err := scanProgressInto(row, rec, &res.Created, &res.BecameCompleted, &res.Duplicate); err != nil {
			if IsNoRows(err) {
				// The conflicting row is not yet visible to this snapshot.
				return shared.WrapError("progress", "Upsert", shared.ErrConflict, "concurrent insert", err)
			}
			if IsCheckViolation(err) {
				return shared.WrapError("progress", "Upsert", shared.ErrInvalidArgument, "update violates ledger constraints", err)
			}
			if IsSerializationFailure(err) {
				return shared.WrapError("progress", "Upsert", shared.ErrConflict, "serialization failure", err)
			}
			return fmt.Errorf("failed to upsert progress: %w", err)
		}

		if rec.CourseID != courseID {
			// replays included; rolls back any idempotency key recorded by this statement
			return shared.WrapError("progress", "Upsert", shared.ErrInvalidArgument,
				fmt.Sprintf("module %s is recorded under course %s", key.ModuleID, rec.CourseID), shared.ErrCourseMismatch)
		}

		res.Record = rec
		result = &res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns the record for key.
func (r *ProgressRepository) Get(ctx context.Context, key progress.Key) (*progress.Record, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_records
		WHERE tenant_id = $1 AND user_id = $2 AND module_id = $3`

	rec := &progress.Record{}
	err := scanProgressInto(r.conn.QueryRow(ctx, query, string(key.TenantID), string(key.UserID), string(key.ModuleID)), rec)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("progress", "Get", shared.ErrNotFound, "progress record not found")
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return rec, nil
}

// ListByCourse returns all records of a learner for one course.
func (r *ProgressRepository) ListByCourse(ctx context.Context, tenantID shared.TenantID, userID shared.UserID, courseID shared.CourseID) ([]*progress.Record, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_records
		WHERE tenant_id = $1 AND user_id = $2 AND course_id = $3
		ORDER BY module_id`

	rows, err := r.conn.Query(ctx, query, string(tenantID), string(userID), string(courseID))
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	records := make([]*progress.Record, 0)
	for rows.Next() {
		rec := &progress.Record{}
		if err := scanProgressInto(rows, rec); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PurgeEventKeys deletes idempotency keys older than cutoff. Replays older
// than the retention window are applied again.
func (r *ProgressRepository) PurgeEventKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM progress_event_keys WHERE applied_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanProgressInto scans the progress columns followed by any extra destinations.
func scanProgressInto(row pgx.Row, rec *progress.Record, extra ...any) error {
	var (
		tenantID, userID, moduleID, courseID, status string
		score                                        *int32
	)
	dest := []any{
		&tenantID, &userID, &moduleID, &courseID, &status, &rec.TimeSpentSeconds,
		&score, &rec.CompletedAt, &rec.CreatedAt, &rec.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return err
	}

	rec.TenantID = shared.TenantID(tenantID)
	rec.UserID = shared.UserID(userID)
	rec.ModuleID = shared.ModuleID(moduleID)
	rec.CourseID = shared.CourseID(courseID)
	rec.Status = progress.Status(status)
	if score != nil {
		s := int(*score)
		rec.Score = &s
	}
	return nil
}
