package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentRepository implements enrollment.Repository for PostgreSQL.
type EnrollmentRepository struct {
	conn *Connection
}

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(conn *Connection) *EnrollmentRepository {
	return &EnrollmentRepository{conn: conn}
}

const enrollmentColumns = `id, tenant_id, user_id, course_id, cohort_id, status, progress_pct,
	assigned_at, completed_at, expired_at, deadline, version, updated_at`

// Create inserts a new enrollment.
func (r *EnrollmentRepository) Create(ctx context.Context, e *enrollment.Enrollment) error {
	query := `INSERT INTO enrollments (` + enrollmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.conn.Exec(ctx, query,
		e.ID,
		string(e.TenantID),
		string(e.UserID),
		string(e.CourseID),
		nullableString(string(e.CohortID)),
		string(e.Status),
		e.ProgressPct,
		e.AssignedAt,
		e.CompletedAt,
		e.ExpiredAt,
		e.Deadline,
		e.Version,
		e.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("enrollment", "Create", shared.ErrAlreadyExists,
				fmt.Sprintf("enrollment %s already exists", e.Key), err)
		}
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	return nil
}

// Get returns the enrollment for key.
func (r *EnrollmentRepository) Get(ctx context.Context, key enrollment.Key) (*enrollment.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
		WHERE tenant_id = $1 AND user_id = $2 AND course_id = $3`

	e, err := scanEnrollment(r.conn.QueryRow(ctx, query, string(key.TenantID), string(key.UserID), string(key.CourseID)))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return e, nil
}

// Update writes e when the stored version still equals e.Version.
// Identity columns, assigned_at and cohort_id are never rewritten.
func (r *EnrollmentRepository) Update(ctx context.Context, e *enrollment.Enrollment) error {
	query := `
		UPDATE enrollments SET
			status = $1,
			progress_pct = $2,
			completed_at = $3,
			expired_at = $4,
			updated_at = $5,
			version = version + 1
		WHERE tenant_id = $6 AND user_id = $7 AND course_id = $8 AND version = $9`

	tag, err := r.conn.Exec(ctx, query,
		string(e.Status),
		e.ProgressPct,
		e.CompletedAt,
		e.ExpiredAt,
		e.UpdatedAt,
		string(e.TenantID),
		string(e.UserID),
		string(e.CourseID),
		e.Version,
	)
	if err != nil {
		if IsSerializationFailure(err) {
			return shared.WrapError("enrollment", "Update", shared.ErrConflict, "serialization failure", err)
		}
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a stale version.
		var exists bool
		err := r.conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM enrollments WHERE tenant_id = $1 AND user_id = $2 AND course_id = $3)`,
			string(e.TenantID), string(e.UserID), string(e.CourseID),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check enrollment: %w", err)
		}
		if !exists {
			return shared.ErrEnrollmentNotFound
		}
		return shared.ErrEnrollmentVersionStale
	}

	e.Version++
	return nil
}

// ListOverdue returns open enrollments whose deadline is before now.
func (r *EnrollmentRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*enrollment.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
		WHERE deadline IS NOT NULL AND deadline < $1
		  AND status IN ('assigned', 'in_progress')
		ORDER BY deadline
		LIMIT $2`

	rows, err := r.conn.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue enrollments: %w", err)
	}
	defer rows.Close()

	result := make([]*enrollment.Enrollment, 0)
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanEnrollment(row pgx.Row) (*enrollment.Enrollment, error) {
	var (
		e                                  enrollment.Enrollment
		tenantID, userID, courseID, status string
		cohortID                           *string
	)
	err := row.Scan(
		&e.ID,
		&tenantID,
		&userID,
		&courseID,
		&cohortID,
		&status,
		&e.ProgressPct,
		&e.AssignedAt,
		&e.CompletedAt,
		&e.ExpiredAt,
		&e.Deadline,
		&e.Version,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.TenantID = shared.TenantID(tenantID)
	e.UserID = shared.UserID(userID)
	e.CourseID = shared.CourseID(courseID)
	e.Status = enrollment.Status(status)
	if cohortID != nil {
		e.CohortID = shared.CohortID(*cohortID)
	}
	return &e, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
