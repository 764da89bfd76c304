package progress

import (
	"context"

	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// Repository is the durable progress ledger.
type Repository interface {
	// Upsert atomically creates or merges the record for key. Implementations
	// must apply the merge rules of Record.Apply in one store-level operation
	// so concurrent calls for the same key never lose a time delta.
	// A key that already exists under another course fails with InvalidArgument.
	// An IdempotencyKey already applied for key returns the stored record
	// with Duplicate set and changes nothing.
	Upsert(ctx context.Context, key Key, courseID shared.CourseID, update Update) (*UpsertResult, error)

	// Get returns the record for key or a NotFound error.
	Get(ctx context.Context, key Key) (*Record, error)

	// ListByCourse returns all records of a learner for one course ordered by module id.
	ListByCourse(ctx context.Context, tenantID shared.TenantID, userID shared.UserID, courseID shared.CourseID) ([]*Record, error)
}

// CourseProgressReader is the read side the enrollment registry depends on.
type CourseProgressReader interface {
	ListByCourse(ctx context.Context, tenantID shared.TenantID, userID shared.UserID, courseID shared.CourseID) ([]*Record, error)
}

// ModuleCatalog is the external authority for the number of modules in a
// course. Answers may be stale; callers treat them as an input to Aggregate.
type ModuleCatalog interface {
	ModuleCount(ctx context.Context, tenantID shared.TenantID, courseID shared.CourseID) (int, error)
}
