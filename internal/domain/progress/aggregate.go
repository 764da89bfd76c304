package progress

import (
	"math/bits"

	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// CourseProgress is the course-level roll-up of module records.
type CourseProgress struct {
	ProgressPct    int `json:"progressPct"`
	CompletedCount int `json:"completedCount"`
	TotalModules   int `json:"totalModules"`
}

// Aggregate computes course progress from a learner's records for one course
// and the catalog's module count. It performs no I/O.
//
// totalModules == 0 yields 0%. A completed count above totalModules (stale
// catalog data) is clamped to 100%.
func Aggregate(records []*Record, totalModules int) (CourseProgress, error) {
	if totalModules < 0 {
		return CourseProgress{}, shared.ErrNegativeModules
	}

	completed := 0
	for _, r := range records {
		if r != nil && r.IsCompleted() {
			completed++
		}
	}

	return CourseProgress{
		ProgressPct:    Percent(completed, totalModules),
		CompletedCount: completed,
		TotalModules:   totalModules,
	}, nil
}

// Percent returns round-half-up(100*completed/total) clamped to [0, 100].
func Percent(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	// 128-bit product: total is untrusted and may be close to MaxInt.
	// hi < total holds because completed < total, so Div64 cannot panic.
	t := uint64(total)
	hi, lo := bits.Mul64(uint64(completed), 100)
	q, rem := bits.Div64(hi, lo, t)
	if rem >= t-rem {
		q++
	}
	return int(q)
}

// Started reports whether any record shows the learner has begun the course.
func Started(records []*Record) bool {
	for _, r := range records {
		if r != nil && r.Status != StatusNotStarted {
			return true
		}
	}
	return false
}
