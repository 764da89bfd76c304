package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordProgress(t *testing.T) {
	before := testutil.ToFloat64(progressRecords.WithLabelValues(ResultDuplicate))
	RecordProgress(ResultDuplicate)
	RecordProgress(ResultDuplicate)
	assert.Equal(t, before+2, testutil.ToFloat64(progressRecords.WithLabelValues(ResultDuplicate)))
}

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(enrollmentTransitions.WithLabelValues("assigned", "in_progress"))
	RecordTransition("assigned", "in_progress")
	assert.Equal(t, before+1, testutil.ToFloat64(enrollmentTransitions.WithLabelValues("assigned", "in_progress")))
}

func TestRecordConflictRetry(t *testing.T) {
	before := testutil.ToFloat64(conflictRetries)
	RecordConflictRetry()
	assert.Equal(t, before+1, testutil.ToFloat64(conflictRetries))
}

func TestRecordEventPublished(t *testing.T) {
	before := testutil.ToFloat64(eventsPublished.WithLabelValues("progress.recorded", "error"))
	RecordEventPublished("progress.recorded", false)
	assert.Equal(t, before+1, testutil.ToFloat64(eventsPublished.WithLabelValues("progress.recorded", "error")))
}
