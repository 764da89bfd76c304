package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_IsMatchesKindAndCause(t *testing.T) {
	cause := errors.New("pg: 23505")
	err := WrapError("enrollment", "Create", ErrAlreadyExists, "duplicate", cause)

	assert.True(t, IsAlreadyExists(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "enrollment.Create: duplicate: pg: 23505", err.Error())
}

func TestDomainError_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("record_progress: %w", ErrNegativeTimeDelta)

	assert.True(t, IsInvalidArgument(err))
	assert.False(t, IsConflict(err))
}

func TestIdentifiers(t *testing.T) {
	id, err := NewCourseID("  course-101 ")
	require.NoError(t, err)
	assert.Equal(t, CourseID("course-101"), id)

	for _, raw := range []string{"", "   ", "-leading", "has space", strings.Repeat("a", 129)} {
		_, err := NewModuleID(raw)
		assert.True(t, IsInvalidArgument(err), "input %q", raw)
	}

	_, err = NewTenantID("acme.edu")
	assert.NoError(t, err)
	_, err = NewUserID("user@acme.edu")
	assert.NoError(t, err)
}

func TestNewCohortID_EmptyMeansNone(t *testing.T) {
	c, err := NewCohortID("")
	require.NoError(t, err)
	assert.Empty(t, c)

	_, err = NewCohortID("bad cohort")
	assert.True(t, IsInvalidArgument(err))
}

func TestNewIdentity(t *testing.T) {
	id, err := NewIdentity("t1", "u1", "")
	require.NoError(t, err)
	assert.Equal(t, RoleLearner, id.Role)
	assert.False(t, id.IsZero())
	assert.False(t, id.IsAdmin())

	_, err = NewIdentity("", "u1", RoleAdmin)
	assert.True(t, IsUnauthorized(err))

	assert.True(t, Identity{}.IsZero())
}

func TestDecodeEvent(t *testing.T) {
	ev := NewEnrollmentTransitionedEvent("e1", "t1", "u1", "c1", "in_progress", "completed", "progress_updated", 100)
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	decoded, err := DecodeEvent(EventEnvelope{Type: ev.EventType(), Payload: payload})
	require.NoError(t, err)

	got, ok := decoded.(EnrollmentTransitionedEvent)
	require.True(t, ok)
	assert.Equal(t, "completed", got.To)
	assert.Equal(t, "t1/u1/c1", got.AggregateID())

	_, err = DecodeEvent(EventEnvelope{Type: "nope"})
	assert.True(t, IsInvalidArgument(err))
}
