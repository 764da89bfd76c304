package shared

import (
	"encoding/json"
	"time"
)

// EventType identifies a domain event. Format: "aggregate.action".
type EventType string

const (
	EventProgressRecorded       EventType = "progress.recorded"
	EventEnrollmentCreated      EventType = "enrollment.created"
	EventEnrollmentTransitioned EventType = "enrollment.transitioned"
)

// String returns the string representation.
func (e EventType) String() string {
	return string(e)
}

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is "tenant/user/course" for enrollment events and
	// "tenant/user/module" for progress events.
	AggregateID() string
	Payload() map[string]interface{}
}

// BaseEvent provides the common fields of every event.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType returns the type of the event.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt returns when the event occurred.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID returns the ID of the aggregate that emitted the event.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the current time.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ProgressRecordedEvent is published after a ledger write was applied.
// Replays deduplicated by idempotency key are not published.
type ProgressRecordedEvent struct {
	BaseEvent
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	CourseID  string `json:"course_id"`
	ModuleID  string `json:"module_id"`
	Status    string `json:"status"`
	Completed bool   `json:"completed"`
}

// Payload returns the event data.
func (e ProgressRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id": e.TenantID,
		"user_id":   e.UserID,
		"course_id": e.CourseID,
		"module_id": e.ModuleID,
		"status":    e.Status,
		"completed": e.Completed,
	}
}

// NewProgressRecordedEvent creates a new ProgressRecordedEvent.
func NewProgressRecordedEvent(tenantID, userID, courseID, moduleID, status string) ProgressRecordedEvent {
	return ProgressRecordedEvent{
		BaseEvent: NewBaseEvent(EventProgressRecorded, tenantID+"/"+userID+"/"+moduleID),
		TenantID:  tenantID,
		UserID:    userID,
		CourseID:  courseID,
		ModuleID:  moduleID,
		Status:    status,
		Completed: status == "completed",
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Enrollment Events
// ═══════════════════════════════════════════════════════════════════════════

// EnrollmentCreatedEvent is published when a learner is assigned to a course.
type EnrollmentCreatedEvent struct {
	BaseEvent
	EnrollmentID string `json:"enrollment_id"`
	TenantID     string `json:"tenant_id"`
	UserID       string `json:"user_id"`
	CourseID     string `json:"course_id"`
	CohortID     string `json:"cohort_id,omitempty"`
}

// Payload returns the event data.
func (e EnrollmentCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"enrollment_id": e.EnrollmentID,
		"tenant_id":     e.TenantID,
		"user_id":       e.UserID,
		"course_id":     e.CourseID,
		"cohort_id":     e.CohortID,
	}
}

// NewEnrollmentCreatedEvent creates a new EnrollmentCreatedEvent.
func NewEnrollmentCreatedEvent(enrollmentID, tenantID, userID, courseID, cohortID string) EnrollmentCreatedEvent {
	return EnrollmentCreatedEvent{
		BaseEvent:    NewBaseEvent(EventEnrollmentCreated, tenantID+"/"+userID+"/"+courseID),
		EnrollmentID: enrollmentID,
		TenantID:     tenantID,
		UserID:       userID,
		CourseID:     courseID,
		CohortID:     cohortID,
	}
}

// EnrollmentTransitionedEvent is published when an enrollment changes status.
type EnrollmentTransitionedEvent struct {
	BaseEvent
	EnrollmentID string `json:"enrollment_id"`
	TenantID     string `json:"tenant_id"`
	UserID       string `json:"user_id"`
	CourseID     string `json:"course_id"`
	From         string `json:"from"`
	To           string `json:"to"`
	Trigger      string `json:"trigger"`
	ProgressPct  int    `json:"progress_pct"`
}

// Payload returns the event data.
func (e EnrollmentTransitionedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"enrollment_id": e.EnrollmentID,
		"tenant_id":     e.TenantID,
		"user_id":       e.UserID,
		"course_id":     e.CourseID,
		"from":          e.From,
		"to":            e.To,
		"trigger":       e.Trigger,
		"progress_pct":  e.ProgressPct,
	}
}

// NewEnrollmentTransitionedEvent creates a new EnrollmentTransitionedEvent.
func NewEnrollmentTransitionedEvent(enrollmentID, tenantID, userID, courseID, from, to, trigger string, pct int) EnrollmentTransitionedEvent {
	return EnrollmentTransitionedEvent{
		BaseEvent:    NewBaseEvent(EventEnrollmentTransitioned, tenantID+"/"+userID+"/"+courseID),
		EnrollmentID: enrollmentID,
		TenantID:     tenantID,
		UserID:       userID,
		CourseID:     courseID,
		From:         from,
		To:           to,
		Trigger:      trigger,
		ProgressPct:  pct,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport between processes.
type EventEnvelope struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }

// DecodeEvent restores a typed event from an envelope produced by another process.
func DecodeEvent(env EventEnvelope) (Event, error) {
	switch env.Type {
	case EventProgressRecorded:
		var e ProgressRecordedEvent
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	case EventEnrollmentCreated:
		var e EnrollmentCreatedEvent
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	case EventEnrollmentTransitioned:
		var e EnrollmentTransitionedEvent
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	default:
		return nil, NewDomainError("event", "Decode", ErrInvalidArgument, "unknown event type "+string(env.Type))
	}
}
