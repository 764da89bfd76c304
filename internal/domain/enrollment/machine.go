package enrollment

import (
	"fmt"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// Triggers
// ═══════════════════════════════════════════════════════════════════════════

// TriggerKind names a trigger on events and logs.
type TriggerKind string

const (
	TriggerProgressUpdated TriggerKind = "progress_updated"
	TriggerStarted         TriggerKind = "started"
	TriggerDeadlinePassed  TriggerKind = "deadline_passed"
	TriggerManualOverride  TriggerKind = "manual_override"
)

// Trigger is a tagged input to the state machine.
type Trigger interface {
	Kind() TriggerKind
}

// ProgressUpdated carries a fresh aggregate for the enrollment's course.
type ProgressUpdated struct {
	Pct int
	// Started is true when any ledger record for the course is past not_started.
	Started bool
}

// Kind implements Trigger.
func (ProgressUpdated) Kind() TriggerKind { return TriggerProgressUpdated }

// Started is an explicit "learner opened the course" signal.
type Started struct{}

// Kind implements Trigger.
func (Started) Kind() TriggerKind { return TriggerStarted }

// DeadlinePassed is raised by the expiry job or an administrator.
type DeadlinePassed struct{}

// Kind implements Trigger.
func (DeadlinePassed) Kind() TriggerKind { return TriggerDeadlinePassed }

// ManualOverride asks for a specific target status.
type ManualOverride struct {
	Target Status
}

// Kind implements Trigger.
func (ManualOverride) Kind() TriggerKind { return TriggerManualOverride }

// ═══════════════════════════════════════════════════════════════════════════
// Machine
// ═══════════════════════════════════════════════════════════════════════════

// Outcome describes what a trigger did to an enrollment.
type Outcome struct {
	From    Status
	To      Status
	Trigger TriggerKind
	// Changed is true when the status changed.
	Changed bool
	// Dirty is true when anything persisted changed (status or cached percentage).
	Dirty bool
}

// allowed lists the direct edges a ManualOverride may request.
var allowed = map[Status][]Status{
	StatusAssigned:   {StatusInProgress, StatusExpired},
	StatusInProgress: {StatusCompleted, StatusExpired},
}

// CanTransition reports whether from -> to is a direct edge of the machine.
func CanTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply feeds a trigger to the state machine.
//
// Progress, start and deadline signals against a terminal enrollment are
// acknowledged as no-ops. A ManualOverride that asks for an edge the machine
// does not have fails with InvalidTransition.
func (e *Enrollment) Apply(t Trigger, now time.Time) (Outcome, error) {
	out := Outcome{From: e.Status, To: e.Status, Trigger: t.Kind()}

	switch tr := t.(type) {
	case ProgressUpdated:
		if e.Status.IsTerminal() {
			return out, nil
		}
		pct := clampPct(tr.Pct)
		if pct != e.ProgressPct {
			e.ProgressPct = pct
			out.Dirty = true
		}
		if e.Status == StatusAssigned && (tr.Started || pct > 0) {
			e.moveTo(StatusInProgress, now)
		}
		if e.Status == StatusInProgress && pct == 100 {
			e.moveTo(StatusCompleted, now)
		}

	case Started:
		if e.Status == StatusAssigned {
			e.moveTo(StatusInProgress, now)
		}

	case DeadlinePassed:
		if !e.Status.IsTerminal() {
			e.moveTo(StatusExpired, now)
		}

	case ManualOverride:
		target, err := ParseStatus(string(tr.Target))
		if err != nil {
			return out, err
		}
		if target == e.Status {
			return out, nil
		}
		if !CanTransition(e.Status, target) {
			return out, shared.NewDomainError("enrollment", "Override", shared.ErrInvalidTransition,
				fmt.Sprintf("cannot move enrollment from %s to %s", e.Status, target))
		}
		e.moveTo(target, now)

	default:
		return out, shared.InvalidArgument("enrollment", "Apply", "unsupported trigger %T", t)
	}

	out.To = e.Status
	out.Changed = out.From != out.To
	if out.Changed {
		out.Dirty = true
	}
	if out.Dirty {
		e.UpdatedAt = now
	}
	return out, nil
}

func (e *Enrollment) moveTo(next Status, now time.Time) {
	e.Status = next
	switch next {
	case StatusCompleted:
		if e.CompletedAt == nil {
			t := now
			e.CompletedAt = &t
		}
	case StatusExpired:
		if e.ExpiredAt == nil {
			t := now
			e.ExpiredAt = &t
		}
	}
}

func clampPct(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
