// Package lifecycle holds the moderation workflow of a suggestion: the closed
// status set and the rules for moving between statuses. It does no I/O.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPendingReview    Status = "PENDING_REVIEW"
	StatusPendingAction    Status = "PENDING_ACTION"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusResolved         Status = "RESOLVED"
	StatusClosed           Status = "CLOSED"
	StatusRejectedByReview Status = "REJECTED_BY_REVIEW"
)

// Initial is the only status a suggestion is ever created with.
const Initial = StatusPendingReview

var allStatuses = []Status{
	StatusPendingReview,
	StatusPendingAction,
	StatusInProgress,
	StatusResolved,
	StatusClosed,
	StatusRejectedByReview,
}

// All returns every status in workflow order.
func All() []Status {
	return append([]Status(nil), allStatuses...)
}

// Targets returns the statuses reachable through SetStatus.
func Targets() []Status {
	return append([]Status(nil), allStatuses[1:]...)
}

func (s Status) Valid() bool {
	for _, candidate := range allStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Reviewed reports whether the suggestion has left the moderation queue.
func (s Status) Reviewed() bool {
	return s != StatusPendingReview
}

// Publishable reports whether a public suggestion in this status may appear
// on the public board.
func (s Status) Publishable() bool {
	return s.Valid() && s != StatusPendingReview && s != StatusRejectedByReview
}

// ParseStatus accepts the wire form (PENDING_ACTION) and the camel-case form
// (PendingAction), case-insensitively.
func ParseStatus(value string) (Status, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if normalized == "" {
		return "", false
	}
	for _, candidate := range allStatuses {
		if normalized == string(candidate) || normalized == strings.ReplaceAll(string(candidate), "_", "") {
			return candidate, true
		}
	}
	return "", false
}

type Event string

const (
	EventApprove   Event = "approve"
	EventReject    Event = "reject"
	EventSetStatus Event = "set-status"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidTarget     = errors.New("invalid target status")
)

type TransitionError struct {
	Event Event
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s", ErrInvalidTransition, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Approve moves a suggestion out of review into the action queue.
func Approve(from Status) (Status, error) {
	return review(EventApprove, from, StatusPendingAction)
}

// Reject closes a suggestion at the review gate.
func Reject(from Status) (Status, error) {
	return review(EventReject, from, StatusRejectedByReview)
}

func review(event Event, from, to Status) (Status, error) {
	if from != StatusPendingReview {
		return from, &TransitionError{Event: event, From: from, To: to}
	}
	return to, nil
}

// SetStatus allows any post-review status to be set from any status, staff
// may correct mistakes freely. PendingReview is never a target.
func SetStatus(from, to Status) (Status, error) {
	if !to.Valid() || to == StatusPendingReview {
		return from, fmt.Errorf("%w: %q", ErrInvalidTarget, to)
	}
	if !from.Valid() {
		return from, &TransitionError{Event: EventSetStatus, From: from, To: to}
	}
	return to, nil
}

// Apply dispatches an event. target is only read for EventSetStatus.
func Apply(event Event, from, target Status) (Status, error) {
	switch event {
	case EventApprove:
		return Approve(from)
	case EventReject:
		return Reject(from)
	case EventSetStatus:
		return SetStatus(from, target)
	default:
		return from, fmt.Errorf("unknown lifecycle event %q", event)
	}
}
