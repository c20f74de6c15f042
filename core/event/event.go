// Package event carries the domain events emitted by primary writes. Side effects such as
// notification fan-out subscribe to them instead of reacting to the writes themselves.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAssignmentCreated Kind = "assignment.created"
	KindSubmissionGraded  Kind = "submission.graded"
)

var nowFunc = time.Now // mockable

type (
	// AssignmentCreated is emitted once an assignment has been persisted.
	AssignmentCreated struct {
		AssignmentID string `json:"assignmentId"`
		ClassID      string `json:"classId"`
		TeacherID    string `json:"teacherId"`
		Title        string `json:"title"`
	}

	// SubmissionGraded is emitted after every grading write, with the marks before and after it.
	// PrevMarks is nil when the submission had never been graded.
	SubmissionGraded struct {
		SubmissionID    string   `json:"submissionId"`
		AssignmentID    string   `json:"assignmentId"`
		AssignmentTitle string   `json:"assignmentTitle"`
		StudentID       string   `json:"studentId"`
		PrevMarks       *float64 `json:"prevMarks"`
		Marks           *float64 `json:"marks"`
		TotalMarks      float64  `json:"totalMarks"`
		Grade           string   `json:"grade"`
	}

	// Event is self-contained: handlers never need to read the triggering record back.
	Event struct {
		ID                string             `json:"id"`
		Kind              Kind               `json:"kind"`
		OccurredAt        time.Time          `json:"occurredAt"`
		AssignmentCreated *AssignmentCreated `json:"assignmentCreated,omitempty"`
		SubmissionGraded  *SubmissionGraded  `json:"submissionGraded,omitempty"`
	}

	Handler func(ctx context.Context, ev Event) error

	Bus interface {
		Publish(ctx context.Context, ev Event) error
		// Subscribe registers h for every event of kind. Handlers must be registered before publishing starts.
		Subscribe(kind Kind, h Handler)
	}
)

func newEvent(kind Kind) Event {
	return Event{ID: uuid.New().String(), Kind: kind, OccurredAt: nowFunc().UTC()}
}

func NewAssignmentCreated(payload AssignmentCreated) Event {
	ev := newEvent(KindAssignmentCreated)
	ev.AssignmentCreated = &payload
	return ev
}

func NewSubmissionGraded(payload SubmissionGraded) Event {
	ev := newEvent(KindSubmissionGraded)
	ev.SubmissionGraded = &payload
	return ev
}

// FirstGrading reports whether the grading moved marks from unset to set.
// Re-saving existing marks, even changed ones, is not a first grading.
func (sg SubmissionGraded) FirstGrading() bool {
	return sg.PrevMarks == nil && sg.Marks != nil
}

// Valid reports whether ev carries the payload its Kind requires.
func (ev Event) Valid() bool {
	switch ev.Kind {
	case KindAssignmentCreated:
		return ev.AssignmentCreated != nil
	case KindSubmissionGraded:
		return ev.SubmissionGraded != nil
	default:
		return false
	}
}
