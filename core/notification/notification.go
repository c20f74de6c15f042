// Package notification delivers in-app notifications. They are only ever created by the Fanout,
// in reaction to domain events; users can only read them and flip them to read.
package notification

import (
	"fmt"
	"strconv"
	"time"
)

const Collection = "notifications"

type Type string

const (
	TypeAssignment Type = "assignment"
	TypeMarks      Type = "marks"
)

type Notification struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Type         Type      `json:"type"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	AssignmentID string    `json:"assignmentId,omitempty"`
	SubmissionID string    `json:"submissionId,omitempty"`
	Read         bool      `json:"read"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newAssignmentNotification(userID, assignmentID, title string) Notification {
	return Notification{
		UserID:       userID,
		Type:         TypeAssignment,
		Title:        "New Assignment",
		Message:      fmt.Sprintf(`New assignment "%s" has been posted`, title),
		AssignmentID: assignmentID,
	}
}

func newMarksNotification(userID, submissionID, assignmentTitle string, marks, total float64) Notification {
	return Notification{
		UserID:       userID,
		Type:         TypeMarks,
		Title:        "Marks Published",
		Message:      fmt.Sprintf(`You scored %s/%s in "%s"`, formatMarks(marks), formatMarks(total), assignmentTitle),
		SubmissionID: submissionID,
	}
}

// formatMarks prints 85 as "85" and 42.5 as "42.5".
func formatMarks(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
