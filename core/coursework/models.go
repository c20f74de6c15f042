// Package coursework handles assignments, the work students submit for them, and its grading.
package coursework

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// ErrSubmissionChanged is returned when a submission is resubmitted or graded by someone else while
// it is being graded.
var ErrSubmissionChanged = errors.New("submission changed while grading")

const (
	AssignmentCollection = "assignments"
	SubmissionCollection = "submissions"

	assignmentStatusActive = "active"
)

type SubmissionStatus string

const (
	StatusSubmitted SubmissionStatus = "submitted"
	StatusPending   SubmissionStatus = "pending" // resubmitted, waiting to be graded again
	StatusGraded    SubmissionStatus = "graded"
)

type (
	// FileRef is an uploaded file: the URL clients download it from, and the storage path it can be deleted by.
	FileRef struct {
		Name string `json:"name"`
		URL  string `json:"url"`
		Path string `json:"path"`
	}

	// Upload is a file received from a client.
	Upload struct {
		Name    string
		Content io.Reader
	}

	Assignment struct {
		ID          string    `json:"id"`
		Title       string    `json:"title"`
		Description string    `json:"description,omitempty"`
		ClassID     string    `json:"classId"`
		SubjectID   string    `json:"subjectId,omitempty"`
		TeacherID   string    `json:"teacherId"`
		DueDate     string    `json:"dueDate"` // YYYY-MM-DD
		TotalMarks  int       `json:"totalMarks"`
		File        *FileRef  `json:"file,omitempty"`
		Status      string    `json:"status"`
		CreatedAt   time.Time `json:"createdAt"`
	}

	NewAssignment struct {
		Title       string `json:"title" validate:"required,notblank"`
		Description string `json:"description"`
		ClassID     string `json:"classId" validate:"required"`
		SubjectID   string `json:"subjectId"`
		DueDate     string `json:"dueDate" validate:"required,isodate"`
		TotalMarks  int    `json:"totalMarks" validate:"required,gt=0"`
	}

	AssignmentFilter struct {
		ClassID string `query:"classId"`
	}

	// Submission is the work of one student for one assignment. Marks, TotalMarks and Grade are unset until graded.
	Submission struct {
		ID              string           `json:"id"`
		AssignmentID    string           `json:"assignmentId"`
		AssignmentTitle string           `json:"assignmentTitle"`
		StudentID       string           `json:"studentId"`
		StudentName     string           `json:"studentName"`
		File            FileRef          `json:"file"`
		SubmittedAt     time.Time        `json:"submittedAt"`
		Status          SubmissionStatus `json:"status"`
		Marks           *float64         `json:"marks"`
		TotalMarks      *float64         `json:"totalMarks"`
		Remarks         string           `json:"remarks"`
		Grade           string           `json:"grade"`
		GradedAt        *time.Time       `json:"gradedAt"`
		GradedBy        string           `json:"gradedBy"`
	}

	// GradeInput is the teacher's grading of a submission. TotalMarks defaults to the assignment's.
	GradeInput struct {
		Marks      *float64 `json:"marks" validate:"required"`
		TotalMarks *float64 `json:"totalMarks"`
		Remarks    string   `json:"remarks"`
	}

	MarkEntry struct {
		SubmissionID    string     `json:"submissionId"`
		AssignmentID    string     `json:"assignmentId"`
		AssignmentTitle string     `json:"assignmentTitle"`
		Marks           float64    `json:"marks"`
		TotalMarks      float64    `json:"totalMarks"`
		Percentage      float64    `json:"percentage"`
		Grade           string     `json:"grade"`
		Remarks         string     `json:"remarks,omitempty"`
		GradedAt        *time.Time `json:"gradedAt,omitempty"`
	}

	// MarksReport sums up the graded work of a student.
	MarksReport struct {
		StudentID  string      `json:"studentId"`
		Entries    []MarkEntry `json:"entries"`
		Obtained   float64     `json:"obtained"`
		Possible   float64     `json:"possible"`
		Percentage int         `json:"percentage"` // rounded
		Grade      string      `json:"grade,omitempty"`
	}
)

func (na *NewAssignment) Clean() {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	na.ClassID = core.CleanString(na.ClassID)
	na.SubjectID = core.CleanString(na.SubjectID)
	na.DueDate = core.CleanString(na.DueDate)
}

// SubmissionID is the fixed id of the submission of studentID for assignmentID: one per student.
func SubmissionID(assignmentID, studentID string) string {
	return assignmentID + "_" + studentID
}

// AssignmentFilePath is where the brief of an assignment is stored.
func AssignmentFilePath(assignmentID, uploaderID, name string, at time.Time) string {
	return fmt.Sprintf("assignments/%s/%s", assignmentID, fileName(uploaderID, name, at))
}

// SubmissionFilePath is where the work of a student is stored.
func SubmissionFilePath(assignmentID, studentID, name string, at time.Time) string {
	return fmt.Sprintf("submissions/%s/%s", assignmentID, fileName(studentID, name, at))
}

func fileName(ownerID, name string, at time.Time) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	return fmt.Sprintf("%s_%d_%s", ownerID, at.UnixNano()/int64(time.Millisecond), name)
}

func (u *Upload) valid() bool {
	return u != nil && u.Content != nil && core.CleanString(u.Name) != "" && path.Base(u.Name) != "."
}
