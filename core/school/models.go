// Package school holds the structure of the school: classes, subjects and the announcements posted to them.
package school

import (
	"time"

	"github.com/trezcool/shule/core"
)

const (
	ClassCollection        = "classes"
	SubjectCollection      = "subjects"
	AnnouncementCollection = "announcements"

	// AllClasses addresses an announcement to every class.
	AllClasses = "all"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	default:
		return false
	}
}

type (
	ClassGroup struct {
		ID        string     `json:"id"`
		Name      string     `json:"name"`
		Grade     int        `json:"grade"`
		Section   string     `json:"section,omitempty"`
		TeacherID string     `json:"teacherId,omitempty"`
		Room      string     `json:"room,omitempty"`
		Capacity  int        `json:"capacity,omitempty"`
		CreatedAt time.Time  `json:"createdAt"`
		UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	}

	ClassInput struct {
		Name      string `json:"name" validate:"required,notblank"`
		Grade     int    `json:"grade" validate:"min=0"`
		Section   string `json:"section"`
		TeacherID string `json:"teacherId"`
		Room      string `json:"room"`
		Capacity  int    `json:"capacity" validate:"min=0"`
	}

	Subject struct {
		ID          string     `json:"id"`
		Name        string     `json:"name"`
		Code        string     `json:"code"`
		Description string     `json:"description,omitempty"`
		TeacherID   string     `json:"teacherId,omitempty"`
		ClassID     string     `json:"classId,omitempty"`
		Credits     int        `json:"credits"`
		CreatedAt   time.Time  `json:"createdAt"`
		UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	}

	SubjectInput struct {
		Name        string `json:"name" validate:"required,notblank"`
		Code        string `json:"code" validate:"required,notblank"`
		Description string `json:"description"`
		TeacherID   string `json:"teacherId"`
		ClassID     string `json:"classId"`
		Credits     int    `json:"credits" validate:"min=0"`
	}

	Announcement struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		Content   string    `json:"content"`
		ClassID   string    `json:"classId"` // or AllClasses
		Priority  Priority  `json:"priority"`
		TeacherID string    `json:"teacherId"`
		CreatedAt time.Time `json:"createdAt"`
	}

	AnnouncementInput struct {
		Title    string   `json:"title" validate:"required,notblank"`
		Content  string   `json:"content" validate:"required,notblank"`
		ClassID  string   `json:"classId"`
		Priority Priority `json:"priority"`
	}
)

func (in *ClassInput) Clean() {
	in.Name = core.CleanString(in.Name)
	in.Section = core.CleanString(in.Section)
	in.TeacherID = core.CleanString(in.TeacherID)
	in.Room = core.CleanString(in.Room)
}

func (in *SubjectInput) Clean() {
	in.Name = core.CleanString(in.Name)
	in.Code = core.CleanString(in.Code)
	in.Description = core.CleanString(in.Description)
	in.TeacherID = core.CleanString(in.TeacherID)
	in.ClassID = core.CleanString(in.ClassID)
}

// Clean trims the input and applies the defaults: every class, normal priority.
func (in *AnnouncementInput) Clean() {
	in.Title = core.CleanString(in.Title)
	in.Content = core.CleanString(in.Content)
	in.ClassID = core.CleanString(in.ClassID)
	if in.ClassID == "" {
		in.ClassID = AllClasses
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
}
