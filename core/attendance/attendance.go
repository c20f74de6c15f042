// Package attendance records one status per student, class and day, and aggregates them into presence rates.
package attendance

import (
	"fmt"
	"math"
	"time"

	"github.com/trezcool/shule/core"
)

const Collection = "attendance"

type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(core.CleanString(s, true)); st {
	case StatusPresent, StatusAbsent, StatusLate:
		return st, nil
	default:
		return "", core.NewInvalidInputError("status", fmt.Sprintf("unknown attendance status %q", s))
	}
}

// Record is the attendance of one student in one class on one day.
type Record struct {
	ID        string    `json:"id"`
	ClassID   string    `json:"classId"`
	Date      string    `json:"date"` // YYYY-MM-DD
	StudentID string    `json:"studentId"`
	Status    Status    `json:"status"`
	MarkedAt  time.Time `json:"markedAt"`
	MarkedBy  string    `json:"markedBy"`
}

// Key is the record id: marking the same student, class and day again overwrites the previous status.
func Key(classID, date, studentID string) string {
	return classID + "_" + date + "_" + studentID
}

type Summary struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Late    int `json:"late"`
	Rate    int `json:"rate"` // percent
}

// Summarize counts records per status. Late days count towards the total, never as present.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		s.Total++
		switch r.Status {
		case StatusPresent:
			s.Present++
		case StatusAbsent:
			s.Absent++
		case StatusLate:
			s.Late++
		}
	}
	if s.Total > 0 {
		s.Rate = int(math.Round(100 * float64(s.Present) / float64(s.Total)))
	}
	return s
}

// PresenceRate is round(100 * present / total), or 0 without records.
func PresenceRate(records []Record) int {
	return Summarize(records).Rate
}
