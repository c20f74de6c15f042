// Package grading turns obtained/possible scores into percentages and letter grades.
package grading

import (
	"fmt"

	"github.com/trezcool/shule/core"
)

// Letter grades, best first.
const (
	APlus = "A+"
	A     = "A"
	B     = "B"
	C     = "C"
	D     = "D"
	F     = "F"
)

// thresholds are inclusive lower bounds, highest first.
var thresholds = []struct {
	min   float64
	grade string
}{
	{90, APlus},
	{80, A},
	{70, B},
	{60, C},
	{50, D},
}

// Percentage is obtained*100/total.
func Percentage(obtained, total float64) (float64, error) {
	if total <= 0 {
		return 0, core.NewInvalidInputError("totalMarks", fmt.Sprintf("must be greater than 0, got %v", total))
	}
	if obtained < 0 {
		return 0, core.NewInvalidInputError("marks", fmt.Sprintf("cannot be negative, got %v", obtained))
	}
	return obtained * 100 / total, nil
}

// LetterGrade maps a percentage to its letter grade.
func LetterGrade(percentage float64) string {
	for _, t := range thresholds {
		if percentage >= t.min {
			return t.grade
		}
	}
	return F
}

// Grade returns the letter grade of obtained out of total.
// Marks above total are rejected: there is no extra credit.
func Grade(obtained, total float64) (string, error) {
	if obtained > total && total > 0 {
		return "", core.NewInvalidInputError("marks", fmt.Sprintf("cannot exceed total marks %v, got %v", total, obtained))
	}
	pct, err := Percentage(obtained, total)
	if err != nil {
		return "", err
	}
	return LetterGrade(pct), nil
}
