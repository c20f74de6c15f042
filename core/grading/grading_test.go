package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/shule/core"
)

func TestLetterGrade(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{100, APlus},
		{90, APlus},
		{89.99, A},
		{80, A},
		{79.99, B},
		{70, B},
		{69.99, C},
		{60, C},
		{59.99, D},
		{50, D},
		{49.99, F},
		{0, F},
	}
	for _, tt := range tests {
		if got := LetterGrade(tt.pct); got != tt.want {
			t.Errorf("LetterGrade(%v) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}

func TestLetterGrade_isMonotonic(t *testing.T) {
	rank := map[string]int{APlus: 5, A: 4, B: 3, C: 2, D: 1, F: 0}
	for _, total := range []float64{1, 7, 10, 30, 100, 250} {
		prev := rank[F]
		for obtained := 0.0; obtained <= total; obtained++ {
			grade, err := Grade(obtained, total)
			if err != nil {
				t.Fatalf("Grade(%v, %v) error = %v", obtained, total, err)
			}
			r, ok := rank[grade]
			if !ok {
				t.Fatalf("Grade(%v, %v) = %q, not a known grade", obtained, total, grade)
			}
			if r < prev {
				t.Errorf("Grade(%v, %v) = %q, lower than for fewer marks", obtained, total, grade)
			}
			prev = r
		}
	}
}

func TestPercentage(t *testing.T) {
	pct, err := Percentage(85, 100)
	assert.NoError(t, err)
	assert.Equal(t, 85.0, pct)

	pct, err = Percentage(9, 10)
	assert.NoError(t, err)
	assert.Equal(t, 90.0, pct)

	for _, total := range []float64{0, -10} {
		_, err = Percentage(5, total)
		assert.True(t, core.IsInvalidInput(err), "total %v: want InvalidInputError, got %v", total, err)
	}
	_, err = Percentage(-1, 10)
	assert.True(t, core.IsInvalidInput(err))
}

func TestGrade(t *testing.T) {
	grade, err := Grade(85, 100)
	assert.NoError(t, err)
	assert.Equal(t, A, grade)

	grade, err = Grade(72, 100)
	assert.NoError(t, err)
	assert.Equal(t, B, grade)

	grade, err = Grade(45, 50)
	assert.NoError(t, err)
	assert.Equal(t, APlus, grade)

	_, err = Grade(101, 100)
	assert.True(t, core.IsInvalidInput(err))
	_, err = Grade(10, 0)
	assert.True(t, core.IsInvalidInput(err))
}
