package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marks(v float64) *float64 { return &v }

func TestSubmissionGraded_FirstGrading(t *testing.T) {
	tests := []struct {
		name       string
		prev, next *float64
		want       bool
	}{
		{name: "unset to set", next: marks(85), want: true},
		{name: "unset to zero", next: marks(0), want: true},
		{name: "same marks saved again", prev: marks(85), next: marks(85)},
		{name: "marks changed", prev: marks(85), next: marks(90)},
		{name: "still unset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sg := SubmissionGraded{PrevMarks: tt.prev, Marks: tt.next}
			assert.Equal(t, tt.want, sg.FirstGrading())
		})
	}
}

func TestLocalBus(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()

	var calls []string
	bus.Subscribe(KindAssignmentCreated, func(ctx context.Context, ev Event) error {
		calls = append(calls, "first:"+ev.AssignmentCreated.Title)
		return errors.New("boom")
	})
	bus.Subscribe(KindAssignmentCreated, func(ctx context.Context, ev Event) error {
		calls = append(calls, "second:"+ev.AssignmentCreated.Title)
		return nil
	})
	bus.Subscribe(KindSubmissionGraded, func(ctx context.Context, ev Event) error {
		calls = append(calls, "graded")
		return nil
	})

	ev := NewAssignmentCreated(AssignmentCreated{AssignmentID: "a1", ClassID: "10-A", Title: "HW1"})
	require.NotEmpty(t, ev.ID)
	assert.False(t, ev.OccurredAt.IsZero())

	err := bus.Publish(ctx, ev)
	assert.EqualError(t, err, "handling assignment.created event "+ev.ID+": boom")
	assert.Equal(t, []string{"first:HW1", "second:HW1"}, calls, "a failing handler does not stop the others")

	err = bus.Publish(ctx, Event{ID: "x", Kind: KindSubmissionGraded})
	assert.Error(t, err, "payload is required")
	assert.Len(t, calls, 2)

	require.NoError(t, bus.Publish(ctx, NewSubmissionGraded(SubmissionGraded{SubmissionID: "a1_s1"})))
	assert.Equal(t, "graded", calls[2])
}
