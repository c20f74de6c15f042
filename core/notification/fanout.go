package notification

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/event"
	"github.com/trezcool/shule/core/record"
)

// Roster lists the ids of the students enrolled in a class.
type Roster interface {
	RosterIDs(ctx context.Context, classID string) ([]string, error)
}

// Fanout turns domain events into notifications.
type Fanout struct {
	store  record.Store
	roster Roster
	logger core.Logger
}

func NewFanout(store record.Store, roster Roster, logger core.Logger) *Fanout {
	return &Fanout{store: store, roster: roster, logger: logger}
}

// Register subscribes the Fanout to the events it reacts to.
func (f *Fanout) Register(bus event.Bus) {
	bus.Subscribe(event.KindAssignmentCreated, f.onAssignmentCreated)
	bus.Subscribe(event.KindSubmissionGraded, f.onSubmissionGraded)
}

// onAssignmentCreated notifies every student of the class in one batch: either all of them are
// notified, or none.
func (f *Fanout) onAssignmentCreated(ctx context.Context, ev event.Event) error {
	ac := ev.AssignmentCreated
	studentIDs, err := f.roster.RosterIDs(ctx, ac.ClassID)
	if err != nil {
		return errors.Wrapf(err, "loading roster of %s", ac.ClassID)
	}
	if len(studentIDs) == 0 {
		return nil
	}

	writes := make([]record.Write, 0, len(studentIDs))
	for _, id := range studentIDs {
		doc, err := record.Encode(newAssignmentNotification(id, ac.AssignmentID, ac.Title))
		if err != nil {
			return err
		}
		writes = append(writes, record.Write{Collection: Collection, Data: doc})
	}
	if _, err := f.store.Batch(ctx, writes); err != nil {
		return errors.Wrapf(err, "notifying %d students of assignment %s", len(writes), ac.AssignmentID)
	}
	f.logger.Info(fmt.Sprintf("created notifications for %d students", len(writes)))
	return nil
}

// onSubmissionGraded notifies the student the first time marks are set, never on later gradings.
func (f *Fanout) onSubmissionGraded(ctx context.Context, ev event.Event) error {
	sg := ev.SubmissionGraded
	if !sg.FirstGrading() {
		return nil
	}
	doc, err := record.Encode(newMarksNotification(sg.StudentID, sg.SubmissionID, sg.AssignmentTitle, *sg.Marks, sg.TotalMarks))
	if err != nil {
		return err
	}
	if _, err := f.store.Create(ctx, Collection, doc); err != nil {
		return errors.Wrapf(err, "notifying marks of %s", sg.SubmissionID)
	}
	f.logger.Info(fmt.Sprintf("created marks notification for student %s", sg.StudentID))
	return nil
}
