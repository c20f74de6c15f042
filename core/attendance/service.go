package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/record"
)

var nowFunc = time.Now // mockable

type (
	// Roster lists the ids of the students enrolled in a class.
	Roster interface {
		RosterIDs(ctx context.Context, classID string) ([]string, error)
	}

	// RosterMarks is one submit of the teacher marking view.
	// Students of the roster missing from Statuses are marked absent.
	RosterMarks struct {
		ClassID  string            `json:"classId" validate:"required"`
		Date     string            `json:"date" validate:"required,isodate"`
		Statuses map[string]Status `json:"statuses"`
	}

	Service struct {
		store  record.Store
		roster Roster
		logger core.Logger
	}
)

func NewService(store record.Store, roster Roster, logger core.Logger) *Service {
	return &Service{store: store, roster: roster, logger: logger}
}

func validateDay(classID, date string) error {
	if core.CleanString(classID) == "" {
		return core.NewInvalidInputError("classId", "class is required")
	}
	if !core.IsDate(date) {
		return core.NewInvalidInputError("date", fmt.Sprintf("%q is not a YYYY-MM-DD date", date))
	}
	return nil
}

// MarkRoster upserts one record per student of the class roster. The upserts run one after the
// other; on failure the records already written are kept and the error is returned.
func (svc *Service) MarkRoster(ctx context.Context, sess core.Session, marks RosterMarks) ([]Record, error) {
	if err := sess.Authorize(core.RoleTeacher, core.RoleAdmin); err != nil {
		return nil, err
	}
	if err := validateDay(marks.ClassID, marks.Date); err != nil {
		return nil, err
	}
	statuses := make(map[string]Status, len(marks.Statuses))
	for id, st := range marks.Statuses {
		status, err := ParseStatus(string(st))
		if err != nil {
			return nil, err
		}
		statuses[id] = status
	}

	studentIDs, err := svc.roster.RosterIDs(ctx, marks.ClassID)
	if err != nil {
		return nil, errors.Wrap(err, "loading roster")
	}
	enrolled := make(map[string]bool, len(studentIDs))
	for _, id := range studentIDs {
		enrolled[id] = true
	}
	for id := range statuses {
		if !enrolled[id] {
			return nil, core.NewInvalidInputError("statuses", fmt.Sprintf("student %q is not enrolled in %s", id, marks.ClassID))
		}
	}

	now := nowFunc().UTC()
	records := make([]Record, 0, len(studentIDs))
	for _, studentID := range studentIDs {
		status, ok := statuses[studentID]
		if !ok {
			status = StatusAbsent
		}
		rec, err := svc.put(ctx, sess, marks.ClassID, marks.Date, studentID, status, now)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Mark upserts the status of a single enrolled student.
func (svc *Service) Mark(ctx context.Context, sess core.Session, classID, date, studentID string, status Status) (Record, error) {
	if err := sess.Authorize(core.RoleTeacher, core.RoleAdmin); err != nil {
		return Record{}, err
	}
	if err := validateDay(classID, date); err != nil {
		return Record{}, err
	}
	status, err := ParseStatus(string(status))
	if err != nil {
		return Record{}, err
	}

	studentIDs, err := svc.roster.RosterIDs(ctx, classID)
	if err != nil {
		return Record{}, errors.Wrap(err, "loading roster")
	}
	for _, id := range studentIDs {
		if id == studentID {
			return svc.put(ctx, sess, classID, date, studentID, status, nowFunc().UTC())
		}
	}
	return Record{}, core.NewInvalidInputError("studentId", fmt.Sprintf("student %q is not enrolled in %s", studentID, classID))
}

func (svc *Service) put(ctx context.Context, sess core.Session, classID, date, studentID string, status Status, now time.Time) (Record, error) {
	rec := Record{
		ID:        Key(classID, date, studentID),
		ClassID:   classID,
		Date:      date,
		StudentID: studentID,
		Status:    status,
		MarkedAt:  now,
		MarkedBy:  sess.UID,
	}
	doc, err := record.Encode(rec)
	if err != nil {
		return Record{}, err
	}
	if err := svc.store.Set(ctx, Collection, rec.ID, doc); err != nil {
		return Record{}, errors.Wrapf(err, "marking %s", rec.ID)
	}
	return rec, nil
}

// ByClassDate returns the marks of one class on one day, by student.
func (svc *Service) ByClassDate(ctx context.Context, sess core.Session, classID, date string) ([]Record, error) {
	if err := sess.Authorize(core.RoleTeacher, core.RoleAdmin); err != nil {
		return nil, err
	}
	if err := validateDay(classID, date); err != nil {
		return nil, err
	}
	recs, err := svc.store.Query(ctx, Collection, []record.Condition{
		record.Eq("classId", classID),
		record.Eq("date", date),
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance")
	}
	record.Sort(recs, []core.DBOrdering{{Field: "studentId", Ascending: true}})
	return decodeAll(recs)
}

// ForStudent returns the attendance history of a student, newest day first.
// Students only see their own.
func (svc *Service) ForStudent(ctx context.Context, sess core.Session, studentID string) ([]Record, error) {
	if err := sess.AuthorizeSelfOr(studentID, core.RoleTeacher, core.RoleAdmin); err != nil {
		return nil, err
	}
	// single-field query, ordered in process: no composite index needed
	recs, err := svc.store.Query(ctx, Collection, []record.Condition{record.Eq("studentId", studentID)})
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance")
	}
	record.Sort(recs, []core.DBOrdering{{Field: "date"}, {Field: "classId", Ascending: true}})
	return decodeAll(recs)
}

// StudentSummary aggregates the whole attendance history of a student.
func (svc *Service) StudentSummary(ctx context.Context, sess core.Session, studentID string) (Summary, error) {
	records, err := svc.ForStudent(ctx, sess, studentID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(records), nil
}

func decodeAll(recs []record.Record) ([]Record, error) {
	records := make([]Record, 0, len(recs))
	for _, r := range recs {
		var rec Record
		if err := record.Decode(r, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
