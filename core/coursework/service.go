package coursework

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/event"
	"github.com/trezcool/shule/core/grading"
	"github.com/trezcool/shule/core/record"
	"github.com/trezcool/shule/core/school"
)

var nowFunc = time.Now // mockable

type Service struct {
	store    record.Store
	files    core.FileStore
	bus      event.Bus
	logger   core.Logger
	validate *validator.Validate
}

func NewService(store record.Store, files core.FileStore, bus event.Bus, logger core.Logger, validate *validator.Validate) *Service {
	return &Service{store: store, files: files, bus: bus, logger: logger, validate: validate}
}

// publish never fails the write that triggered it: the record is already persisted.
func (svc *Service) publish(ctx context.Context, sess core.Session, ev event.Event) {
	if err := svc.bus.Publish(ctx, ev); err != nil {
		svc.logger.Error(fmt.Sprintf("publishing %s event %s: %v", ev.Kind, ev.ID, err), err, sess)
	}
}

// discard deletes an uploaded file that is no longer referenced.
func (svc *Service) discard(ctx context.Context, sess core.Session, ref *FileRef) {
	if ref == nil || ref.Path == "" {
		return
	}
	if err := svc.files.Delete(ctx, ref.Path); err != nil {
		svc.logger.Warn(fmt.Sprintf("deleting file %s: %v", ref.Path, err), err, sess)
	}
}

func (svc *Service) upload(ctx context.Context, path string, u *Upload) (*FileRef, error) {
	url, err := svc.files.Upload(ctx, path, u.Content)
	if err != nil {
		return nil, errors.Wrapf(err, "uploading %s", path)
	}
	return &FileRef{Name: core.CleanString(u.Name), URL: url, Path: path}, nil
}

// Assignments

// CreateAssignment stores an assignment of the session's teacher, with an optional brief, and
// announces it to the class.
func (svc *Service) CreateAssignment(ctx context.Context, sess core.Session, na NewAssignment, brief *Upload) (Assignment, error) {
	if err := sess.Authorize(core.RoleTeacher, core.RoleAdmin); err != nil {
		return Assignment{}, err
	}
	na.Clean()
	if err := svc.validate.Struct(na); err != nil {
		return Assignment{}, err
	}
	if _, err := svc.store.Get(ctx, school.ClassCollection, na.ClassID); err != nil {
		if core.IsNotFound(err) {
			return Assignment{}, core.NewInvalidInputError("classId", fmt.Sprintf("class %q does not exist", na.ClassID))
		}
		return Assignment{}, errors.Wrap(err, "getting class")
	}

	now := nowFunc().UTC()
	asg := Assignment{
		ID:          uuid.New().String(),
		Title:       na.Title,
		Description: na.Description,
		ClassID:     na.ClassID,
		SubjectID:   na.SubjectID,
		TeacherID:   sess.UID,
		DueDate:     na.DueDate,
		TotalMarks:  na.TotalMarks,
		Status:      assignmentStatusActive,
		CreatedAt:   now,
	}
	if brief.valid() {
		ref, err := svc.upload(ctx, AssignmentFilePath(asg.ID, sess.UID, brief.Name, now), brief)
		if err != nil {
			return Assignment{}, err
		}
		asg.File = ref
	}

	doc, err := record.Encode(asg)
	if err != nil {
		return Assignment{}, err
	}
	if err := svc.store.Set(ctx, AssignmentCollection, asg.ID, doc); err != nil {
		svc.discard(ctx, sess, asg.File)
		return Assignment{}, errors.Wrap(err, "creating assignment")
	}

	svc.publish(ctx, sess, event.NewAssignmentCreated(event.AssignmentCreated{
		AssignmentID: asg.ID,
		ClassID:      asg.ClassID,
		TeacherID:    asg.TeacherID,
		Title:        asg.Title,
	}))
	return svc.getAssignment(ctx, asg.ID)
}

func (svc *Service) getAssignment(ctx context.Context, id string) (Assignment, error) {
	rec, err := svc.store.Get(ctx, AssignmentCollection, id)
	if err != nil {
		return Assignment{}, err
	}
	var asg Assignment
	err = record.Decode(rec, &asg)
	return asg, err
}

// GetAssignment returns an assignment. Students only see those of their class.
func (svc *Service) GetAssignment(ctx context.Context, sess core.Session, id string) (Assignment, error) {
	if err := sess.Authorize(core.AllRoles...); err != nil {
		return Assignment{}, err
	}
	asg, err := svc.getAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if sess.IsStudent() && asg.ClassID != sess.ClassID() {
		return Assignment{}, core.ErrPermissionDenied
	}
	return asg, nil
}

// ListAssignments returns assignments newest first: those of their class for students, their own for
// teachers and every one for admins. filter.ClassID narrows it down for staff.
func (svc *Service) ListAssignments(ctx context.Context, sess core.Session, filter AssignmentFilter) ([]Assignment, error) {
	if err := sess.Authorize(core.AllRoles...); err != nil {
		return nil, err
	}

	var conds []record.Condition
	switch sess.Role {
	case core.RoleStudent:
		if sess.ClassID() == "" {
			return []Assignment{}, nil
		}
		conds = append(conds, record.Eq("classId", sess.ClassID()))
	case core.RoleTeacher:
		conds = append(conds, record.Eq("teacherId", sess.UID))
		fallthrough
	case core.RoleAdmin:
		if classID := core.CleanString(filter.ClassID); classID != "" {
			conds = append(conds, record.Eq("classId", classID))
		}
	}

	recs, err := svc.store.Query(ctx, AssignmentCollection, conds)
	if err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	record.Sort(recs, core.ParseOrdering("-createdAt"))
	asgs := make([]Assignment, 0, len(recs))
	for _, rec := range recs {
		var asg Assignment
		if err := record.Decode(rec, &asg); err != nil {
			return nil, err
		}
		asgs = append(asgs, asg)
	}
	return asgs, nil
}

// DeleteAssignment removes an assignment and every submission made for it, in one batch.
// Deleting a missing assignment is a no-op.
func (svc *Service) DeleteAssignment(ctx context.Context, sess core.Session, id string) error {
	if err := sess.Authorize(core.RoleTeacher, core.RoleAdmin); err != nil {
		return err
	}
	asg, err := svc.getAssignment(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !sess.IsAdmin() && asg.TeacherID != sess.UID {
		return core.ErrPermissionDenied
	}

	subs, err := svc.querySubmissions(ctx, record.Eq("assignmentId", id))
	if err != nil {
		return err
	}
	writes := make([]record.Write, 0, len(subs)+1)
	for _, sub := range subs {
		writes = append(writes, record.Write{Collection: SubmissionCollection, ID: sub.ID, Delete: true})
	}
	writes = append(writes, record.Write{Collection: AssignmentCollection, ID: id, Delete: true})
	if _, err := svc.store.Batch(ctx, writes); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}

	svc.discard(ctx, sess, asg.File)
	for _, sub := range subs {
		svc.discard(ctx, sess, &sub.File)
	}
	return nil
}

// Submissions

// Submit stores the work of the session's student. Submitting again replaces the previous file and
// clears any grading: the submission goes back to pending until the teacher grades it again.
func (svc *Service) Submit(ctx context.Context, sess core.Session, assignmentID string, work *Upload) (Submission, error) {
	if err := sess.Authorize(core.RoleStudent); err != nil {
		return Submission{}, err
	}
	if !work.valid() {
		return Submission{}, core.NewInvalidInputError("file", "a file is required")
	}
	asg, err := svc.GetAssignment(ctx, sess, assignmentID)
	if err != nil {
		return Submission{}, err
	}

	id := SubmissionID(asg.ID, sess.UID)
	prev, err := svc.getSubmission(ctx, id)
	resubmit := err == nil
	if err != nil && !core.IsNotFound(err) {
		return Submission{}, err
	}

	now := nowFunc().UTC()
	ref, err := svc.upload(ctx, SubmissionFilePath(asg.ID, sess.UID, work.Name, now), work)
	if err != nil {
		return Submission{}, err
	}

	sub := Submission{
		ID:              id,
		AssignmentID:    asg.ID,
		AssignmentTitle: asg.Title,
		StudentID:       sess.UID,
		StudentName:     sess.Claim(core.ClaimName),
		File:            *ref,
		SubmittedAt:     now,
		Status:          StatusSubmitted,
	}
	if resubmit {
		sub.Status = StatusPending
	}
	doc, err := record.Encode(sub)
	if err != nil {
		return Submission{}, err
	}
	if err := svc.store.Set(ctx, SubmissionCollection, id, doc); err != nil {
		svc.discard(ctx, sess, ref)
		return Submission{}, errors.Wrap(err, "submitting")
	}
	if resubmit && prev.File.Path != ref.Path {
		svc.discard(ctx, sess, &prev.File)
	}
	return sub, nil
}

func (svc *Service) getSubmission(ctx context.Context, id string) (Submission, error) {
	rec, err := svc.store.Get(ctx, SubmissionCollection, id)
	if err != nil {
		return Submission{}, err
	}
	var sub Submission
	err = record.Decode(rec, &sub)
	return sub, err
}

// GetSubmission returns a submission to its student, or to staff.
func (svc *Service) GetSubmission(ctx context.Context, sess core.Session, id string) (Submission, error) {
	if err := sess.Authorize(core.AllRoles...); err != nil {
		return Submission{}, err
	}
	sub, err := svc.getSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if err := sess.AuthorizeSelfOr(sub.StudentID, core.RoleTeacher, core.RoleAdmin); err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// Grade sets the marks of a submission. Everything the grading changes is written in one update.
// A SubmissionGraded event carries the previous marks so that subscribers can tell a first grading
// from a correction.
func (svc *Service) Grade(ctx context.Context, sess core.Session, submissionID string, in GradeInput) (Submission, error) {
	if err := sess.Authorize(core.RoleTeacher, core.RoleAdmin); err != nil {
		return Submission{}, err
	}
	if err := svc.validate.Struct(in); err != nil {
		return Submission{}, err
	}
	sub, err := svc.getSubmission(ctx, submissionID)
	if err != nil {
		return Submission{}, err
	}
	asg, err := svc.getAssignment(ctx, sub.AssignmentID)
	if err != nil {
		return Submission{}, errors.Wrap(err, "getting assignment")
	}
	if !sess.IsAdmin() && asg.TeacherID != sess.UID {
		return Submission{}, core.ErrPermissionDenied
	}

	total := float64(asg.TotalMarks)
	if in.TotalMarks != nil {
		total = *in.TotalMarks
	}
	marks := *in.Marks
	grade, err := grading.Grade(marks, total)
	if err != nil {
		return Submission{}, err
	}

	prevMarks := sub.Marks
	now := nowFunc().UTC()
	sub.Marks = &marks
	sub.TotalMarks = &total
	sub.Remarks = core.CleanString(in.Remarks)
	sub.Grade = grade
	sub.Status = StatusGraded
	sub.GradedAt = &now
	sub.GradedBy = sess.UID

	// the store has no conditional update: re-read to catch a resubmission or a concurrent grading
	cur, err := svc.getSubmission(ctx, sub.ID)
	if err != nil {
		return Submission{}, err
	}
	if !cur.SubmittedAt.Equal(sub.SubmittedAt) || !sameMarks(cur.Marks, prevMarks) {
		return Submission{}, core.NewWriteError("grade", SubmissionCollection, ErrSubmissionChanged)
	}

	err = svc.store.Update(ctx, SubmissionCollection, sub.ID, record.Document{
		"marks":      marks,
		"totalMarks": total,
		"remarks":    sub.Remarks,
		"grade":      grade,
		"status":     string(StatusGraded),
		"gradedAt":   now.Format(time.RFC3339Nano),
		"gradedBy":   sess.UID,
	})
	if err != nil {
		return Submission{}, errors.Wrap(err, "grading submission")
	}

	svc.publish(ctx, sess, event.NewSubmissionGraded(event.SubmissionGraded{
		SubmissionID:    sub.ID,
		AssignmentID:    sub.AssignmentID,
		AssignmentTitle: sub.AssignmentTitle,
		StudentID:       sub.StudentID,
		PrevMarks:       prevMarks,
		Marks:           sub.Marks,
		TotalMarks:      total,
		Grade:           grade,
	}))
	return sub, nil
}

func sameMarks(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (svc *Service) querySubmissions(ctx context.Context, conds ...record.Condition) ([]Submission, error) {
	recs, err := svc.store.Query(ctx, SubmissionCollection, conds)
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]Submission, 0, len(recs))
	for _, rec := range recs {
		var sub Submission
		if err := record.Decode(rec, &sub); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ListSubmissions returns the submissions of an assignment by student name, to its teacher or an admin.
func (svc *Service) ListSubmissions(ctx context.Context, sess core.Session, assignmentID string) ([]Submission, error) {
	if err := sess.Authorize(core.RoleTeacher, core.RoleAdmin); err != nil {
		return nil, err
	}
	asg, err := svc.getAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !sess.IsAdmin() && asg.TeacherID != sess.UID {
		return nil, core.ErrPermissionDenied
	}

	recs, err := svc.store.Query(ctx, SubmissionCollection, []record.Condition{record.Eq("assignmentId", assignmentID)})
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	record.Sort(recs, core.ParseOrdering("studentName,studentId"))
	subs := make([]Submission, 0, len(recs))
	for _, rec := range recs {
		var sub Submission
		if err := record.Decode(rec, &sub); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// StudentSubmissions returns the submissions of a student, latest first.
func (svc *Service) StudentSubmissions(ctx context.Context, sess core.Session, studentID string) ([]Submission, error) {
	if err := sess.AuthorizeSelfOr(studentID, core.RoleTeacher, core.RoleAdmin); err != nil {
		return nil, err
	}
	recs, err := svc.store.Query(ctx, SubmissionCollection, []record.Condition{record.Eq("studentId", studentID)})
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	record.Sort(recs, core.ParseOrdering("-submittedAt"))
	subs := make([]Submission, 0, len(recs))
	for _, rec := range recs {
		var sub Submission
		if err := record.Decode(rec, &sub); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Marks sums up the graded submissions of a student.
func (svc *Service) Marks(ctx context.Context, sess core.Session, studentID string) (MarksReport, error) {
	subs, err := svc.StudentSubmissions(ctx, sess, studentID)
	if err != nil {
		return MarksReport{}, err
	}
	return Summarize(studentID, subs), nil
}

// Summarize builds the MarksReport of the graded submissions among subs.
func Summarize(studentID string, subs []Submission) MarksReport {
	report := MarksReport{StudentID: studentID, Entries: []MarkEntry{}}
	for _, sub := range subs {
		if sub.Status != StatusGraded || sub.Marks == nil || sub.TotalMarks == nil || *sub.TotalMarks <= 0 {
			continue
		}
		pct, _ := grading.Percentage(*sub.Marks, *sub.TotalMarks)
		report.Entries = append(report.Entries, MarkEntry{
			SubmissionID:    sub.ID,
			AssignmentID:    sub.AssignmentID,
			AssignmentTitle: sub.AssignmentTitle,
			Marks:           *sub.Marks,
			TotalMarks:      *sub.TotalMarks,
			Percentage:      pct,
			Grade:           sub.Grade,
			Remarks:         sub.Remarks,
			GradedAt:        sub.GradedAt,
		})
		report.Obtained += *sub.Marks
		report.Possible += *sub.TotalMarks
	}
	if report.Possible > 0 {
		pct, _ := grading.Percentage(report.Obtained, report.Possible)
		report.Percentage = int(math.Round(pct))
		report.Grade = grading.LetterGrade(pct)
	}
	return report
}
