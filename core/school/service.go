package school

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/record"
)

type Service struct {
	store    record.Store
	validate *validator.Validate
}

func NewService(store record.Store, validate *validator.Validate) *Service {
	return &Service{store: store, validate: validate}
}

func (svc *Service) getDecoded(ctx context.Context, collection, id string, v interface{}) error {
	rec, err := svc.store.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	return record.Decode(rec, v)
}

func (svc *Service) create(ctx context.Context, collection string, v interface{}) (string, error) {
	doc, err := record.Encode(v)
	if err != nil {
		return "", err
	}
	id, err := svc.store.Create(ctx, collection, doc)
	if err != nil {
		return "", errors.Wrapf(err, "creating %s", collection)
	}
	return id, nil
}

func (svc *Service) update(ctx context.Context, collection, id string, v interface{}) error {
	doc, err := record.Encode(v)
	if err != nil {
		return err
	}
	if err := svc.store.Update(ctx, collection, id, doc); err != nil {
		return errors.Wrapf(err, "updating %s", collection)
	}
	return nil
}

func queryDecoded(ctx context.Context, store record.Store, collection string, conds []record.Condition, ordering []core.DBOrdering, decode func(record.Record) error) error {
	recs, err := store.Query(ctx, collection, conds)
	if err != nil {
		return errors.Wrapf(err, "querying %s", collection)
	}
	record.Sort(recs, ordering)
	for _, rec := range recs {
		if err := decode(rec); err != nil {
			return err
		}
	}
	return nil
}

func signedIn(sess core.Session) error {
	return sess.Authorize(core.AllRoles...)
}

// Classes

func (svc *Service) CreateClass(ctx context.Context, sess core.Session, in ClassInput) (ClassGroup, error) {
	if err := sess.Authorize(core.RoleAdmin); err != nil {
		return ClassGroup{}, err
	}
	in.Clean()
	if err := svc.validate.Struct(in); err != nil {
		return ClassGroup{}, err
	}
	id, err := svc.create(ctx, ClassCollection, in)
	if err != nil {
		return ClassGroup{}, err
	}
	return svc.GetClass(ctx, sess, id)
}

// UpdateClass replaces every editable field of a class.
func (svc *Service) UpdateClass(ctx context.Context, sess core.Session, id string, in ClassInput) (ClassGroup, error) {
	if err := sess.Authorize(core.RoleAdmin); err != nil {
		return ClassGroup{}, err
	}
	in.Clean()
	if err := svc.validate.Struct(in); err != nil {
		return ClassGroup{}, err
	}
	if err := svc.update(ctx, ClassCollection, id, in); err != nil {
		return ClassGroup{}, err
	}
	return svc.GetClass(ctx, sess, id)
}

func (svc *Service) DeleteClass(ctx context.Context, sess core.Session, id string) error {
	if err := sess.Authorize(core.RoleAdmin); err != nil {
		return err
	}
	return errors.Wrap(svc.store.Delete(ctx, ClassCollection, id), "deleting class")
}

func (svc *Service) GetClass(ctx context.Context, sess core.Session, id string) (ClassGroup, error) {
	if err := signedIn(sess); err != nil {
		return ClassGroup{}, err
	}
	var class ClassGroup
	err := svc.getDecoded(ctx, ClassCollection, id, &class)
	return class, err
}

// ListClasses returns classes by grade and name, only those taught by teacherID if set.
func (svc *Service) ListClasses(ctx context.Context, sess core.Session, teacherID string) ([]ClassGroup, error) {
	if err := signedIn(sess); err != nil {
		return nil, err
	}
	var conds []record.Condition
	if teacherID != "" {
		conds = append(conds, record.Eq("teacherId", teacherID))
	}
	classes := make([]ClassGroup, 0)
	err := queryDecoded(ctx, svc.store, ClassCollection, conds, core.ParseOrdering("grade,name"), func(rec record.Record) error {
		var class ClassGroup
		if err := record.Decode(rec, &class); err != nil {
			return err
		}
		classes = append(classes, class)
		return nil
	})
	return classes, err
}

// Subjects

type SubjectFilter struct {
	ClassID   string `query:"classId"`
	TeacherID string `query:"teacherId"`
}

func (svc *Service) CreateSubject(ctx context.Context, sess core.Session, in SubjectInput) (Subject, error) {
	if err := sess.Authorize(core.RoleAdmin); err != nil {
		return Subject{}, err
	}
	in.Clean()
	if err := svc.validate.Struct(in); err != nil {
		return Subject{}, err
	}
	id, err := svc.create(ctx, SubjectCollection, in)
	if err != nil {
		return Subject{}, err
	}
	return svc.GetSubject(ctx, sess, id)
}

func (svc *Service) UpdateSubject(ctx context.Context, sess core.Session, id string, in SubjectInput) (Subject, error) {
	if err := sess.Authorize(core.RoleAdmin); err != nil {
		return Subject{}, err
	}
	in.Clean()
	if err := svc.validate.Struct(in); err != nil {
		return Subject{}, err
	}
	if err := svc.update(ctx, SubjectCollection, id, in); err != nil {
		return Subject{}, err
	}
	return svc.GetSubject(ctx, sess, id)
}

func (svc *Service) DeleteSubject(ctx context.Context, sess core.Session, id string) error {
	if err := sess.Authorize(core.RoleAdmin); err != nil {
		return err
	}
	return errors.Wrap(svc.store.Delete(ctx, SubjectCollection, id), "deleting subject")
}

func (svc *Service) GetSubject(ctx context.Context, sess core.Session, id string) (Subject, error) {
	if err := signedIn(sess); err != nil {
		return Subject{}, err
	}
	var subject Subject
	err := svc.getDecoded(ctx, SubjectCollection, id, &subject)
	return subject, err
}

func (svc *Service) ListSubjects(ctx context.Context, sess core.Session, filter SubjectFilter) ([]Subject, error) {
	if err := signedIn(sess); err != nil {
		return nil, err
	}
	var conds []record.Condition
	if filter.ClassID != "" {
		conds = append(conds, record.Eq("classId", filter.ClassID))
	}
	if filter.TeacherID != "" {
		conds = append(conds, record.Eq("teacherId", filter.TeacherID))
	}
	subjects := make([]Subject, 0)
	err := queryDecoded(ctx, svc.store, SubjectCollection, conds, core.ParseOrdering("name"), func(rec record.Record) error {
		var subject Subject
		if err := record.Decode(rec, &subject); err != nil {
			return err
		}
		subjects = append(subjects, subject)
		return nil
	})
	return subjects, err
}

// Announcements

// CreateAnnouncement posts an announcement to one class, or to every class.
func (svc *Service) CreateAnnouncement(ctx context.Context, sess core.Session, in AnnouncementInput) (Announcement, error) {
	if err := sess.Authorize(core.RoleTeacher, core.RoleAdmin); err != nil {
		return Announcement{}, err
	}
	in.Clean()
	if err := svc.validate.Struct(in); err != nil {
		return Announcement{}, err
	}
	if !in.Priority.Valid() {
		return Announcement{}, core.NewInvalidInputError("priority", fmt.Sprintf("unknown priority %q", in.Priority))
	}
	if in.ClassID != AllClasses {
		if _, err := svc.store.Get(ctx, ClassCollection, in.ClassID); err != nil {
			if core.IsNotFound(err) {
				return Announcement{}, core.NewInvalidInputError("classId", fmt.Sprintf("class %q does not exist", in.ClassID))
			}
			return Announcement{}, err
		}
	}

	ann := Announcement{
		Title:     in.Title,
		Content:   in.Content,
		ClassID:   in.ClassID,
		Priority:  in.Priority,
		TeacherID: sess.UID,
	}
	id, err := svc.create(ctx, AnnouncementCollection, ann)
	if err != nil {
		return Announcement{}, err
	}
	err = svc.getDecoded(ctx, AnnouncementCollection, id, &ann)
	return ann, err
}

// DeleteAnnouncement lets teachers delete their own announcements, and admins any of them.
func (svc *Service) DeleteAnnouncement(ctx context.Context, sess core.Session, id string) error {
	if err := sess.Authorize(core.RoleTeacher, core.RoleAdmin); err != nil {
		return err
	}
	var ann Announcement
	if err := svc.getDecoded(ctx, AnnouncementCollection, id, &ann); err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := sess.AuthorizeSelfOr(ann.TeacherID, core.RoleAdmin); err != nil {
		return err
	}
	return errors.Wrap(svc.store.Delete(ctx, AnnouncementCollection, id), "deleting announcement")
}

// ListAnnouncements returns, newest first, what sess may read: students get the announcements of their
// class and those addressed to all classes, teachers get their own, admins get everything.
func (svc *Service) ListAnnouncements(ctx context.Context, sess core.Session) ([]Announcement, error) {
	var conds []record.Condition
	switch sess.Role {
	case core.RoleStudent:
		classes := []interface{}{AllClasses}
		if classID := sess.ClassID(); classID != "" {
			classes = append(classes, classID)
		}
		conds = append(conds, record.In("classId", classes...))
	case core.RoleTeacher:
		conds = append(conds, record.Eq("teacherId", sess.UID))
	case core.RoleAdmin:
	default:
		return nil, core.ErrPermissionDenied
	}
	if err := signedIn(sess); err != nil {
		return nil, err
	}

	anns := make([]Announcement, 0)
	err := queryDecoded(ctx, svc.store, AnnouncementCollection, conds, core.ParseOrdering("-createdAt"), func(rec record.Record) error {
		var ann Announcement
		if err := record.Decode(rec, &ann); err != nil {
			return err
		}
		anns = append(anns, ann)
		return nil
	})
	return anns, err
}
