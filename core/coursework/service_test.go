package coursework

import (
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/event"
	"github.com/trezcool/shule/core/grading"
	"github.com/trezcool/shule/core/record"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/services/files"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database/inmem"
)

var (
	admin    = core.NewSession("admin", core.RoleAdmin, nil)
	teacher  = core.NewSession("t1", core.RoleTeacher, nil)
	teacher2 = core.NewSession("t2", core.RoleTeacher, nil)
	s1       = core.NewSession("s1", core.RoleStudent, map[string]string{core.ClaimClassID: "10-A", core.ClaimName: "Amy"})
	s2       = core.NewSession("s2", core.RoleStudent, map[string]string{core.ClaimClassID: "10-A", core.ClaimName: "Zed"})
	s3       = core.NewSession("s3", core.RoleStudent, map[string]string{core.ClaimClassID: "10-B", core.ClaimName: "Bob"})
)

type testEnv struct {
	svc    *Service
	store  *inmem.Store
	files  *files.MemoryStore
	events []event.Event
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{store: inmem.NewStore(), files: files.NewMemoryStore("/files")}
	bus := event.NewLocalBus()
	collect := func(ctx context.Context, ev event.Event) error {
		env.events = append(env.events, ev)
		return nil
	}
	bus.Subscribe(event.KindAssignmentCreated, collect)
	bus.Subscribe(event.KindSubmissionGraded, collect)

	validate, _ := core.NewValidator()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "TEST : ", 0), core.NewTestConfig())
	env.svc = NewService(env.store, env.files, bus, logger, validate)

	ctx := context.Background()
	require.NoError(t, env.store.Set(ctx, school.ClassCollection, "10-A", record.Document{"name": "10-A", "grade": 10}))
	require.NoError(t, env.store.Set(ctx, school.ClassCollection, "10-B", record.Document{"name": "10-B", "grade": 10}))
	return env
}

func (env *testEnv) assignment(t *testing.T, sess core.Session, title, classID string) Assignment {
	asg, err := env.svc.CreateAssignment(context.Background(), sess, NewAssignment{
		Title:      title,
		ClassID:    classID,
		DueDate:    "2024-03-15",
		TotalMarks: 100,
	}, nil)
	require.NoError(t, err)
	return asg
}

func work(name, content string) *Upload {
	return &Upload{Name: name, Content: strings.NewReader(content)}
}

func TestFilePaths(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "assignments/a1/t1_1709287200000_brief.pdf", AssignmentFilePath("a1", "t1", "brief.pdf", at))
	assert.Equal(t, "submissions/a1/s1_1709287200000_work.pdf", SubmissionFilePath("a1", "s1", "work.pdf", at))
	assert.Equal(t, "submissions/a1/s1_1709287200000_passwd", SubmissionFilePath("a1", "s1", "../../etc/passwd", at))
	assert.Equal(t, "a1_s1", SubmissionID("a1", "s1"))
}

func TestService_CreateAssignment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	asg, err := env.svc.CreateAssignment(ctx, teacher, NewAssignment{
		Title:       " HW1 ",
		Description: "Chapter 3",
		ClassID:     "10-A",
		DueDate:     "2024-03-15",
		TotalMarks:  100,
	}, work("brief.pdf", "questions"))
	require.NoError(t, err)
	assert.Equal(t, "HW1", asg.Title)
	assert.Equal(t, "t1", asg.TeacherID)
	assert.Equal(t, "active", asg.Status)
	assert.False(t, asg.CreatedAt.IsZero())
	require.NotNil(t, asg.File)
	assert.Equal(t, "brief.pdf", asg.File.Name)
	assert.True(t, strings.HasPrefix(asg.File.Path, "assignments/"+asg.ID+"/t1_"))
	assert.Equal(t, "/files/"+asg.File.Path, asg.File.URL)
	_, ok := env.files.Get(asg.File.Path)
	assert.True(t, ok)

	require.Len(t, env.events, 1)
	ev := env.events[0]
	assert.Equal(t, event.KindAssignmentCreated, ev.Kind)
	assert.Equal(t, event.AssignmentCreated{AssignmentID: asg.ID, ClassID: "10-A", TeacherID: "t1", Title: "HW1"}, *ev.AssignmentCreated)

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name  string
			sess  core.Session
			input NewAssignment
			check func(error) bool
		}{
			{name: "student", sess: s1, input: NewAssignment{Title: "x", ClassID: "10-A", DueDate: "2024-03-15", TotalMarks: 10}, check: core.IsPermissionDenied},
			{name: "unknown class", sess: teacher, input: NewAssignment{Title: "x", ClassID: "12-Z", DueDate: "2024-03-15", TotalMarks: 10}, check: core.IsInvalidInput},
			{name: "bad due date", sess: teacher, input: NewAssignment{Title: "x", ClassID: "10-A", DueDate: "15/03/2024", TotalMarks: 10}, check: isValidationError},
			{name: "no marks", sess: teacher, input: NewAssignment{Title: "x", ClassID: "10-A", DueDate: "2024-03-15"}, check: isValidationError},
			{name: "blank title", sess: teacher, input: NewAssignment{Title: "  ", ClassID: "10-A", DueDate: "2024-03-15", TotalMarks: 10}, check: isValidationError},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := env.svc.CreateAssignment(ctx, tt.sess, tt.input, nil)
				assert.True(t, tt.check(err), "unexpected error: %v", err)
			})
		}
		assert.Len(t, env.events, 1)
	})
}

func TestService_ListAssignments(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	hw1 := env.assignment(t, teacher, "HW1", "10-A")
	hw2 := env.assignment(t, teacher2, "HW2", "10-A")
	hw3 := env.assignment(t, teacher, "HW3", "10-B")

	titles := func(asgs []Assignment) []string {
		out := make([]string, 0, len(asgs))
		for _, a := range asgs {
			out = append(out, a.Title)
		}
		return out
	}

	tests := []struct {
		name   string
		sess   core.Session
		filter AssignmentFilter
		want   []string
	}{
		{name: "student sees own class", sess: s1, filter: AssignmentFilter{ClassID: "10-B"}, want: []string{hw1.Title, hw2.Title}},
		{name: "teacher sees own", sess: teacher, want: []string{hw1.Title, hw3.Title}},
		{name: "teacher filtered by class", sess: teacher, filter: AssignmentFilter{ClassID: "10-B"}, want: []string{hw3.Title}},
		{name: "admin sees all", sess: admin, want: []string{hw1.Title, hw2.Title, hw3.Title}},
		{name: "student without class", sess: core.NewSession("s9", core.RoleStudent, nil), want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asgs, err := env.svc.ListAssignments(ctx, tt.sess, tt.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, titles(asgs))
		})
	}

	_, err := env.svc.GetAssignment(ctx, s3, hw1.ID)
	assert.True(t, core.IsPermissionDenied(err))
	got, err := env.svc.GetAssignment(ctx, s1, hw1.ID)
	require.NoError(t, err)
	assert.Equal(t, hw1.ID, got.ID)
}

func TestService_SubmitAndGrade(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	hw1 := env.assignment(t, teacher, "HW1", "10-A")
	env.events = nil

	sub, err := env.svc.Submit(ctx, s1, hw1.ID, work("work.pdf", "v1"))
	require.NoError(t, err)
	assert.Equal(t, hw1.ID+"_s1", sub.ID)
	assert.Equal(t, StatusSubmitted, sub.Status)
	assert.Equal(t, "Amy", sub.StudentName)
	assert.Equal(t, "HW1", sub.AssignmentTitle)
	assert.Nil(t, sub.Marks)
	firstFile := sub.File.Path

	_, err = env.svc.Submit(ctx, s3, hw1.ID, work("work.pdf", "v1"))
	assert.True(t, core.IsPermissionDenied(err), "other classes cannot submit")
	_, err = env.svc.Submit(ctx, s2, hw1.ID, nil)
	assert.True(t, core.IsInvalidInput(err))
	_, err = env.svc.Submit(ctx, teacher, hw1.ID, work("work.pdf", "v1"))
	assert.True(t, core.IsPermissionDenied(err))

	// grading
	marks := 85.0
	_, err = env.svc.Grade(ctx, teacher2, sub.ID, GradeInput{Marks: &marks})
	assert.True(t, core.IsPermissionDenied(err), "only the assignment's teacher grades")
	tooMany := 101.0
	_, err = env.svc.Grade(ctx, teacher, sub.ID, GradeInput{Marks: &tooMany})
	assert.True(t, core.IsInvalidInput(err))
	negative := -1.0
	_, err = env.svc.Grade(ctx, teacher, sub.ID, GradeInput{Marks: &negative})
	assert.True(t, core.IsInvalidInput(err))
	_, err = env.svc.Grade(ctx, teacher, sub.ID, GradeInput{})
	assert.True(t, isValidationError(err))
	_, err = env.svc.Grade(ctx, teacher, "nope", GradeInput{Marks: &marks})
	assert.True(t, core.IsNotFound(err))
	assert.Empty(t, env.events)

	graded, err := env.svc.Grade(ctx, teacher, sub.ID, GradeInput{Marks: &marks, Remarks: " Good work "})
	require.NoError(t, err)
	assert.Equal(t, StatusGraded, graded.Status)
	assert.Equal(t, grading.LetterGrade(85), graded.Grade)
	assert.Equal(t, "Good work", graded.Remarks)
	require.NotNil(t, graded.GradedAt)

	stored, err := env.svc.GetSubmission(ctx, s1, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusGraded, stored.Status)
	require.NotNil(t, stored.Marks)
	assert.Equal(t, 85.0, *stored.Marks)
	require.NotNil(t, stored.TotalMarks)
	assert.Equal(t, 100.0, *stored.TotalMarks)
	assert.Equal(t, "t1", stored.GradedBy)

	require.Len(t, env.events, 1)
	sg := env.events[0].SubmissionGraded
	require.NotNil(t, sg)
	assert.True(t, sg.FirstGrading())
	assert.Equal(t, "s1", sg.StudentID)
	assert.Equal(t, "HW1", sg.AssignmentTitle)

	// re-saving: not a first grading anymore
	_, err = env.svc.Grade(ctx, teacher, sub.ID, GradeInput{Marks: &marks})
	require.NoError(t, err)
	require.Len(t, env.events, 2)
	assert.False(t, env.events[1].SubmissionGraded.FirstGrading())
	require.NotNil(t, env.events[1].SubmissionGraded.PrevMarks)
	assert.Equal(t, 85.0, *env.events[1].SubmissionGraded.PrevMarks)

	// resubmission clears grading, and replaces the file
	resub, err := env.svc.Submit(ctx, s1, hw1.ID, work("work-v2.pdf", "v2"))
	require.NoError(t, err)
	assert.Equal(t, sub.ID, resub.ID)
	assert.Equal(t, StatusPending, resub.Status)
	stored, err = env.svc.GetSubmission(ctx, admin, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Nil(t, stored.Marks)
	assert.Empty(t, stored.Grade)
	assert.Nil(t, stored.GradedAt)
	assert.Equal(t, "work-v2.pdf", stored.File.Name)
	_, ok := env.files.Get(firstFile)
	assert.False(t, ok, "replaced file is deleted")

	_, err = env.svc.GetSubmission(ctx, s2, sub.ID)
	assert.True(t, core.IsPermissionDenied(err))
}

func TestService_Submissions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	hw1 := env.assignment(t, teacher, "HW1", "10-A")
	hw2 := env.assignment(t, teacher, "HW2", "10-A")

	for _, sess := range []core.Session{s2, s1} {
		_, err := env.svc.Submit(ctx, sess, hw1.ID, work("w.pdf", sess.UID))
		require.NoError(t, err)
	}
	_, err := env.svc.Submit(ctx, s1, hw2.ID, work("w.pdf", "s1"))
	require.NoError(t, err)

	subs, err := env.svc.ListSubmissions(ctx, teacher, hw1.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, []string{"Amy", "Zed"}, []string{subs[0].StudentName, subs[1].StudentName})

	_, err = env.svc.ListSubmissions(ctx, teacher2, hw1.ID)
	assert.True(t, core.IsPermissionDenied(err))
	_, err = env.svc.ListSubmissions(ctx, s1, hw1.ID)
	assert.True(t, core.IsPermissionDenied(err))

	mine, err := env.svc.StudentSubmissions(ctx, s1, "s1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	_, err = env.svc.StudentSubmissions(ctx, s2, "s1")
	assert.True(t, core.IsPermissionDenied(err))

	t.Run("delete assignment removes its submissions", func(t *testing.T) {
		require.True(t, core.IsPermissionDenied(env.svc.DeleteAssignment(ctx, teacher2, hw1.ID)))
		require.NoError(t, env.svc.DeleteAssignment(ctx, teacher, hw1.ID))
		require.NoError(t, env.svc.DeleteAssignment(ctx, teacher, hw1.ID), "delete must be idempotent")

		_, err := env.svc.GetAssignment(ctx, admin, hw1.ID)
		assert.True(t, core.IsNotFound(err))
		recs, err := env.store.Query(ctx, SubmissionCollection, nil)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, SubmissionID(hw2.ID, "s1"), recs[0].ID)
		assert.Len(t, env.files.Paths(), 1)
	})
}

func TestService_Marks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	hw1 := env.assignment(t, teacher, "HW1", "10-A")
	hw2 := env.assignment(t, teacher, "HW2", "10-A")
	hw3 := env.assignment(t, teacher, "HW3", "10-A")

	grade := func(asg Assignment, marks float64, total *float64) {
		sub, err := env.svc.Submit(ctx, s1, asg.ID, work("w.pdf", "x"))
		require.NoError(t, err)
		_, err = env.svc.Grade(ctx, teacher, sub.ID, GradeInput{Marks: &marks, TotalMarks: total})
		require.NoError(t, err)
	}
	fifty := 50.0
	grade(hw1, 85, nil)
	grade(hw2, 20, &fifty)
	_, err := env.svc.Submit(ctx, s1, hw3.ID, work("w.pdf", "x")) // not graded yet
	require.NoError(t, err)

	report, err := env.svc.Marks(ctx, s1, "s1")
	require.NoError(t, err)
	assert.Len(t, report.Entries, 2)
	assert.Equal(t, 105.0, report.Obtained)
	assert.Equal(t, 150.0, report.Possible)
	assert.Equal(t, 70, report.Percentage)
	assert.Equal(t, grading.B, report.Grade)

	empty, err := env.svc.Marks(ctx, s2, "s2")
	require.NoError(t, err)
	assert.Empty(t, empty.Entries)
	assert.Equal(t, 0, empty.Percentage)
	assert.Empty(t, empty.Grade)

	_, err = env.svc.Marks(ctx, s2, "s1")
	assert.True(t, core.IsPermissionDenied(err))
}

func TestSummarize_Rounding(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	subs := []Submission{
		{ID: "a", Status: StatusGraded, Marks: f(2), TotalMarks: f(3)},
		{ID: "b", Status: StatusPending, Marks: nil, TotalMarks: nil},
	}
	report := Summarize("s1", subs)
	assert.Equal(t, 67, report.Percentage)
	require.Len(t, report.Entries, 1)
	assert.InDelta(t, 66.666, report.Entries[0].Percentage, 0.001)
	assert.Equal(t, grading.C, report.Grade)
}

func isValidationError(err error) bool {
	_, ok := err.(validator.ValidationErrors)
	return ok
}

// interleavedStore runs a write right after the first read of a submission, as another request would.
type interleavedStore struct {
	*inmem.Store
	interleave func()
}

func (s *interleavedStore) Get(ctx context.Context, collection, id string) (record.Record, error) {
	rec, err := s.Store.Get(ctx, collection, id)
	if collection == SubmissionCollection && s.interleave != nil {
		write := s.interleave
		s.interleave = nil
		write()
	}
	return rec, err
}

func TestService_GradeChangedSubmission(t *testing.T) {
	tests := []struct {
		name  string
		write record.Document
	}{
		{name: "resubmitted", write: record.Document{"submittedAt": "2030-01-01T00:00:00Z", "status": string(StatusPending)}},
		{name: "graded concurrently", write: record.Document{"marks": 70.0, "grade": "B", "status": string(StatusGraded)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t)
			hw1 := env.assignment(t, teacher, "HW1", "10-A")
			sub, err := env.svc.Submit(ctx, s1, hw1.ID, work("work.pdf", "v1"))
			require.NoError(t, err)
			env.events = nil

			store := &interleavedStore{Store: env.store}
			store.interleave = func() {
				require.NoError(t, env.store.Update(ctx, SubmissionCollection, sub.ID, tt.write))
			}
			svc := NewService(store, env.files, event.NewLocalBus(), env.svc.logger, env.svc.validate)

			marks := 85.0
			_, err = svc.Grade(ctx, teacher, sub.ID, GradeInput{Marks: &marks})
			require.Error(t, err)
			assert.True(t, core.IsWriteError(err))
			assert.True(t, errors.Is(err, ErrSubmissionChanged))

			rec, err := env.store.Get(ctx, SubmissionCollection, sub.ID)
			require.NoError(t, err)
			assert.NotEqual(t, 85.0, rec.Data["marks"], "the stale grading is not written")
		})
	}
}
