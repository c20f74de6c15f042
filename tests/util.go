// Package testutil wires the whole application over in-memory backends for tests.
package testutil

import (
	"bytes"
	"context"
	"log"
	"testing"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/coursework"
	"github.com/trezcool/shule/core/event"
	"github.com/trezcool/shule/core/notification"
	"github.com/trezcool/shule/core/record"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	"github.com/trezcool/shule/services/files"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database/inmem"
)

// Password is accepted by the password validators.
const Password = "Kj8#mQ2!vLp"

// root creates the fixtures; it never reaches the store.
var root = core.NewSession("root", core.RoleAdmin, nil)

type Env struct {
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Store      *inmem.Store
	Files      *files.MemoryStore
	Bus        *event.LocalBus
	Mail       *emailsvc.ConsoleServiceMock

	UserSvc         *user.Service
	SchoolSvc       *school.Service
	CourseworkSvc   *coursework.Service
	AttendanceSvc   *attendance.Service
	NotificationSvc *notification.Service
}

func NewEnv(t *testing.T) *Env {
	t.Helper()
	user.PasswordHashCost = bcrypt.MinCost

	env := &Env{
		Conf:  core.NewTestConfig(),
		Store: inmem.NewStore(),
		Files: files.NewMemoryStore("/files"),
		Bus:   event.NewLocalBus(),
	}
	env.Logger = logsvc.NewRollbarLogger(log.New(&bytes.Buffer{}, "", 0), env.Conf)
	core.ParseEmailTemplates(env.Conf, env.Logger)
	env.Validate, env.Translator = core.NewValidator()
	user.InitValidators(env.Validate, env.Translator)
	env.Mail = emailsvc.NewConsoleServiceMock(env.Conf, env.Logger)

	env.UserSvc = user.NewService(env.Store, env.Mail, env.Validate, env.Logger, env.Conf)
	env.SchoolSvc = school.NewService(env.Store, env.Validate)
	env.CourseworkSvc = coursework.NewService(env.Store, env.Files, env.Bus, env.Logger, env.Validate)
	env.AttendanceSvc = attendance.NewService(env.Store, env.UserSvc, env.Logger)
	env.NotificationSvc = notification.NewService(env.Store, env.Logger)
	notification.NewFanout(env.Store, env.UserSvc, env.Logger).Register(env.Bus)
	return env
}

// CreateUser adds an active account; classID is only kept for students.
func (env *Env) CreateUser(t *testing.T, name, email string, role core.Role, classID string) user.User {
	t.Helper()
	usr, err := env.UserSvc.Create(context.Background(), root, user.NewUser{
		Name:            name,
		Email:           email,
		Role:            role,
		ClassID:         classID,
		Password:        Password,
		PasswordConfirm: Password,
	})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// Deactivate flips an account to inactive.
func (env *Env) Deactivate(t *testing.T, usr user.User) user.User {
	t.Helper()
	inactive := false
	usr, err := env.UserSvc.Update(context.Background(), root, usr.ID, user.UpdateUser{Name: usr.Name, Email: usr.Email, IsActive: &inactive})
	if err != nil {
		t.Fatalf("Deactivate() failed: %v", err)
	}
	return usr
}

// CreateClass adds a class with a fixed id.
func (env *Env) CreateClass(t *testing.T, id string, grade int, teacherID string) {
	t.Helper()
	err := env.Store.Set(context.Background(), school.ClassCollection, id, record.Document{
		"name":      id,
		"grade":     grade,
		"teacherId": teacherID,
	})
	if err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
}
