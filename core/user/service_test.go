package user

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/shule/core"
	emailsvc "github.com/trezcool/shule/services/email"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database/inmem"
)

const testPassword = "Kj8#mQ2!vLp"

type testEnv struct {
	svc   *Service
	mail  *emailsvc.ConsoleServiceMock
	admin User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	PasswordHashCost = bcrypt.MinCost

	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(&bytes.Buffer{}, "", 0), conf)
	core.ParseEmailTemplates(conf, logger)
	validate, translator := core.NewValidator()
	InitValidators(validate, translator)

	mail := emailsvc.NewConsoleServiceMock(conf, logger)
	svc := NewService(inmem.NewStore(), mail, validate, logger, conf)

	// bootstrap the first admin the way the admin CLI does
	admin, err := svc.create(context.Background(), NewUser{
		Name: "Ada Admin", Email: "admin@school.test", Role: core.RoleAdmin,
		Password: testPassword, PasswordConfirm: testPassword,
	})
	require.NoError(t, err)
	return testEnv{svc: svc, mail: mail, admin: admin}
}

func newStudent(name, email, classID string) NewUser {
	return NewUser{Name: name, Email: email, Role: core.RoleStudent, ClassID: classID, Password: testPassword, PasswordConfirm: testPassword}
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	fields := make(map[string]string)
	switch e := err.(type) {
	case validator.ValidationErrors:
		for _, fe := range e {
			fields[fe.Field()] = fe.Tag()
		}
	case *core.ValidationError:
		for _, fe := range e.Fields {
			fields[fe.Field] = fe.Error
		}
	default:
		t.Fatalf("not a validation error: %v", err)
	}
	return fields
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	usr, err := env.svc.Register(ctx, NewUser{
		Name: " Amy  Doe ", Email: "Amy@School.test", Role: core.RoleStudent, ClassID: "10-A",
		Password: testPassword, PasswordConfirm: testPassword,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.Equal(t, "Amy Doe", usr.Name)
	assert.Equal(t, "amy@school.test", usr.Email)
	assert.Equal(t, "10-A", usr.ClassID)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword(testPassword))

	tests := []struct {
		name   string
		nu     NewUser
		fields map[string]string
	}{
		{name: "admin", nu: NewUser{Name: "Eve", Email: "eve@school.test", Role: core.RoleAdmin, Password: testPassword, PasswordConfirm: testPassword},
			fields: map[string]string{"role": ErrSelfRegistration.Error()}},
		{name: "duplicate email", nu: newStudent("Amy Two", "amy@school.test", "10-A"),
			fields: map[string]string{"email": ErrEmailExists.Error()}},
		{name: "student without class", nu: newStudent("Bob", "bob@school.test", ""),
			fields: map[string]string{"classId": classRequiredTag}},
		{name: "missing fields", nu: NewUser{Role: core.RoleTeacher},
			fields: map[string]string{"name": "required", "email": "required", "password": "required", "passwordConfirm": "required"}},
		{name: "common password", nu: NewUser{Name: "Bob", Email: "bob@school.test", Role: core.RoleTeacher, Password: "P@ssw0rd", PasswordConfirm: "P@ssw0rd"},
			fields: map[string]string{"password": pwdNoCommonTag}},
		{name: "simple password", nu: NewUser{Name: "Bob", Email: "bob@school.test", Role: core.RoleTeacher, Password: "abcdefgh", PasswordConfirm: "abcdefgh"},
			fields: map[string]string{"password": pwdComplexityTag}},
		{name: "password like the email", nu: NewUser{Name: "Bob", Email: "bob.marley@school.test", Role: core.RoleTeacher, Password: "Bob.Marley@school1", PasswordConfirm: "Bob.Marley@school1"},
			fields: map[string]string{"password": pwdAttrSimTag}},
		{name: "passwords differ", nu: NewUser{Name: "Bob", Email: "bob@school.test", Role: core.RoleTeacher, Password: testPassword, PasswordConfirm: testPassword + "x"},
			fields: map[string]string{"passwordConfirm": "eqfield"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Register(ctx, tt.nu)
			require.Error(t, err)
			assert.Equal(t, tt.fields, fieldErrors(t, err))
		})
	}
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	teacher, err := env.svc.Create(ctx, env.admin.Session(), NewUser{
		Name: "Tom", Email: "tom@school.test", Role: core.RoleTeacher, Subject: "Maths", ClassID: "ignored",
		Password: testPassword, PasswordConfirm: testPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, "Maths", teacher.Subject)
	assert.Empty(t, teacher.ClassID, "only students belong to a class")

	_, err = env.svc.Create(ctx, teacher.Session(), newStudent("Amy", "amy@school.test", "10-A"))
	assert.True(t, core.IsPermissionDenied(err))
}

func TestService_Query(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for _, nu := range []NewUser{
		newStudent("Zed", "zed@school.test", "10-A"),
		newStudent("Amy", "amy@school.test", "10-A"),
		newStudent("Bob", "bob@school.test", "10-B"),
	} {
		_, err := env.svc.Register(ctx, nu)
		require.NoError(t, err)
	}
	names := func(users []User) []string {
		out := make([]string, 0, len(users))
		for _, u := range users {
			out = append(out, u.Name)
		}
		return out
	}

	inactive := false
	tests := []struct {
		name     string
		filter   QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "all by name", want: []string{"Ada Admin", "Amy", "Bob", "Zed"}},
		{name: "students", filter: QueryFilter{Roles: []core.Role{core.RoleStudent}}, ordering: core.ParseOrdering("-name"), want: []string{"Zed", "Bob", "Amy"}},
		{name: "class", filter: QueryFilter{ClassID: "10-A"}, want: []string{"Amy", "Zed"}},
		{name: "search", filter: QueryFilter{Search: " B "}, want: []string{"Bob"}},
		{name: "inactive", filter: QueryFilter{IsActive: &inactive}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := env.svc.Query(ctx, env.admin.Session(), tt.filter, tt.ordering...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(users))
		})
	}

	roster, err := env.svc.Roster(ctx, "10-A")
	require.NoError(t, err)
	assert.Equal(t, []string{"Amy", "Zed"}, names(roster))
	ids, err := env.svc.RosterIDs(ctx, "10-A")
	require.NoError(t, err)
	assert.Equal(t, []string{roster[0].ID, roster[1].ID}, ids)

	_, err = env.svc.Query(ctx, roster[0].Session(), QueryFilter{})
	assert.True(t, core.IsPermissionDenied(err))
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	amy, err := env.svc.Register(ctx, newStudent("Amy", "amy@school.test", "10-A"))
	require.NoError(t, err)
	bob, err := env.svc.Register(ctx, newStudent("Bob", "bob@school.test", "10-A"))
	require.NoError(t, err)

	phone := "+255 700 000 000"
	updated, err := env.svc.Update(ctx, amy.Session(), amy.ID, UpdateUser{Name: "Amy Doe", Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "Amy Doe", updated.Name)
	assert.Equal(t, phone, updated.Phone)
	assert.Equal(t, "amy@school.test", updated.Email)
	assert.NotNil(t, updated.UpdatedAt)
	assert.NoError(t, updated.CheckPassword(testPassword), "password hash survives partial updates")

	classB := "10-B"
	_, err = env.svc.Update(ctx, amy.Session(), amy.ID, UpdateUser{ClassID: &classB})
	assert.True(t, core.IsPermissionDenied(err), "students cannot move themselves")
	_, err = env.svc.Update(ctx, bob.Session(), amy.ID, UpdateUser{Name: "Hacked"})
	assert.True(t, core.IsPermissionDenied(err))

	inactive := false
	updated, err = env.svc.Update(ctx, env.admin.Session(), amy.ID, UpdateUser{ClassID: &classB, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "10-B", updated.ClassID)
	assert.False(t, updated.IsActive)

	_, err = env.svc.Update(ctx, env.admin.Session(), amy.ID, UpdateUser{Email: "bob@school.test"})
	assert.Equal(t, map[string]string{"email": ErrEmailExists.Error()}, fieldErrors(t, err))

	_, err = env.svc.Update(ctx, env.admin.Session(), "nope", UpdateUser{Name: "X"})
	assert.True(t, core.IsNotFound(err))
}

func TestService_ChangePassword(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	amy, err := env.svc.Register(ctx, newStudent("Amy", "amy@school.test", "10-A"))
	require.NoError(t, err)

	newPwd := "Zx9$wV7&nB"
	err = env.svc.ChangePassword(ctx, amy.Session(), ChangePassword{CurrentPassword: "wrong", Password: newPwd, PasswordConfirm: newPwd})
	assert.Equal(t, map[string]string{"currentPassword": ErrInvalidPassword.Error()}, fieldErrors(t, err))

	require.NoError(t, env.svc.ChangePassword(ctx, amy.Session(), ChangePassword{CurrentPassword: testPassword, Password: newPwd, PasswordConfirm: newPwd}))
	amy, err = env.svc.GetByID(ctx, amy.ID)
	require.NoError(t, err)
	assert.NoError(t, amy.CheckPassword(newPwd))
}

func TestService_PasswordReset(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	amy, err := env.svc.Register(ctx, newStudent("Amy", "amy@school.test", "10-A"))
	require.NoError(t, err)

	assert.True(t, core.IsNotFound(env.svc.RequestPasswordReset(ctx, "nobody@school.test")))
	assert.Empty(t, env.mail.SentMessages())

	require.NoError(t, env.svc.RequestPasswordReset(ctx, " AMY@school.test"))
	sent := env.mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "amy@school.test", sent[0].To[0].Address)

	// the link is {frontend}/password-reset/{uid}/{token}
	link := sent[0].TextContent[strings.Index(sent[0].TextContent, "/password-reset/")+len("/password-reset/"):]
	parts := strings.SplitN(strings.Fields(link)[0], "/", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, EncodeUID(amy), parts[0])

	newPwd := "Zx9$wV7&nB"
	err = env.svc.ResetPassword(ctx, ResetUserPassword{UID: parts[0], Token: "bad-token", Password: newPwd, PasswordConfirm: newPwd})
	assert.Equal(t, map[string]string{"token": "invalid or expired token"}, fieldErrors(t, err))

	rp := ResetUserPassword{UID: parts[0], Token: parts[1], Password: newPwd, PasswordConfirm: newPwd}
	require.NoError(t, env.svc.ResetPassword(ctx, rp))
	amy, err = env.svc.GetByID(ctx, amy.ID)
	require.NoError(t, err)
	assert.NoError(t, amy.CheckPassword(newPwd))

	assert.Error(t, env.svc.ResetPassword(ctx, rp), "tokens are single use")
}

func TestService_SetLastLoginAndDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	amy, err := env.svc.Register(ctx, newStudent("Amy", "amy@school.test", "10-A"))
	require.NoError(t, err)

	amy, err = env.svc.SetLastLogin(ctx, amy)
	require.NoError(t, err)
	assert.NotNil(t, amy.LastLogin)

	assert.True(t, core.IsPermissionDenied(env.svc.Delete(ctx, amy.Session(), amy.ID)))
	assert.True(t, core.IsPermissionDenied(env.svc.Delete(ctx, env.admin.Session(), env.admin.ID)), "admins cannot delete themselves")

	require.NoError(t, env.svc.Delete(ctx, env.admin.Session(), amy.ID, "already-gone"))
	_, err = env.svc.GetByID(ctx, amy.ID)
	assert.True(t, core.IsNotFound(err))
}
