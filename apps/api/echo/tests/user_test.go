package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
	testutil "github.com/trezcool/shule/tests"
)

func Test_userApi_login(t *testing.T) {
	app, env := setup(t)
	env.CreateUser(t, "Teacher", "teacher@shule.test", core.RoleTeacher, "")
	gone := env.CreateUser(t, "Gone", "gone@shule.test", core.RoleStudent, "10-A")
	env.Deactivate(t, gone)

	login := func(email, pwd string) []byte {
		return marchallObj(t, LoginRequest{Email: email, Password: pwd})
	}

	runHTTPTests(t, app, []httpTest{
		{
			name:     "missing fields",
			method:   http.MethodPost,
			path:     "/v1/users/login",
			body:     login("", ""),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown email",
			method:   http.MethodPost,
			path:     "/v1/users/login",
			body:     login("nobody@shule.test", testutil.Password),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"error":"authentication failed"}`),
		},
		{
			name:     "wrong password",
			method:   http.MethodPost,
			path:     "/v1/users/login",
			body:     login("teacher@shule.test", "nope"),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"error":"authentication failed"}`),
		},
		{
			name:     "deactivated",
			method:   http.MethodPost,
			path:     "/v1/users/login",
			body:     login("gone@shule.test", testutil.Password),
			wantCode: http.StatusForbidden,
			wantData: []byte(`{"error":"account deactivated"}`),
		},
	})

	t.Run("success returns the role", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/users/login", login(" Teacher@Shule.test ", testutil.Password))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp LoginResponse
		unmarshal(t, rec, &resp)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, core.RoleTeacher, resp.Role)

		req, rec = newAuthRequest(http.MethodGet, "/v1/users/me", resp.Token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var me user.User
		unmarshal(t, rec, &me)
		assert.Equal(t, "teacher@shule.test", me.Email)
		assert.NotNil(t, me.LastLogin)
	})
}

func Test_userApi_signup(t *testing.T) {
	app, _ := setup(t)

	signup := func(role core.Role) []byte {
		return marchallObj(t, user.NewUser{
			Name:            "New " + string(role),
			Email:           string(role) + "@shule.test",
			Role:            role,
			ClassID:         "10-A",
			Password:        testutil.Password,
			PasswordConfirm: testutil.Password,
		})
	}

	runHTTPTests(t, app, []httpTest{
		{
			name:     "student",
			method:   http.MethodPost,
			path:     "/v1/users/signup",
			body:     signup(core.RoleStudent),
			wantCode: http.StatusCreated,
		},
		{
			name:     "duplicate email",
			method:   http.MethodPost,
			path:     "/v1/users/signup",
			body:     signup(core.RoleStudent),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "admins cannot sign up",
			method:   http.MethodPost,
			path:     "/v1/users/signup",
			body:     signup(core.RoleAdmin),
			wantCode: http.StatusBadRequest,
		},
	})
}

func Test_userApi_access(t *testing.T) {
	app, env := setup(t)
	admin := env.CreateUser(t, "Admin", "admin@shule.test", core.RoleAdmin, "")
	teacher := env.CreateUser(t, "Teacher", "teacher@shule.test", core.RoleTeacher, "")
	amy := env.CreateUser(t, "Amy", "amy@shule.test", core.RoleStudent, "10-A")
	bob := env.CreateUser(t, "Bob", "bob@shule.test", core.RoleStudent, "10-B")

	adminToken := getToken(t, env, admin)
	teacherToken := getToken(t, env, teacher)
	amyToken := getToken(t, env, amy)

	runHTTPTests(t, app, []httpTest{
		{name: "no token", path: "/v1/users/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "bad token", path: "/v1/users/me", token: "not.a.token", wantCode: http.StatusUnauthorized},
		{name: "students cannot query users", path: "/v1/users", token: amyToken, wantCode: http.StatusForbidden},
		{name: "teachers query users", path: "/v1/users?role=student", token: teacherToken, wantCode: http.StatusOK},
		{name: "students see themselves", path: "/v1/users/" + amy.ID, token: amyToken, wantCode: http.StatusOK},
		{name: "students do not see others", path: "/v1/users/" + bob.ID, token: amyToken, wantCode: http.StatusNotFound},
		{name: "teachers see students", path: "/v1/users/" + bob.ID, token: teacherToken, wantCode: http.StatusOK},
		{name: "unknown user", path: "/v1/users/nope", token: adminToken, wantCode: http.StatusNotFound},
		{name: "roles are admin only", path: "/v1/users/roles", token: teacherToken, wantCode: http.StatusForbidden},
		{name: "only admins delete", method: http.MethodDelete, path: "/v1/users/" + bob.ID, token: teacherToken, wantCode: http.StatusForbidden},
		{name: "admins delete", method: http.MethodDelete, path: "/v1/users/" + bob.ID, token: adminToken, wantCode: http.StatusNoContent},
	})

	t.Run("query by class", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users?classId=10-A", teacherToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var users []user.User
		unmarshal(t, rec, &users)
		require.Len(t, users, 1)
		assert.Equal(t, amy.ID, users[0].ID)
	})

	t.Run("roles", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users/roles", adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var roles []RoleResponse
		unmarshal(t, rec, &roles)
		assert.Len(t, roles, len(core.AllRoles))
	})
}

func Test_userApi_tokenRefresh(t *testing.T) {
	app, env := setup(t)
	amy := env.CreateUser(t, "Amy", "amy@shule.test", core.RoleStudent, "10-A")
	token := getToken(t, env, amy)

	req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	unmarshal(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, core.RoleStudent, resp.Role)

	env.Deactivate(t, amy)
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/token-refresh", token)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
