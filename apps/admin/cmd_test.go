package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	testutil "github.com/trezcool/shule/tests"
)

func setup(t *testing.T) (*commandLine, *testutil.Env) {
	env := testutil.NewEnv(t)
	return &commandLine{
		conf:   env.Conf,
		logger: env.Logger,
		db:     new(sql.DB), // never touched: migrations are mocked
		usrSvc: env.UserSvc,
	}, env
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwd        string
	wantErr    error
	wantErrStr string
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd := tt.pwd
		readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantErrStr, err.Error())
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	runMigrationFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "status", args: []string{"migrate", "status"}},
	})

	t.Run("memory store has nothing to migrate", func(t *testing.T) {
		cli := &commandLine{conf: core.NewTestConfig()}
		assert.Error(t, cli.run([]string{"admin", "migrate", "up"}))
	})
}

func Test_commandLine_addUser(t *testing.T) {
	cli, env := setup(t)
	ctx := context.Background()

	runCLITests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-name", "Root", "-email", "root@shule.test"}, wantErr: errHelp},
		{name: "bad role", args: []string{"adduser", "-name", "Root", "-email", "root@shule.test", "-role", "janitor"}, pwd: testutil.Password, wantErrStr: `invalid role: unknown role "janitor"`},
		{name: "create admin", args: []string{"adduser", "-name", "Root", "-email", "Root@Shule.test"}, pwd: testutil.Password},
	})

	usr, err := env.UserSvc.GetByEmail(ctx, "root@shule.test")
	require.NoError(t, err)
	assert.Equal(t, core.RoleAdmin, usr.Role)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword(testutil.Password))

	t.Run("existing accounts are re-activated", func(t *testing.T) {
		teacher := env.CreateUser(t, "Teacher", "teacher@shule.test", core.RoleTeacher, "")
		env.Deactivate(t, teacher)

		readPasswordFunc = func(fd int) ([]byte, error) { return []byte("N3w#Passw0rd!"), nil }
		require.NoError(t, cli.run([]string{"admin", "adduser", "-name", "Head Teacher", "-email", teacher.Email}))

		usr, err := env.UserSvc.GetByID(ctx, teacher.ID)
		require.NoError(t, err)
		assert.Equal(t, "Head Teacher", usr.Name)
		assert.Equal(t, core.RoleAdmin, usr.Role)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword("N3w#Passw0rd!"))
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, env := setup(t)
	usr := env.CreateUser(t, "Amy", "amy@shule.test", core.RoleStudent, "10-A")

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "-email", usr.Email}, wantErr: errHelp},
		{name: "reset", args: []string{"resetpassword", "-email", usr.Email}, pwd: "N3w#Passw0rd!"},
	})

	t.Run("user not found", func(t *testing.T) {
		readPasswordFunc = func(fd int) ([]byte, error) { return []byte("N3w#Passw0rd!"), nil }
		err := cli.run([]string{"admin", "resetpassword", "-email", "nobody@shule.test"})
		assert.True(t, core.IsNotFound(err))
	})

	refreshed, err := env.UserSvc.GetByID(context.Background(), usr.ID)
	require.NoError(t, err)
	assert.NoError(t, refreshed.CheckPassword("N3w#Passw0rd!"))
	assert.Error(t, refreshed.CheckPassword(testutil.Password))
}

func Test_commandLine_addStudent(t *testing.T) {
	cli, env := setup(t)
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(testutil.Password), nil }

	assert.Error(t, cli.run([]string{"admin", "adduser", "-name", "Amy", "-email", "amy@shule.test", "-role", "student"}), "students need a class")
	require.NoError(t, cli.run([]string{"admin", "adduser", "-name", "Amy", "-email", "amy@shule.test", "-role", "student", "-class", "10-A"}))

	students, err := env.UserSvc.Roster(context.Background(), "10-A")
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "amy@shule.test", students[0].Email)
}
