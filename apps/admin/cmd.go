package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	"github.com/trezcool/shule/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")

	// cliSession is the principal of every change made from the command line.
	cliSession = core.NewSession("admin-cli", core.RoleAdmin, nil)
)

// commandLine opens the database or the user service on first use, unless they are already set.
type commandLine struct {
	conf   *core.Config
	logger core.Logger

	db      *sql.DB
	usrSvc  *user.Service
	closers []func() error
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...) against the postgres store")
	fmt.Println("  adduser -name NAME -email EMAIL [-role ROLE] [-class CLASS] - create or re-activate an account (admin by default)")
	fmt.Println("  resetpassword -email EMAIL - reset user's password")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserRole := addUserCmd.String("role", string(core.RoleAdmin), "One of admin, teacher or student.")
	addUserClass := addUserCmd.String("class", "", "The class id of a student.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		role, err := core.ParseRole(*addUserRole)
		if err != nil {
			return err
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserEmail, role, *addUserClass, pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)

	default:
		cli.printUsage()
		return errHelp
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	return string(pwd), err
}

func (cli *commandLine) database() (*sql.DB, error) {
	if cli.db != nil {
		return cli.db, nil
	}
	if cli.conf.Store.Backend != "postgres" {
		return nil, fmt.Errorf("migrations need the postgres store, got %q", cli.conf.Store.Backend)
	}
	if err := database.CreateIfNotExist(cli.conf); err != nil {
		return nil, err
	}
	db, err := database.Open(cli.conf)
	if err != nil {
		return nil, err
	}
	cli.db = db
	cli.closers = append(cli.closers, db.Close)
	return db, nil
}

func (cli *commandLine) userService() (*user.Service, error) {
	if cli.usrSvc != nil {
		return cli.usrSvc, nil
	}
	store, closeStore, err := database.NewRecordStore(context.Background(), cli.conf, cli.logger)
	if err != nil {
		return nil, err
	}
	cli.closers = append(cli.closers, closeStore)

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	mailSvc := emailsvc.NewConsoleService(cli.conf, cli.logger)
	cli.usrSvc = user.NewService(store, mailSvc, validate, cli.logger, cli.conf)
	return cli.usrSvc, nil
}

func (cli *commandLine) close() {
	for _, closeFn := range cli.closers {
		if err := closeFn(); err != nil {
			cli.logger.Warn("closing admin resources", err)
		}
	}
	cli.closers = nil
}
