package main

import (
	"context"

	"github.com/trezcool/shule/core/user"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	svc, err := cli.userService()
	if err != nil {
		return err
	}
	ctx := context.Background()
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	_, err = svc.Update(ctx, cliSession, usr.ID, user.UpdateUser{Password: pwd, PasswordConfirm: pwd})
	return err
}
