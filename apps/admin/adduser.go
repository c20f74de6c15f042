package main

import (
	"context"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

// addUser creates the account, or re-activates an existing one with the new role and password.
func (cli *commandLine) addUser(name, email string, role core.Role, classID, pwd string) error {
	svc, err := cli.userService()
	if err != nil {
		return err
	}
	ctx := context.Background()
	email = core.CleanString(email, true /* lower */)

	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if !core.IsNotFound(err) {
			return err
		}
		_, err = svc.Create(ctx, cliSession, user.NewUser{
			Name:            name,
			Email:           email,
			Role:            role,
			ClassID:         classID,
			Password:        pwd,
			PasswordConfirm: pwd,
		})
		return err
	}

	active := true
	uu := user.UpdateUser{
		Name:            name,
		Role:            &role,
		IsActive:        &active,
		Password:        pwd,
		PasswordConfirm: pwd,
	}
	if classID != "" {
		uu.ClassID = &classID
	}
	_, err = svc.Update(ctx, cliSession, usr.ID, uu)
	return err
}
