package main

import (
	"context"
	"time"
)

// bootstrap seeds or heals the configured system super-admin account. A
// password is only prompted when the account has none yet, so the command can
// run unattended on every deploy.
func (cli *commandLine) bootstrap() error {
	ctx := context.Background()

	usr, err := cli.usrSvc.EnsureSuperAdmin(ctx)
	if err != nil {
		return err
	}
	if usr.PasswordHash != nil {
		return nil
	}

	pwd, err := cli.promptPassword()
	if err != nil {
		return err
	}
	if pwd == "" {
		cli.printUsage()
		return errHelp
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = cli.usrRepo.UpdateUser(ctx, usr)
	return err
}
