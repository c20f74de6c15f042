package main

import "github.com/trezcool/shule/storage/database"

var runMigrationFunc = database.RunMigration // mockable

func (cli *commandLine) migrate(args []string) error {
	db, err := cli.database()
	if err != nil {
		return err
	}
	return runMigrationFunc(db, args[0], args[1:]...)
}
