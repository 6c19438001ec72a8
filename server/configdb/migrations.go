package configdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE variable(
			key TEXT PRIMARY KEY,
			value TEXT
		);

		CREATE TABLE session_event(
			id INTEGER PRIMARY KEY,
			time INT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			message TEXT
		);
		CREATE INDEX idx_session_event_time ON session_event (time);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		ALTER TABLE session_event ADD COLUMN detail TEXT;
	`))

	return migs
}
