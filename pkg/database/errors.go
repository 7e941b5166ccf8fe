package database

import "errors"

var (
	ErrBadMigrationName = errors.New("migration file name must look like NNN_description.sql")
	ErrSchemaMismatch   = errors.New("database schema does not match expectations")
)
