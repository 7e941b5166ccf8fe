package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a migrated database has the tables, columns,
// indexes and constraints the stores rely on.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"accounts":          "credit balances",
	"bans":              "moderation records",
	"placements":        "placement log",
	"schema_migrations": "migration tracking",
}

var requiredColumns = map[string]map[string]string{
	"accounts": {
		"user_id":    "TEXT",
		"balance":    "INTEGER",
		"updated_at": "INTEGER",
	},
	"bans": {
		"user_id":    "TEXT",
		"until_ms":   "INTEGER",
		"reason":     "TEXT",
		"created_at": "INTEGER",
	},
	"placements": {
		"seq":          "INTEGER",
		"id":           "TEXT",
		"user_id":      "TEXT",
		"x":            "INTEGER",
		"y":            "INTEGER",
		"color":        "TEXT",
		"placed_at_ms": "INTEGER",
	},
}

var requiredIndexes = map[string]string{
	"idx_placements_cell":      "cell history replay",
	"idx_placements_user_time": "per-user audit",
}

// Validate runs every check.
func (v *SchemaValidator) Validate() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("%w: required table %s (%s) does not exist", ErrSchemaMismatch, table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	for table, columns := range requiredColumns {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("%w: required index %s (%s) does not exist", ErrSchemaMismatch, index, purpose)
		}
	}
	return nil
}

// ValidateConstraints exercises the balance CHECK and the append-only triggers
// inside a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`INSERT INTO accounts (user_id, balance, updated_at) VALUES ('__constraint_check__', -1, 0)`); err == nil {
		return fmt.Errorf("%w: negative balance accepted", ErrSchemaMismatch)
	}

	if _, err := tx.Exec(`INSERT INTO placements (id, user_id, x, y, color, placed_at_ms)
		VALUES ('__constraint_check__', '__constraint_check__', 0, 0, '#000000', 0)`); err != nil {
		return fmt.Errorf("failed to insert constraint-check placement: %w", err)
	}
	if _, err := tx.Exec(`UPDATE placements SET color = '#ffffff' WHERE id = '__constraint_check__'`); err == nil {
		return fmt.Errorf("%w: placement update allowed", ErrSchemaMismatch)
	}
	if _, err := tx.Exec(`DELETE FROM placements WHERE id = '__constraint_check__'`); err == nil {
		return fmt.Errorf("%w: placement delete allowed", ErrSchemaMismatch)
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("%w: column %s not found", ErrSchemaMismatch, expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("%w: column %s has type %s, expected %s", ErrSchemaMismatch, expectedCol, foundType, expectedType)
		}
	}
	return nil
}
