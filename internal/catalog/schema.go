// Package catalog provides the durable SQLite state of a pipeline (pipeline.db):
// flow checkpoints, table row logs and cycle history.
package catalog

// CreateCheckpointsTableSQL creates the per-flow checkpoint table. Source-Flows
// fill last_unit; Derived-Flows fill position.
const CreateCheckpointsTableSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    flow_name TEXT PRIMARY KEY,
    last_unit TEXT NOT NULL,
    unit_hash TEXT NOT NULL,
    units_consumed INTEGER NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
)`

// CreateTableRowsTableSQL creates the row log table. payload is snappy(JSON).
const CreateTableRowsTableSQL = `
CREATE TABLE IF NOT EXISTS table_rows (
    table_name TEXT NOT NULL,
    seq INTEGER NOT NULL,
    payload BLOB NOT NULL,
    PRIMARY KEY (table_name, seq)
)`

// CreateCyclesTableSQL creates the cycle history table.
const CreateCyclesTableSQL = `
CREATE TABLE IF NOT EXISTS cycles (
    id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    rows_appended INTEGER NOT NULL,
    failed_flows INTEGER NOT NULL,
    parse_errors INTEGER NOT NULL DEFAULT 0
)`

// CreateTableSchemasTableSQL records the DDL each table was last declared with.
const CreateTableSchemasTableSQL = `
CREATE TABLE IF NOT EXISTS table_schemas (
    table_name TEXT PRIMARY KEY,
    schema_ddl TEXT NOT NULL,
    registered_at INTEGER NOT NULL
)`

// CreateIndexesSQL creates secondary indexes.
var CreateIndexesSQL = []string{
	// Cycle history is listed newest first
	`CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at)`,
}

// AllSchemaSQL returns all schema creation statements in order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateCheckpointsTableSQL,
		CreateTableRowsTableSQL,
		CreateCyclesTableSQL,
		CreateTableSchemasTableSQL,
	}
	return append(stmts, CreateIndexesSQL...)
}
