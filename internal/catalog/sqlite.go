package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/arkilian/flowgraph/pkg/types"
)

// FileName is the catalog database file name inside the data directory.
const FileName = "pipeline.db"

// CycleRecord is one row of cycle history.
type CycleRecord struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	RowsAppended int64
	FailedFlows  int
	ParseErrors  int
}

// SQLiteCatalog is the durable pipeline state. It implements both
// checkpoint.Store and table.Store, so a row append and the checkpoint
// that consumed its input commit in one transaction.
type SQLiteCatalog struct {
	db     *sql.DB // single writer
	dbPath string
	mu     sync.Mutex
}

// Open opens or creates the catalog at dbPath.
func Open(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &SQLiteCatalog{db: db, dbPath: dbPath}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}
	return c, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (c *SQLiteCatalog) Path() string {
	return c.dbPath
}

// Close closes the database.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// Get returns the checkpoint of flow, or nil if none was recorded.
func (c *SQLiteCatalog) Get(ctx context.Context, flow string) (*types.Checkpoint, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT flow_name, last_unit, unit_hash, units_consumed, position, updated_at
		 FROM checkpoints WHERE flow_name = ?`, flow)

	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to read checkpoint %q: %w", flow, err)
	}
	return &cp, nil
}

// Put records cp, replacing any previous checkpoint of the same flow.
func (c *SQLiteCatalog) Put(ctx context.Context, cp types.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, upsertCheckpointSQL, checkpointArgs(cp)...); err != nil {
		return fmt.Errorf("catalog: failed to write checkpoint %q: %w", cp.Flow, err)
	}
	return nil
}

// Reset removes the checkpoint of flow.
func (c *SQLiteCatalog) Reset(ctx context.Context, flow string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE flow_name = ?", flow); err != nil {
		return fmt.Errorf("catalog: failed to reset checkpoint %q: %w", flow, err)
	}
	return nil
}

// List returns all checkpoints ordered by flow name.
func (c *SQLiteCatalog) List(ctx context.Context) ([]types.Checkpoint, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT flow_name, last_unit, unit_hash, units_consumed, position, updated_at
		 FROM checkpoints ORDER BY flow_name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []types.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

const upsertCheckpointSQL = `
	INSERT INTO checkpoints (flow_name, last_unit, unit_hash, units_consumed, position, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(flow_name) DO UPDATE SET
		last_unit = excluded.last_unit,
		unit_hash = excluded.unit_hash,
		units_consumed = excluded.units_consumed,
		position = excluded.position,
		updated_at = excluded.updated_at`

func checkpointArgs(cp types.Checkpoint) []any {
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return []any{cp.Flow, cp.LastUnit, cp.UnitHash, cp.UnitsConsumed, cp.Position, updated.UnixNano()}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(s scanner) (types.Checkpoint, error) {
	var cp types.Checkpoint
	var updated int64
	if err := s.Scan(&cp.Flow, &cp.LastUnit, &cp.UnitHash, &cp.UnitsConsumed, &cp.Position, &updated); err != nil {
		return types.Checkpoint{}, err
	}
	cp.UpdatedAt = time.Unix(0, updated).UTC()
	return cp, nil
}

// AppendRows persists rows as sequence numbers firstSeq.. together with cp
// in a single transaction.
func (c *SQLiteCatalog) AppendRows(ctx context.Context, table string, firstSeq int64, rows types.Batch, cp *types.Checkpoint) error {
	payloads := make([][]byte, len(rows))
	for i, row := range rows {
		p, err := encodeRow(row)
		if err != nil {
			return fmt.Errorf("catalog: failed to encode row %d of %q: %w", i, table, err)
		}
		payloads[i] = p
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(payloads) > 0 {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO table_rows (table_name, seq, payload) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("catalog: failed to prepare row insert: %w", err)
		}
		defer stmt.Close()

		for i, p := range payloads {
			if _, err := stmt.ExecContext(ctx, table, firstSeq+int64(i), p); err != nil {
				return fmt.Errorf("catalog: failed to insert row %d of %q: %w", firstSeq+int64(i), table, err)
			}
		}
	}

	if cp != nil {
		if _, err := tx.ExecContext(ctx, upsertCheckpointSQL, checkpointArgs(*cp)...); err != nil {
			return fmt.Errorf("catalog: failed to write checkpoint %q: %w", cp.Flow, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit transaction: %w", err)
	}
	return nil
}

// LoadRows returns the persisted rows of table in sequence order. Numbers
// are returned as json.Number.
func (c *SQLiteCatalog) LoadRows(ctx context.Context, table string) (types.Batch, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT payload FROM table_rows WHERE table_name = ? ORDER BY seq", table)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to load rows of %q: %w", table, err)
	}
	defer rows.Close()

	var out types.Batch
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan row of %q: %w", table, err)
		}
		row, err := decodeRow(payload)
		if err != nil {
			return nil, fmt.Errorf("catalog: corrupt row in %q: %w", table, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// TruncateAndReset removes every persisted row of tables and the checkpoints
// of flows in a single transaction.
func (c *SQLiteCatalog) TruncateAndReset(ctx context.Context, tables, flows []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM table_rows WHERE table_name = ?", table); err != nil {
			return fmt.Errorf("catalog: failed to truncate %q: %w", table, err)
		}
	}
	for _, flow := range flows {
		if _, err := tx.ExecContext(ctx, "DELETE FROM checkpoints WHERE flow_name = ?", flow); err != nil {
			return fmt.Errorf("catalog: failed to reset checkpoint %q: %w", flow, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit transaction: %w", err)
	}
	return nil
}

// RowCount returns the number of persisted rows of table.
func (c *SQLiteCatalog) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM table_rows WHERE table_name = ?", table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to count rows of %q: %w", table, err)
	}
	return n, nil
}

func encodeRow(row types.Row) ([]byte, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeRow(payload []byte) (types.Row, error) {
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress failed: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row types.Row
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

// RecordCycle appends a cycle to the history.
func (c *SQLiteCatalog) RecordCycle(ctx context.Context, rec CycleRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO cycles (id, started_at, finished_at, rows_appended, failed_flows, parse_errors)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano(),
		rec.RowsAppended, rec.FailedFlows, rec.ParseErrors)
	if err != nil {
		return fmt.Errorf("catalog: failed to record cycle %s: %w", rec.ID, err)
	}
	return nil
}

// ListCycles returns up to limit cycles, newest first. limit <= 0 returns all.
func (c *SQLiteCatalog) ListCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	query := `SELECT id, started_at, finished_at, rows_appended, failed_flows, parse_errors
		FROM cycles ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var started, finished int64
		if err := rows.Scan(&rec.ID, &started, &finished, &rec.RowsAppended, &rec.FailedFlows, &rec.ParseErrors); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan cycle: %w", err)
		}
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.FinishedAt = time.Unix(0, finished).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RegisterSchema records the DDL a table is declared with and returns the
// previously recorded DDL, or "" on first registration.
func (c *SQLiteCatalog) RegisterSchema(ctx context.Context, table string, schema types.Schema) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx,
		"SELECT schema_ddl FROM table_schemas WHERE table_name = ?", table).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("catalog: failed to read schema of %q: %w", table, err)
	}

	ddl := schema.String()
	if previous != ddl {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO table_schemas (table_name, schema_ddl, registered_at) VALUES (?, ?, ?)
			 ON CONFLICT(table_name) DO UPDATE SET schema_ddl = excluded.schema_ddl, registered_at = excluded.registered_at`,
			table, ddl, time.Now().Unix())
		if err != nil {
			return "", fmt.Errorf("catalog: failed to record schema of %q: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("catalog: failed to commit transaction: %w", err)
	}
	return previous, nil
}
