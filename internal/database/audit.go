package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wbauth/internal/models"
)

// AuditTableNames are exported in audit reports. Cookie values are secrets
// and never leave the database.
var AuditTableNames = []string{
	"accounts",
	"auth_events",
}

// InsertAuditRecord stores a lifecycle event.
func (db *DB) InsertAuditRecord(ctx context.Context, r models.AuditRecord) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO auth_events (id, type, phone, attempt_id, outcome, message, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Type, r.Phone, r.AttemptID, r.Outcome, r.Message, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListAuditRecords returns events created at or after since, oldest first.
func (db *DB) ListAuditRecords(ctx context.Context, since time.Time) ([]models.AuditRecord, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT id, type, COALESCE(phone, ''), COALESCE(attempt_id, ''), COALESCE(outcome, ''),
               COALESCE(message, ''), created_at
        FROM auth_events WHERE created_at >= ? ORDER BY created_at, id`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		if err := rows.Scan(&r.ID, &r.Type, &r.Phone, &r.AttemptID, &r.Outcome, &r.Message, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetTableNames returns list of table names to export.
func (db *DB) GetTableNames(context.Context) ([]string, error) {
	return AuditTableNames, nil
}

// GetTableData returns all rows from an exportable table.
func (db *DB) GetTableData(ctx context.Context, tableName string) ([]map[string]any, []string, error) {
	valid := false
	for _, t := range AuditTableNames {
		if t == tableName {
			valid = true
			break
		}
	}
	if !valid {
		return nil, nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", tableName))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var data []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		data = append(data, row)
	}
	return data, columns, rows.Err()
}

// GetDB returns the underlying sql.DB.
func (db *DB) GetDB() *sql.DB {
	return db.DB
}

// DeleteAuditRecordsBefore removes events created before cutoff.
func (db *DB) DeleteAuditRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM auth_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete audit records: %w", err)
	}
	return res.RowsAffected()
}
