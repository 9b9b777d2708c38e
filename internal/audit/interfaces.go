// Package audit records lifecycle events and exports them to Excel.
package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"wbauth/internal/models"
)

// TableExporter provides access to database tables for export.
type TableExporter interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName string) ([]map[string]any, []string, error)
}

// Store persists audit records.
type Store interface {
	InsertAuditRecord(ctx context.Context, r models.AuditRecord) error
	DeleteAuditRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExcelWriter writes data to Excel format.
type ExcelWriter interface {
	AddSheet(name string) error
	WriteHeader(columns []string) error
	WriteRow(row []any) error
	Save(w io.Writer) error
	Close() error
}

// MonthNames in Russian for filename generation.
var MonthNames = map[time.Month]string{
	time.January:   "Январь",
	time.February:  "Февраль",
	time.March:     "Март",
	time.April:     "Апрель",
	time.May:       "Май",
	time.June:      "Июнь",
	time.July:      "Июль",
	time.August:    "Август",
	time.September: "Сентябрь",
	time.October:   "Октябрь",
	time.November:  "Ноябрь",
	time.December:  "Декабрь",
}

// Filename names an export made at t, e.g. "audit_Март_2025.xlsx".
func Filename(t time.Time) string {
	return fmt.Sprintf("audit_%s_%d.xlsx", MonthNames[t.Month()], t.Year())
}
