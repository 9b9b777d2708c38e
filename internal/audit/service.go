package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"wbauth/internal/events"
	"wbauth/internal/models"

	"github.com/rs/zerolog"
)

// Service persists every published event and exports the audit tables.
type Service struct {
	store     Store
	exporter  TableExporter
	newWriter func() ExcelWriter
	retention time.Duration
	logger    zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewService(store Store, exporter TableExporter, retention time.Duration, logger *zerolog.Logger) *Service {
	if retention <= 0 {
		retention = 31 * 24 * time.Hour
	}
	return &Service{
		store:     store,
		exporter:  exporter,
		newWriter: NewExcelizeWriter,
		retention: retention,
		logger:    logger.With().Str("component", "audit").Logger(),
		stopCh:    make(chan struct{}),
	}
}

// Subscribe records every event type published on bus.
func (s *Service) Subscribe(bus *events.Bus) {
	bus.Subscribe(s.Record, events.AllTypes...)
}

// Record stores one event.
func (s *Service) Record(e events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.store.InsertAuditRecord(ctx, models.AuditRecord{
		ID:        e.ID,
		Type:      e.Type,
		Phone:     e.Phone,
		AttemptID: e.AttemptID,
		Outcome:   e.Outcome,
		Message:   e.Message,
		CreatedAt: e.CreatedAt,
	})
}

// Export writes every exportable table as a sheet of one workbook.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	tables, err := s.exporter.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}

	excel := s.newWriter()
	defer excel.Close()

	for _, table := range tables {
		data, columns, err := s.exporter.GetTableData(ctx, table)
		if err != nil {
			return fmt.Errorf("get table %s: %w", table, err)
		}
		if err := excel.AddSheet(table); err != nil {
			return err
		}
		if err := excel.WriteHeader(columns); err != nil {
			return fmt.Errorf("write header %s: %w", table, err)
		}
		for _, row := range data {
			values := make([]any, len(columns))
			for i, col := range columns {
				values[i] = row[col]
			}
			if err := excel.WriteRow(values); err != nil {
				return fmt.Errorf("write row %s: %w", table, err)
			}
		}
		s.logger.Debug().Str("table", table).Int("rows", len(data)).Msg("exported table")
	}

	if err := excel.Save(w); err != nil {
		return fmt.Errorf("save excel: %w", err)
	}
	return nil
}

// Start prunes records older than the retention window once a day.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		s.prune(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.prune(ctx)
			}
		}
	}()
}

// Stop waits for the prune loop to exit.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) prune(ctx context.Context) {
	n, err := s.store.DeleteAuditRecordsBefore(ctx, time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error().Err(err).Msg("prune audit records")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("old audit records pruned")
	}
}
