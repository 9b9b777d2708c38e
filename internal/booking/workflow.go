// Package booking reschedules a supply to a target date on the seller portal
// using the cookies of a logged in account.
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wbauth/internal/automation"
	"wbauth/internal/events"
	"wbauth/internal/metrics"
	"wbauth/internal/models"

	"github.com/rs/zerolog"
)

// User facing messages.
const (
	MsgBooked           = "Поставка перенесена на %s"
	MsgInvalidRequest   = "Некорректные параметры бронирования"
	MsgNotAuthenticated = "Пользователь не авторизован на портале продавца. Выполните вход заново."
	MsgNoAction         = "Для этой поставки недоступен перенос"
	MsgDateNotFound     = "Дата %s недоступна для переноса"
	MsgPortalFailure    = "Не удалось выполнить действие на портале продавца. Попробуйте позже."
)

// Workflow implements Book.
type Workflow struct {
	driver        automation.Driver
	supplyBaseURL string
	bus           *events.Bus
	logger        zerolog.Logger
}

func NewWorkflow(driver automation.Driver, supplyBaseURL string, bus *events.Bus, logger *zerolog.Logger) *Workflow {
	return &Workflow{
		driver:        driver,
		supplyBaseURL: strings.TrimRight(supplyBaseURL, "/"),
		bus:           bus,
		logger:        logger.With().Str("component", "booking").Logger(),
	}
}

// SupplyURL returns the detail page of a supply.
func (w *Workflow) SupplyURL(supplyID int64) string {
	return fmt.Sprintf("%s/%d", w.supplyBaseURL, supplyID)
}

// Book moves supplyID to target on behalf of the account.
func (w *Workflow) Book(ctx context.Context, rawPhone string, supplyID int64, target time.Time) (out models.Outcome) {
	started := time.Now()
	defer func() {
		metrics.IncBookingOutcome(string(out.Kind))
		metrics.ObserveWorkflow("book", started)
	}()

	phone, err := models.NormalizePhone(rawPhone)
	if err != nil {
		return models.Failed(models.OutcomeValidation, MsgInvalidRequest, err)
	}
	if supplyID <= 0 {
		return models.Failed(models.OutcomeValidation, MsgInvalidRequest,
			fmt.Errorf("supply id %d: %w", supplyID, models.ErrValidation))
	}
	if target.IsZero() {
		return models.Failed(models.OutcomeValidation, MsgInvalidRequest,
			fmt.Errorf("empty target date: %w", models.ErrValidation))
	}

	label := DateLabel(target)
	log := w.logger.With().
		Str("phone", models.MaskPhone(phone)).
		Int64("supply_id", supplyID).
		Str("date", label).
		Logger()
	defer func() {
		if out.Success() {
			w.publish(events.BookingCompleted, phone, out)
		} else {
			w.publish(events.BookingFailed, phone, out)
		}
	}()

	h, err := w.driver.Open(ctx, phone)
	if err != nil {
		log.Error().Err(err).Msg("open automation session")
		return models.Failed(models.OutcomeInteractionFailed, MsgPortalFailure, err)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("booking panicked")
			out = models.Failed(models.OutcomeInteractionFailed, MsgPortalFailure, fmt.Errorf("panic: %v", r))
		}
		automation.Release(h, &log)
	}()

	return w.book(ctx, h, supplyID, label, log)
}

func (w *Workflow) book(ctx context.Context, h automation.Handle, supplyID int64, label string, log zerolog.Logger) models.Outcome {
	supplyURL := w.SupplyURL(supplyID)
	if err := h.Navigate(ctx, supplyURL); err != nil {
		log.Error().Err(err).Msg("navigate to supply")
		return models.Failed(models.OutcomeInteractionFailed, MsgPortalFailure, err)
	}

	current, err := h.CurrentURL(ctx)
	if err != nil {
		log.Error().Err(err).Msg("read current url")
		return models.Failed(models.OutcomeInteractionFailed, MsgPortalFailure, err)
	}
	if !strings.HasPrefix(current, supplyURL) {
		log.Warn().Str("url", current).Msg("redirected away from supply page")
		return models.Failed(models.OutcomeNotAuthenticated, MsgNotAuthenticated, models.ErrNotAuthenticated)
	}

	if err := h.DismissOverlays(ctx); err != nil {
		log.Warn().Err(err).Msg("dismiss overlays")
	}

	ok, err := h.OpenRescheduleAction(ctx)
	if err != nil {
		log.Error().Err(err).Msg("open reschedule action")
		return models.Failed(models.OutcomeInteractionFailed, MsgPortalFailure, err)
	}
	if !ok {
		return models.Failed(models.OutcomeNoActionAvailable, MsgNoAction, models.ErrNoActionAvailable)
	}

	if _, err := h.ConfirmDialog(ctx); err != nil {
		log.Error().Err(err).Msg("confirm dialog")
		return models.Failed(models.OutcomeInteractionFailed, MsgPortalFailure, err)
	}

	cells, err := h.ScheduleCells(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scan schedule")
		return models.Failed(models.OutcomeInteractionFailed, MsgPortalFailure, err)
	}

	for _, cell := range cells {
		if !LabelMatches(cell.Label, label) {
			continue
		}
		done, err := h.CompleteReschedule(ctx, cell)
		if err != nil {
			log.Error().Err(err).Int("cell", cell.Index).Msg("complete reschedule")
			return models.Failed(models.OutcomeInteractionFailed, MsgPortalFailure, err)
		}
		if done {
			log.Info().Int("cell", cell.Index).Msg("supply rescheduled")
			return models.Succeeded(fmt.Sprintf(MsgBooked, label))
		}
		log.Debug().Int("cell", cell.Index).Msg("cell has no completable action")
	}

	return models.Failed(models.OutcomeDateNotFound, fmt.Sprintf(MsgDateNotFound, label), models.ErrDateNotFound)
}

func (w *Workflow) publish(typ, phone string, out models.Outcome) {
	w.bus.Publish(events.Event{
		Type:    typ,
		Phone:   phone,
		Outcome: string(out.Kind),
		Message: out.Message,
	})
}
