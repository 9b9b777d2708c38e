// Package login drives the two-step SMS login: request a code, then confirm it.
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wbauth/internal/automation"
	"wbauth/internal/events"
	"wbauth/internal/metrics"
	"wbauth/internal/models"
	"wbauth/internal/session"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// User facing messages.
const (
	MsgCodeSent         = "Код подтверждения отправлен на указанный номер"
	MsgInvalidPhone     = "Некорректный номер телефона"
	MsgInvalidCodeInput = "Код подтверждения должен состоять из цифр"
	MsgInProgress       = "Вход для этого номера уже выполняется. Введите код из SMS или дождитесь истечения сессии."
	MsgRateLimited      = "Слишком много запросов кода. Попробуйте позже."
	MsgSessionNotFound  = "Сессия не найдена или истекла. Запросите код заново."
	MsgInvalidCode      = "Неверный код"
	MsgAuthenticated    = "Пользователь успешно аутентифицирован"
	MsgPortalFailure    = "Не удалось выполнить действие на портале продавца. Попробуйте позже."
	MsgStorageFailure   = "Не удалось сохранить сессию пользователя. Попробуйте позже."
)

// Workflow implements RequestCode and ConfirmCode.
type Workflow struct {
	driver   automation.Driver
	detector automation.SignalDetector
	registry *session.Registry
	store    models.CookieStore
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time
}

func NewWorkflow(
	driver automation.Driver,
	detector automation.SignalDetector,
	registry *session.Registry,
	store models.CookieStore,
	bus *events.Bus,
	logger *zerolog.Logger,
) *Workflow {
	return &Workflow{
		driver:   driver,
		detector: detector,
		registry: registry,
		store:    store,
		bus:      bus,
		logger:   logger.With().Str("component", "login").Logger(),
		now:      time.Now,
	}
}

// RequestCode opens a browser session, submits the phone number and parks
// the session in the registry until the code arrives.
func (w *Workflow) RequestCode(ctx context.Context, rawPhone string) (out models.Outcome) {
	started := time.Now()
	defer func() {
		metrics.IncLoginOutcome("request", string(out.Kind))
		metrics.ObserveWorkflow("request_code", started)
	}()

	phone, err := models.NormalizePhone(rawPhone)
	if err != nil {
		return models.Failed(models.OutcomeValidation, MsgInvalidPhone, err)
	}
	log := w.logger.With().Str("phone", models.MaskPhone(phone)).Logger()

	res, err := w.registry.Reserve(phone)
	if errors.Is(err, models.ErrConflict) {
		return models.Failed(models.OutcomeConflict, MsgInProgress, err)
	}
	if err != nil {
		log.Warn().Err(err).Msg("reserve login session")
		return w.interactionFailed(phone, "", err)
	}
	// Dropped after the handle below is released, so a retry never shares
	// the profile dir with a live browser.
	defer res.Release()

	h, err := w.driver.Open(ctx, phone)
	if err != nil {
		log.Error().Err(err).Msg("open automation session")
		return w.interactionFailed(phone, "", err)
	}
	// Released on every path unless ownership moves to the registry.
	owned := true
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("request code panicked")
			out = w.interactionFailed(phone, "", fmt.Errorf("panic: %v", r))
		}
		if owned {
			automation.Release(h, &log)
		}
	}()

	attempt := session.NewLoginSession(phone, uuid.NewString(), h, w.now())
	log = log.With().Str("attempt_id", attempt.AttemptID).Logger()

	if err := h.SubmitPhone(ctx, phone); err != nil {
		log.Error().Err(err).Msg("submit phone")
		attempt.Transition(session.StateFailed)
		return w.interactionFailed(phone, attempt.AttemptID, err)
	}

	limited, err := w.detector.RateLimited(ctx, h)
	if err != nil {
		log.Error().Err(err).Msg("detect rate limit")
		return w.interactionFailed(phone, attempt.AttemptID, err)
	}
	if limited {
		log.Warn().Msg("portal rate limited code request")
		attempt.Transition(session.StateFailed)
		w.publish(events.LoginFailed, phone, attempt.AttemptID, models.OutcomeRateLimited, MsgRateLimited)
		return models.Failed(models.OutcomeRateLimited, MsgRateLimited, models.ErrRateLimited)
	}

	attempt.Transition(session.StateCodeRequested)
	if err := res.Commit(attempt); err != nil {
		log.Warn().Err(err).Msg("store login session")
		attempt.Transition(session.StateFailed)
		return w.interactionFailed(phone, attempt.AttemptID, err)
	}
	owned = false

	log.Info().Msg("verification code requested")
	w.publish(events.LoginCodeRequested, phone, attempt.AttemptID, models.OutcomeSuccess, MsgCodeSent)
	out = models.Succeeded(MsgCodeSent)
	out.SessionKey = phone
	return out
}

// ConfirmCode submits the SMS code on the parked session and persists the
// resulting cookies. The session is consumed by the first caller.
func (w *Workflow) ConfirmCode(ctx context.Context, rawPhone, code string) (out models.Outcome) {
	started := time.Now()
	defer func() {
		metrics.IncLoginOutcome("confirm", string(out.Kind))
		metrics.ObserveWorkflow("confirm_code", started)
	}()

	phone, err := models.NormalizePhone(rawPhone)
	if err != nil {
		return models.Failed(models.OutcomeValidation, MsgInvalidPhone, err)
	}
	code = strings.TrimSpace(code)
	if err := validateCode(code); err != nil {
		return models.Failed(models.OutcomeValidation, MsgInvalidCodeInput, err)
	}
	log := w.logger.With().Str("phone", models.MaskPhone(phone)).Logger()

	attempt, ok := w.registry.Remove(phone)
	if !ok {
		return models.Failed(models.OutcomeNotFound, MsgSessionNotFound, models.ErrNotFound)
	}
	log = log.With().Str("attempt_id", attempt.AttemptID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("confirm code panicked")
			attempt.Transition(session.StateFailed)
			out = w.interactionFailed(phone, attempt.AttemptID, fmt.Errorf("panic: %v", r))
		}
		automation.Release(attempt.Handle, &log)
	}()

	cookies, err := attempt.Handle.SubmitCode(ctx, code)
	if err != nil {
		log.Error().Err(err).Msg("submit code")
		attempt.Transition(session.StateFailed)
		return w.interactionFailed(phone, attempt.AttemptID, err)
	}

	invalid, err := w.detector.InvalidCode(ctx, attempt.Handle)
	if err != nil {
		log.Error().Err(err).Msg("detect invalid code")
		attempt.Transition(session.StateFailed)
		return w.interactionFailed(phone, attempt.AttemptID, err)
	}
	if invalid {
		log.Warn().Msg("portal rejected verification code")
		attempt.Transition(session.StateFailed)
		w.publish(events.LoginFailed, phone, attempt.AttemptID, models.OutcomeInvalidCode, MsgInvalidCode)
		return models.Failed(models.OutcomeInvalidCode, MsgInvalidCode, models.ErrInvalidCode)
	}

	if err := w.store.ReplaceAll(ctx, phone, cookies); err != nil {
		log.Error().Err(err).Msg("persist cookies")
		attempt.Transition(session.StateFailed)
		w.publish(events.LoginFailed, phone, attempt.AttemptID, models.OutcomeStorageFailed, MsgStorageFailure)
		return models.Failed(models.OutcomeStorageFailed, MsgStorageFailure, fmt.Errorf("%w: %w", models.ErrStorage, err))
	}

	attempt.Transition(session.StateVerified)
	log.Info().Int("cookies", len(cookies)).Msg("login verified")
	w.publish(events.LoginVerified, phone, attempt.AttemptID, models.OutcomeSuccess, MsgAuthenticated)
	return models.Succeeded(MsgAuthenticated)
}

func (w *Workflow) interactionFailed(phone, attemptID string, cause error) models.Outcome {
	w.publish(events.LoginFailed, phone, attemptID, models.OutcomeInteractionFailed, MsgPortalFailure)
	return models.Failed(models.OutcomeInteractionFailed, MsgPortalFailure, cause)
}

func (w *Workflow) publish(typ, phone, attemptID string, kind models.OutcomeKind, msg string) {
	w.bus.Publish(events.Event{
		Type:      typ,
		Phone:     phone,
		AttemptID: attemptID,
		Outcome:   string(kind),
		Message:   msg,
	})
}

func validateCode(code string) error {
	if code == "" {
		return fmt.Errorf("empty code: %w", models.ErrValidation)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("code must be digits: %w", models.ErrValidation)
		}
	}
	return nil
}
