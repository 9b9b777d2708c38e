// Package service is the facade the API and other callers use.
package service

import (
	"context"
	"time"

	"wbauth/internal/automation"
	"wbauth/internal/booking"
	"wbauth/internal/events"
	"wbauth/internal/login"
	"wbauth/internal/models"
	"wbauth/internal/session"

	"github.com/rs/zerolog"
)

// ProfileRemover deletes the browser profile of an account.
type ProfileRemover interface {
	Remove(account string) error
}

// AuthService ties the login and booking workflows to the session registry
// and the cookie store.
type AuthService struct {
	login    *login.Workflow
	booking  *booking.Workflow
	registry *session.Registry
	store    models.CookieStore
	profiles ProfileRemover
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time
}

func NewAuthService(
	loginWF *login.Workflow,
	bookingWF *booking.Workflow,
	registry *session.Registry,
	store models.CookieStore,
	profiles ProfileRemover,
	bus *events.Bus,
	logger *zerolog.Logger,
) *AuthService {
	s := &AuthService{
		login:    loginWF,
		booking:  bookingWF,
		registry: registry,
		store:    store,
		profiles: profiles,
		bus:      bus,
		logger:   logger.With().Str("component", "auth_service").Logger(),
		now:      time.Now,
	}
	registry.OnEvict(func(ls *session.LoginSession) {
		bus.Publish(events.Event{
			Type:      events.LoginExpired,
			Phone:     ls.Account,
			AttemptID: ls.AttemptID,
			Outcome:   string(models.OutcomeNotFound),
		})
	})
	return s
}

func (s *AuthService) RequestCode(ctx context.Context, phone string) models.Outcome {
	return s.login.RequestCode(ctx, phone)
}

func (s *AuthService) ConfirmCode(ctx context.Context, phone, code string) models.Outcome {
	return s.login.ConfirmCode(ctx, phone, code)
}

func (s *AuthService) Book(ctx context.Context, phone string, supplyID int64, date time.Time) models.Outcome {
	return s.booking.Book(ctx, phone, supplyID, date)
}

// GetCookies returns the live cookies of an account. Unknown accounts have none.
func (s *AuthService) GetCookies(ctx context.Context, rawPhone string) (string, []models.Cookie, error) {
	phone, err := models.NormalizePhone(rawPhone)
	if err != nil {
		return "", nil, err
	}
	cookies, err := s.store.GetAll(ctx, phone)
	if err != nil {
		return phone, nil, err
	}
	return phone, models.LiveCookies(cookies, s.now()), nil
}

// LoginInProgress reports whether a code was requested and not yet confirmed.
func (s *AuthService) LoginInProgress(rawPhone string) (string, bool, error) {
	phone, err := models.NormalizePhone(rawPhone)
	if err != nil {
		return "", false, err
	}
	return phone, s.registry.Has(phone), nil
}

// DeleteAccount drops the pending login, stored cookies and browser profile
// of an account. It reports whether anything was deleted.
func (s *AuthService) DeleteAccount(ctx context.Context, rawPhone string) (bool, error) {
	phone, err := models.NormalizePhone(rawPhone)
	if err != nil {
		return false, err
	}
	log := s.logger.With().Str("phone", models.MaskPhone(phone)).Logger()

	pending, hadSession := s.registry.Remove(phone)
	if hadSession {
		pending.Transition(session.StateFailed)
		automation.Release(pending.Handle, &log)
	}

	deleted, err := s.store.DeleteAccount(ctx, phone)
	if err != nil {
		return false, err
	}
	if s.profiles != nil {
		if err := s.profiles.Remove(phone); err != nil {
			log.Warn().Err(err).Msg("remove browser profile")
		}
	}

	if deleted || hadSession {
		log.Info().Bool("had_session", hadSession).Msg("account deleted")
		s.bus.Publish(events.Event{Type: events.AccountDeleted, Phone: phone, Outcome: string(models.OutcomeSuccess)})
	}
	return deleted || hadSession, nil
}
