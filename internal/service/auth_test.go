package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wbauth/internal/automation"
	"wbauth/internal/automation/automationtest"
	"wbauth/internal/booking"
	"wbauth/internal/database"
	"wbauth/internal/events"
	"wbauth/internal/login"
	"wbauth/internal/models"
	"wbauth/internal/session"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	svc      *AuthService
	db       *database.DB
	driver   *automationtest.Driver
	registry *session.Registry
	profiles *automation.Profiles

	mu     sync.Mutex
	events []string
}

func newEnv(t *testing.T, newHandle func() *automationtest.Handle) *env {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "wbauth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := &env{
		db:       db,
		driver:   automationtest.NewDriver(newHandle),
		registry: session.NewRegistry(&logger),
		profiles: automation.NewProfiles(t.TempDir()),
	}
	bus := events.NewBus(&logger)
	bus.Subscribe(func(ev events.Event) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.events = append(e.events, ev.Type)
		return nil
	}, events.AllTypes...)

	loginWF := login.NewWorkflow(e.driver, automation.NewPhraseDetector(nil, nil), e.registry, db, bus, &logger)
	bookingWF := booking.NewWorkflow(e.driver, "https://seller.example/supply", bus, &logger)
	e.svc = NewAuthService(loginWF, bookingWF, e.registry, db, e.profiles, bus, &logger)
	return e
}

func (e *env) eventTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func TestWrongCodeThenRetry(t *testing.T) {
	attempt := 0
	e := newEnv(t, func() *automationtest.Handle {
		attempt++
		if attempt == 1 {
			return &automationtest.Handle{CodePageText: "Неверный код"}
		}
		return &automationtest.Handle{Cookies: []models.Cookie{{Name: "WBTokenV3", Value: "token"}}}
	})
	ctx := context.Background()

	out := e.svc.RequestCode(ctx, "998901234567")
	require.True(t, out.Success())
	assert.Equal(t, "998901234567", out.SessionKey)

	out = e.svc.ConfirmCode(ctx, "998901234567", "482913")
	assert.False(t, out.Success())
	assert.Equal(t, models.OutcomeInvalidCode, out.Kind)
	assert.Equal(t, "Неверный код", out.Message)

	_, inProgress, err := e.svc.LoginInProgress("998901234567")
	require.NoError(t, err)
	assert.False(t, inProgress)

	_, cookies, err := e.svc.GetCookies(ctx, "998901234567")
	require.NoError(t, err)
	assert.Empty(t, cookies)

	_, err = e.db.GetAccount(ctx, "998901234567")
	assert.ErrorIs(t, err, models.ErrNotFound, "no account before a confirmed login")

	require.True(t, e.svc.RequestCode(ctx, "998901234567").Success())
	require.True(t, e.svc.ConfirmCode(ctx, "998901234567", "482913").Success())

	phone, cookies, err := e.svc.GetCookies(ctx, "+998 90 123-45-67")
	require.NoError(t, err)
	assert.Equal(t, "+998901234567", phone)
	assert.Empty(t, cookies, "plus-prefixed phone is a different key")

	_, cookies, err = e.svc.GetCookies(ctx, "998901234567")
	require.NoError(t, err)
	assert.Equal(t, []models.Cookie{{Name: "WBTokenV3", Value: "token"}}, cookies)

	for _, h := range e.driver.Opened() {
		assert.Equal(t, 1, h.Closes())
	}
	assert.Equal(t, []string{
		events.LoginCodeRequested, events.LoginFailed,
		events.LoginCodeRequested, events.LoginVerified,
	}, e.eventTypes())
}

func TestExpiredSessionPublishesEvent(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	require.True(t, e.svc.RequestCode(ctx, "998901234567").Success())
	assert.Equal(t, 1, e.registry.Sweep(time.Now().Add(11*time.Minute), 10*time.Minute))

	out := e.svc.ConfirmCode(ctx, "998901234567", "482913")
	assert.Equal(t, models.OutcomeNotFound, out.Kind)
	assert.Contains(t, e.eventTypes(), events.LoginExpired)
	assert.Equal(t, 1, e.driver.Opened()[0].Closes())
}

func TestDeleteAccount(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.db.ReplaceAll(ctx, "998901234567", []models.Cookie{{Name: "a", Value: "1"}}))
	require.True(t, e.svc.RequestCode(ctx, "998901234567").Success())
	_, err := e.profiles.Ensure("998901234567")
	require.NoError(t, err)

	deleted, err := e.svc.DeleteAccount(ctx, "998901234567")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, e.registry.Len())
	assert.Equal(t, 1, e.driver.Opened()[0].Closes())
	assert.NoDirExists(t, e.profiles.Dir("998901234567"))

	_, cookies, err := e.svc.GetCookies(ctx, "998901234567")
	require.NoError(t, err)
	assert.Empty(t, cookies)

	deleted, err = e.svc.DeleteAccount(ctx, "998901234567")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = e.svc.DeleteAccount(ctx, "bad")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestBookThroughService(t *testing.T) {
	e := newEnv(t, func() *automationtest.Handle {
		return &automationtest.Handle{
			RescheduleAvailable: true,
			Cells:               []automation.ScheduleCell{{Index: 0, Label: "7 марта", Actionable: true}},
			Completable:         map[int]bool{0: true},
		}
	})

	out := e.svc.Book(context.Background(), "998901234567", 77, time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC))
	require.True(t, out.Success(), out.String())
	assert.Equal(t, []string{events.BookingCompleted}, e.eventTypes())
}
