package login

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"wbauth/internal/automation"
	"wbauth/internal/automation/automationtest"
	"wbauth/internal/events"
	"wbauth/internal/models"
	"wbauth/internal/session"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ReplaceAll(ctx context.Context, account string, cookies []models.Cookie) error {
	args := m.Called(ctx, account, cookies)
	return args.Error(0)
}

func (m *mockStore) GetAll(ctx context.Context, account string) ([]models.Cookie, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Cookie), args.Error(1)
}

func (m *mockStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) DeleteAccount(ctx context.Context, account string) (bool, error) {
	args := m.Called(ctx, account)
	return args.Bool(0), args.Error(1)
}

type fixture struct {
	driver   *automationtest.Driver
	registry *session.Registry
	store    *mockStore
	mu       sync.Mutex
	events   []events.Event
	wf       *Workflow
}

func newFixture(t *testing.T, newHandle func() *automationtest.Handle) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	f := &fixture{
		driver:   automationtest.NewDriver(newHandle),
		registry: session.NewRegistry(&logger),
		store:    new(mockStore),
	}
	bus := events.NewBus(&logger)
	bus.Subscribe(func(e events.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
		return nil
	}, events.AllTypes...)
	f.wf = NewWorkflow(f.driver, automation.NewPhraseDetector(nil, nil), f.registry, f.store, bus, &logger)
	return f
}

func (f *fixture) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func TestRequestCodeSuccess(t *testing.T) {
	f := newFixture(t, nil)

	out := f.wf.RequestCode(context.Background(), " 998901234567 ")
	require.True(t, out.Success(), out.String())
	assert.Equal(t, "998901234567", out.SessionKey)
	assert.Equal(t, MsgCodeSent, out.Message)

	s, err := f.registry.Get("998901234567")
	require.NoError(t, err)
	assert.Equal(t, session.StateCodeRequested, s.State())
	assert.NotEmpty(t, s.AttemptID)

	h := f.driver.Opened()[0]
	assert.Equal(t, "998901234567", h.SubmittedPhone)
	assert.Equal(t, 0, h.Closes(), "handle is owned by the registry")
	assert.Equal(t, []string{"998901234567"}, f.driver.Profiles())
	assert.Equal(t, []string{events.LoginCodeRequested}, f.eventTypes())
}

func TestRequestCodeValidation(t *testing.T) {
	f := newFixture(t, nil)

	for _, phone := range []string{"", "   ", "abc", "12"} {
		out := f.wf.RequestCode(context.Background(), phone)
		assert.Equal(t, models.OutcomeValidation, out.Kind, phone)
		assert.True(t, errors.Is(out.Err(), models.ErrValidation))
	}
	assert.Equal(t, 0, f.driver.OpenCount(), "no browser for invalid input")
}

func TestRequestCodeConflict(t *testing.T) {
	f := newFixture(t, nil)

	require.True(t, f.wf.RequestCode(context.Background(), "998901234567").Success())
	out := f.wf.RequestCode(context.Background(), "998901234567")

	assert.Equal(t, models.OutcomeConflict, out.Kind)
	assert.True(t, errors.Is(out.Err(), models.ErrConflict))
	assert.Equal(t, 1, f.driver.OpenCount(), "fast path never opens a second browser")
}

func TestRequestCodeRateLimitedLeavesNoEntry(t *testing.T) {
	f := newFixture(t, func() *automationtest.Handle {
		return &automationtest.Handle{PageText: "Превышено количество запросов. Повторите позже"}
	})

	out := f.wf.RequestCode(context.Background(), "998901234567")

	assert.Equal(t, models.OutcomeRateLimited, out.Kind)
	assert.False(t, out.Success())
	assert.True(t, errors.Is(out.Err(), models.ErrRateLimited))
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, 1, f.driver.Opened()[0].Closes())
	assert.Equal(t, []string{events.LoginFailed}, f.eventTypes())
}

func TestRequestCodeDriverFailure(t *testing.T) {
	f := newFixture(t, func() *automationtest.Handle {
		return &automationtest.Handle{PhoneErr: automationtest.ErrBrowser}
	})

	out := f.wf.RequestCode(context.Background(), "998901234567")

	assert.Equal(t, models.OutcomeInteractionFailed, out.Kind)
	assert.Equal(t, MsgPortalFailure, out.Message)
	assert.True(t, errors.Is(out.Err(), models.ErrExternalInteraction))
	assert.True(t, errors.Is(out.Err(), automationtest.ErrBrowser))
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, 1, f.driver.Opened()[0].Closes())
}

func TestRequestCodeOpenFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.driver.OpenErr = automationtest.ErrBrowser

	out := f.wf.RequestCode(context.Background(), "998901234567")
	assert.Equal(t, models.OutcomeInteractionFailed, out.Kind)
	assert.Equal(t, 0, f.registry.Len())
}

func TestRequestCodeConcurrentSinglePut(t *testing.T) {
	f := newFixture(t, nil)
	f.driver.OpenDelay = 20 * time.Millisecond

	var wg sync.WaitGroup
	outcomes := make([]models.Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = f.wf.RequestCode(context.Background(), "998901234567")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, out := range outcomes {
		if out.Success() {
			succeeded++
		} else {
			assert.Equal(t, models.OutcomeConflict, out.Kind)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, 1, f.driver.OpenCount(), "one browser per account")
	assert.Equal(t, []string{"998901234567"}, f.driver.Profiles())
}

func TestRequestCodeFailureFreesAccount(t *testing.T) {
	f := newFixture(t, func() *automationtest.Handle {
		return &automationtest.Handle{PhoneErr: automationtest.ErrBrowser}
	})
	ctx := context.Background()

	out := f.wf.RequestCode(ctx, "998901234567")
	assert.Equal(t, models.OutcomeInteractionFailed, out.Kind)
	assert.False(t, f.registry.Has("998901234567"))

	out = f.wf.RequestCode(ctx, "998901234567")
	assert.Equal(t, models.OutcomeInteractionFailed, out.Kind)
	assert.Equal(t, 2, f.driver.OpenCount())
}

// closingDriver shuts the registry down while the browser is starting.
type closingDriver struct {
	automation.Driver
	registry *session.Registry
}

func (d closingDriver) Open(ctx context.Context, profileKey string) (automation.Handle, error) {
	d.registry.Close()
	return d.Driver.Open(ctx, profileKey)
}

func TestRequestCodeAfterRegistryClosed(t *testing.T) {
	f := newFixture(t, nil)
	logger := zerolog.New(io.Discard)
	wf := NewWorkflow(closingDriver{Driver: f.driver, registry: f.registry},
		automation.NewPhraseDetector(nil, nil), f.registry, f.store, events.NewBus(&logger), &logger)

	out := wf.RequestCode(context.Background(), "998901234567")
	assert.Equal(t, models.OutcomeInteractionFailed, out.Kind)
	assert.ErrorIs(t, out.Err(), session.ErrClosed)
	assert.Equal(t, 0, f.registry.Len())
	require.Len(t, f.driver.Opened(), 1)
	assert.Equal(t, 1, f.driver.Opened()[0].Closes())

	out = f.wf.RequestCode(context.Background(), "998901234567")
	assert.Equal(t, models.OutcomeInteractionFailed, out.Kind)
	assert.Equal(t, 1, f.driver.OpenCount())
}

func TestConfirmCodeSuccess(t *testing.T) {
	cookies := []models.Cookie{{Name: "WBTokenV3", Value: "token"}}
	f := newFixture(t, func() *automationtest.Handle {
		return &automationtest.Handle{Cookies: cookies}
	})
	ctx := context.Background()
	f.store.On("ReplaceAll", ctx, "998901234567", cookies).Return(nil).Once()

	require.True(t, f.wf.RequestCode(ctx, "998901234567").Success())
	out := f.wf.ConfirmCode(ctx, "998901234567", "482913")

	require.True(t, out.Success(), out.String())
	assert.Equal(t, MsgAuthenticated, out.Message)
	assert.Equal(t, "482913", f.driver.Opened()[0].SubmittedCode)
	assert.Equal(t, 1, f.driver.Opened()[0].Closes())
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, []string{events.LoginCodeRequested, events.LoginVerified}, f.eventTypes())
	f.store.AssertExpectations(t)
}

func TestConfirmCodeInvalidCode(t *testing.T) {
	f := newFixture(t, func() *automationtest.Handle {
		return &automationtest.Handle{CodePageText: "Неверный код"}
	})
	ctx := context.Background()

	require.True(t, f.wf.RequestCode(ctx, "998901234567").Success())
	out := f.wf.ConfirmCode(ctx, "998901234567", "482913")

	assert.False(t, out.Success())
	assert.Equal(t, models.OutcomeInvalidCode, out.Kind)
	assert.True(t, errors.Is(out.Err(), models.ErrInvalidCode))
	assert.Equal(t, 1, f.driver.Opened()[0].Closes())

	_, err := f.registry.Get("998901234567")
	assert.True(t, errors.Is(err, models.ErrNotFound), "session removed after a rejected code")
	f.store.AssertNotCalled(t, "ReplaceAll", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmCodeTwiceSecondNotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.On("ReplaceAll", ctx, "998901234567", mock.Anything).Return(nil).Once()

	require.True(t, f.wf.RequestCode(ctx, "998901234567").Success())
	first := f.wf.ConfirmCode(ctx, "998901234567", "482913")
	second := f.wf.ConfirmCode(ctx, "998901234567", "482913")

	assert.True(t, first.Success())
	assert.Equal(t, models.OutcomeNotFound, second.Kind)
	assert.Equal(t, MsgSessionNotFound, second.Message)
	assert.Equal(t, 1, f.driver.Opened()[0].Closes())
	f.store.AssertExpectations(t)
}

func TestConfirmCodeConcurrentFirstWins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.On("ReplaceAll", ctx, "998901234567", mock.Anything).Return(nil).Once()
	require.True(t, f.wf.RequestCode(ctx, "998901234567").Success())

	var wg sync.WaitGroup
	outcomes := make([]models.Outcome, 4)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = f.wf.ConfirmCode(ctx, "998901234567", "482913")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, out := range outcomes {
		if out.Success() {
			succeeded++
		} else {
			assert.Equal(t, models.OutcomeNotFound, out.Kind)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.driver.Opened()[0].Closes())
}

func TestConfirmCodeWithoutRequest(t *testing.T) {
	f := newFixture(t, nil)

	out := f.wf.ConfirmCode(context.Background(), "998901234567", "482913")
	assert.Equal(t, models.OutcomeNotFound, out.Kind)
	assert.Equal(t, 0, f.driver.OpenCount())
}

func TestConfirmCodeValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.True(t, f.wf.RequestCode(ctx, "998901234567").Success())

	for _, code := range []string{"", "  ", "48a913"} {
		out := f.wf.ConfirmCode(ctx, "998901234567", code)
		assert.Equal(t, models.OutcomeValidation, out.Kind, code)
	}
	assert.Equal(t, 1, f.registry.Len(), "invalid input keeps the pending session")
}

func TestConfirmCodeStorageFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.On("ReplaceAll", ctx, "998901234567", mock.Anything).Return(errors.New("disk full")).Once()

	require.True(t, f.wf.RequestCode(ctx, "998901234567").Success())
	out := f.wf.ConfirmCode(ctx, "998901234567", "482913")

	assert.Equal(t, models.OutcomeStorageFailed, out.Kind)
	assert.True(t, errors.Is(out.Err(), models.ErrStorage))
	assert.Equal(t, 1, f.driver.Opened()[0].Closes())
}

func TestConfirmCodeDriverFailure(t *testing.T) {
	f := newFixture(t, func() *automationtest.Handle {
		return &automationtest.Handle{CodeErr: automationtest.ErrBrowser}
	})
	ctx := context.Background()

	require.True(t, f.wf.RequestCode(ctx, "998901234567").Success())
	out := f.wf.ConfirmCode(ctx, "998901234567", "482913")

	assert.Equal(t, models.OutcomeInteractionFailed, out.Kind)
	assert.Equal(t, 1, f.driver.Opened()[0].Closes())
	assert.Equal(t, 0, f.registry.Len())
}
