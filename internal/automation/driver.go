// Package automation defines the browser automation port used by the login
// and booking workflows, and its go-rod implementation.
package automation

import (
	"context"
	"fmt"

	"wbauth/internal/models"

	"github.com/rs/zerolog"
)

// Driver opens automation sessions bound to a persistent per-account profile.
type Driver interface {
	Open(ctx context.Context, profileKey string) (Handle, error)
}

// ScheduleCell is one row of the supply schedule grid as rendered on the page.
type ScheduleCell struct {
	Index      int
	Label      string
	Actionable bool
}

// Handle is an exclusively owned automation session. Close must be idempotent.
type Handle interface {
	// SubmitPhone opens the login page and submits the phone number.
	SubmitPhone(ctx context.Context, phone string) error
	// SubmitCode types the SMS code and returns the resulting cookie set.
	SubmitCode(ctx context.Context, code string) ([]models.Cookie, error)
	// PageContains reports whether the current page text contains text.
	PageContains(ctx context.Context, text string) (bool, error)
	// CurrentURL returns the URL of the current page.
	CurrentURL(ctx context.Context) (string, error)

	Navigate(ctx context.Context, url string) error
	// DismissOverlays closes consent banners and blocking dialogs if any.
	DismissOverlays(ctx context.Context) error
	// OpenRescheduleAction activates the primary reschedule control.
	// It returns false when no eligible control is present.
	OpenRescheduleAction(ctx context.Context) (bool, error)
	// ConfirmDialog confirms an intermediate dialog. It returns false when
	// no dialog appeared.
	ConfirmDialog(ctx context.Context) (bool, error)
	// ScheduleCells lists the rows of the rendered schedule grid.
	ScheduleCells(ctx context.Context) ([]ScheduleCell, error)
	// CompleteReschedule opens the cell popup, invokes reschedule and waits
	// for the confirmation affordance to disappear. It returns false when the
	// cell had no completable action.
	CompleteReschedule(ctx context.Context, cell ScheduleCell) (bool, error)

	Close() error
}

// Release closes h and never lets an error or panic escape to the caller.
func Release(h Handle, logger *zerolog.Logger) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error().Str("panic", fmt.Sprint(r)).Msg("automation session release panicked")
		}
	}()
	if err := h.Close(); err != nil && logger != nil {
		logger.Warn().Err(err).Msg("automation session release failed")
	}
}
