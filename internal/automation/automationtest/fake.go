// Package automationtest provides a scripted in-memory automation driver.
package automationtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wbauth/internal/automation"
	"wbauth/internal/models"
)

// Driver hands out Handles built by NewHandle. OpenErr fails every Open.
// OpenDelay simulates browser start-up.
type Driver struct {
	mu        sync.Mutex
	OpenErr   error
	OpenDelay time.Duration
	NewHandle func() *Handle
	opened    []*Handle
	profiles  []string
}

func NewDriver(newHandle func() *Handle) *Driver {
	return &Driver{NewHandle: newHandle}
}

func (d *Driver) Open(ctx context.Context, profileKey string) (automation.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	delay := d.OpenDelay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	h := &Handle{}
	if d.NewHandle != nil {
		h = d.NewHandle()
	}
	d.opened = append(d.opened, h)
	d.profiles = append(d.profiles, profileKey)
	return h, nil
}

// Opened returns every handle handed out so far.
func (d *Driver) Opened() []*Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Handle(nil), d.opened...)
}

// OpenCount returns the number of successful Open calls.
func (d *Driver) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

// Profiles returns the profile keys passed to Open.
func (d *Driver) Profiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.profiles...)
}

// Handle is a scripted page. After SubmitCode the page text switches to
// CodePageText when it is set.
type Handle struct {
	mu sync.Mutex

	PageText     string
	CodePageText string
	Cookies      []models.Cookie
	URL          string
	// URLAfterNavigate overrides the URL reported after Navigate, e.g. a
	// login redirect.
	URLAfterNavigate string

	PhoneErr    error
	CodeErr     error
	CloseErr    error
	OverlayErr  error
	PanicOnCell bool

	RescheduleAvailable bool
	Dialog              bool
	Cells               []automation.ScheduleCell
	Completable         map[int]bool

	SubmittedPhone string
	SubmittedCode  string
	Completed      []int

	closes atomic.Int32
}

// Closes reports how many times Close was called.
func (h *Handle) Closes() int {
	return int(h.closes.Load())
}

func (h *Handle) SubmitPhone(ctx context.Context, phone string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	h.SubmittedPhone = phone
	return h.PhoneErr
}

func (h *Handle) SubmitCode(ctx context.Context, code string) ([]models.Cookie, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.SubmittedCode = code
	if h.CodeErr != nil {
		return nil, h.CodeErr
	}
	if h.CodePageText != "" {
		h.PageText = h.CodePageText
	}
	return append([]models.Cookie(nil), h.Cookies...), nil
}

func (h *Handle) PageContains(_ context.Context, text string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Contains(h.PageText, text), nil
}

func (h *Handle) CurrentURL(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.URL, nil
}

func (h *Handle) Navigate(ctx context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	h.URL = url
	if h.URLAfterNavigate != "" {
		h.URL = h.URLAfterNavigate
	}
	return nil
}

func (h *Handle) DismissOverlays(context.Context) error {
	return h.OverlayErr
}

func (h *Handle) OpenRescheduleAction(context.Context) (bool, error) {
	return h.RescheduleAvailable, nil
}

func (h *Handle) ConfirmDialog(context.Context) (bool, error) {
	return h.Dialog, nil
}

func (h *Handle) ScheduleCells(context.Context) ([]automation.ScheduleCell, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]automation.ScheduleCell(nil), h.Cells...), nil
}

func (h *Handle) CompleteReschedule(_ context.Context, cell automation.ScheduleCell) (bool, error) {
	if h.PanicOnCell {
		panic("cell vanished")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !cell.Actionable || !h.Completable[cell.Index] {
		return false, nil
	}
	h.Completed = append(h.Completed, cell.Index)
	return true, nil
}

func (h *Handle) Close() error {
	h.closes.Add(1)
	return h.CloseErr
}

// ErrBrowser is a generic driver failure for tests.
var ErrBrowser = errors.New("browser crashed")
