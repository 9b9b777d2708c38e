package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wbauth/internal/models"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// Selectors is the DOM vocabulary of the seller portal.
type Selectors struct {
	PhoneInput          string `yaml:"phone_input"`
	PhoneSubmit         string `yaml:"phone_submit"`
	CodeCell            string `yaml:"code_cell"`
	OverlayClose        string `yaml:"overlay_close"`
	RescheduleButton    string `yaml:"reschedule_button"`
	RescheduleText      string `yaml:"reschedule_text"`
	DialogConfirm       string `yaml:"dialog_confirm"`
	ScheduleRow         string `yaml:"schedule_row"`
	ScheduleLabel       string `yaml:"schedule_label"`
	ScheduleAction      string `yaml:"schedule_action"`
	PopupReschedule     string `yaml:"popup_reschedule"`
	PopupRescheduleText string `yaml:"popup_reschedule_text"`
	ConfirmAffordance   string `yaml:"confirm_affordance"`
}

// DefaultSelectors returns the selectors of the current portal markup.
func DefaultSelectors() Selectors {
	return Selectors{
		PhoneInput:          `.SimpleInput-JIIQvb037j`,
		PhoneSubmit:         `button.IconButton-dyRP\+yvOcb:nth-child(1)`,
		CodeCell:            `li.SimpleCodeInput__item-Pk-qM5fzm\+`,
		OverlayClose:        `[data-testid="cookies-banner-button"], [class*="Modal__close"]`,
		RescheduleButton:    `button`,
		RescheduleText:      `Перенести поставку`,
		DialogConfirm:       `[class*="Modal"] button[class*="primary"]`,
		ScheduleRow:         `[class*="Calendar__row"], [class*="Schedule__row"]`,
		ScheduleLabel:       `[class*="date"]`,
		ScheduleAction:      `button`,
		PopupReschedule:     `[class*="Popup"] button`,
		PopupRescheduleText: `Перенести`,
		ConfirmAffordance:   `[class*="Popup"]`,
	}
}

// RodConfig configures the Chrome based driver.
type RodConfig struct {
	AuthURL        string
	ChromeBin      string
	Headless       bool
	ElementTimeout time.Duration
	SettleDelay    time.Duration
	KeyDelay       time.Duration
	// DialogWait bounds the wait for the optional confirmation dialog.
	DialogWait     time.Duration
	Selectors      Selectors
}

func (c *RodConfig) applyDefaults() {
	if c.AuthURL == "" {
		c.AuthURL = "https://seller-auth.wildberries.ru/ru/"
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.KeyDelay <= 0 {
		c.KeyDelay = 200 * time.Millisecond
	}
	if c.DialogWait <= 0 {
		c.DialogWait = 3 * time.Second
	}
	def := DefaultSelectors()
	s := &c.Selectors
	fill := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	fill(&s.PhoneInput, def.PhoneInput)
	fill(&s.PhoneSubmit, def.PhoneSubmit)
	fill(&s.CodeCell, def.CodeCell)
	fill(&s.OverlayClose, def.OverlayClose)
	fill(&s.RescheduleButton, def.RescheduleButton)
	fill(&s.RescheduleText, def.RescheduleText)
	fill(&s.DialogConfirm, def.DialogConfirm)
	fill(&s.ScheduleRow, def.ScheduleRow)
	fill(&s.ScheduleLabel, def.ScheduleLabel)
	fill(&s.ScheduleAction, def.ScheduleAction)
	fill(&s.PopupReschedule, def.PopupReschedule)
	fill(&s.PopupRescheduleText, def.PopupRescheduleText)
	fill(&s.ConfirmAffordance, def.ConfirmAffordance)
}

// RodDriver launches one Chrome process per handle with a persistent
// user data dir.
type RodDriver struct {
	cfg      RodConfig
	profiles *Profiles
	logger   zerolog.Logger
}

func NewRodDriver(cfg RodConfig, profiles *Profiles, logger *zerolog.Logger) *RodDriver {
	cfg.applyDefaults()
	return &RodDriver{
		cfg:      cfg,
		profiles: profiles,
		logger:   logger.With().Str("component", "rod").Logger(),
	}
}

func (d *RodDriver) Open(ctx context.Context, profileKey string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := d.profiles.Ensure(profileKey)
	if err != nil {
		return nil, err
	}

	l := launcher.New().
		UserDataDir(dir).
		Headless(d.cfg.Headless).
		NoSandbox(true).
		Set(flags.Flag("disable-dev-shm-usage")).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled").
		Set(flags.Flag("window-size"), "1200,800").
		Set(flags.Flag("lang"), "ru-RU")
	if d.cfg.ChromeBin != "" {
		l = l.Bin(d.cfg.ChromeBin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	// The browser outlives the request that opened it, so it is not bound to ctx.
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}

	d.logger.Debug().Str("profile", dir).Msg("chrome session opened")
	return &rodHandle{
		cfg:      d.cfg,
		launcher: l,
		browser:  browser,
		page:     page,
		logger:   d.logger,
	}, nil
}

type rodHandle struct {
	cfg      RodConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	logger   zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (h *rodHandle) p(ctx context.Context) *rod.Page {
	return h.page.Context(ctx)
}

// find waits up to the element timeout for sel. A timeout is reported as
// found=false, a cancelled ctx as an error.
func (h *rodHandle) find(ctx context.Context, sel string) (*rod.Element, bool, error) {
	return h.findWithin(ctx, sel, h.cfg.ElementTimeout)
}

func (h *rodHandle) findWithin(ctx context.Context, sel string, d time.Duration) (*rod.Element, bool, error) {
	el, err := h.p(ctx).Timeout(d).Element(sel)
	if err == nil {
		return el, true, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, false, nil
	}
	return nil, false, err
}

func (h *rodHandle) findText(ctx context.Context, sel, text string) (*rod.Element, bool, error) {
	el, err := h.p(ctx).Timeout(h.cfg.ElementTimeout).ElementR(sel, text)
	if err == nil {
		return el, true, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, false, nil
	}
	return nil, false, err
}

func (h *rodHandle) require(ctx context.Context, sel, what string) (*rod.Element, error) {
	el, ok, err := h.find(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("wait %s: %w", what, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s not found", what)
	}
	return el, nil
}

func (h *rodHandle) settle(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (h *rodHandle) SubmitPhone(ctx context.Context, phone string) error {
	if err := h.p(ctx).Navigate(h.cfg.AuthURL); err != nil {
		return fmt.Errorf("navigate auth page: %w", err)
	}
	input, err := h.require(ctx, h.cfg.Selectors.PhoneInput, "phone input")
	if err != nil {
		return err
	}
	if err := input.Input(PortalPhone(phone)); err != nil {
		return fmt.Errorf("type phone: %w", err)
	}
	btn, err := h.require(ctx, h.cfg.Selectors.PhoneSubmit, "phone submit")
	if err != nil {
		return err
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click phone submit: %w", err)
	}
	return h.settle(ctx, h.cfg.SettleDelay)
}

func (h *rodHandle) SubmitCode(ctx context.Context, code string) ([]models.Cookie, error) {
	if _, err := h.require(ctx, h.cfg.Selectors.CodeCell, "code input"); err != nil {
		return nil, err
	}
	cells, err := h.p(ctx).Elements(h.cfg.Selectors.CodeCell)
	if err != nil {
		return nil, fmt.Errorf("list code cells: %w", err)
	}
	digits := []rune(code)
	for i, cell := range cells {
		if i >= len(digits) {
			break
		}
		input, err := cell.Element("input")
		if err != nil {
			return nil, fmt.Errorf("code cell %d: %w", i, err)
		}
		if err := input.Input(string(digits[i])); err != nil {
			return nil, fmt.Errorf("type code digit %d: %w", i, err)
		}
		if err := h.settle(ctx, h.cfg.KeyDelay); err != nil {
			return nil, err
		}
	}
	if err := h.settle(ctx, h.cfg.SettleDelay); err != nil {
		return nil, err
	}

	res, err := proto.NetworkGetCookies{}.Call(h.p(ctx))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	cookies := make([]models.Cookie, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		cookies = append(cookies, models.CookieFromBrowser(c.Name, c.Value, float64(c.Expires)))
	}
	return cookies, nil
}

func (h *rodHandle) PageContains(ctx context.Context, text string) (bool, error) {
	body, err := h.p(ctx).Element("body")
	if err != nil {
		return false, fmt.Errorf("page body: %w", err)
	}
	content, err := body.Text()
	if err != nil {
		return false, fmt.Errorf("page text: %w", err)
	}
	return strings.Contains(content, text), nil
}

func (h *rodHandle) CurrentURL(ctx context.Context) (string, error) {
	info, err := h.p(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (h *rodHandle) Navigate(ctx context.Context, url string) error {
	page := h.p(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	return h.settle(ctx, h.cfg.SettleDelay)
}

func (h *rodHandle) DismissOverlays(ctx context.Context) error {
	els, err := h.p(ctx).Elements(h.cfg.Selectors.OverlayClose)
	if err != nil {
		return fmt.Errorf("list overlays: %w", err)
	}
	for _, el := range els {
		if visible, _ := el.Visible(); !visible {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("close overlay: %w", err)
		}
	}
	return nil
}

func (h *rodHandle) OpenRescheduleAction(ctx context.Context) (bool, error) {
	btn, ok, err := h.findText(ctx, h.cfg.Selectors.RescheduleButton, h.cfg.Selectors.RescheduleText)
	if err != nil || !ok {
		return false, err
	}
	if disabled, _ := btn.Attribute("disabled"); disabled != nil {
		return false, nil
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("click reschedule: %w", err)
	}
	return true, nil
}

func (h *rodHandle) ConfirmDialog(ctx context.Context) (bool, error) {
	// The dialog renders after the reschedule click, if at all.
	btn, ok, err := h.findWithin(ctx, h.cfg.Selectors.DialogConfirm, h.cfg.DialogWait)
	if err != nil || !ok {
		return false, err
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("confirm dialog: %w", err)
	}
	return true, h.settle(ctx, h.cfg.SettleDelay)
}

func (h *rodHandle) rows(ctx context.Context) (rod.Elements, error) {
	if _, ok, err := h.find(ctx, h.cfg.Selectors.ScheduleRow); err != nil || !ok {
		return nil, err
	}
	rows, err := h.p(ctx).Elements(h.cfg.Selectors.ScheduleRow)
	if err != nil {
		return nil, fmt.Errorf("list schedule rows: %w", err)
	}
	return rows, nil
}

func (h *rodHandle) ScheduleCells(ctx context.Context) ([]ScheduleCell, error) {
	rows, err := h.rows(ctx)
	if err != nil {
		return nil, err
	}
	cells := make([]ScheduleCell, 0, len(rows))
	for i, row := range rows {
		cell := ScheduleCell{Index: i}
		if has, label, err := row.Has(h.cfg.Selectors.ScheduleLabel); err == nil && has {
			cell.Label, _ = label.Text()
		}
		if has, _, err := row.Has(h.cfg.Selectors.ScheduleAction); err == nil {
			cell.Actionable = has
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func (h *rodHandle) CompleteReschedule(ctx context.Context, cell ScheduleCell) (bool, error) {
	rows, err := h.rows(ctx)
	if err != nil {
		return false, err
	}
	if cell.Index < 0 || cell.Index >= len(rows) {
		return false, nil
	}
	has, action, err := rows[cell.Index].Has(h.cfg.Selectors.ScheduleAction)
	if err != nil || !has {
		return false, err
	}
	if err := action.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("open cell popup: %w", err)
	}

	btn, ok, err := h.findText(ctx, h.cfg.Selectors.PopupReschedule, h.cfg.Selectors.PopupRescheduleText)
	if err != nil || !ok {
		return false, err
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("click popup reschedule: %w", err)
	}

	has, affordance, err := h.p(ctx).Has(h.cfg.Selectors.ConfirmAffordance)
	if err != nil {
		return false, err
	}
	if has {
		if err := affordance.Timeout(h.cfg.ElementTimeout).WaitInvisible(); err != nil {
			return false, fmt.Errorf("wait confirmation: %w", err)
		}
	}
	return true, nil
}

// Close shuts the browser down and kills the process. The profile dir is kept.
func (h *rodHandle) Close() error {
	h.closeOnce.Do(func() {
		if h.browser != nil {
			h.closeErr = h.browser.Close()
		}
		if h.launcher != nil {
			h.launcher.Kill()
		}
		h.logger.Debug().Msg("chrome session closed")
	})
	return h.closeErr
}

// PortalPhone strips the country code; the portal input expects the
// national number.
func PortalPhone(phone string) string {
	digits := models.FilterDigits(phone)
	if len(digits) == 11 && (digits[0] == '7' || digits[0] == '8') {
		return digits[1:]
	}
	return digits
}
