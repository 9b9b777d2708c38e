package automation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"wbauth/internal/automation"
	"wbauth/internal/automation/automationtest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhraseDetector(t *testing.T) {
	ctx := context.Background()
	h := &automationtest.Handle{PageText: "Ошибка: Неверный код, попробуйте снова"}

	d := automation.NewPhraseDetector(nil, nil)
	invalid, err := d.InvalidCode(ctx, h)
	require.NoError(t, err)
	assert.True(t, invalid)

	limited, err := d.RateLimited(ctx, h)
	require.NoError(t, err)
	assert.False(t, limited)

	d.SetPhrases([]string{"попробуйте снова"}, []string{"другая фраза"})
	limited, _ = d.RateLimited(ctx, h)
	invalid, _ = d.InvalidCode(ctx, h)
	assert.True(t, limited)
	assert.False(t, invalid)
}

func TestProfiles(t *testing.T) {
	root := t.TempDir()
	p := automation.NewProfiles(root)

	dir, err := p.Ensure("+998901234567")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "p998901234567"), dir)
	assert.DirExists(t, dir)

	assert.NotEqual(t, p.Dir("../etc"), filepath.Join(root, "..", "etc"))

	require.NoError(t, p.Remove("+998901234567"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

type panicHandle struct{ automationtest.Handle }

func (*panicHandle) Close() error { panic("boom") }

func TestRelease(t *testing.T) {
	logger := zerolog.Nop()

	h := &automationtest.Handle{CloseErr: errors.New("already gone")}
	automation.Release(h, &logger)
	assert.Equal(t, 1, h.Closes())

	assert.NotPanics(t, func() { automation.Release(&panicHandle{}, &logger) })
	assert.NotPanics(t, func() { automation.Release(nil, &logger) })
}

func TestPortalPhone(t *testing.T) {
	assert.Equal(t, "9991231212", automation.PortalPhone("+7 999 123-12-12"))
	assert.Equal(t, "998901234567", automation.PortalPhone("998901234567"))
}
