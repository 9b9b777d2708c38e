package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		ok       bool
	}{
		{"+7 999 123-45-67", "+79991234567", true},
		{"89991234567", "89991234567", true},
		{"998901234567", "998901234567", true},
		{"(999) 123 45 67", "9991234567", true},
		{"123", "", false},
		{"", "", false},
		{"   ", "", false},
		{"+", "", false},
		{"99912a4567", "", false},
		{"+1234567890123456", "", false},
	}

	for _, tt := range tests {
		res, err := NormalizePhone(tt.input)
		if tt.ok {
			assert.NoError(t, err, "input: %s", tt.input)
		} else {
			assert.ErrorIs(t, err, ErrValidation, "input: %s", tt.input)
		}
		assert.Equal(t, tt.expected, res, "input: %s", tt.input)
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "********4567", MaskPhone("998901234567"))
	assert.Equal(t, "****", MaskPhone("123"))
}

func TestFilterDigits(t *testing.T) {
	assert.Equal(t, "123456", FilterDigits("123-456 abc"))
	assert.Equal(t, "", FilterDigits("abc"))
}

func TestCookieFromBrowser(t *testing.T) {
	c := CookieFromBrowser("WBTokenV3", "abc", 1709800000)
	require.NotNil(t, c.ExpireAt)
	assert.Equal(t, int64(1709800000), c.ExpireAt.Unix())
	assert.Equal(t, time.UTC, c.ExpireAt.Location())

	session := CookieFromBrowser("x-supplier-id", "42", -1)
	assert.Nil(t, session.ExpireAt)
}

func TestCookieIsExpired(t *testing.T) {
	now := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, Cookie{Name: "a", ExpireAt: &past}.IsExpired(now))
	assert.False(t, Cookie{Name: "b", ExpireAt: &future}.IsExpired(now))
	assert.False(t, Cookie{Name: "c"}.IsExpired(now))

	live := LiveCookies([]Cookie{
		{Name: "a", ExpireAt: &past},
		{Name: "b", ExpireAt: &future},
		{Name: "c"},
	}, now)
	assert.Len(t, live, 2)
	assert.Equal(t, "b", live[0].Name)
	assert.Equal(t, "c", live[1].Name)
}

func TestNormalizeCookies(t *testing.T) {
	in := []Cookie{
		{Name: "a", Value: "1"},
		{Name: "", Value: "skip"},
		{Name: "b", Value: "2"},
		{Name: "c", Value: ""},
		{Name: "a", Value: "3"},
	}
	out := NormalizeCookies(in)
	require.Len(t, out, 2)
	assert.Equal(t, Cookie{Name: "a", Value: "3"}, out[0])
	assert.Equal(t, Cookie{Name: "b", Value: "2"}, out[1])
}

func TestOutcomeErr(t *testing.T) {
	ok := Succeeded("done")
	assert.True(t, ok.Success())
	assert.NoError(t, ok.Err())

	bare := Failed(OutcomeDateNotFound, "нет даты", nil)
	assert.False(t, bare.Success())
	assert.ErrorIs(t, bare.Err(), ErrDateNotFound)

	cause := errors.New("element not found")
	wrapped := Failed(OutcomeInteractionFailed, "ошибка", cause)
	assert.ErrorIs(t, wrapped.Err(), ErrExternalInteraction)
	assert.ErrorIs(t, wrapped.Err(), cause)

	same := Failed(OutcomeConflict, "занято", ErrConflict)
	assert.Equal(t, ErrConflict, same.Err())
}
