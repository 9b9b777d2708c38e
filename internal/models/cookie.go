package models

import (
	"context"
	"math"
	"time"
)

// Cookie is a single seller-portal cookie stored for an account.
type Cookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	ExpireAt *time.Time `json:"expire_date,omitempty"`
}

// IsExpired reports whether the cookie is dead at now. Session cookies never expire here.
func (c Cookie) IsExpired(now time.Time) bool {
	return c.ExpireAt != nil && c.ExpireAt.Before(now)
}

// CookieFromBrowser converts a browser cookie with expiry in unix seconds.
// Non-positive expiry marks a session cookie.
func CookieFromBrowser(name, value string, expires float64) Cookie {
	c := Cookie{Name: name, Value: value}
	if expires > 0 {
		sec, frac := math.Modf(expires)
		t := time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
		c.ExpireAt = &t
	}
	return c
}

// NormalizeCookies drops cookies without name or value and keeps the last
// cookie for every name, preserving first-seen order.
func NormalizeCookies(cookies []Cookie) []Cookie {
	index := make(map[string]int, len(cookies))
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" || c.Value == "" {
			continue
		}
		if i, ok := index[c.Name]; ok {
			out[i] = c
			continue
		}
		index[c.Name] = len(out)
		out = append(out, c)
	}
	return out
}

// LiveCookies returns the cookies that are not expired at now.
func LiveCookies(cookies []Cookie, now time.Time) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if !c.IsExpired(now) {
			out = append(out, c)
		}
	}
	return out
}

// CookieStore persists cookies per account.
type CookieStore interface {
	// ReplaceAll atomically swaps the cookie set of an account. On error the
	// previous set stays intact.
	ReplaceAll(ctx context.Context, account string, cookies []Cookie) error

	// GetAll returns the current cookie set of an account.
	GetAll(ctx context.Context, account string) ([]Cookie, error)

	// PurgeExpired removes cookies whose expiry is before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteAccount removes the account together with its cookies.
	DeleteAccount(ctx context.Context, account string) (bool, error)
}
