package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wbauth/internal/models"
)

var _ models.CookieStore = (*DB)(nil)

var errSimulatedFailure = errors.New("simulated write failure")

// ReplaceAll swaps the cookie set of an account in one transaction and
// upserts the account row.
func (db *DB) ReplaceAll(ctx context.Context, account string, cookies []models.Cookie) (err error) {
	cookies = models.NormalizeCookies(cookies)
	now := db.now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
        INSERT INTO accounts (phone, created_at, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(phone) DO UPDATE SET updated_at = excluded.updated_at`,
		account, now, now,
	); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM cookies WHERE phone = ?`, account); err != nil {
		return fmt.Errorf("delete cookies: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO cookies (phone, name, value, expire_at, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert cookie: %w", err)
	}
	defer stmt.Close()

	for i, c := range cookies {
		if db.failAfter > 0 && i >= db.failAfter {
			return fmt.Errorf("insert cookie %s: %w", c.Name, errSimulatedFailure)
		}
		if _, err = stmt.ExecContext(ctx, account, c.Name, c.Value, expireToDB(c.ExpireAt), now); err != nil {
			return fmt.Errorf("insert cookie %s: %w", c.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetAll returns the cookies of an account that are still alive.
func (db *DB) GetAll(ctx context.Context, account string) ([]models.Cookie, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT name, value, expire_at FROM cookies
        WHERE phone = ? AND (expire_at IS NULL OR expire_at >= ?)
        ORDER BY id`, account, ceilUnix(db.now()))
	if err != nil {
		return nil, fmt.Errorf("query cookies: %w", err)
	}
	defer rows.Close()

	cookies := []models.Cookie{}
	for rows.Next() {
		var (
			c      models.Cookie
			expire sql.NullInt64
		)
		if err := rows.Scan(&c.Name, &c.Value, &expire); err != nil {
			return nil, fmt.Errorf("scan cookie: %w", err)
		}
		if expire.Valid {
			t := time.Unix(expire.Int64, 0).UTC()
			c.ExpireAt = &t
		}
		cookies = append(cookies, c)
	}
	return cookies, rows.Err()
}

// PurgeExpired deletes cookies that expired before now.
func (db *DB) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM cookies WHERE expire_at IS NOT NULL AND expire_at < ?`, ceilUnix(now))
	if err != nil {
		return 0, fmt.Errorf("purge cookies: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAccount removes the account; its cookies go with it.
func (db *DB) DeleteAccount(ctx context.Context, account string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM accounts WHERE phone = ?`, account)
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetAccount returns models.ErrNotFound for unknown phones.
func (db *DB) GetAccount(ctx context.Context, phone string) (*models.Account, error) {
	var a models.Account
	err := db.QueryRowContext(ctx,
		`SELECT phone, created_at, updated_at FROM accounts WHERE phone = ?`, phone,
	).Scan(&a.Phone, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", models.MaskPhone(phone), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func expireToDB(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// ceilUnix rounds up to whole seconds so that "expire < now" holds for
// second-precision expiries exactly when expire < ceilUnix(now).
func ceilUnix(t time.Time) int64 {
	if t.Nanosecond() > 0 {
		return t.Unix() + 1
	}
	return t.Unix()
}
