package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const localAuthSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	user_id       TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS auth_tokens (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// LocalAuth stores bcrypt password hashes and opaque session tokens in SQLite.
type LocalAuth struct {
	db       *sql.DB
	tokenTTL time.Duration
	cost     int
	now      func() time.Time
}

func NewLocalAuth(db *sql.DB, tokenTTL time.Duration) (*LocalAuth, error) {
	if _, err := db.Exec(localAuthSchema); err != nil {
		return nil, fmt.Errorf("create auth schema: %w", err)
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &LocalAuth{db: db, tokenTTL: tokenTTL, cost: bcrypt.DefaultCost, now: time.Now}, nil
}

func (a *LocalAuth) Register(ctx context.Context, email, password string) (string, error) {
	if err := validateCredentials(email, password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	userID := uuid.NewString()
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, email, password_hash) VALUES (?, ?, ?)`,
		userID, normalizeEmail(email), hash)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("email %s: %w", email, ErrConflict)
	}
	if err != nil {
		return "", fmt.Errorf("store credentials: %w", err)
	}
	return userID, nil
}

func (a *LocalAuth) Login(ctx context.Context, email, password string) (string, string, error) {
	var userID string
	var hash []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT user_id, password_hash FROM credentials WHERE email = ?`, normalizeEmail(email)).
		Scan(&userID, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrUnauthorized
	}
	if err != nil {
		return "", "", fmt.Errorf("load credentials: %w", err)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return "", "", ErrUnauthorized
	}

	token := uuid.NewString()
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, a.now().Add(a.tokenTTL).UnixMilli())
	if err != nil {
		return "", "", fmt.Errorf("store token: %w", err)
	}
	return token, userID, nil
}

func (a *LocalAuth) LookupEmail(ctx context.Context, email string) (string, error) {
	var userID string
	err := a.db.QueryRowContext(ctx,
		`SELECT user_id FROM credentials WHERE email = ?`, normalizeEmail(email)).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("email %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup email: %w", err)
	}
	return userID, nil
}

func (a *LocalAuth) ResetPassword(ctx context.Context, email, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return badRequest("Password must be at least 6 characters long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), a.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := a.db.ExecContext(ctx,
		`UPDATE credentials SET password_hash = ? WHERE email = ?`, hash, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("email %s: %w", email, ErrNotFound)
	}
	return nil
}

func (a *LocalAuth) DeleteAccount(ctx context.Context, userID string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	if _, err := a.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func (a *LocalAuth) VerifyToken(ctx context.Context, token string) (string, error) {
	var userID string
	var expires int64
	err := a.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM auth_tokens WHERE token = ?`, token).Scan(&userID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	if a.now().UnixMilli() > expires {
		a.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE token = ?`, token)
		return "", fmt.Errorf("token expired: %w", ErrUnauthorized)
	}
	return userID, nil
}
