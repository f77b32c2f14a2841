package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postdeck/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailInUse   = errors.New("email address is already registered")
)

// DB is the part of *pgxpool.Pool the account code uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                UUID PRIMARY KEY,
	email             TEXT NOT NULL UNIQUE,
	password_hash     TEXT NOT NULL,
	is_verified       BOOLEAN NOT NULL DEFAULT FALSE,
	one_time_password TEXT,
	otp_expires_at    TIMESTAMPTZ,
	otp_attempts      INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_activity     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE users ADD COLUMN IF NOT EXISTS otp_attempts INTEGER NOT NULL DEFAULT 0;`

func OpenDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	// Parse the connection string into a pgxpool.Config
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	config.MaxConns = 50
	config.MaxConnIdleTime = 20 * time.Second
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// Migrate creates the users table when it does not exist.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrating users: %w", err)
	}
	return nil
}

func EmailInUse(ctx context.Context, db DB, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var exists bool
	err := db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("database error checking email: %w", err)
	}

	return exists, nil
}

// AddUser stores an unverified account and returns its id.
func AddUser(ctx context.Context, db DB, email string, password string) (uuid.UUID, error) {
	passwordHash, err := HashPassword(password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hashing password: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	id := uuid.New()
	tag, err := db.Exec(ctx,
		"INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3) ON CONFLICT (email) DO NOTHING;",
		id.String(), email, passwordHash)
	if err != nil {
		return uuid.Nil, fmt.Errorf("adding user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, ErrEmailInUse
	}
	return id, nil
}

func GetUserByEmail(ctx context.Context, db DB, email string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		user models.User
		id   string
	)
	err := db.QueryRow(ctx,
		"SELECT id::text, email, password_hash, is_verified, one_time_password, otp_expires_at FROM users WHERE email = $1;",
		email).Scan(&id, &user.Email, &user.PasswordHash, &user.Verified, &user.OTP, &user.OTPExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	return &user, nil
}

// SetOTP stores the hash of otp for email with a fresh expiry.
func SetOTP(ctx context.Context, db DB, email string, otp string) error {
	hash, err := HashPassword(otp)
	if err != nil {
		return fmt.Errorf("hashing otp: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tag, err := db.Exec(ctx,
		"UPDATE users SET one_time_password = $1, otp_expires_at = $2, otp_attempts = 0 WHERE email = $3;",
		hash, time.Now().Add(OTPTTL), email)
	if err != nil {
		return fmt.Errorf("setting otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ConsumeOTP clears the stored code and marks the account verified.
func ConsumeOTP(ctx context.Context, db DB, email string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := db.Exec(ctx,
		"UPDATE users SET one_time_password = NULL, otp_expires_at = NULL, otp_attempts = 0, is_verified = TRUE WHERE email = $1;",
		email)
	if err != nil {
		return fmt.Errorf("clearing otp: %w", err)
	}
	return nil
}

// RecordOTPFailure counts a wrong code for email and returns the misses so far.
func RecordOTPFailure(ctx context.Context, db DB, email string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var attempts int
	err := db.QueryRow(ctx,
		"UPDATE users SET otp_attempts = otp_attempts + 1 WHERE email = $1 RETURNING otp_attempts;",
		email).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("counting otp failure: %w", err)
	}
	return attempts, nil
}

// DiscardOTP throws the stored code away without verifying the account.
func DiscardOTP(ctx context.Context, db DB, email string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := db.Exec(ctx,
		"UPDATE users SET one_time_password = NULL, otp_expires_at = NULL, otp_attempts = 0 WHERE email = $1;",
		email)
	if err != nil {
		return fmt.Errorf("discarding otp: %w", err)
	}
	return nil
}

// ChangePassword sets a new password and returns the user id.
func ChangePassword(ctx context.Context, db DB, email string, password string) (string, error) {
	passwordHash, err := HashPassword(password)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var id string
	err = db.QueryRow(ctx,
		"UPDATE users SET password_hash = $1 WHERE email = $2 RETURNING id::text;",
		passwordHash, email).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("updating password: %w", err)
	}
	return id, nil
}

func UpdateLastActivityDB(ctx context.Context, db DB, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := db.Exec(ctx, "UPDATE users SET last_activity = NOW() WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("error updating last activity: %w", err)
	}
	return nil
}
