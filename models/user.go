package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID  `db:"id"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	Verified     bool       `db:"is_verified"`
	OTP          *string    `db:"one_time_password"`
	OTPExpiresAt *time.Time `db:"otp_expires_at"`
}
