package utils

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"time"

	"postdeck/models"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	SessionCookie = "session_token"
	CSRFCookie    = "csrf_token"
	CSRFHeader    = "X-CSRF-Token"

	// TabScopeCookie identifies one run of the browser. It never gets a max
	// age, so tab state keyed by it ends with the browser even when the
	// session cookie is remembered.
	TabScopeCookie = "tab_scope"

	RememberMeTTL = 30 * 24 * time.Hour
	OTPTTL        = 10 * time.Minute

	// MaxOTPAttempts wrong codes discard the code.
	MaxOTPAttempts = 5
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnverified         = errors.New("account not verified")
	ErrInvalidOTP         = errors.New("invalid or expired verification code")
	ErrOTPLocked          = errors.New("too many incorrect verification codes")
)

// Authorize checks the session cookie and the CSRF header of a mutating
// request and returns the browser session.
func Authorize(r *http.Request, client *redis.Client) (*models.BrowserSession, error) {
	st, err := r.Cookie(SessionCookie)
	if err != nil || st.Value == "" {
		return nil, fmt.Errorf("%w: missing or empty session token", ErrUnauthorized)
	}

	valid, err := ValidateSession(r.Context(), client, st.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid session token", ErrUnauthorized)
	}
	if !valid {
		return nil, fmt.Errorf("%w: session token does not exist", ErrUnauthorized)
	}

	session, err := GetSession(r.Context(), client, st.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: could not fetch session", ErrUnauthorized)
	}

	csrf := r.Header.Get(CSRFHeader)
	if csrf == "" {
		csrf = r.FormValue("csrf_token")
	}
	if csrf == "" || session.CSRFToken == "" || csrf != session.CSRFToken {
		return nil, fmt.Errorf("%w: invalid CSRF token", ErrUnauthorized)
	}
	return session, nil
}

// EnsureBrowserSession returns the visitor's session, creating one with fresh
// session and CSRF cookies when the cookie is missing or stale. The session
// cookie has no max age, so it ends with the browser session.
func EnsureBrowserSession(w http.ResponseWriter, r *http.Request, client *redis.Client, ttl time.Duration, secure bool) (*models.BrowserSession, error) {
	if st, err := r.Cookie(SessionCookie); err == nil && st.Value != "" {
		session, err := GetSession(r.Context(), client, st.Value)
		if err == nil {
			if err := UpdateLastActivityRedis(r.Context(), client, st.Value); err != nil {
				log.Println("Error updating last activity in Redis:", err)
			}
			return session, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}

	now := time.Now()
	session := models.BrowserSession{
		SessionToken: GenerateToken(32),
		CreatedAt:    now.Format(time.RFC3339),
		ExpiresAt:    now.Add(ttl).Format(time.RFC3339),
		LastActivity: now.Format(time.RFC3339),
		CSRFToken:    GenerateToken(32),
		UserAgent:    GetUserAgent(r),
		IPAddress:    GetIP(r),
	}
	if err := StoreSession(r.Context(), client, session, ttl); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	SetSessionCookies(w, session, 0, secure)
	return &session, nil
}

// SetSessionCookies writes the session and CSRF cookies. A zero maxAge makes
// them browser-session cookies.
func SetSessionCookies(w http.ResponseWriter, session models.BrowserSession, maxAge int, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.SessionToken,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode, // sent on the gateway's redirect back to /auth/callback
		Path:     "/",
		MaxAge:   maxAge,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    session.CSRFToken,
		HttpOnly: false, // Needs to be accessible by JavaScript
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
		MaxAge:   maxAge,
	})
}

// TabScope returns the browser-run id, issuing a new one when the browser
// has none.
func TabScope(w http.ResponseWriter, r *http.Request, secure bool) string {
	if c, err := r.Cookie(TabScopeCookie); err == nil && c.Value != "" {
		return c.Value
	}

	scope := GenerateToken(16)
	http.SetCookie(w, &http.Cookie{
		Name:     TabScopeCookie,
		Value:    scope,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	return scope
}

// ClearSessionCookies expires the session, CSRF and tab scope cookies.
func ClearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{SessionCookie, CSRFCookie, TabScopeCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:   name,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
	}
}

func GenerateToken(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// GenerateOTP returns a random 6-digit code.
func GenerateOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		log.Fatalf("Failed to generate otp: %v", err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	return string(bytes), err
}

// IssueOTP stores a fresh code for email and mails it.
func IssueOTP(ctx context.Context, db DB, mailer Mailer, email string, purpose OTPPurpose) error {
	otp := GenerateOTP()
	if err := SetOTP(ctx, db, email, otp); err != nil {
		return err
	}
	if err := SendOTP(ctx, mailer, email, otp, purpose); err != nil {
		return err
	}
	return nil
}

// LoginUser checks the credentials and returns the user id.
func LoginUser(ctx context.Context, db DB, email string, password string) (string, error) {
	log.Printf("Login attempt for email: %s", email)

	user, err := GetUserByEmail(ctx, db, email)
	if err != nil {
		log.Printf("User lookup failed: %v", err)
		return "", ErrInvalidCredentials
	}

	if !CheckPasswordHash(password, user.PasswordHash) {
		log.Printf("Password verification failed for user: %s", email)
		return "", ErrInvalidCredentials
	}

	if !user.Verified {
		return user.ID.String(), ErrUnverified
	}

	log.Printf("Login successful for user: %s", email)
	return user.ID.String(), nil
}

// VerifyOTP checks and consumes the code for email.
func VerifyOTP(ctx context.Context, db DB, email string, otp string) error {
	user, err := GetUserByEmail(ctx, db, email)
	if err != nil {
		log.Printf("error getting otp from database: user: %s error: %s", email, err)
		return ErrInvalidOTP
	}

	if user.OTP == nil || user.OTPExpiresAt == nil {
		log.Printf("no OTP found for user: %s", email)
		return ErrInvalidOTP
	}
	if time.Now().After(*user.OTPExpiresAt) {
		log.Printf("OTP expired for user: %s", email)
		return ErrInvalidOTP
	}
	if !CheckPasswordHash(otp, *user.OTP) {
		attempts, err := RecordOTPFailure(ctx, db, email)
		if err != nil {
			log.Printf("error counting otp failure for user: %s error: %s", email, err)
			return ErrInvalidOTP
		}
		if attempts >= MaxOTPAttempts {
			log.Printf("too many otp failures for user: %s", email)
			if err := DiscardOTP(ctx, db, email); err != nil {
				log.Printf("error discarding otp for user: %s error: %s", email, err)
			}
			return ErrOTPLocked
		}
		return ErrInvalidOTP
	}

	return ConsumeOTP(ctx, db, email)
}
