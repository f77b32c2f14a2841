package utils

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"postdeck/models"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

// OpenRedisPool initializes a Redis connection pool
func OpenRedisPool(dsn string) (*redis.Client, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing redis DSN: %w", err)
	}

	// Configure connection pooling
	opt.PoolSize = 100                    // Maximum number of connections in the pool
	opt.MinIdleConns = 2                  // Minimum number of idle connections
	opt.DialTimeout = 5 * time.Second     // Timeout for new connections
	opt.ConnMaxIdleTime = 5 * time.Minute // Close idle connections after this duration

	client := redis.NewClient(opt)
	if err = client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// StoreSession saves a browser session in Redis
func StoreSession(ctx context.Context, client *redis.Client, session models.BrowserSession, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sessionMap := map[string]any{
		"user_id":       session.UserID,
		"created_at":    session.CreatedAt,
		"expires_at":    session.ExpiresAt,
		"last_activity": session.LastActivity,
		"csrf_token":    session.CSRFToken,
		"user_agent":    session.UserAgent,
		"ip_address":    session.IPAddress,
	}

	key := "session:" + session.SessionToken
	pipe := client.TxPipeline()
	pipe.HSet(ctx, key, sessionMap)
	pipe.Expire(ctx, key, ttl)
	if session.UserID != "" {
		pipe.SAdd(ctx, "user_sessions:"+session.UserID, key)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetSession retrieves session details from Redis
func GetSession(ctx context.Context, client *redis.Client, sessionToken string) (*models.BrowserSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := client.HGetAll(ctx, "session:"+sessionToken).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrSessionNotFound
	}

	return &models.BrowserSession{
		SessionToken: sessionToken,
		UserID:       data["user_id"],
		CreatedAt:    data["created_at"],
		ExpiresAt:    data["expires_at"],
		LastActivity: data["last_activity"],
		CSRFToken:    data["csrf_token"],
		UserAgent:    data["user_agent"],
		IPAddress:    data["ip_address"],
	}, nil
}

// DeleteSession removes a single session, its reference in the user index
// and everything stored under its token.
func DeleteSession(ctx context.Context, client *redis.Client, sessionToken string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := "session:" + sessionToken
	userID, err := client.HGet(ctx, key, "user_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	keys, err := sessionKeys(ctx, client, sessionToken)
	if err != nil {
		return err
	}

	pipe := client.TxPipeline()
	if userID != "" {
		pipe.SRem(ctx, "user_sessions:"+userID, key)
	}
	pipe.Del(ctx, keys...)
	_, err = pipe.Exec(ctx)
	return err
}

// sessionKeys lists the session hash, its gateway credentials and the tab
// state of every browser run under sessionToken.
func sessionKeys(ctx context.Context, client *redis.Client, sessionToken string) ([]string, error) {
	keys := []string{"session:" + sessionToken, credentialsKey(sessionToken)}

	iter := client.Scan(ctx, 0, "tabs:"+sessionToken+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing tab state: %w", err)
	}
	return keys, nil
}

// AttachUser binds an account to a browser session and extends its lifetime.
func AttachUser(ctx context.Context, client *redis.Client, sessionToken string, userID string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := "session:" + sessionToken
	exists, err := client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrSessionNotFound
	}

	pipe := client.TxPipeline()
	pipe.HSet(ctx, key,
		"user_id", userID,
		"expires_at", time.Now().Add(ttl).Format(time.RFC3339),
	)
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, "user_sessions:"+userID, key)
	_, err = pipe.Exec(ctx)
	return err
}

// UpdateLastActivityRedis updates the last activity timestamp of a session
func UpdateLastActivityRedis(ctx context.Context, client *redis.Client, sessionToken string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return client.HSet(ctx, "session:"+sessionToken, "last_activity", time.Now().Format(time.RFC3339)).Err()
}

// ValidateSession checks if a session exists and is not expired
func ValidateSession(ctx context.Context, client *redis.Client, sessionToken string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := client.HGetAll(ctx, "session:"+sessionToken).Result()
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}

	expiresAt, err := time.Parse(time.RFC3339, data["expires_at"])
	if err != nil {
		return false, err
	}

	return time.Now().Before(expiresAt), nil
}

// DeleteAllUserSessions removes all sessions associated with a specific user
// together with their credentials and tab state.
func DeleteAllUserSessions(ctx context.Context, client *redis.Client, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sessionKeysOfUser, err := client.SMembers(ctx, "user_sessions:"+userID).Result()
	if err != nil {
		return err
	}

	keys := []string{"user_sessions:" + userID}
	for _, key := range sessionKeysOfUser {
		more, err := sessionKeys(ctx, client, strings.TrimPrefix(key, "session:"))
		if err != nil {
			return err
		}
		keys = append(keys, more...)
	}

	return client.Del(ctx, keys...).Err()
}

func credentialsKey(sessionToken string) string {
	return "auth:" + sessionToken
}

// StoreCredentials keeps the gateway tokens next to the browser session.
func StoreCredentials(ctx context.Context, client *redis.Client, sessionToken string, creds models.Credentials, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var exp string
	if !creds.ExpiresAt.IsZero() {
		exp = strconv.FormatInt(creds.ExpiresAt.Unix(), 10)
	}

	key := credentialsKey(sessionToken)
	pipe := client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"access_token":     creds.AccessToken,
		"refresh_token":    creds.RefreshToken,
		"token_expiration": exp,
		"profile_image":    creds.ProfileImage,
		"redirect_url":     creds.RedirectURL,
	})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// GetCredentials loads the gateway tokens. Expired tokens are dropped and
// reported as missing.
func GetCredentials(ctx context.Context, client *redis.Client, sessionToken string) (*models.Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := client.HGetAll(ctx, credentialsKey(sessionToken)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || data["access_token"] == "" {
		return nil, ErrSessionNotFound
	}

	creds := &models.Credentials{
		AccessToken:  data["access_token"],
		RefreshToken: data["refresh_token"],
		ProfileImage: data["profile_image"],
		RedirectURL:  data["redirect_url"],
	}
	if exp, err := strconv.ParseInt(data["token_expiration"], 10, 64); err == nil {
		creds.ExpiresAt = time.Unix(exp, 0)
	}

	if creds.Expired(time.Now()) {
		log.Println("dropping expired gateway token")
		if err := client.Del(ctx, credentialsKey(sessionToken)).Err(); err != nil {
			log.Println("error deleting expired credentials: ", err)
		}
		return nil, ErrSessionNotFound
	}
	return creds, nil
}

// DeleteCredentials forgets every gateway token of the browser session.
func DeleteCredentials(ctx context.Context, client *redis.Client, sessionToken string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return client.Del(ctx, credentialsKey(sessionToken)).Err()
}

// SetPendingOTP remembers which email is waiting for a code in this browser
// session and what the code is for.
func SetPendingOTP(ctx context.Context, client *redis.Client, sessionToken string, email string, purpose OTPPurpose) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return client.HSet(ctx, "session:"+sessionToken,
		"pending_email", email,
		"pending_purpose", string(purpose),
		"pending_verified", "0",
	).Err()
}

// GetPendingOTP returns the email waiting for a code and whether the code was
// already accepted. An empty email means nothing is pending.
func GetPendingOTP(ctx context.Context, client *redis.Client, sessionToken string) (string, OTPPurpose, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	vals, err := client.HMGet(ctx, "session:"+sessionToken, "pending_email", "pending_purpose", "pending_verified").Result()
	if err != nil {
		return "", "", false, err
	}

	field := func(i int) string {
		s, _ := vals[i].(string)
		return s
	}
	return field(0), OTPPurpose(field(1)), field(2) == "1", nil
}

func MarkPendingVerified(ctx context.Context, client *redis.Client, sessionToken string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return client.HSet(ctx, "session:"+sessionToken, "pending_verified", "1").Err()
}

func ClearPendingOTP(ctx context.Context, client *redis.Client, sessionToken string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return client.HDel(ctx, "session:"+sessionToken, "pending_email", "pending_purpose", "pending_verified").Err()
}
