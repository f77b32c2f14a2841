package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"postdeck/models"
)

var (
	ErrLoginFailed  = errors.New("facebook login failed")
	ErrInvalidToken = errors.New("invalid token received")
	ErrNoToken      = errors.New("no access token in callback")
)

// ParseCallback reads the query of the gateway's OAuth redirect. The access
// token must be a JWT carrying an exp claim.
func ParseCallback(q url.Values) (*models.Credentials, error) {
	if msg := q.Get("error"); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, msg)
	}

	accessToken := q.Get("access_token")
	if accessToken == "" {
		return nil, ErrNoToken
	}

	exp, err := tokenExpiry(accessToken)
	if err != nil {
		return nil, err
	}

	return &models.Credentials{
		AccessToken:  accessToken,
		RefreshToken: q.Get("refresh_token"),
		ExpiresAt:    exp,
		ProfileImage: q.Get("profile_image"),
		RedirectURL:  q.Get("redirect"),
	}, nil
}

func tokenExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, ErrInvalidToken
	}

	var claims struct {
		Exp *float64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == nil {
		return time.Time{}, ErrInvalidToken
	}
	return time.Unix(int64(*claims.Exp), 0), nil
}
