package models

import "time"

// Profile is the user profile returned by the auth gateway.
type Profile struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// Page is one Facebook page the gateway user can post to.
type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Picture     string `json:"picture"`
	AccessToken string `json:"access_token"`
}

// Credentials are the tokens handed back by the gateway's OAuth callback.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ProfileImage string
	RedirectURL  string
}

func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
