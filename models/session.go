package models

import "strings"

// ProfileData is the Facebook identity shown for a logged in session.
type ProfileData struct {
	Name           string `json:"name"`
	ProfilePicture string `json:"profilePicture"`
}

// Session is one posting session, shown as a tab.
type Session struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Token       string       `json:"token"`
	Active      bool         `json:"active"`
	IsLoggedIn  bool         `json:"isLoggedIn"`
	ProfileData *ProfileData `json:"profileData,omitempty"`
}

// BearerToken is the stored token without surrounding whitespace.
func (s Session) BearerToken() string {
	return strings.TrimSpace(s.Token)
}

func (s Session) HasToken() bool {
	return s.BearerToken() != ""
}
