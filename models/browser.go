package models

// BrowserSession struct for storing visitor session data
type BrowserSession struct {
	SessionToken string `json:"session_token"`
	UserID       string `json:"user_id"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
	LastActivity string `json:"last_activity"`
	CSRFToken    string `json:"csrf_token"`
	UserAgent    string `json:"user_agent"`
	IPAddress    string `json:"ip_address"`
}

func (s BrowserSession) SignedIn() bool {
	return s.UserID != ""
}
