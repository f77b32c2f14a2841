package models

type PageData struct {
	Sessions   []Session
	ActiveID   string
	Active     *Session
	CSRFtoken  string
	DarkMode   bool
	IsLoggedIn bool
	HasGateway bool
	Connected  bool
	Flash      *Notice
}

// FormData is passed to the account form templates.
type FormData struct {
	CSRFtoken  string
	DarkMode   bool
	IsLoggedIn bool
	Email      string
	Flash      *Notice
}
