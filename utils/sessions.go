package utils

import "net/http"

const darkModeCookie = "darkmode"

func CookieExists(r *http.Request, name string) bool {
	st, err := r.Cookie(name)
	return err == nil && st.Value != ""
}

// GetUserAgent returns the User-Agent string from the request
func GetUserAgent(r *http.Request) string {
	return r.Header.Get("User-Agent")
}

// GetIP returns the IP address of the client from the request
func GetIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}
	return ip
}

// DarkMode reports the stored theme preference.
func DarkMode(r *http.Request) bool {
	c, err := r.Cookie(darkModeCookie)
	return err == nil && c.Value == "dark"
}

// SetDarkMode stores the theme preference for a year.
func SetDarkMode(w http.ResponseWriter, dark bool, secure bool) {
	value := "light"
	if dark {
		value = "dark"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     darkModeCookie,
		Value:    value,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   3600 * 24 * 365,
	})
}
