package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"

	"postdeck/models"
)

const flashCookie = "flash"

// setFlash keeps a notice across a full page redirect.
func setFlash(w http.ResponseWriter, n models.Notice, secure bool) {
	b, err := json.Marshal(n)
	if err != nil {
		log.Println("error encoding flash:", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.URLEncoding.EncodeToString(b),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   60,
	})
}

// popFlash returns the pending notice, if any, and clears it.
func popFlash(w http.ResponseWriter, r *http.Request) *models.Notice {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: "", Path: "/", MaxAge: -1})

	b, err := base64.URLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var n models.Notice
	if err := json.Unmarshal(b, &n); err != nil {
		return nil
	}
	return &n
}
