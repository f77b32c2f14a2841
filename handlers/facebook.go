package handlers

import (
	"errors"
	"log"
	"net/http"

	"postdeck/gateway"
	"postdeck/models"
	"postdeck/utils"
)

// FacebookLogin asks the auth gateway for an OAuth URL and sends the browser
// there.
func FacebookLogin(w http.ResponseWriter, r *http.Request, env *Env) {
	if _, err := utils.Authorize(r, env.Redis); err != nil {
		log.Println("Authorization failed:", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if env.Gateway == nil {
		setToasts(w, failure("Login failed", "Facebook login is not configured."))
		w.WriteHeader(http.StatusOK)
		return
	}

	redirectURL, err := env.Gateway.InitiateLogin(r.Context(), "/")
	if err != nil {
		log.Println("error initiating facebook login:", err)
		setToasts(w, failure("Login failed", loginErrorMessage(err)))
		w.WriteHeader(http.StatusOK)
		return
	}

	hxRedirect(w, redirectURL)
}

func loginErrorMessage(err error) string {
	var statusErr *gateway.StatusError
	switch {
	case errors.Is(err, gateway.ErrUnreachable):
		return "Cannot connect to the server. Please try again later."
	case errors.As(err, &statusErr) && statusErr.Detail != "":
		return statusErr.Detail
	default:
		return "Failed to initiate Facebook login."
	}
}

// FacebookCallback receives the gateway's redirect after OAuth, stores the
// credentials for this browser session and returns to the redirect target.
func FacebookCallback(w http.ResponseWriter, r *http.Request, env *Env) {
	secure := env.Config.SecureCookies

	session, err := utils.EnsureBrowserSession(w, r, env.Redis, env.Config.SessionTTL, secure)
	if err != nil {
		log.Println("Error creating browser session:", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	creds, err := gateway.ParseCallback(r.URL.Query())
	if err != nil {
		log.Println("facebook callback rejected:", err)
		msg := "Invalid token received."
		if errors.Is(err, gateway.ErrLoginFailed) {
			msg = "Facebook login failed. Please try again."
		}
		setFlash(w, failure("Login failed", msg), secure)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if err := utils.StoreCredentials(r.Context(), env.Redis, session.SessionToken, *creds, env.Config.SessionTTL); err != nil {
		log.Println("error storing gateway credentials:", err)
		setFlash(w, failure("Login failed", "Could not save your Facebook login. Please try again."), secure)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	setFlash(w, models.Notice{
		Title:       "Login successful",
		Description: "You have successfully logged in with Facebook.",
	}, secure)
	http.Redirect(w, r, safeRedirect(creds.RedirectURL), http.StatusSeeOther)
}

// safeRedirect only follows local paths.
func safeRedirect(target string) string {
	if len(target) > 1 && target[0] == '/' && target[1] != '/' && target[1] != '\\' {
		return target
	}
	return "/"
}

// ProfileSection renders the gateway profile. Failures only affect this
// section.
func ProfileSection(w http.ResponseWriter, r *http.Request, env *Env) {
	creds, ok := sectionCredentials(w, r, env)
	if !ok {
		return
	}

	profile, err := env.Gateway.Profile(r.Context(), creds.AccessToken)
	if err != nil {
		log.Println("error fetching profile:", err)
		renderFragment(w, "section-error", "Failed to fetch profile")
		return
	}
	if profile.Picture == "" {
		profile.Picture = creds.ProfileImage
	}
	renderFragment(w, "profile", profile)
}

// PagesSection renders the Facebook pages of the gateway user.
func PagesSection(w http.ResponseWriter, r *http.Request, env *Env) {
	creds, ok := sectionCredentials(w, r, env)
	if !ok {
		return
	}

	pages, err := env.Gateway.Pages(r.Context(), creds.AccessToken)
	if err != nil {
		log.Println("error fetching pages:", err)
		renderFragment(w, "section-error", "Failed to fetch pages")
		return
	}
	renderFragment(w, "pages", pages)
}

func sectionCredentials(w http.ResponseWriter, r *http.Request, env *Env) (*models.Credentials, bool) {
	if env.Gateway == nil {
		renderFragment(w, "section-error", "Facebook login is not configured.")
		return nil, false
	}
	token, ok := sessionToken(r)
	if !ok {
		renderFragment(w, "section-error", "Not connected to Facebook.")
		return nil, false
	}

	creds, err := utils.GetCredentials(r.Context(), env.Redis, token)
	if err != nil {
		if !errors.Is(err, utils.ErrSessionNotFound) {
			log.Println("error loading gateway credentials:", err)
		}
		renderFragment(w, "section-error", "Not connected to Facebook.")
		return nil, false
	}
	return creds, true
}

// AccountLogout forgets the gateway credentials of this browser session.
func AccountLogout(w http.ResponseWriter, r *http.Request, env *Env) {
	session, err := utils.Authorize(r, env.Redis)
	if err != nil {
		log.Println("Authorization failed:", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := utils.DeleteCredentials(r.Context(), env.Redis, session.SessionToken); err != nil {
		log.Println("error deleting gateway credentials:", err)
		setToasts(w, failure("Logout failed", "Could not disconnect from Facebook. Please try again."))
		w.WriteHeader(http.StatusOK)
		return
	}

	setFlash(w, models.Notice{
		Title:       "Logout successful",
		Description: "You have been logged out from Facebook.",
	}, env.Config.SecureCookies)
	hxRedirect(w, "/")
}
