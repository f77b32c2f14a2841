package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"postdeck/models"
	"postdeck/tabs"
	"postdeck/utils"

	"github.com/go-chi/chi/v5"
)

const simulatedProfileName = "John Doe"

// tabStorage returns the tab state of this browser run. State is keyed by
// the session token and the tab scope cookie, so a remembered login does not
// bring back the tabs of a closed browser.
func tabStorage(w http.ResponseWriter, r *http.Request, env *Env, sessionToken string) *tabs.RedisStorage {
	namespace := sessionToken + ":" + utils.TabScope(w, r, env.Config.SecureCookies)
	return tabs.NewRedisStorage(env.Redis, namespace, env.Config.SessionTTL)
}

// openManager loads the stored tab state.
func openManager(ctx context.Context, storage *tabs.RedisStorage) *tabs.Manager {
	m, err := tabs.Open(ctx, tabs.NewStore(storage))
	if err != nil {
		log.Println("error persisting tab state:", err)
	}
	return m
}

// withManager authorizes the request, runs op against the caller's manager
// and sends every notice op produced as toasts. It reports false when the
// response has already been written.
func withManager(w http.ResponseWriter, r *http.Request, env *Env, op func(ctx context.Context, m *tabs.Manager) error) (*tabs.Manager, bool) {
	session, err := utils.Authorize(r, env.Redis)
	if err != nil {
		log.Println("Authorization failed:", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	ctx := r.Context()
	storage := tabStorage(w, r, env, session.SessionToken)
	unlock, err := storage.Lock(ctx)
	if err != nil {
		log.Println("error locking tab state:", err)
		setToasts(w, failure("Something went wrong", "Your change could not be saved. Please try again."))
		w.WriteHeader(http.StatusNoContent)
		return nil, false
	}
	defer unlock()

	m := openManager(ctx, storage)

	var notices []models.Notice
	unsubscribe := m.Subscribe(func(ev tabs.Event) {
		if ev.Notice != nil {
			notices = append(notices, *ev.Notice)
		}
	})
	err = op(ctx, m)
	unsubscribe()

	switch {
	case errors.Is(err, tabs.ErrSessionNotFound):
		notices = append(notices, failure("Session not found", "The session tab no longer exists."))
	case err != nil:
		log.Println("error updating sessions:", err)
		notices = append(notices, failure("Something went wrong", "Your change could not be saved. Please try again."))
	}

	setToasts(w, notices...)
	return m, true
}

func workspaceData(snap tabs.Snapshot) models.PageData {
	return models.PageData{
		Sessions: snap.Sessions,
		ActiveID: snap.ActiveID,
		Active:   snap.Active(),
	}
}

func renderWorkspace(w http.ResponseWriter, m *tabs.Manager) {
	renderFragment(w, "workspace", workspaceData(m.Snapshot()))
}

// Index renders the whole page, creating the browser session and the default
// tab on the first visit.
func Index(w http.ResponseWriter, r *http.Request, env *Env) {
	session, err := utils.EnsureBrowserSession(w, r, env.Redis, env.Config.SessionTTL, env.Config.SecureCookies)
	if err != nil {
		log.Println("Error creating browser session:", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	storage := tabStorage(w, r, env, session.SessionToken)
	unlock, err := storage.Lock(r.Context())
	if err != nil {
		log.Println("error locking tab state:", err)
		http.Error(w, "Failed to load sessions", http.StatusServiceUnavailable)
		return
	}
	m := openManager(r.Context(), storage)
	unlock()

	data := workspaceData(m.Snapshot())
	data.CSRFtoken = session.CSRFToken
	data.DarkMode = utils.DarkMode(r)
	data.IsLoggedIn = session.SignedIn()
	data.HasGateway = env.Gateway != nil
	data.Flash = popFlash(w, r)

	if env.Gateway != nil {
		_, err := utils.GetCredentials(r.Context(), env.Redis, session.SessionToken)
		switch {
		case err == nil:
			data.Connected = true
		case !errors.Is(err, utils.ErrSessionNotFound):
			log.Println("error loading gateway credentials:", err)
		}
	}

	if session.SignedIn() && env.DB != nil {
		if err := utils.UpdateLastActivityDB(r.Context(), env.DB, session.UserID); err != nil {
			log.Println("Error updating last activity in database:", err)
		}
	}

	renderPage(w, "index", data)
}

func AddSession(w http.ResponseWriter, r *http.Request, env *Env) {
	m, ok := withManager(w, r, env, func(ctx context.Context, m *tabs.Manager) error {
		_, err := m.AddSession(ctx)
		return err
	})
	if ok {
		renderWorkspace(w, m)
	}
}

func SelectSession(w http.ResponseWriter, r *http.Request, env *Env) {
	id := chi.URLParam(r, "id")
	m, ok := withManager(w, r, env, func(ctx context.Context, m *tabs.Manager) error {
		return m.SelectSession(ctx, id)
	})
	if ok {
		renderWorkspace(w, m)
	}
}

func RemoveSession(w http.ResponseWriter, r *http.Request, env *Env) {
	id := chi.URLParam(r, "id")
	m, ok := withManager(w, r, env, func(ctx context.Context, m *tabs.Manager) error {
		return m.RemoveSession(ctx, id)
	})
	if ok {
		renderWorkspace(w, m)
	}
}

// UpdateToken stores the token typed into the active panel and answers with
// the refreshed token status.
func UpdateToken(w http.ResponseWriter, r *http.Request, env *Env) {
	id := chi.URLParam(r, "id")
	token := r.FormValue("token")
	m, ok := withManager(w, r, env, func(ctx context.Context, m *tabs.Manager) error {
		return m.UpdateSession(ctx, id, tabs.Patch{Token: &token})
	})
	if !ok {
		return
	}
	s, _ := m.Session(id)
	renderFragment(w, "token-status", s)
}

// LoginSession logs a session in with Facebook. With a gateway and a token the
// real profile is fetched, otherwise the login is simulated.
func LoginSession(w http.ResponseWriter, r *http.Request, env *Env) {
	id := chi.URLParam(r, "id")
	m, ok := withManager(w, r, env, func(ctx context.Context, m *tabs.Manager) error {
		s, found := m.Session(id)
		if !found {
			return tabs.ErrSessionNotFound
		}

		profile, err := sessionProfile(ctx, env, s)
		if err != nil {
			log.Println("facebook login failed for session", id, ":", err)
			m.Notify(failure("Login failed", "Could not log in with Facebook. Check the access token and try again."))
			return nil
		}
		return m.Login(ctx, id, profile)
	})
	if ok {
		renderWorkspace(w, m)
	}
}

func sessionProfile(ctx context.Context, env *Env, s models.Session) (models.ProfileData, error) {
	simulated := models.ProfileData{
		Name:           simulatedProfileName,
		ProfilePicture: "https://i.pravatar.cc/300?u=" + s.ID,
	}
	if env.Gateway == nil || !s.HasToken() {
		return simulated, nil
	}

	p, err := env.Gateway.Profile(ctx, s.BearerToken())
	if err != nil {
		return models.ProfileData{}, err
	}
	profile := models.ProfileData{Name: p.Name, ProfilePicture: p.Picture}
	if profile.Name == "" {
		profile.Name = simulated.Name
	}
	if profile.ProfilePicture == "" {
		profile.ProfilePicture = simulated.ProfilePicture
	}
	return profile, nil
}

func LogoutSession(w http.ResponseWriter, r *http.Request, env *Env) {
	id := chi.URLParam(r, "id")
	m, ok := withManager(w, r, env, func(ctx context.Context, m *tabs.Manager) error {
		return m.Logout(ctx, id)
	})
	if ok {
		renderWorkspace(w, m)
	}
}

// Upload validates a media post for a logged in session. Posting itself is
// simulated; nothing is stored.
func Upload(w http.ResponseWriter, r *http.Request, env *Env) {
	r.Body = http.MaxBytesReader(w, r.Body, utils.MaxUploadSize+1<<20)
	id := chi.URLParam(r, "id")

	m, ok := withManager(w, r, env, func(ctx context.Context, m *tabs.Manager) error {
		s, found := m.Session(id)
		if !found {
			return tabs.ErrSessionNotFound
		}
		if !s.IsLoggedIn {
			m.Notify(failure("Login required", "Please log in with Facebook before uploading."))
			return nil
		}

		file, header, err := r.FormFile("file_upload")
		if err != nil {
			log.Println("error reading upload:", err)
			m.Notify(failure("No file selected", "Choose an image or video up to 10MB."))
			return nil
		}
		defer file.Close()

		if err := utils.ValidateMedia(header.Header.Get("Content-Type"), header.Size); err != nil {
			m.Notify(failure("Invalid file", err.Error()))
			return nil
		}
		hashtag := strings.TrimSpace(r.FormValue("hashtag"))
		if err := utils.ValidateHashtag(hashtag); err != nil {
			m.Notify(failure("Invalid hashtag", err.Error()))
			return nil
		}

		log.Printf("simulated upload for session %s: %s (%d bytes) hashtag %q", id, header.Filename, header.Size, hashtag)
		description := fmt.Sprintf("%s has been posted.", header.Filename)
		if hashtag != "" {
			description = fmt.Sprintf("%s has been posted with #%s.", header.Filename, hashtag)
		}
		m.Notify(models.Notice{Title: "Post uploaded", Description: description})
		return nil
	})
	if ok {
		renderWorkspace(w, m)
	}
}

// VisitPage is simulated: it only confirms which profile would be opened.
func VisitPage(w http.ResponseWriter, r *http.Request, env *Env) {
	id := chi.URLParam(r, "id")
	_, ok := withManager(w, r, env, func(ctx context.Context, m *tabs.Manager) error {
		s, found := m.Session(id)
		if !found {
			return tabs.ErrSessionNotFound
		}
		if !s.IsLoggedIn || s.ProfileData == nil {
			m.Notify(failure("Login required", "Please log in with Facebook to visit your page."))
			return nil
		}
		m.Notify(models.Notice{
			Title:       "Opening page",
			Description: fmt.Sprintf("Visiting the Facebook page of %s.", s.ProfileData.Name),
		})
		return nil
	})
	if ok {
		w.WriteHeader(http.StatusNoContent)
	}
}

// ToggleDarkMode flips the stored theme and tells the page to switch.
func ToggleDarkMode(w http.ResponseWriter, r *http.Request, env *Env) {
	if _, err := utils.Authorize(r, env.Redis); err != nil {
		log.Println("Authorization failed:", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	dark := !utils.DarkMode(r)
	utils.SetDarkMode(w, dark, env.Config.SecureCookies)

	theme := "light"
	if dark {
		theme = "dark"
	}
	triggerEvents(w, map[string]any{"themeChanged": theme})
	w.WriteHeader(http.StatusNoContent)
}
