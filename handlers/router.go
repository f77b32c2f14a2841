package handlers

import (
	"io/fs"
	"log"
	"net/http"

	"postdeck/ui"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every route of the application.
func NewRouter(env *Env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	static, err := fs.Sub(ui.Files, "static")
	if err != nil {
		log.Fatalf("Failed to load static files: %v", err)
	}
	r.Handle("/static/*", http.StripPrefix("/static", http.FileServer(http.FS(static))))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := env.Redis.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	r.Get("/", with(env, Index))
	r.Post("/darkmode", with(env, ToggleDarkMode))

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", with(env, AddSession))
		r.Delete("/{id}", with(env, RemoveSession))
		r.Post("/{id}/select", with(env, SelectSession))
		r.Put("/{id}/token", with(env, UpdateToken))
		r.Post("/{id}/login", with(env, LoginSession))
		r.Post("/{id}/logout", with(env, LogoutSession))
		r.Post("/{id}/upload", with(env, Upload))
		r.Post("/{id}/visit", with(env, VisitPage))
	})

	r.Post("/auth/facebook", with(env, FacebookLogin))
	r.Get("/auth/callback", with(env, FacebookCallback))
	r.Get("/account/profile", with(env, ProfileSection))
	r.Get("/account/pages", with(env, PagesSection))
	r.Post("/account/logout", with(env, AccountLogout))

	r.Get("/login", with(env, LoginPage))
	r.Post("/login", with(env, Login))
	r.Get("/register", with(env, RegisterPage))
	r.Post("/register", with(env, Register))
	r.Get("/verify", with(env, VerifyPage))
	r.Post("/verify", with(env, Verify))
	r.Post("/verify/resend", with(env, ResendOTP))
	r.Get("/forgot-password", with(env, ForgotPasswordPage))
	r.Post("/forgot-password", with(env, ForgotPassword))
	r.Get("/change-password", with(env, ChangePasswordPage))
	r.Post("/change-password", with(env, ChangePassword))
	r.Post("/logout", with(env, Logout))

	return r
}

func with(env *Env, h func(http.ResponseWriter, *http.Request, *Env)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h(w, r, env)
	}
}
