package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"postdeck/models"
	"postdeck/utils"
)

const passwordPolicy = "Passwords must be at least 8 characters in length and contain: one uppercase letter, one lowercase letter, one special character, one digit"

// formPage renders one of the account forms for the caller's browser session.
func formPage(w http.ResponseWriter, r *http.Request, env *Env, page string, email string) {
	session, err := utils.EnsureBrowserSession(w, r, env.Redis, env.Config.SessionTTL, env.Config.SecureCookies)
	if err != nil {
		log.Println("Error creating browser session:", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	data := models.FormData{
		CSRFtoken:  session.CSRFToken,
		DarkMode:   utils.DarkMode(r),
		IsLoggedIn: session.SignedIn(),
		Email:      email,
		Flash:      popFlash(w, r),
	}
	if env.DB == nil {
		data.Flash = &models.Notice{
			Title:       "Accounts unavailable",
			Description: "No database is configured for accounts.",
			Variant:     "destructive",
		}
	}
	renderPage(w, page, data)
}

// authorizeForm checks the request of an account form. It writes the
// response itself and returns nil when the request cannot continue.
func authorizeForm(w http.ResponseWriter, r *http.Request, env *Env) *models.BrowserSession {
	session, err := utils.Authorize(r, env.Redis)
	if err != nil {
		log.Println("Authorization failed:", err)
		writeMessage(w, "your session has expired. please reload the page.")
		return nil
	}
	if env.DB == nil {
		writeMessage(w, "accounts are not available.")
		return nil
	}
	return session
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// sessionToken returns the value of the session cookie, if the browser has one.
func sessionToken(r *http.Request) (string, bool) {
	if !utils.CookieExists(r, utils.SessionCookie) {
		return "", false
	}
	st, _ := r.Cookie(utils.SessionCookie)
	return st.Value, true
}

func LoginPage(w http.ResponseWriter, r *http.Request, env *Env) {
	if token, ok := sessionToken(r); ok {
		if session, err := utils.GetSession(r.Context(), env.Redis, token); err == nil && session.SignedIn() {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}
	formPage(w, r, env, "login", "")
}

func Login(w http.ResponseWriter, r *http.Request, env *Env) {
	session := authorizeForm(w, r, env)
	if session == nil {
		return
	}
	ctx := r.Context()

	email := normalizeEmail(r.FormValue("email"))
	password := r.FormValue("password")
	remember := r.FormValue("remember") == "on"

	if err := utils.ValidateEmail(email); err != nil {
		log.Println("invalid email: ", err)
		writeMessage(w, "invalid email address")
		return
	}
	if err := utils.ValidateLoginPassword(password); err != nil {
		writeMessage(w, err.Error())
		return
	}

	userID, err := utils.LoginUser(ctx, env.DB, email, password)
	switch {
	case errors.Is(err, utils.ErrUnverified):
		if err := utils.IssueOTP(ctx, env.DB, env.Mailer, email, utils.OTPVerify); err != nil {
			log.Println("error sending verification code to user: ", email, " |error:", err)
			writeMessage(w, "internal error. please try again")
			return
		}
		if err := utils.SetPendingOTP(ctx, env.Redis, session.SessionToken, email, utils.OTPVerify); err != nil {
			log.Println("error storing pending verification: ", err)
			writeMessage(w, "internal error. please try again")
			return
		}
		hxRedirect(w, "/verify")
		return
	case errors.Is(err, utils.ErrInvalidCredentials):
		writeMessage(w, "invalid email or password")
		return
	case err != nil:
		log.Println("Login failed: ", err)
		writeMessage(w, "internal error. try again.")
		return
	}

	ttl := env.Config.SessionTTL
	maxAge := 0
	if remember {
		ttl = utils.RememberMeTTL
		maxAge = int(ttl.Seconds())
	}
	if err := utils.AttachUser(ctx, env.Redis, session.SessionToken, userID, ttl); err != nil {
		log.Println("error attaching user to session: ", err)
		writeMessage(w, "internal error. try again.")
		return
	}
	session.UserID = userID
	utils.SetSessionCookies(w, *session, maxAge, env.Config.SecureCookies)

	setFlash(w, models.Notice{Title: "Welcome back", Description: "You are now signed in."}, env.Config.SecureCookies)
	hxRedirect(w, "/")
}

func RegisterPage(w http.ResponseWriter, r *http.Request, env *Env) {
	formPage(w, r, env, "register", "")
}

func Register(w http.ResponseWriter, r *http.Request, env *Env) {
	session := authorizeForm(w, r, env)
	if session == nil {
		return
	}
	ctx := r.Context()

	email := normalizeEmail(r.FormValue("email"))
	password := r.FormValue("password")
	confirmedPassword := r.FormValue("confirm-password")

	if err := utils.ValidateEmail(email); err != nil {
		log.Println("invalid email: ", err)
		writeMessage(w, "invalid email address")
		return
	}
	if err := utils.ValidatePassword(password); err != nil {
		log.Println("invalid password: ", err)
		writeMessage(w, passwordPolicy)
		return
	}
	if !utils.SamePassword(password, confirmedPassword) {
		writeMessage(w, "passwords must match")
		return
	}

	inUse, err := utils.EmailInUse(ctx, env.DB, email)
	if err != nil {
		log.Printf("Error checking email: %v", err)
		writeMessage(w, "internal error. please try again")
		return
	}
	if inUse {
		writeMessage(w, "Email address is already registered")
		return
	}

	if _, err := utils.AddUser(ctx, env.DB, email, password); err != nil {
		if errors.Is(err, utils.ErrEmailInUse) {
			writeMessage(w, "Email address is already registered")
			return
		}
		log.Println("add user error: ", err, " user: ", email)
		writeMessage(w, "error creating account. please contact admin.")
		return
	}

	if err := utils.IssueOTP(ctx, env.DB, env.Mailer, email, utils.OTPVerify); err != nil {
		log.Println("error sending verification code to user: ", email, " |error:", err)
	}
	if err := utils.SetPendingOTP(ctx, env.Redis, session.SessionToken, email, utils.OTPVerify); err != nil {
		log.Println("error storing pending verification: ", err)
		writeMessage(w, "internal error. please try again")
		return
	}
	hxRedirect(w, "/verify")
}

func VerifyPage(w http.ResponseWriter, r *http.Request, env *Env) {
	token, ok := sessionToken(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	email, _, _, err := utils.GetPendingOTP(r.Context(), env.Redis, token)
	if err != nil || email == "" {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	formPage(w, r, env, "verify", email)
}

// Verify checks the code sent to the pending email. Account codes finish
// registration; reset codes unlock the change password form.
func Verify(w http.ResponseWriter, r *http.Request, env *Env) {
	session := authorizeForm(w, r, env)
	if session == nil {
		return
	}
	ctx := r.Context()

	email, purpose, _, err := utils.GetPendingOTP(ctx, env.Redis, session.SessionToken)
	if err != nil || email == "" {
		writeMessage(w, "no verification in progress. please start again.")
		return
	}

	otp := strings.TrimSpace(r.FormValue("otp"))
	if err := utils.ValidateOTP(otp); err != nil {
		writeMessage(w, err.Error())
		return
	}
	if err := utils.VerifyOTP(ctx, env.DB, email, otp); err != nil {
		log.Println("user OTP is incorrect: ", email, " |error:", err)
		if errors.Is(err, utils.ErrOTPLocked) {
			if err := utils.ClearPendingOTP(ctx, env.Redis, session.SessionToken); err != nil {
				log.Println("error clearing pending verification: ", err)
			}
			writeMessage(w, "Too many incorrect codes. Please start again to get a new code.")
			return
		}
		writeMessage(w, "Invalid authentication code. Please try again.")
		return
	}

	if purpose == utils.OTPReset {
		if err := utils.MarkPendingVerified(ctx, env.Redis, session.SessionToken); err != nil {
			log.Println("error marking reset verified: ", err)
			writeMessage(w, "internal error. please try again")
			return
		}
		hxRedirect(w, "/change-password")
		return
	}

	if err := utils.ClearPendingOTP(ctx, env.Redis, session.SessionToken); err != nil {
		log.Println("error clearing pending verification: ", err)
	}
	setFlash(w, models.Notice{Title: "Account verified", Description: "You can now sign in."}, env.Config.SecureCookies)
	hxRedirect(w, "/login")
}

func ResendOTP(w http.ResponseWriter, r *http.Request, env *Env) {
	session := authorizeForm(w, r, env)
	if session == nil {
		return
	}
	ctx := r.Context()

	email, purpose, _, err := utils.GetPendingOTP(ctx, env.Redis, session.SessionToken)
	if err != nil || email == "" {
		writeMessage(w, "no verification in progress. please start again.")
		return
	}

	err = utils.IssueOTP(ctx, env.DB, env.Mailer, email, purpose)
	if err != nil && !errors.Is(err, utils.ErrUserNotFound) {
		log.Println("error resending code to user: ", email, " |error:", err)
		writeMessage(w, "internal error. please try again")
		return
	}
	writeMessage(w, "A new code has been sent.")
}

func ForgotPasswordPage(w http.ResponseWriter, r *http.Request, env *Env) {
	formPage(w, r, env, "forgot-password", "")
}

// ForgotPassword mails a reset code. Unknown addresses get the same answer so
// the form does not reveal which emails are registered.
func ForgotPassword(w http.ResponseWriter, r *http.Request, env *Env) {
	session := authorizeForm(w, r, env)
	if session == nil {
		return
	}
	ctx := r.Context()

	email := normalizeEmail(r.FormValue("email"))
	if err := utils.ValidateEmail(email); err != nil {
		writeMessage(w, "invalid email address")
		return
	}

	exists, err := utils.EmailInUse(ctx, env.DB, email)
	if err != nil {
		log.Println("error checking if email exists: ", email, " |error:", err)
		writeMessage(w, "internal error. please try again")
		return
	}
	if exists {
		if err := utils.IssueOTP(ctx, env.DB, env.Mailer, email, utils.OTPReset); err != nil {
			log.Println("error sending password reset email to user: ", email, " |error:", err)
			writeMessage(w, "internal error. please try again")
			return
		}
	}

	if err := utils.SetPendingOTP(ctx, env.Redis, session.SessionToken, email, utils.OTPReset); err != nil {
		log.Println("error storing pending reset: ", err)
		writeMessage(w, "internal error. please try again")
		return
	}
	hxRedirect(w, "/verify")
}

// resetEmail returns the email whose reset code this browser session has
// confirmed.
func resetEmail(r *http.Request, env *Env, sessionToken string) string {
	email, purpose, verified, err := utils.GetPendingOTP(r.Context(), env.Redis, sessionToken)
	if err != nil || purpose != utils.OTPReset || !verified {
		return ""
	}
	return email
}

func ChangePasswordPage(w http.ResponseWriter, r *http.Request, env *Env) {
	token, ok := sessionToken(r)
	if !ok {
		http.Redirect(w, r, "/forgot-password", http.StatusSeeOther)
		return
	}
	email := resetEmail(r, env, token)
	if email == "" {
		http.Redirect(w, r, "/forgot-password", http.StatusSeeOther)
		return
	}
	formPage(w, r, env, "change-password", email)
}

func ChangePassword(w http.ResponseWriter, r *http.Request, env *Env) {
	session := authorizeForm(w, r, env)
	if session == nil {
		return
	}
	ctx := r.Context()

	email := resetEmail(r, env, session.SessionToken)
	if email == "" {
		writeMessage(w, "your reset code has not been verified. please start again.")
		return
	}

	password := r.FormValue("password")
	confirmedPassword := r.FormValue("confirm-password")
	if err := utils.ValidatePassword(password); err != nil {
		log.Println("invalid password: ", err)
		writeMessage(w, passwordPolicy)
		return
	}
	if !utils.SamePassword(password, confirmedPassword) {
		writeMessage(w, "passwords must match")
		return
	}

	userID, err := utils.ChangePassword(ctx, env.DB, email, password)
	if err != nil {
		log.Println("erorr changing password for user: ", email, " |error:", err)
		writeMessage(w, "internal error. please try again")
		return
	}
	if err := utils.DeleteAllUserSessions(ctx, env.Redis, userID); err != nil {
		log.Println("error signing out sessions of user: ", userID, " |error:", err)
	}
	if err := utils.ClearPendingOTP(ctx, env.Redis, session.SessionToken); err != nil {
		log.Println("error clearing pending reset: ", err)
	}

	setFlash(w, models.Notice{Title: "Password changed", Description: "Sign in with your new password."}, env.Config.SecureCookies)
	hxRedirect(w, "/login")
}

// Logout ends the browser session along with its tabs and gateway login.
func Logout(w http.ResponseWriter, r *http.Request, env *Env) {
	session, err := utils.Authorize(r, env.Redis)
	if err != nil {
		log.Println("Authorization failed:", err)
		utils.ClearSessionCookies(w)
		hxRedirect(w, "/login")
		return
	}
	ctx := r.Context()

	if err := utils.DeleteSession(ctx, env.Redis, session.SessionToken); err != nil {
		log.Printf("Failed to delete tokens: %v", err)
	}
	log.Println("tokens deleted for user: ", session.UserID)

	utils.ClearSessionCookies(w)
	hxRedirect(w, "/login")
}
