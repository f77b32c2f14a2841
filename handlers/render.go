package handlers

import (
	"fmt"
	"html/template"
	"log"
	"net/http"

	"postdeck/ui"
)

var pageFiles = map[string][]string{
	"index":           {"html/base.html", "html/index.html", "html/workspace.html", "html/account.html"},
	"login":           {"html/base.html", "html/login.html"},
	"register":        {"html/base.html", "html/register.html"},
	"forgot-password": {"html/base.html", "html/forgot-password.html"},
	"verify":          {"html/base.html", "html/verify.html"},
	"change-password": {"html/base.html", "html/change-password.html"},
}

var fragmentFiles = []string{"html/workspace.html", "html/account.html"}

func renderPage(w http.ResponseWriter, page string, data any) {
	tmpl, err := template.ParseFS(ui.Files, pageFiles[page]...)
	if err != nil {
		log.Println("Error loading template:", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		log.Println("Error rendering template:", err)
		http.Error(w, "Error displaying page", http.StatusInternalServerError)
	}
}

// renderFragment renders one named block for an HTMX swap.
func renderFragment(w http.ResponseWriter, name string, data any) {
	tmpl, err := template.ParseFS(ui.Files, fragmentFiles...)
	if err != nil {
		log.Println("Error loading template:", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Println("Error rendering template:", err)
		http.Error(w, "Error displaying page", http.StatusInternalServerError)
	}
}

// writeMessage answers a form post with a plain message for its message box.
func writeMessage(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, template.HTMLEscapeString(msg))
}

func hxRedirect(w http.ResponseWriter, url string) {
	w.Header().Set("HX-Redirect", url)
	w.WriteHeader(http.StatusOK)
}
