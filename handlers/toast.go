package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"postdeck/models"
)

// triggerEvents sets the HX-Trigger header so HTMX fires each event on the
// client with its value as detail.
func triggerEvents(w http.ResponseWriter, events map[string]any) {
	if len(events) == 0 {
		return
	}
	b, err := json.Marshal(events)
	if err != nil {
		log.Println("error encoding HX-Trigger:", err)
		return
	}
	w.Header().Set("HX-Trigger", string(b))
}

func setToasts(w http.ResponseWriter, notices ...models.Notice) {
	if len(notices) == 0 {
		return
	}
	triggerEvents(w, map[string]any{"showToast": notices})
}

func failure(title, description string) models.Notice {
	return models.Notice{Title: title, Description: description, Variant: "destructive"}
}
