package models

// Notice is a transient notification shown to the user.
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant,omitempty"`
}

func (n Notice) Destructive() bool {
	return n.Variant == "destructive"
}
