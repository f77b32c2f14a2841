package gateway

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Endpoints are the absolute URLs of the gateway operations.
type Endpoints struct {
	FacebookLogin string `yaml:"facebook_login"`
	UserProfile   string `yaml:"user_profile"`
	Pages         string `yaml:"pages"`
}

// DefaultEndpoints derives the endpoints from a base URL.
func DefaultEndpoints(baseURL string) Endpoints {
	base := strings.TrimRight(baseURL, "/")
	return Endpoints{
		FacebookLogin: base + "/auth/facebook/login",
		UserProfile:   base + "/users/me",
		Pages:         base + "/facebook/pages",
	}
}

// LoadEndpoints reads a YAML endpoint file. Relative paths in the file are
// resolved against baseURL, and missing entries keep their defaults.
func LoadEndpoints(path string, baseURL string) (Endpoints, error) {
	ep := DefaultEndpoints(baseURL)

	data, err := os.ReadFile(path)
	if err != nil {
		return ep, fmt.Errorf("reading gateway config: %w", err)
	}

	var file struct {
		BaseURL   string    `yaml:"base_url"`
		Endpoints Endpoints `yaml:"endpoints"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return ep, fmt.Errorf("parsing gateway config: %w", err)
	}

	if file.BaseURL != "" {
		baseURL = file.BaseURL
		ep = DefaultEndpoints(baseURL)
	}
	ep.FacebookLogin = resolve(baseURL, file.Endpoints.FacebookLogin, ep.FacebookLogin)
	ep.UserProfile = resolve(baseURL, file.Endpoints.UserProfile, ep.UserProfile)
	ep.Pages = resolve(baseURL, file.Endpoints.Pages, ep.Pages)
	return ep, nil
}

func resolve(baseURL, path, fallback string) string {
	switch {
	case path == "":
		return fallback
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return path
	default:
		return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
}
