package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"postdeck/models"
)

var (
	ErrUnreachable     = errors.New("backend server is not accessible. Please check if the server is running")
	ErrInvalidResponse = errors.New("server returned invalid response format")
	ErrNoRedirect      = errors.New("no redirect URL received from server")
)

// StatusError is returned for non-OK gateway responses.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("gateway returned status %d", e.Code)
}

// Client talks to the auth gateway. Every call is bound to the caller's
// context, so requests stop when the page that issued them goes away.
type Client struct {
	endpoints Endpoints
	http      *http.Client
}

func New(endpoints Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{endpoints: endpoints, http: httpClient}
}

// InitiateLogin asks the gateway to start the Facebook OAuth flow and returns
// the URL the browser must be sent to.
func (c *Client) InitiateLogin(ctx context.Context, next string) (string, error) {
	probe, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.endpoints.FacebookLogin, nil)
	if err != nil {
		return "", err
	}
	probeResp, err := c.http.Do(probe)
	if err != nil {
		log.Println("gateway health check failed: ", err)
		return "", ErrUnreachable
	}
	probeResp.Body.Close()

	body, err := json.Marshal(map[string]string{"next": next})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.FacebookLogin, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("initiating facebook login: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading login response: %w", err)
	}

	var data struct {
		RedirectURL string `json:"redirect_url"`
		Detail      string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Printf("gateway login response is not JSON: %s", raw)
		return "", ErrInvalidResponse
	}

	if resp.StatusCode != http.StatusOK {
		detail := data.Detail
		if detail == "" {
			detail = "Failed to initiate Facebook login"
		}
		return "", &StatusError{Code: resp.StatusCode, Detail: detail}
	}
	if data.RedirectURL == "" {
		return "", ErrNoRedirect
	}
	return data.RedirectURL, nil
}

// Profile fetches the gateway user's profile.
func (c *Client) Profile(ctx context.Context, accessToken string) (*models.Profile, error) {
	var profile models.Profile
	if err := c.getJSON(ctx, c.endpoints.UserProfile, accessToken, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Pages lists the Facebook pages the gateway user manages. Both a bare array
// and a {"data": [...]} envelope are accepted.
func (c *Client) Pages(ctx context.Context, accessToken string) ([]models.Page, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, c.endpoints.Pages, accessToken, &raw); err != nil {
		return nil, err
	}

	var pages []models.Page
	if err := json.Unmarshal(raw, &pages); err == nil {
		return pages, nil
	}
	var envelope struct {
		Data []models.Page `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, ErrInvalidResponse
	}
	return envelope.Data, nil
}

func (c *Client) getJSON(ctx context.Context, url, accessToken string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var data struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&data)
		return &StatusError{Code: resp.StatusCode, Detail: data.Detail}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return ErrInvalidResponse
	}
	return nil
}
