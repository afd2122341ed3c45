// Package brevo is a minimal client for the Brevo contacts API, covering
// just what blocklisting a sender needs.
package brevo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrProviderCall means the contacts API could not complete a request
// (network failure or an error status).
var ErrProviderCall = errors.New("provider call failed")

const defaultBaseURL = "https://api.brevo.com/v3"

// Outcome reports what a Blocklist call did.
type Outcome struct {
	Action  string // "created" or "updated"
	Message string
}

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Blocklist marks a contact as blacklisted so no further marketing email is
// sent to it. An existing contact is updated in place, an unknown one is
// created already blacklisted.
func (c *Client) Blocklist(ctx context.Context, email string) (Outcome, error) {
	exists, err := c.contactExists(ctx, email)
	if err != nil {
		return Outcome{}, err
	}

	if exists {
		if err := c.updateContact(ctx, email); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Action:  "updated",
			Message: fmt.Sprintf("Contact %s updated and blacklisted", email),
		}, nil
	}

	if err := c.createContact(ctx, email); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Action:  "created",
		Message: fmt.Sprintf("Contact %s created and blacklisted", email),
	}, nil
}

// TestConnection verifies the API key against the account endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/account", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func (c *Client) contactExists(ctx context.Context, email string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/contacts/"+url.PathEscape(email), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, apiError(resp)
	}
}

func (c *Client) updateContact(ctx context.Context, email string) error {
	payload := map[string]any{"emailBlacklisted": true}
	resp, err := c.do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(email), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	return nil
}

func (c *Client) createContact(ctx context.Context, email string) error {
	payload := map[string]any{
		"email":            email,
		"emailBlacklisted": true,
		"updateEnabled":    true,
	}
	resp, err := c.do(ctx, http.MethodPost, "/contacts", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderCall, err)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: api error %d - %s", ErrProviderCall, resp.StatusCode, strings.TrimSpace(string(msg)))
}
