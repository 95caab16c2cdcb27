// Package crm pushes extracted fields and call notes to a HighLevel-style
// contacts API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiVersion = "2021-07-28"

// ErrNoContact means the call carried no contact reference to update.
var ErrNoContact = errors.New("no contact id in call")

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by token sources that cache.
type invalidator interface {
	Invalidate()
}

type Client struct {
	baseURL    string
	locationID string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, locationID string, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		locationID: locationID,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// UpdateContact writes custom field values onto a contact.
func (c *Client) UpdateContact(ctx context.Context, contactID string, fields []CustomField) error {
	if contactID == "" {
		return ErrNoContact
	}
	body := map[string]any{"customFields": fields}
	if _, err := c.do(ctx, http.MethodPut, contactPath(contactID), body); err != nil {
		return fmt.Errorf("update contact %s: %w", contactID, err)
	}
	c.logger.Info("contact updated", "contact_id", contactID, "fields", len(fields))
	return nil
}

// CreateNote attaches a note to a contact and returns the note ID.
func (c *Client) CreateNote(ctx context.Context, contactID, body string) (string, error) {
	if contactID == "" {
		return "", ErrNoContact
	}
	raw, err := c.do(ctx, http.MethodPost, contactPath(contactID)+"/notes", map[string]any{"body": body})
	if err != nil {
		return "", fmt.Errorf("create note for %s: %w", contactID, err)
	}

	var resp struct {
		Note struct {
			ID string `json:"id"`
		} `json:"note"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("parse note response: %w", err)
	}
	c.logger.Info("note created", "contact_id", contactID, "note_id", resp.Note.ID, "length", len(body))
	return resp.Note.ID, nil
}

// do sends one request. A 401 drops a cached token and retries once.
// contactPath keeps the ID inside one path segment so a crafted ID cannot
// reach another endpoint with our token.
func contactPath(contactID string) string {
	return "/contacts/" + url.PathEscape(contactID)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	for attempt := 0; ; attempt++ {
		status, body, err := c.send(ctx, method, path, data)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			if inv, ok := c.tokens.(invalidator); ok {
				inv.Invalidate()
				continue
			}
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("crm returned %d: %s", status, strings.TrimSpace(string(body)))
		}
		return body, nil
	}
}

func (c *Client) send(ctx context.Context, method, path string, data []byte) (int, []byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("crm token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Version", apiVersion)
	if c.locationID != "" {
		req.Header.Set("Location-Id", c.locationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("crm request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
