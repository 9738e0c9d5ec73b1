// Package store is the HTTP client for the Supabase (PostgREST) backend.
// It owns the two concerns the turn pipeline delegates outward: conversation
// state keyed by opaque thread identifier, and the legislative-bill dataset
// the agent's tools query.
package store

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

	"billchat/internal/config"
	"billchat/internal/models"
)

const (
	contentTypeJSON   = "application/json"
	userAgent         = "billchat/0.1"
	maxErrorBodyBytes = 64 * 1024
)

// ErrNotFound indicates the queried row does not exist.
var ErrNotFound = errors.New("not found")

// Client talks to a Supabase project's PostgREST endpoint.
type Client struct {
	key     string
	restURL string
	client  *http.Client
}

// New creates a backend client. Missing credentials fail here, at
// construction, never per request.
func New(cfg config.SupabaseConfig, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" {
		return nil, errors.New("supabase url must not be empty")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, errors.New("supabase key must not be empty")
	}

	return &Client{
		key:     cfg.Key,
		restURL: baseURL + "/rest/v1",
		client:  client,
	}, nil
}

// CreateThread inserts an empty conversation row for a freshly allocated
// thread identifier.
func (c *Client) CreateThread(ctx context.Context, threadID string) error {
	payload := threadRow{ID: threadID, Messages: []models.Message{}}

	req, err := c.newRequest(ctx, http.MethodPost, c.tableURL("chat_threads", nil), payload)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal")

	return c.execute(req)
}

// LoadMessages returns the persisted history for a thread. An identifier
// with no row resolves to an empty history, not an error: the backend is
// the sole judge of what a thread reference means.
func (c *Client) LoadMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	query := url.Values{}
	query.Set("id", "eq."+threadID)
	query.Set("select", "messages")

	var rows []threadRow
	if err := c.get(ctx, c.tableURL("chat_threads", query), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].Messages, nil
}

// SaveMessages replaces the persisted history for a thread.
func (c *Client) SaveMessages(ctx context.Context, threadID string, messages []models.Message) error {
	payload := threadRow{ID: threadID, Messages: messages}

	req, err := c.newRequest(ctx, http.MethodPost, c.tableURL("chat_threads", nil), payload)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	return c.execute(req)
}

type threadRow struct {
	ID       string           `json:"id"`
	Messages []models.Message `json:"messages"`
}

func (c *Client) tableURL(table string, query url.Values) string {
	u := c.restURL + "/" + table
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) rpcURL(function string) string {
	return c.restURL + "/rpc/" + function
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)

	return req, nil
}

func (c *Client) getRequest(req *http.Request, target any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseAPIError(resp)
	}

	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string, target any) error {
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.getRequest(req, target)
}

func (c *Client) rpc(ctx context.Context, function string, payload, target any) error {
	req, err := c.newRequest(ctx, http.MethodPost, c.rpcURL(function), payload)
	if err != nil {
		return err
	}
	return c.getRequest(req, target)
}

// execute issues a request and discards any response body.
func (c *Client) execute(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return fmt.Errorf("backend error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("backend error (%s): %s", apiErr.Code, apiErr.Message)
	}

	return fmt.Errorf("backend error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
