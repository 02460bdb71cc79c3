// Package campaignmonitor talks to the three Campaign Monitor REST endpoints
// the add-on needs: list clients, list a client's lists, add a subscriber.
package campaignmonitor

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

	"github.com/cmoptin/internal/model"
)

// DefaultBaseURL is the v3.3 API root.
const DefaultBaseURL = "https://api.createsend.com/api/v3.3"

// DefaultTimeout bounds every outbound call. There are no retries.
const DefaultTimeout = 15 * time.Second

const maxResponseBytes = 1 << 20

// Outcome classifies a directory call.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeEmpty        Outcome = "empty"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeUnavailable  Outcome = "unavailable"
	OutcomeSkipped      Outcome = "skipped"
)

// ClientsResult is the result of ListClients.
type ClientsResult struct {
	Outcome Outcome
	Clients []model.Client
	Err     error
}

// ListsResult is the result of ListLists.
type ListsResult struct {
	Outcome Outcome
	Lists   []model.MailingList
	Err     error
}

// SubscribeResult is the result of Subscribe.
type SubscribeResult struct {
	Outcome Outcome
	Err     error
}

// Observer is notified once per remote call. Skipped calls are reported too.
type Observer interface {
	ObserveDirectory(op string, outcome Outcome)
}

// Client is a Campaign Monitor API client. It holds no credentials; every
// call takes the API key of the site it serves.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *slog.Logger
	observer Observer
}

type Option func(*Client)

// WithHTTPClient replaces the default timeout-bounded client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver reports call outcomes, typically to metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  logger.With("component", "campaignmonitor"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListClients fetches the clients visible to apiKey.
func (c *Client) ListClients(ctx context.Context, apiKey string) ClientsResult {
	if strings.TrimSpace(apiKey) == "" {
		c.observe("list_clients", OutcomeSkipped)
		return ClientsResult{Outcome: OutcomeSkipped}
	}

	var clients []model.Client
	outcome, err := c.do(ctx, http.MethodGet, "/clients.json", apiKey, nil, &clients)
	if outcome == OutcomeOK && len(clients) == 0 {
		outcome = OutcomeEmpty
	}
	c.observe("list_clients", outcome)
	return ClientsResult{Outcome: outcome, Clients: clients, Err: err}
}

// ListLists fetches the mailing lists of one client.
func (c *Client) ListLists(ctx context.Context, apiKey, clientID string) ListsResult {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(clientID) == "" {
		c.observe("list_lists", OutcomeSkipped)
		return ListsResult{Outcome: OutcomeSkipped}
	}

	var lists []model.MailingList
	path := "/clients/" + url.PathEscape(clientID) + "/lists.json"
	outcome, err := c.do(ctx, http.MethodGet, path, apiKey, nil, &lists)
	if outcome == OutcomeOK && len(lists) == 0 {
		outcome = OutcomeEmpty
	}
	c.observe("list_lists", outcome)
	return ListsResult{Outcome: outcome, Lists: lists, Err: err}
}

type subscriberRequest struct {
	EmailAddress   string `json:"EmailAddress"`
	Name           string `json:"Name,omitempty"`
	Resubscribe    bool   `json:"Resubscribe"`
	ConsentToTrack string `json:"ConsentToTrack"`
}

// Subscribe adds or refreshes a subscriber on listID. With Resubscribe set an
// existing or previously unsubscribed address is refreshed, not rejected.
func (c *Client) Subscribe(ctx context.Context, listID, apiKey string, sub model.Subscriber) SubscribeResult {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(listID) == "" || strings.TrimSpace(sub.Email) == "" {
		c.observe("subscribe", OutcomeSkipped)
		return SubscribeResult{Outcome: OutcomeSkipped}
	}

	body := subscriberRequest{
		EmailAddress:   strings.TrimSpace(sub.Email),
		Name:           strings.TrimSpace(sub.Name),
		Resubscribe:    sub.Resubscribe,
		ConsentToTrack: "Unchanged",
	}
	path := "/subscribers/" + url.PathEscape(listID) + ".json"
	outcome, err := c.do(ctx, http.MethodPost, path, apiKey, body, nil)
	c.observe("subscribe", outcome)
	return SubscribeResult{Outcome: outcome, Err: err}
}

// apiError is the error body Campaign Monitor returns.
type apiError struct {
	Code    int    `json:"Code"`
	Message string `json:"Message"`
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, body, dst any) (Outcome, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return OutcomeUnavailable, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return OutcomeUnavailable, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(apiKey, "x")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("campaignmonitor: request failed", "path", path, "err", err)
		return OutcomeUnavailable, fmt.Errorf("send request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return OutcomeUnavailable, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return OutcomeUnauthorized, decodeAPIError(resp.StatusCode, raw)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Warn("campaignmonitor: unexpected status", "path", path, "status", resp.StatusCode)
		return OutcomeUnavailable, decodeAPIError(resp.StatusCode, raw)
	}

	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			return OutcomeUnavailable, fmt.Errorf("decode response: %w", err)
		}
	}
	return OutcomeOK, nil
}

func decodeAPIError(status int, raw []byte) error {
	var e apiError
	if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
		return fmt.Errorf("campaign monitor: %d %s (code %d)", status, e.Message, e.Code)
	}
	return errors.New("campaign monitor: " + http.StatusText(status))
}

func (c *Client) observe(op string, outcome Outcome) {
	if c.observer != nil {
		c.observer.ObserveDirectory(op, outcome)
	}
}
