// Package graph implements a minimal Facebook Graph API client covering the
// endpoints the delivery pipeline needs: message send, thread owner lookup,
// and user profile fetch. All calls carry bounded timeouts and go through a
// shared circuit breaker.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/crowdesk/messenger/internal/config"
)

// Client talks to the Graph API on behalf of a page.
type Client struct {
	baseURL        string
	apiVersion     string
	sendTimeout    time.Duration
	requestTimeout time.Duration
	httpClient     *http.Client
	breaker        *gobreaker.CircuitBreaker
	logger         *slog.Logger
}

// NewClient creates a Graph API client from configuration.
func NewClient(cfg config.GraphConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := logger.With("component", "graph_client")

	settings := gobreaker.Settings{
		Name:    "graph_api",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Vendor-level rejections (policy, token, recipient state) are not
			// infrastructure failures and must not trip the breaker.
			if _, ok := err.(*Error); ok {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		baseURL:        cfg.BaseURL,
		apiVersion:     cfg.APIVersion,
		sendTimeout:    cfg.SendTimeout,
		requestTimeout: cfg.RequestTimeout,
		httpClient:     &http.Client{},
		breaker:        gobreaker.NewCircuitBreaker(settings),
		logger:         log,
	}
}

// SendMessage performs POST /{pageID}/messages and returns the platform's
// send receipt. Vendor failures surface as *Error.
func (c *Client) SendMessage(ctx context.Context, pageID, accessToken string, req *SendRequest) (*SendResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	var resp SendResponse
	path := fmt.Sprintf("/%s/messages", pageID)
	if err := c.doRequest(ctx, http.MethodPost, path, accessToken, nil, req, &resp); err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "Message sent via Graph API",
		"page_id", pageID, "recipient_id", req.Recipient.ID, "message_id", resp.MessageID)
	return &resp, nil
}

// ThreadOwner performs GET /{pageID}/thread_owner for a recipient and returns
// the owning application id, or "" when the platform reports no owner.
func (c *Client) ThreadOwner(ctx context.Context, pageID, accessToken, recipientID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var resp threadOwnerResponse
	path := fmt.Sprintf("/%s/thread_owner", pageID)
	query := url.Values{"recipient": {recipientID}}
	if err := c.doRequest(ctx, http.MethodGet, path, accessToken, query, nil, &resp); err != nil {
		return "", err
	}

	if len(resp.Data) == 0 {
		return "", nil
	}
	return resp.Data[0].ThreadOwner.AppID, nil
}

// UserProfile performs GET /{recipientID} and returns the recipient's basic
// profile. A vendor error here usually means the recipient is not reachable
// by this page.
func (c *Client) UserProfile(ctx context.Context, recipientID, accessToken string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var resp Profile
	path := fmt.Sprintf("/%s", recipientID)
	query := url.Values{"fields": {"first_name,last_name"}}
	if err := c.doRequest(ctx, http.MethodGet, path, accessToken, query, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// doRequest handles the HTTP request/response cycle with proper error handling.
// Failures with an API error envelope are returned as *Error; transport-level
// failures (including breaker rejections) come back as wrapped errors.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, query url.Values, body, response interface{}) error {
	req, err := c.buildRequest(ctx, method, path, accessToken, query, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return nil, fmt.Errorf("request failed: %w", doErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var envelope errorEnvelope
			if decErr := json.NewDecoder(resp.Body).Decode(&envelope); decErr != nil || envelope.Error == nil {
				return nil, fmt.Errorf("graph API error with status %d", resp.StatusCode)
			}
			return nil, envelope.Error
		}

		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response: %w", readErr)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}

	if response != nil {
		if err := json.Unmarshal(result.([]byte), response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// buildRequest creates a new HTTP request with the access token attached as a
// query parameter, the way the Graph API expects.
func (c *Client) buildRequest(ctx context.Context, method, path, accessToken string, query url.Values, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("access_token", accessToken)

	fullURL := fmt.Sprintf("%s/%s%s?%s", c.baseURL, c.apiVersion, path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return req, nil
}
