// Package telegram is a minimal Bot API client used to deliver user
// notifications.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"raffle-ledger-backend/internal/common/logger"
)

const defaultBaseURL = "https://api.telegram.org"

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     zerolog.Logger
}

// RateLimitError is returned when the Bot API answers 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram rate limit, retry after %s", e.RetryAfter)
}

// Response is the Bot API envelope.
type Response struct {
	Ok          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
		logger:     logger.Component("telegram"),
	}
}

// WithBaseURL points the client at another API host.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// SendMessage sends an HTML-formatted text message to a user or chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	params := url.Values{
		"chat_id":    {strconv.FormatInt(chatID, 10)},
		"text":       {text},
		"parse_mode": {"HTML"},
	}
	if _, err := c.call(ctx, "sendMessage", params); err != nil {
		c.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
		return err
	}
	c.logger.Debug().Int64("chat_id", chatID).Msg("Message sent")
	return nil
}

func (c *Client) call(ctx context.Context, method string, params url.Values) (*Response, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		retry := time.Second
		if out.Parameters != nil && out.Parameters.RetryAfter > 0 {
			retry = time.Duration(out.Parameters.RetryAfter) * time.Second
		}
		return nil, &RateLimitError{RetryAfter: retry}
	}
	if !out.Ok {
		return nil, fmt.Errorf("telegram API error %d: %s", out.ErrorCode, out.Description)
	}
	return &out, nil
}
