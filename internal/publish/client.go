// Package publish submits finished listing drafts to the marketplace API.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/raine/listing-pipeline/internal/listing"
	"github.com/rs/zerolog/log"
)

// ErrNotConfigured is returned when the endpoint or token is missing.
var ErrNotConfigured = errors.New("publish endpoint or token is not configured")

// Result is the outcome reported by the marketplace.
type Result struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	PublishedID string `json:"publishedId,omitempty"`
	StatusCode  int    `json:"statusCode,omitempty"`
}

type ClientOpts struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// Client posts drafts to a single endpoint with bearer authentication.
type Client struct {
	httpClient *resty.Client
	endpoint   string
	token      string
}

func NewClient(opts ClientOpts) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: resty.New().
			SetDebug(false).
			SetTimeout(timeout).
			SetHeaders(map[string]string{
				"Accept":       "application/json",
				"Content-Type": "application/json",
			}),
		endpoint: opts.Endpoint,
		token:    opts.Token,
	}
}

// Configured reports whether both endpoint and token are set.
func (c *Client) Configured() bool {
	return c != nil && c.endpoint != "" && c.token != ""
}

// Publish posts the draft. The error is non-nil only when the request could
// not be made; a rejection by the marketplace is a Result with Success false.
func (c *Client) Publish(ctx context.Context, draft *listing.Draft) (Result, error) {
	if !c.Configured() {
		return Result{}, ErrNotConfigured
	}

	res, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(c.token).
		SetBody(NewPayload(draft)).
		Post(c.endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("publish request failed: %w", err)
	}

	body := res.Body()
	var parsed map[string]any
	_ = json.Unmarshal(body, &parsed)

	if res.IsSuccess() {
		id := publishedID(parsed)
		msg := stringField(parsed, "message")
		if msg == "" {
			msg = "published"
		}
		log.Info().Str("publishedId", id).Int("status", res.StatusCode()).Msg("listing published")
		return Result{Success: true, Message: msg, PublishedID: id, StatusCode: res.StatusCode()}, nil
	}

	msg := errorMessage(parsed)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = res.Status()
	}
	log.Warn().Int("status", res.StatusCode()).Str("message", msg).Msg("marketplace rejected listing")
	return Result{Success: false, Message: msg, StatusCode: res.StatusCode()}, nil
}

func publishedID(body map[string]any) string {
	for _, key := range []string{"id", "productId", "product_id"} {
		if id := scalarString(body[key]); id != "" {
			return id
		}
	}
	if data, ok := body["data"].(map[string]any); ok {
		return scalarString(data["id"])
	}
	return ""
}

func errorMessage(body map[string]any) string {
	for _, key := range []string{"message", "error", "detail"} {
		if msg := stringField(body, key); msg != "" {
			return msg
		}
	}
	if errs, ok := body["errors"].([]any); ok && len(errs) > 0 {
		switch first := errs[0].(type) {
		case string:
			return first
		case map[string]any:
			return stringField(first, "message")
		}
	}
	return ""
}

func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}

func scalarString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
