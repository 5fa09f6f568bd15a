// Package remote implements the HTTP client for the remote record store.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Record is one record in the remote store.
type Record struct {
	ID        string    `json:"id"`
	TypeID    string    `json:"type_id"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRecordRequest is the payload for creating a record.
type CreateRecordRequest struct {
	TypeID string   `json:"type_id"`
	Name   string   `json:"name"`
	Body   string   `json:"body"`
	Tags   []string `json:"tags,omitempty"`
}

// UpdateRecordRequest is the payload for updating a record.
type UpdateRecordRequest struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// API is the record-store surface consumed by the sync engine.
type API interface {
	CreateRecord(ctx context.Context, containerID string, req CreateRecordRequest) (*Record, error)
	UpdateRecord(ctx context.Context, containerID, recordID string, req UpdateRecordRequest) (*Record, error)
	DeleteRecord(ctx context.Context, containerID, recordID string) error
	// GetRecord returns nil (without error) when the record does not exist.
	GetRecord(ctx context.Context, containerID, recordID string) (*Record, error)
}

// Error is a non-2xx response from the record store. Retryable marks
// faults worth repeating (rate limits, server errors); everything else
// is treated as permanent by the queue.
type Error struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: http %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err is worth retrying. Transport-level
// failures (connection reset, timeout) carry no status code and are
// always retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable
	}
	return true
}

// Config holds remote client settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the record store over HTTP.
type Client struct {
	http *resty.Client
}

// NewClient creates a record-store client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		cli.SetAuthToken(cfg.Token)
	}

	return &Client{http: cli}
}

// CreateRecord creates a record in the given container.
func (c *Client) CreateRecord(ctx context.Context, containerID string, req CreateRecordRequest) (*Record, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(fmt.Sprintf("/v1/containers/%s/records", containerID))
	if err != nil {
		return nil, fmt.Errorf("remote: create record: %w", err)
	}
	if err := mapError(resp); err != nil {
		return nil, err
	}
	return decodeRecord(resp.Body())
}

// UpdateRecord updates an existing record.
func (c *Client) UpdateRecord(ctx context.Context, containerID, recordID string, req UpdateRecordRequest) (*Record, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Patch(fmt.Sprintf("/v1/containers/%s/records/%s", containerID, recordID))
	if err != nil {
		return nil, fmt.Errorf("remote: update record %s: %w", recordID, err)
	}
	if err := mapError(resp); err != nil {
		return nil, err
	}
	return decodeRecord(resp.Body())
}

// DeleteRecord removes a record.
func (c *Client) DeleteRecord(ctx context.Context, containerID, recordID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/v1/containers/%s/records/%s", containerID, recordID))
	if err != nil {
		return fmt.Errorf("remote: delete record %s: %w", recordID, err)
	}
	return mapError(resp)
}

// GetRecord fetches a record; a 404 maps to (nil, nil).
func (c *Client) GetRecord(ctx context.Context, containerID, recordID string) (*Record, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/v1/containers/%s/records/%s", containerID, recordID))
	if err != nil {
		return nil, fmt.Errorf("remote: get record %s: %w", recordID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if err := mapError(resp); err != nil {
		return nil, err
	}
	return decodeRecord(resp.Body())
}

func decodeRecord(body []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("remote: decode record: %w", err)
	}
	return &rec, nil
}

func mapError(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}

	msg := strings.TrimSpace(string(resp.Body()))
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &Error{
		StatusCode: code,
		Message:    msg,
		Retryable:  code == http.StatusTooManyRequests || code >= http.StatusInternalServerError,
	}
}

var _ API = (*Client)(nil)
