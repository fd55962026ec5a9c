// Package gateway is a client of the Paystack transaction API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/logger"
)

const (
	CodeRetryAfter = "retry-after"
	CodeNotFound   = "not-found"
	CodeUnknown    = "unknown"
)

const (
	defaultAddress    = "https://api.paystack.co"
	defaultTimeout    = 5 * time.Second
	defaultRetryAfter = 60 // seconds
)

type Error struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code string, retryAfter int, err error) *Error {
	return &Error{
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

// Transaction as the gateway sees it
type Transaction struct {
	Reference       string `json:"reference"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency,omitempty"`
	GatewayResponse string `json:"gateway_response,omitempty"`

	// Exact "data" object of the response
	Raw json.RawMessage `json:"-"`
}

type InitializeRequest struct {
	Email     string `json:"email"`
	Amount    int64  `json:"amount"` // minor units
	Reference string `json:"reference"`

	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Where to send the payer
type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Every gateway response is wrapped in the envelope
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Config struct {
	// Base API address. Default is used if empty
	Address string

	// Secret key. Required
	Secret string

	// Per-request timeout. Default is used if zero
	Timeout time.Duration
}

type Client struct {
	address string
	secret  string
	timeout time.Duration

	client *http.Client
	logger logger.Logger
}

func NewClient(cfg Config, logger logger.Logger) (*Client, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("gateway secret must not be empty: %w", apperrors.ErrConfiguration)
	}
	if cfg.Address == "" {
		cfg.Address = defaultAddress
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		address: strings.TrimRight(cfg.Address, "/"),
		secret:  cfg.Secret,
		timeout: cfg.Timeout,
		client:  &http.Client{},
		logger:  logger,
	}, nil
}

// Start a payment and get the page the payer must be redirected to
func (c *Client) Initialize(ctx context.Context, r InitializeRequest) (Authorization, error) {
	var auth Authorization

	body, err := json.Marshal(r)
	if err != nil {
		return auth, NewError(CodeUnknown, 0, fmt.Errorf("failed to encode request: %w", err))
	}

	data, err := c.do(ctx, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return auth, err
	}

	if err := json.Unmarshal(data, &auth); err != nil {
		return auth, NewError(CodeUnknown, 0, fmt.Errorf("failed to decode authorization: %w", err))
	}

	c.logger.Debug("Gateway payment initialized", "reference", auth.Reference)
	return auth, nil
}

// Fetch current transaction state by reference
func (c *Client) Verify(ctx context.Context, reference string) (Transaction, error) {
	var tx Transaction

	data, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return tx, err
	}

	if err := json.Unmarshal(data, &tx); err != nil {
		return tx, NewError(CodeUnknown, 0, fmt.Errorf("failed to decode transaction: %w", err))
	}
	tx.Raw = data

	c.logger.Debug("Gateway transaction", "reference", tx.Reference, "status", tx.Status)
	return tx, nil
}

// Send request and return "data" of a successful envelope
func (c *Client) do(ctx context.Context, method string, path string, body []byte) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.address+path, reader)
	if err != nil {
		return nil, NewError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return c.processSuccess(resp)
	case http.StatusTooManyRequests:
		return nil, c.processTooManyRequests(resp)
	case http.StatusNotFound:
		return nil, NewError(CodeNotFound, 0, fmt.Errorf("%s %s: not found", method, path))
	default:
		c.logger.Warn("Gateway request failed", "status_code", resp.StatusCode, "path", path)
		return nil, NewError(CodeUnknown, 0, fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, path))
	}
}

func (c *Client) processSuccess(resp *http.Response) (json.RawMessage, error) {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		c.logger.Warn("Failed to decode gateway response", "error", err)
		return nil, NewError(CodeUnknown, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	if !env.Status {
		return nil, NewError(CodeUnknown, 0, errors.New(env.Message))
	}

	return env.Data, nil
}

func (c *Client) processTooManyRequests(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = defaultRetryAfter
	}

	c.logger.Warn("Gateway throttled", "retry_after", retryAfter)
	return NewError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %d seconds", retryAfter))
}
