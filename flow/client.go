// Package flow talks to a Flow Access node over its REST API and exposes
// the read-only tool catalogue served by the adapter.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetries    = 3
	defaultRetryDelay = 200 * time.Millisecond
	maxErrorBody      = 4 << 10
)

// BlockHeader is the header of a Flow block.
type BlockHeader struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id"`
	Height    string    `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

// Block is a Flow block as returned by the Access REST API. Only the header
// is requested; payloads stay unexpanded.
type Block struct {
	Header BlockHeader `json:"header"`
}

// AccountKey is one public key registered on an account.
type AccountKey struct {
	Index            string `json:"index"`
	PublicKey        string `json:"public_key"`
	SigningAlgorithm string `json:"signing_algorithm"`
	HashingAlgorithm string `json:"hashing_algorithm"`
	SequenceNumber   string `json:"sequence_number"`
	Weight           string `json:"weight"`
	Revoked          bool   `json:"revoked"`
}

// Account is a Flow account. Balance is in the smallest FLOW unit (1e-8).
type Account struct {
	Address   string            `json:"address"`
	Balance   string            `json:"balance"`
	Keys      []AccountKey      `json:"keys,omitempty"`
	Contracts map[string]string `json:"contracts,omitempty"`
}

// Event is an event emitted by a transaction.
type Event struct {
	Type             string `json:"type"`
	TransactionID    string `json:"transaction_id"`
	TransactionIndex string `json:"transaction_index"`
	EventIndex       string `json:"event_index"`
	Payload          string `json:"payload"`
}

// TransactionResult is the execution outcome of a transaction.
type TransactionResult struct {
	BlockID         string  `json:"block_id"`
	CollectionID    string  `json:"collection_id,omitempty"`
	Execution       string  `json:"execution,omitempty"`
	Status          string  `json:"status"`
	StatusCode      int     `json:"status_code"`
	ErrorMessage    string  `json:"error_message"`
	ComputationUsed string  `json:"computation_used,omitempty"`
	Events          []Event `json:"events"`
}

// APIError is a non-2xx answer from the access node.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("flow: access node returned status %d: %s", e.Status, e.Message)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	AccessNode string

	// HTTPClient overrides the transport (default: pooled client with Timeout).
	HTTPClient *http.Client
	Timeout    time.Duration

	// Retries is the number of attempts for transient failures (default: 3).
	Retries    int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Client is a read-only Flow Access REST client.
type Client struct {
	base       *url.URL
	http       *http.Client
	retries    uint
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewClient creates a Client for the given access node.
func NewClient(cfg ClientConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.AccessNode)
	if raw == "" {
		return nil, errors.New("flow: access node is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("flow: parse access node %q: %w", cfg.AccessNode, err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("flow: access node %q has no host", cfg.AccessNode)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = newHTTPClient(timeout)
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:       base,
		http:       client,
		retries:    uint(retries),
		retryDelay: retryDelay,
		logger:     logger,
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// AccessNode reports the base URL the client talks to.
func (c *Client) AccessNode() string {
	return c.base.String()
}

// LatestBlock returns the latest sealed block.
func (c *Client) LatestBlock(ctx context.Context) (Block, error) {
	return c.firstBlock(ctx, "/v1/blocks", url.Values{"height": {"sealed"}})
}

// BlockByHeight returns the block at height.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (Block, error) {
	return c.firstBlock(ctx, "/v1/blocks", url.Values{"height": {strconv.FormatUint(height, 10)}})
}

// BlockByID returns the block with the given id.
func (c *Client) BlockByID(ctx context.Context, id string) (Block, error) {
	return c.firstBlock(ctx, "/v1/blocks/"+url.PathEscape(id), nil)
}

func (c *Client) firstBlock(ctx context.Context, path string, query url.Values) (Block, error) {
	var blocks []Block
	if err := c.get(ctx, path, query, &blocks); err != nil {
		return Block{}, err
	}
	if len(blocks) == 0 {
		return Block{}, &APIError{Status: http.StatusNotFound, Message: "block not found"}
	}
	return blocks[0], nil
}

// Account returns the account at address as of the latest sealed block.
func (c *Client) Account(ctx context.Context, address string) (Account, error) {
	var account Account
	query := url.Values{"block_height": {"sealed"}, "expand": {"keys,contracts"}}
	if err := c.get(ctx, "/v1/accounts/"+url.PathEscape(address), query, &account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// TransactionResult returns the result of the transaction with the given id.
func (c *Client) TransactionResult(ctx context.Context, id string) (TransactionResult, error) {
	var result TransactionResult
	if err := c.get(ctx, "/v1/transaction_results/"+url.PathEscape(id), nil, &result); err != nil {
		return TransactionResult{}, err
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := *c.base
	endpoint.Path = c.base.Path + path
	endpoint.RawQuery = query.Encode()
	target := endpoint.String()

	return retry.Do(
		func() error {
			return c.fetch(ctx, target, out)
		},
		retry.Context(ctx),
		retry.Attempts(c.retries),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying access node request", "url", target, "attempt", n+1, "error", err)
		}),
	)
}

func (c *Client) fetch(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("flow: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("flow: request %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("flow: decode response from %s: %w", target, err)
	}
	return nil
}

// errorMessage extracts the message of a `{"code", "message"}` error body.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Message) != "" {
		return payload.Message
	}
	if message := strings.TrimSpace(string(body)); message != "" {
		return message
	}
	return http.StatusText(status)
}

// isTransient reports whether a request may succeed when repeated.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
