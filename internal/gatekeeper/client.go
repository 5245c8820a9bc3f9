package gatekeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	kmerr "github.com/macterra/keymaster/pkg/errors"
)

const (
	// defaultTimeout is the default HTTP request timeout per registry call.
	defaultTimeout = 30 * time.Second

	// defaultRatePerSecond and defaultBurst bound request rates against a
	// shared gatekeeper.
	defaultRatePerSecond = 5
	defaultBurst         = 10

	// maxErrorBody caps how much of an error response body is kept.
	maxErrorBody = 4096
)

// ClientOptions contains optional configuration for the HTTP client.
type ClientOptions struct {
	// Timeout overrides the per-request timeout.
	Timeout time.Duration

	// RatePerSecond and Burst override the request rate limit.
	RatePerSecond float64
	Burst         int

	// Retry overrides the retry policy for transient failures.
	Retry *RetryConfig
}

// Client talks to a remote gatekeeper over its HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
}

// NewClient creates an HTTP registry client for the given base URL.
func NewClient(baseURL string, opts *ClientOptions) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerSecond), defaultBurst),
		retry:   DefaultRetryConfig(),
	}

	if opts != nil {
		if opts.Timeout > 0 {
			c.httpClient.Timeout = opts.Timeout
		}
		if opts.RatePerSecond > 0 {
			burst := opts.Burst
			if burst <= 0 {
				burst = defaultBurst
			}
			c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
		}
		if opts.Retry != nil {
			c.retry = *opts.Retry
		}
	}

	return c
}

// Version fetches the gatekeeper protocol version.
func (c *Client) Version(ctx context.Context) (int, error) {
	body, err := c.get(ctx, "/version")
	if err != nil {
		return 0, err
	}

	var v int
	if err := json.Unmarshal(body, &v); err != nil {
		return 0, fmt.Errorf("parsing version response: %w", err)
	}
	return v, nil
}

// CreateDID submits a create operation and returns the minted DID.
func (c *Client) CreateDID(ctx context.Context, op *Operation) (string, error) {
	body, err := c.post(ctx, op)
	if err != nil {
		return "", err
	}

	var resp struct {
		DID string `json:"did"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing create response: %w", err)
	}
	if resp.DID == "" {
		return "", fmt.Errorf("%w: create returned no DID", kmerr.ErrOperationRejected)
	}
	return resp.DID, nil
}

// ResolveDID fetches the current document for a DID.
func (c *Client) ResolveDID(ctx context.Context, did string) (*DIDDocument, error) {
	return c.resolve(ctx, did, "")
}

// ResolveDIDAtTime fetches the document as of the given instant.
func (c *Client) ResolveDIDAtTime(ctx context.Context, did string, at time.Time) (*DIDDocument, error) {
	return c.resolve(ctx, did, at.UTC().Format(TimeFormat))
}

// UpdateDID submits an update operation.
func (c *Client) UpdateDID(ctx context.Context, op *Operation) error {
	_, err := c.post(ctx, op)
	return err
}

// DeleteDID submits a deactivate operation.
func (c *Client) DeleteDID(ctx context.Context, op *Operation) error {
	_, err := c.post(ctx, op)
	return err
}

// resolve performs the document fetch, optionally pinned to an instant.
func (c *Client) resolve(ctx context.Context, did, atTime string) (*DIDDocument, error) {
	path := "/did/" + url.PathEscape(did)
	if atTime != "" {
		path += "?atTime=" + url.QueryEscape(atTime)
	}

	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var doc DIDDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing DID document: %w", err)
	}
	return &doc, nil
}

// get performs a rate-limited GET with retry on transient failures.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return Retry(ctx, c.retry, func() ([]byte, error) {
		return c.do(ctx, http.MethodGet, path, nil)
	})
}

// post submits an operation with retry. The gatekeeper deduplicates
// operations by content hash, so a retried submission is safe.
func (c *Client) post(ctx context.Context, op *Operation) ([]byte, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshaling operation: %w", err)
	}

	return Retry(ctx, c.retry, func() ([]byte, error) {
		return c.do(ctx, http.MethodPost, "/did", payload)
	})
}

// do performs one HTTP exchange and classifies the outcome.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures are worth retrying.
		return nil, WrapRetryable(kmerr.Wrap(err, "gatekeeper request failed"))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, WrapRetryable(fmt.Errorf("reading response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", kmerr.ErrUnknownDID, strings.TrimSpace(errorBody(body)))
	case resp.StatusCode >= 500:
		// The gatekeeper reports failures as 5xx with a text body.
		return nil, WrapRetryable(kmerr.WithDetails(kmerr.ErrRegistryUnavailable, map[string]string{
			"status": resp.Status,
			"body":   errorBody(body),
		}))
	default:
		return nil, kmerr.WithDetails(kmerr.ErrOperationRejected, map[string]string{
			"status": resp.Status,
			"body":   errorBody(body),
		})
	}
}

// errorBody trims an error response body for inclusion in error details.
func errorBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
