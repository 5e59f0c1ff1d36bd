package pactman

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
	"time"
)

var ErrInvalidClientConfig = errors.New("pactman: invalid client config")

// Transport is the Pact API of one chain. Every method makes exactly one
// network round trip; failures of the round trip are TransportErrors.
type Transport interface {
	Local(ctx context.Context, cmd *Command) (*CommandResult, error)
	Send(ctx context.Context, cmds ...*Command) ([]string, error)
	Poll(ctx context.Context, requestKeys ...string) (map[string]*CommandResult, error)
}

type ClientOption func(*Client) error

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidClientConfig)
		}
		c.hc = hc
		return nil
	}
}

func WithMaxResponseBytes(n int64) ClientOption {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response bytes must be > 0", ErrInvalidClientConfig)
		}
		c.maxRespBytes = n
		return nil
	}
}

// Client talks to <pactURL>/api/v1.
type Client struct {
	baseURL      *url.URL
	hc           *http.Client
	maxRespBytes int64
}

var _ Transport = (*Client)(nil)

func NewClient(pactURL string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(pactURL) == "" {
		return nil, fmt.Errorf("%w: missing pact url", ErrInvalidClientConfig)
	}
	u, err := url.Parse(pactURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pact url: %v", ErrInvalidClientConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidClientConfig, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidClientConfig)
	}

	c := &Client{
		baseURL:      u,
		hc:           &http.Client{Timeout: time.Minute},
		maxRespBytes: 4 << 20,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) Local(ctx context.Context, cmd *Command) (*CommandResult, error) {
	var out CommandResult
	if err := c.post(ctx, "local", cmd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Send(ctx context.Context, cmds ...*Command) ([]string, error) {
	var out sendResponse
	if err := c.post(ctx, "send", &sendRequest{Cmds: cmds}, &out); err != nil {
		return nil, err
	}
	return out.RequestKeys, nil
}

// Poll returns the results that are available. Keys of pending
// transactions are absent from the map.
func (c *Client) Poll(ctx context.Context, requestKeys ...string) (map[string]*CommandResult, error) {
	out := map[string]*CommandResult{}
	if err := c.post(ctx, "poll", &pollRequest{RequestKeys: requestKeys}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, op string, in, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/" + op

	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("pactman: marshal %s request: %w", op, err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("pactman: build request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(r)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp.Body, c.maxRespBytes)
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	// the node answers with plain text when it cannot process a request
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body)), Err: err}
	}
	return nil
}

func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, errors.New("response too large")
	}
	return b, nil
}
