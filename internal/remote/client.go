package remote

import (
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

// Params are the flat key-value parameters of one logical API call.
type Params map[string]string

// TokenProvider supplies a valid bearer token on demand. Refresh and expiry
// are external concerns; a rejected token surfaces as a KindAuth error.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token string.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("remote: empty access token")
	}
	return string(t), nil
}

// wireEnvelope is the method-call response envelope: exactly one of the two
// fields is populated.
type wireEnvelope struct {
	Response json.RawMessage `json:"response"`
	Error    *wireError      `json:"error"`
}

type wireError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

// Client is the low-level method-call transport. It knows nothing about
// pacing, caching or batching; that is the Gateway's job.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	tokens     TokenProvider
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the method-call endpoint prefix.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithVersion sets the API version sent with every call.
func WithVersion(version string) Option {
	return func(c *Client) {
		c.version = version
	}
}

// NewClient creates a method-call transport backed by the given token
// provider.
func NewClient(tokens TokenProvider, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("remote: token provider must not be nil")
	}
	c := &Client{
		baseURL:    "https://api.messenger.example/method",
		version:    "5.131",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Call invokes one remote method and returns the raw response payload.
// API-level failures come back as *Error with their mapped kind; transport
// failures map to KindNetwork.
func (c *Client) Call(ctx context.Context, method string, params Params) (json.RawMessage, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &Error{Kind: KindAuth, Err: err}
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set("access_token", token)
	form.Set("v", c.version)

	endpoint := c.baseURL + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, networkError(fmt.Errorf("unexpected status %d from %s: %s", res.StatusCode, endpoint, buf))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, networkError(fmt.Errorf("read response body: %w", err))
	}

	var env wireEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("remote: decode envelope for %s: %w", method, err)
	}
	if env.Error != nil {
		return nil, apiError(env.Error.Code, env.Error.Message)
	}
	if env.Response == nil {
		return nil, fmt.Errorf("remote: empty envelope for %s", method)
	}
	return env.Response, nil
}
