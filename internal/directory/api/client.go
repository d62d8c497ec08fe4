package api

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/userdir/userdir/internal/directory/users"
	"github.com/userdir/userdir/internal/observability/metrics"
)

const (
	routeUsers = "/users"
	routeUser  = "/users/:id"
)

// ClientConfig configures the HTTP user repository
type ClientConfig struct {
	BaseURL string
	// Timeout bounds every request, the store itself has no timeouts
	Timeout time.Duration
	// Transport is wrapped with tracing instrumentation; nil means http.DefaultTransport
	Transport http.RoundTripper
}

// Client implements users.UserRepository against a json-server style REST endpoint
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// RequestError is returned for transport failures and non-2xx responses
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Cause      error
}

func (e *RequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Cause)
	}
	return fmt.Sprintf("request failed with status code %d (%s %s)", e.StatusCode, e.Method, e.Path)
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// NewClient creates a new user repository client
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base URL scheme %q", base.Scheme)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		logger: logger,
	}, nil
}

// FetchUsers requests GET /users?_page={page}&_limit={limit}
func (c *Client) FetchUsers(ctx context.Context, page, limit int) ([]users.User, error) {
	query := url.Values{}
	query.Set("_page", strconv.Itoa(page))
	query.Set("_limit", strconv.Itoa(limit))

	var fetched []users.User
	if err := c.do(ctx, http.MethodGet, routeUsers, []string{"users"}, query, nil, &fetched); err != nil {
		return nil, err
	}
	if fetched == nil {
		fetched = []users.User{}
	}

	c.logger.Debug("Fetched users page",
		zap.Int("page", page),
		zap.Int("limit", limit),
		zap.Int("count", len(fetched)))
	return fetched, nil
}

// CreateUser posts the profile. The echoed record is returned as decoded,
// callers must not expect more than an id.
func (c *Client) CreateUser(ctx context.Context, profile users.Profile) (*users.User, error) {
	var echoed users.User
	if err := c.do(ctx, http.MethodPost, routeUsers, []string{"users"}, nil, profile, &echoed); err != nil {
		return nil, err
	}
	return &echoed, nil
}

// UpdateUser puts the full user to /users/{id}
func (c *Client) UpdateUser(ctx context.Context, user users.User) error {
	if user.ID.IsZero() {
		return fmt.Errorf("user id is required")
	}
	return c.do(ctx, http.MethodPut, routeUser, []string{"users", url.PathEscape(user.ID.String())}, nil, user, nil)
}

// DeleteUser deletes /users/{id}
func (c *Client) DeleteUser(ctx context.Context, id users.ID) error {
	if id.IsZero() {
		return fmt.Errorf("user id is required")
	}
	return c.do(ctx, http.MethodDelete, routeUser, []string{"users", url.PathEscape(id.String())}, nil, nil, nil)
}

// HealthCheck checks that the users collection answers
func (c *Client) HealthCheck(ctx context.Context) error {
	query := url.Values{}
	query.Set("_limit", "1")
	if err := c.do(ctx, http.MethodGet, routeUsers, []string{"users"}, query, nil, nil); err != nil {
		return fmt.Errorf("user repository unhealthy: %w", err)
	}
	return nil
}

// Name identifies the repository in health reports
func (c *Client) Name() string {
	return "user_repository"
}

func (c *Client) do(ctx context.Context, method, route string, segments []string, query url.Values, body, out any) error {
	target := c.baseURL.JoinPath(segments...)
	target.RawQuery = query.Encode()
	path := "/" + strings.TrimPrefix(target.Path, "/")

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &RequestError{Method: method, Path: path, Cause: fmt.Errorf("failed to encode body: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return &RequestError{Method: method, Path: path, Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRequest(method, route, "error", time.Since(start))
		c.logger.Debug("Repository request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return &RequestError{Method: method, Path: path, Cause: err}
	}
	defer resp.Body.Close()
	metrics.ObserveRequest(method, route, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			// empty body, leave out untouched
			return nil
		}
		return &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode, Cause: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
