package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/zmcp/bc-mcp/internal/constants"
	"github.com/zmcp/bc-mcp/internal/debug"
)

// TokenProvider supplies a bearer token for each attempt
type TokenProvider interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider
type TokenProviderFunc func(ctx context.Context) (string, error)

// GetAccessToken implements TokenProvider
func (f TokenProviderFunc) GetAccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// Config holds the request-level settings of a Client
type Config struct {
	BaseURL        string
	MaxRetries     int
	RequestTimeout time.Duration
	MaxBackoff     time.Duration
	RateLimit      RateLimiterOptions
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request tracing
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBackoff replaces the retry backoff calculation
func WithBackoff(fn func(attempt int, max time.Duration) time.Duration) Option {
	return func(c *Client) { c.backoff = fn }
}

// WithRateLimiter shares a rate limiter between clients
func WithRateLimiter(limiter *RateLimiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// Client talks to the Business Central API. Every attempt runs inside the
// rate limiter and fetches a fresh token there.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenProvider
	limiter        *RateLimiter
	maxRetries     int
	requestTimeout time.Duration
	maxBackoff     time.Duration
	backoff        func(attempt int, max time.Duration) time.Duration
	logger         zerolog.Logger

	mu        sync.RWMutex // guards companyID
	companyID string
}

// New creates a Client for the given API root
func New(cfg Config, tokens TokenProvider, opts ...Option) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = constants.DefaultRequestTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     &http.Client{},
		tokens:         tokens,
		maxRetries:     cfg.MaxRetries,
		requestTimeout: cfg.RequestTimeout,
		maxBackoff:     cfg.MaxBackoff,
		backoff:        CalculateBackoff,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(cfg.RateLimit)
	}
	return c
}

// BaseURL returns the API root without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Limiter returns the rate limiter guarding this client
func (c *Client) Limiter() *RateLimiter {
	return c.limiter
}

// SetCompany scopes subsequent entity operations to a company
func (c *Client) SetCompany(companyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.companyID = companyID
}

// CompanyID returns the selected company, or "" when none is selected
func (c *Client) CompanyID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.companyID
}

// CompanyPath returns "companies({id})" for the selected company
func (c *Client) CompanyPath() (string, error) {
	id := c.CompanyID()
	if id == "" {
		return "", &ConfigError{Reason: "company not selected", Err: ErrNoCompany}
	}
	return fmt.Sprintf("%s(%s)", constants.CompaniesEndpoint, id), nil
}

// EntityPath joins segments under the selected company's path
func (c *Client) EntityPath(segments ...string) (string, error) {
	companyPath, err := c.CompanyPath()
	if err != nil {
		return "", err
	}
	parts := append([]string{companyPath}, segments...)
	return strings.Join(parts, "/"), nil
}

// buildURL appends path and query to the API root
func (c *Client) buildURL(path string, query *QueryBuilder) string {
	return c.baseURL + "/" + strings.TrimPrefix(path, "/") + wireSafeQuery(query.Build())
}

// List fetches one page of a collection
func (c *Client) List(ctx context.Context, path string, query *QueryBuilder) (*ListResult, error) {
	resp, err := c.doRequest(ctx, constants.GET, c.buildURL(path, query), nil, nil)
	if err != nil {
		return nil, err
	}
	return parseListResponse(resp.body)
}

// ListNextPage follows an @odata.nextLink continuation URL
func (c *Client) ListNextPage(ctx context.Context, nextLink string) (*ListResult, error) {
	if !strings.HasPrefix(nextLink, c.baseURL+"/") {
		return nil, errors.Newf("next link %q is not under the API root", nextLink)
	}
	resp, err := c.doRequest(ctx, constants.GET, nextLink, nil, nil)
	if err != nil {
		return nil, err
	}
	return parseListResponse(resp.body)
}

// Get fetches a single entity
func (c *Client) Get(ctx context.Context, path string, query *QueryBuilder) (map[string]interface{}, error) {
	resp, err := c.doRequest(ctx, constants.GET, c.buildURL(path, query), nil, nil)
	if err != nil {
		return nil, err
	}
	return parseEntityResponse(resp.body)
}

// Create posts a new entity and returns the created record
func (c *Client) Create(ctx context.Context, path string, body map[string]interface{}) (map[string]interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request body")
	}
	headers := map[string]string{constants.ContentType: constants.ContentTypeJSON}
	resp, err := c.doRequest(ctx, constants.POST, c.buildURL(path, nil), payload, headers)
	if err != nil {
		return nil, err
	}
	return parseEntityResponse(resp.body)
}

// Update patches an entity. A non-empty etag is sent as If-Match.
func (c *Client) Update(ctx context.Context, path string, body map[string]interface{}, etag string) (map[string]interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request body")
	}
	headers := map[string]string{constants.ContentType: constants.ContentTypeJSON}
	if etag != "" {
		headers[constants.IfMatch] = etag
	}
	resp, err := c.doRequest(ctx, constants.PATCH, c.buildURL(path, nil), payload, headers)
	if err != nil {
		return nil, err
	}
	return parseEntityResponse(resp.body)
}

// Delete removes an entity. A non-empty etag is sent as If-Match.
func (c *Client) Delete(ctx context.Context, path string, etag string) error {
	var headers map[string]string
	if etag != "" {
		headers = map[string]string{constants.IfMatch: etag}
	}
	_, err := c.doRequest(ctx, constants.DELETE, c.buildURL(path, nil), nil, headers)
	return err
}

// Action invokes a bound action. body may be nil.
func (c *Client) Action(ctx context.Context, path string, body map[string]interface{}) (map[string]interface{}, error) {
	var payload []byte
	var headers map[string]string
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, errors.Wrap(err, "failed to encode request body")
		}
		headers = map[string]string{constants.ContentType: constants.ContentTypeJSON}
	}
	resp, err := c.doRequest(ctx, constants.POST, c.buildURL(path, nil), payload, headers)
	if err != nil {
		return nil, err
	}
	return parseEntityResponse(resp.body)
}

// Count returns the number of records matching filter (all when empty)
func (c *Client) Count(ctx context.Context, path string, filter string) (int, error) {
	query := NewQuery().Top(0).Count()
	if filter != "" {
		query.Filter(filter)
	}
	result, err := c.List(ctx, path, query)
	if err != nil {
		return 0, err
	}
	if result.Count == nil {
		return 0, errors.New("response did not include @odata.count")
	}
	return *result.Count, nil
}

// ListCompanies lists the companies visible to the signed-in user. It is the
// only entity operation that works before a company is selected.
func (c *Client) ListCompanies(ctx context.Context) ([]map[string]interface{}, error) {
	result, err := c.List(ctx, constants.CompaniesEndpoint, NewQuery().Select("id", "name", "displayName"))
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

// GetMetadata fetches the raw EDMX service document
func (c *Client) GetMetadata(ctx context.Context) ([]byte, error) {
	headers := map[string]string{constants.Accept: constants.ContentTypeXML}
	resp, err := c.doRequest(ctx, constants.GET, c.buildURL(constants.MetadataEndpoint, nil), nil, headers)
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// doRequest runs the retry loop. Attempts are maxRetries+1. Classified API
// errors are retried while retryable; anything else (token acquisition,
// network, timeout) is returned at once.
func (c *Client) doRequest(ctx context.Context, method, fullURL string, body []byte, headers map[string]string) (*response, error) {
	var lastErr *APIError

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt-1, c.maxBackoff, lastErr.RetryAfter, c.backoff)
			c.logger.Debug().
				Int("attempt", attempt).
				Int("max_retries", c.maxRetries).
				Int("status", lastErr.StatusCode).
				Dur("delay", delay).
				Msg("retrying request")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := Do(ctx, c.limiter, func(ctx context.Context) (*response, error) {
			return c.attempt(ctx, method, fullURL, body, headers)
		})
		if err != nil {
			return nil, err
		}

		if resp.status == http.StatusNoContent || (resp.status >= 200 && resp.status < 300) {
			return resp, nil
		}

		apiErr := ClassifyError(resp.status, decodeErrorBody(resp.body, http.StatusText(resp.status)))
		if apiErr.Retryable {
			apiErr.RetryAfter = parseRetryAfter(resp.header.Get(constants.RetryAfter), time.Now())
		}
		c.logger.Debug().
			Str("method", method).
			Int("status", resp.status).
			Str("code", apiErr.Code).
			Bool("retryable", apiErr.Retryable).
			Msg("request failed")

		if !apiErr.Retryable || attempt == c.maxRetries {
			return nil, apiErr
		}
		lastErr = apiErr
	}

	return nil, errors.New("retry loop exited without a result")
}

// attempt performs a single HTTP exchange with a fresh token
func (c *Client) attempt(ctx context.Context, method, fullURL string, body []byte, headers map[string]string) (*response, error) {
	token, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire access token")
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, fullURL, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	req.Header.Set(constants.UserAgent, constants.DefaultUserAgent)
	req.Header.Set(constants.Accept, constants.ContentTypeJSON)
	req.Header.Set(constants.Authorization, "Bearer "+token)
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", debug.MaskURL(fullURL)).
		Str("authorization", debug.MaskHeader(constants.Authorization, req.Header.Get(constants.Authorization))).
		Msg("sending request")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s request failed", method)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	return &response{status: httpResp.StatusCode, header: httpResp.Header, body: respBody}, nil
}
