package backend

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

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the backend address used when none is configured.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout is the timeout for non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the sustained request rate (requests per second).
	DefaultRateLimit = 20.0

	// maxErrorBody caps how much of an error response is kept in APIError.
	maxErrorBody = 512
)

const (
	pathSchema        = "/api/schema"
	pathNeighbors     = "/api/neighbors"
	pathRelationships = "/api/relationships"
	pathClasses       = "/api/classes"
	pathChat          = "/api/chat"
	pathConversations = "/api/conversations"
)

// Client is a rate-limited, circuit-broken HTTP client for the graph backend.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	baseURL      string
	token        string
	logger       *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the backend base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets the client used for non-streaming requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the timeout for non-streaming requests.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRateLimit sets the sustained request rate. Zero or less disables limiting.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// BreakerConfig configures the circuit breaker that guards the backend.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the breaker configuration used by NewClient.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          20 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// WithBreaker replaces the default circuit breaker configuration.
func WithBreaker(cfg BreakerConfig) ClientOption {
	return func(c *Client) {
		c.breaker = newBreaker(cfg, c)
	}
}

// NewClient creates a backend client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
		limiter:      rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		baseURL:      DefaultBaseURL,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = newBreaker(DefaultBreakerConfig(), c)
	}
	c.streamClient.Transport = c.httpClient.Transport
	return c
}

func newBreaker(cfg BreakerConfig, c *Client) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Only transport failures count against the backend; a 404 or a
		// validation error is a healthy answer.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransport(err)
		},
	})
}

// FetchSchema returns the schema graph.
func (c *Client) FetchSchema(ctx context.Context) (*Schema, error) {
	var schema Schema
	if err := c.doJSON(ctx, http.MethodGet, pathSchema, nil, &schema); err != nil {
		return nil, fmt.Errorf("fetching schema: %w", err)
	}
	return &schema, nil
}

// FetchNeighbors returns the entities within hops of name.
func (c *Client) FetchNeighbors(ctx context.Context, name string, hops int) ([]Neighbor, error) {
	q := url.Values{}
	q.Set("node", name)
	q.Set("hops", strconv.Itoa(hops))

	var neighbors []Neighbor
	if err := c.doJSON(ctx, http.MethodGet, pathNeighbors+"?"+q.Encode(), nil, &neighbors); err != nil {
		return nil, fmt.Errorf("fetching neighbors of %s: %w", name, err)
	}
	return neighbors, nil
}

// CreateRelationship adds a relationship type between two schema classes.
func (c *Client) CreateRelationship(ctx context.Context, rel Relationship) error {
	if err := ValidateNew(rel); err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodPost, pathRelationships, rel, nil); err != nil {
		return fmt.Errorf("creating relationship %s-[%s]->%s: %w", rel.Source, rel.Type, rel.Target, err)
	}
	return nil
}

// DeleteRelationship removes a relationship type between two schema classes.
func (c *Client) DeleteRelationship(ctx context.Context, rel Relationship) error {
	if err := Validate(rel); err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodDelete, pathRelationships, rel, nil); err != nil {
		return fmt.Errorf("deleting relationship %s-[%s]->%s: %w", rel.Source, rel.Type, rel.Target, err)
	}
	return nil
}

// CreateClass adds a schema class.
func (c *Client) CreateClass(ctx context.Context, spec ClassSpec) error {
	if err := Validate(spec); err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodPost, pathClasses, spec, nil); err != nil {
		return fmt.Errorf("creating class %s: %w", spec.Name, err)
	}
	return nil
}

// UpdateClass replaces a schema class definition.
func (c *Client) UpdateClass(ctx context.Context, name string, spec ClassSpec) error {
	if err := Validate(spec); err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodPut, pathClasses+"/"+url.PathEscape(name), spec, nil); err != nil {
		return fmt.Errorf("updating class %s: %w", name, err)
	}
	return nil
}

// DeleteClass removes a schema class.
func (c *Client) DeleteClass(ctx context.Context, name string) error {
	if err := c.doJSON(ctx, http.MethodDelete, pathClasses+"/"+url.PathEscape(name), nil, nil); err != nil {
		return fmt.Errorf("deleting class %s: %w", name, err)
	}
	return nil
}

// chatRequest is the body of a chat stream request.
type chatRequest struct {
	Query          string `json:"query"`
	ConversationID *int64 `json:"conversation_id,omitempty"`
}

// OpenChatStream starts a streamed reply. Cancelling ctx aborts the read.
func (c *Client) OpenChatStream(ctx context.Context, query string, conversationID *int64) (io.ReadCloser, error) {
	body, err := json.Marshal(chatRequest{Query: query, ConversationID: conversationID})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	result, err := c.execute(ctx, func() (any, error) {
		req, err := c.newRequest(ctx, http.MethodPost, pathChat, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/x-ndjson, text/event-stream")

		resp, err := c.streamClient.Do(req)
		if err != nil {
			return nil, transportError(err)
		}
		if err := checkResponse(resp, pathChat); err != nil {
			resp.Body.Close()
			return nil, err
		}
		return resp.Body, nil
	})
	if err != nil {
		return nil, fmt.Errorf("opening chat stream: %w", err)
	}
	return result.(io.ReadCloser), nil
}

// titleResponse is the body of a title generation answer.
type titleResponse struct {
	Title string `json:"title"`
}

// GenerateTitle asks the backend to title a conversation.
func (c *Client) GenerateTitle(ctx context.Context, conversationID int64) (string, error) {
	var resp titleResponse
	path := pathConversations + "/" + formatConversationID(conversationID) + "/title"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", fmt.Errorf("generating title for conversation %d: %w", conversationID, err)
	}
	return resp.Title, nil
}

// doJSON sends an optional JSON body and decodes an optional JSON answer.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	_, err := c.execute(ctx, func() (any, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := c.newRequest(ctx, method, path, body)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, transportError(err)
		}
		defer resp.Body.Close()

		c.logger.Debug("backend request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)))

		if err := checkResponse(resp, path); err != nil {
			return nil, err
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		return nil, nil
	})
	return err
}

// execute waits for the rate limiter and runs fn through the circuit breaker.
func (c *Client) execute(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	result, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return result, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// transportError wraps a network failure. Context cancellation is passed
// through unchanged so callers can tell it apart from an unreachable backend.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// checkResponse returns an APIError for non-2xx answers.
func checkResponse(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(msg)),
		Path:       path,
	}
}
