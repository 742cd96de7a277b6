// Package httpx is the JSON-over-HTTP client shared by the remote adapters.
// Requests are retried on transport failures, 429 and 5xx responses with
// exponential backoff, honouring Retry-After. Every failure is returned as a
// *core.Error classified from the response.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

// StatusError carries a non-2xx response. It is wrapped by the *core.Error
// returned from Do.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d", e.StatusCode)
}

// ResponseBody extracts the body of the failed response wrapped in err.
func ResponseBody(err error) ([]byte, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Body, true
	}
	return nil, false
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	// AuthScheme prefixes the token in the Authorization header. Defaults to "Bearer".
	AuthScheme string
	UserAgent  string
	Headers    map[string]string
	HTTPClient *http.Client
	// MaxRetries defaults to 3. A negative value disables retries.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
}

// Client performs JSON requests against a single base URL.
type Client struct {
	baseURL    string
	token      string
	scheme     string
	userAgent  string
	headers    map[string]string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:      strings.TrimSpace(cfg.Token),
		scheme:     cfg.AuthScheme,
		userAgent:  cfg.UserAgent,
		headers:    cfg.Headers,
		httpClient: cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		logger:     cfg.Logger,
	}
}

// Do sends body as JSON and decodes a 2xx response into out. op names the
// operation in returned errors.
func (c *Client) Do(ctx context.Context, op, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return core.E(core.KindValidation, op, err)
		}
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return core.E(core.KindInternal, op, err)
		}
		c.decorate(req, body != nil)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				c.logger.Debug("request failed, retrying", "op", op, "attempt", attempt+1, "error", err)
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return core.E(core.KindNetwork, op, waitErr)
				}
				continue
			}
			return core.E(core.KindNetwork, op, err)
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return core.E(core.KindNetwork, op, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return core.E(core.KindInternal, op, fmt.Errorf("invalid response: %w", err))
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			c.logger.Debug("retryable status", "op", op, "status", resp.StatusCode, "attempt", attempt+1)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return core.E(core.KindNetwork, op, waitErr)
			}
			continue
		}

		return Classify(op, resp, payload)
	}
}

func (c *Client) decorate(req *http.Request, hasBody bool) {
	if c.token != "" {
		req.Header.Set("Authorization", c.scheme+" "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
}

// Classify converts a failed response into a *core.Error. A JSON body with
// an "errorKind" field overrides the status mapping, and a 403 reporting an
// exhausted rate limit is classified as rate limited.
func Classify(op string, resp *http.Response, payload []byte) *core.Error {
	var errPayload struct {
		Message   string `json:"message"`
		Error     string `json:"error"`
		ErrorKind string `json:"errorKind"`
	}
	_ = json.Unmarshal(payload, &errPayload)

	kind := core.KindFromStatus(resp.StatusCode)
	if errPayload.ErrorKind != "" {
		kind = core.Kind(errPayload.ErrorKind)
	}
	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		kind = core.KindRateLimited
	}

	msg := errPayload.Message
	if msg == "" {
		msg = errPayload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	e := &core.Error{
		Kind:    kind,
		Op:      op,
		Message: msg,
		Err:     &StatusError{StatusCode: resp.StatusCode, Body: payload},
	}
	if kind == core.KindRateLimited {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		if e.RetryAfter == 0 {
			e.RetryAfter = parseRateLimitReset(resp.Header.Get("X-RateLimit-Reset"))
		}
	}
	return e
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

// parseRateLimitReset reads a unix-seconds reset header.
func parseRateLimitReset(header string) time.Duration {
	secs, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil {
		return 0
	}
	if delta := time.Until(time.Unix(secs, 0)); delta > 0 {
		return delta
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
