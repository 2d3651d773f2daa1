package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/crawlytics/governor/pkg/errors"
	"github.com/crawlytics/governor/pkg/logging"
)

// Body substrings that mark a challenge page. Checked only on 403/429/503
// responses, case-insensitively.
var blockMarkers = []string{
	"captcha",
	"access denied",
	"unusual traffic",
	"are you a robot",
	"cloudflare",
}

// Config holds the HTTP client configuration.
type Config struct {
	Timeout         time.Duration // Whole-request deadline
	IdleConnTimeout time.Duration
	MaxBodyBytes    int64 // Cap on how much of a response body is read
	UserAgent       string
}

// DefaultConfig returns the client configuration used by the prober when
// nothing else is specified.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		MaxBodyBytes:    10 << 20, // 10MB
		UserAgent:       "governor-probe/1.0",
	}
}

// Validate checks the configuration for reasonable values
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("Timeout must be positive")
	}
	if c.IdleConnTimeout <= 0 {
		return errors.New("IdleConnTimeout must be positive")
	}
	if c.MaxBodyBytes < 1 {
		return errors.New("MaxBodyBytes must be >= 1")
	}
	return nil
}

// Response is a fetched page with the fields the governor cares about.
type Response struct {
	StatusCode int
	Body       []byte
	Bytes      int64
	Duration   time.Duration
}

// Client wraps net/http and maps every non-success outcome onto the
// governor's error taxonomy, so retry policies can classify it.
type Client struct {
	cfg    Config
	http   *http.Client
	logger logging.Logger
}

// New builds a client from cfg.
func New(cfg Config, logger logging.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				IdleConnTimeout: cfg.IdleConnTimeout,
				DialContext: (&net.Dialer{
					Timeout:   cfg.Timeout / 2,
					KeepAlive: cfg.IdleConnTimeout,
				}).DialContext,
				TLSHandshakeTimeout:   cfg.Timeout / 2,
				ResponseHeaderTimeout: cfg.Timeout / 2,
			},
		},
		logger: logger,
	}, nil
}

// Fetch GETs url and classifies the outcome. The body read is capped at
// MaxBodyBytes; the remainder is discarded.
func (c *Client) Fetch(ctx context.Context, url string) (*Response, error) {
	if url == "" {
		return nil, apperrors.NewValidationError("empty url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		e := apperrors.NewValidationError(fmt.Sprintf("invalid request: %v", err))
		e.URL = url
		return nil, e
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		e := apperrors.NewNetworkError(fmt.Sprintf("request failed: %v", err), 0, url)
		e.Err = err
		return nil, e
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "url", url, "error", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		e := apperrors.NewNetworkError(fmt.Sprintf("reading body failed: %v", err), resp.StatusCode, url)
		e.Err = err
		return nil, e
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Bytes:      int64(len(body)),
		Duration:   time.Since(start),
	}

	if err := c.classify(resp, body, url); err != nil {
		return nil, err
	}
	return result, nil
}

// classify maps a non-2xx response (or a challenge page) onto the error
// taxonomy: 429 is rate limiting, 403/451 and challenge markers mean the
// remote has identified us, 5xx is transient, remaining 4xx is our fault.
func (c *Client) classify(resp *http.Response, body []byte, url string) error {
	status := resp.StatusCode

	if blocked, marker := challengeMarker(status, body); blocked {
		e := apperrors.NewBlockedError(fmt.Sprintf("challenge page detected (%s)", marker), marker)
		e.StatusCode = status
		e.URL = url
		return e
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		e := apperrors.NewRateLimitError("remote is throttling us", retryAfterSeconds(resp))
		e.URL = url
		return e
	case status == http.StatusForbidden || status == http.StatusUnavailableForLegalReasons:
		e := apperrors.NewBlockedError(fmt.Sprintf("remote refused with status %d", status), "status")
		e.StatusCode = status
		e.URL = url
		return e
	case status >= 500:
		return apperrors.NewNetworkError(fmt.Sprintf("server error %d", status), status, url)
	default:
		e := apperrors.NewValidationError(fmt.Sprintf("unexpected status %d", status))
		e.StatusCode = status
		e.URL = url
		return e
	}
}

func challengeMarker(status int, body []byte) (bool, string) {
	if status != http.StatusForbidden &&
		status != http.StatusTooManyRequests &&
		status != http.StatusServiceUnavailable {
		return false, ""
	}
	lower := strings.ToLower(string(body))
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return true, marker
		}
	}
	return false, ""
}

// retryAfterSeconds parses the Retry-After header, zero when absent or not
// a plain second count.
func retryAfterSeconds(resp *http.Response) int {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}
