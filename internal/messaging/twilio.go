// Package messaging sends WhatsApp messages and fetches inbound media through
// the Twilio REST API.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/circuitbreaker"
	"github.com/jkindrix/leadconcierge/internal/config"
	apperrors "github.com/jkindrix/leadconcierge/internal/errors"
	"github.com/jkindrix/leadconcierge/internal/logging"
	"github.com/jkindrix/leadconcierge/internal/metrics"
	"github.com/jkindrix/leadconcierge/internal/ratelimit"
)

const (
	// DefaultBaseURL is the Twilio REST endpoint.
	DefaultBaseURL = "https://api.twilio.com"

	// DefaultTimeout is the HTTP client timeout.
	DefaultTimeout = 20 * time.Second

	apiVersion = "2010-04-01"

	// maxMediaBytes caps audio downloads.
	maxMediaBytes = 16 << 20
)

// Sender delivers one outbound text.
type Sender interface {
	Send(ctx context.Context, to, body string) (*Message, error)
}

// Message is the provider's view of a sent message.
type Message struct {
	SID          string `json:"sid"`
	To           string `json:"to"`
	From         string `json:"from"`
	Body         string `json:"body"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Delivered reports whether the provider confirmed delivery or reading.
func (m *Message) Delivered() bool {
	return m.Status == "delivered" || m.Status == "read"
}

// APIError is an error response from Twilio.
type APIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio API error %d: %s", e.Code, e.Message)
}

// Media is a downloaded inbound attachment.
type Media struct {
	ContentType string
	Data        []byte
}

// Client is the Twilio REST client.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client

	circuitBreaker *circuitbreaker.CircuitBreaker
	limiter        *ratelimit.Limiter
	backoff        *ratelimit.Backoff
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// New creates a Twilio client.
func New(cfg *config.TwilioConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		baseURL:    baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		circuitBreaker: circuitbreaker.New("twilio", circuitbreaker.DefaultConfig(), logger,
			circuitbreaker.WithStateListener(func(name string, _, to circuitbreaker.State) {
				m.SetCircuitBreakerState(name, int(to))
			}),
		),
		limiter: ratelimit.NewLimiter(cfg.RatePerSecond, cfg.Burst),
		backoff: ratelimit.NewBackoff(nil, logger),
		metrics: m,
		logger:  logger,
	}
}

// From returns the sender address.
func (c *Client) From() string { return c.from }

// Send creates an outbound WhatsApp message.
func (c *Client) Send(ctx context.Context, to, body string) (*Message, error) {
	if _, err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.MessagingError("send", err)
	}

	form := url.Values{}
	form.Set("From", c.from)
	form.Set("To", to)
	form.Set("Body", body)

	msg, err := ratelimit.Do(ctx, c.backoff, func(ctx context.Context) (*Message, error) {
		var out Message
		err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
			return c.doRequest(ctx, http.MethodPost, c.accountPath("Messages.json"), form, &out)
		})
		return &out, err
	})
	c.metrics.RecordOutbound(err)
	if err != nil {
		c.logger.Error("outbound message failed", logging.Phone("to", to), zap.Error(err))
		return nil, apperrors.MessagingError("send", err)
	}

	c.logger.Debug("outbound message sent",
		logging.Phone("to", to),
		zap.String("sid", msg.SID),
		zap.String("status", msg.Status),
	)
	return msg, nil
}

// Status fetches the current state of a sent message.
func (c *Client) Status(ctx context.Context, sid string) (*Message, error) {
	var out Message
	err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.doRequest(ctx, http.MethodGet, c.accountPath("Messages/"+url.PathEscape(sid)+".json"), nil, &out)
	})
	if err != nil {
		return nil, apperrors.MessagingError("status", err)
	}
	return &out, nil
}

// FetchMedia downloads an inbound attachment. Twilio media URLs require the
// account credentials.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string) (*Media, error) {
	var media Media
	err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.SetBasicAuth(c.accountSID, c.authToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("media fetch failed with status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
		if err != nil {
			return fmt.Errorf("failed to read media: %w", err)
		}
		media = Media{ContentType: resp.Header.Get("Content-Type"), Data: data}
		return nil
	})
	if err != nil {
		return nil, apperrors.MessagingError("fetch_media", err)
	}
	return &media, nil
}

func (c *Client) accountPath(resource string) string {
	return fmt.Sprintf("/%s/Accounts/%s/%s", apiVersion, url.PathEscape(c.accountSID), resource)
}

// doRequest performs one HTTP request. Error statuses come back as
// *ratelimit.RetryableError wrapping the decoded *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, form url.Values, result any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return &ratelimit.RetryableError{
			Err:        apiErr,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// IsCircuitOpen reports whether Twilio calls are currently short-circuited.
func (c *Client) IsCircuitOpen() bool {
	return c.circuitBreaker.IsOpen()
}
