// Package mailer wraps the transactional email provider's HTTP API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNoAPIKey is returned when sending is attempted without credentials.
var ErrNoAPIKey = errors.New("mailer: api key not configured")

// Config holds provider settings.
type Config struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults pointing at the hosted provider.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://api.resend.com",
		Timeout: 10 * time.Second,
	}
}

// Message is one outbound email.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Client talks to the email provider.
type Client struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		from:    config.From,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Enabled reports whether the provider credential is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// From returns the configured sender address.
func (c *Client) From() string {
	return c.from
}

// Send delivers one email. The provider rejects are returned as errors
// with the response status and body embedded.
func (c *Client) Send(ctx context.Context, msg *Message) error {
	if !c.Enabled() {
		return ErrNoAPIKey
	}
	if msg.From == "" {
		msg.From = c.from
	}

	bodyBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	url := fmt.Sprintf("%s/emails", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("email provider returned %d: %s", resp.StatusCode, string(raw))
	}

	c.logger.Debugf("mailer: sent email to %s", msg.To)
	return nil
}
