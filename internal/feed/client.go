// Package feed fetches raw telemetry from a ThingSpeak-style channel feed
// and normalizes it into typed readings.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrUnavailable is returned for network failures and non-2xx responses.
	// The scheduler retries on the next tick.
	ErrUnavailable = errors.New("telemetry feed unavailable")

	// ErrMalformedPayload is returned when the feed body is not parseable.
	ErrMalformedPayload = errors.New("malformed feed payload")
)

// RawRecord is one untyped record from the provider, keyed by the
// provider's own field names.
type RawRecord map[string]any

// ClientConfig holds the configuration for the feed Client.
type ClientConfig struct {
	Logger *slog.Logger
	// BaseURL is the provider root, e.g. https://api.thingspeak.com.
	BaseURL string
	// Channel is the provider channel identifier.
	Channel string
	// APIKey is the optional read key appended to requests.
	APIKey string
	// Results is the number of records requested per poll.
	Results int
	// Timeout bounds each fetch; defaults to 10s.
	Timeout time.Duration
}

// Client fetches raw records from the telemetry provider.
type Client struct {
	logger  *slog.Logger
	httpc   *http.Client
	feedURL string
}

// feedEnvelope mirrors the provider response: channel metadata we ignore
// plus the array of feed entries.
type feedEnvelope struct {
	Feeds []RawRecord `json:"feeds"`
}

// NewClient creates a feed client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("feed client config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("feed base URL cannot be empty")
	}
	if cfg.Channel == "" {
		return nil, errors.New("feed channel cannot be empty")
	}

	results := cfg.Results
	if results <= 0 {
		results = 1
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	q := url.Values{}
	q.Set("results", fmt.Sprintf("%d", results))
	if cfg.APIKey != "" {
		q.Set("api_key", cfg.APIKey)
	}

	return &Client{
		logger:  cfg.Logger,
		httpc:   &http.Client{Timeout: timeout},
		feedURL: fmt.Sprintf("%s/channels/%s/feeds.json?%s", cfg.BaseURL, cfg.Channel, q.Encode()),
	}, nil
}

// Fetch retrieves the latest raw records from the provider. An empty feed
// array is a valid result meaning no movement was reported.
func (c *Client) Fetch(ctx context.Context) ([]RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var envelope feedEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	c.logger.Debug("feed fetched", "records", len(envelope.Feeds))
	return envelope.Feeds, nil
}
