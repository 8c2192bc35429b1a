// Package beacon provides a sink that POSTs batches as JSON to a collector
// endpoint.
package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/strongdm/jstrack/pkg/jstrack"
)

// DefaultTimeout bounds a single POST when no client is supplied.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response body is quoted in errors.
const maxErrorBody = 512

// BeaconSinkOption configures the beacon sink.
type BeaconSinkOption func(*beaconSinkConfig)

type beaconSinkConfig struct {
	client  *http.Client
	headers http.Header
}

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(client *http.Client) BeaconSinkOption {
	return func(c *beaconSinkConfig) {
		if client != nil {
			c.client = client
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) BeaconSinkOption {
	return func(c *beaconSinkConfig) {
		c.headers.Add(key, value)
	}
}

// beaconSink posts batches to an HTTP endpoint.
type beaconSink struct {
	url     string
	client  *http.Client
	headers http.Header
}

type payload struct {
	Records []jstrack.ErrorRecord `json:"records"`
}

// NewBeaconSink creates a sink that POSTs each batch to url.
func NewBeaconSink(url string, opts ...BeaconSinkOption) jstrack.Sink {
	cfg := &beaconSinkConfig{
		client:  &http.Client{Timeout: DefaultTimeout},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &beaconSink{
		url:     url,
		client:  cfg.client,
		headers: cfg.headers,
	}
}

// Write sends the batch as one JSON document. Any non-2xx status is an error.
func (s *beaconSink) Write(ctx context.Context, records []jstrack.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}

	body, err := json.Marshal(payload{Records: records})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for key, values := range s.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("post batch: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Flush is a no-op for the beacon sink (writes are synchronous).
func (s *beaconSink) Flush(ctx context.Context) error {
	return nil
}

// Close releases idle connections held by the client.
func (s *beaconSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
