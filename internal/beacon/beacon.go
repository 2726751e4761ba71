// Package beacon provides the fire-and-forget teardown transport.
// A sink reports only whether a payload was accepted for transmission,
// never whether the server received or processed it; the caller may
// already be going away.
package beacon

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout keeps the teardown attempt short. Teardown must not
// block; a slow server counts as a rejected transmission.
const DefaultTimeout = 2 * time.Second

// Sink is the best-effort delivery port.
type Sink interface {
	// TrySend submits payload and reports whether the transmission
	// attempt was accepted.
	TrySend(payload []byte) bool
}

// HTTPSink posts payloads to the service's flush endpoint with a short
// timeout, the closest server-side analogue to a browser beacon.
type HTTPSink struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSink creates a sink posting to url. A nil httpClient gets the
// short default timeout.
func NewHTTPSink(url, apiKey string, httpClient *http.Client) *HTTPSink {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPSink{
		url:        url,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// TrySend posts the payload. Any 2xx status counts as accepted; the
// response body is ignored by design.
func (s *HTTPSink) TrySend(payload []byte) bool {
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Warn("teardown beacon not accepted",
			"component", "beacon",
			"error", err,
		)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// NoopSink rejects every payload. Used when no flush endpoint is
// configured so the queue is always preserved for the next run.
type NoopSink struct{}

func (NoopSink) TrySend(payload []byte) bool { return false }
