// Package remote implements the HTTP client for the categorization
// service, the external collaborator owning the authoritative
// partition.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/signalworks/intake/internal/types"
)

// DefaultTimeout bounds each request. The sync queue owns the retry
// policy, so the client never retries internally; a hung call is cut
// off here and simply delays the next scheduled pass.
const DefaultTimeout = 30 * time.Second

// Client talks to the categorization service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL. A nil
// httpClient gets the default timeout.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: http %d", e.StatusCode)
	}
	return fmt.Sprintf("remote: http %d: %s", e.StatusCode, e.Message)
}

// Health checks service reachability. Used by the connectivity probe.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

type partitionResponse struct {
	Sets types.CategorizedIDSet `json:"sets"`
}

// ListCategorizedIDs returns the authoritative partition for scope.
func (c *Client) ListCategorizedIDs(ctx context.Context, scope string) (types.CategorizedIDSet, error) {
	var out partitionResponse
	path := fmt.Sprintf("/api/v1/boards/%s/categories", url.PathEscape(scope))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Sets == nil {
		out.Sets = types.EmptySet()
	}
	return out.Sets, nil
}

type setCategoryRequest struct {
	Category types.Category `json:"category"`
}

// SetCategory overwrites the record's category. The operation is an
// idempotent overwrite: replaying it is safe, last write wins.
func (c *Client) SetCategory(ctx context.Context, id types.RecordID, category types.Category) error {
	path := fmt.Sprintf("/api/v1/records/%d/category", id)
	return c.doJSON(ctx, http.MethodPut, path, setCategoryRequest{Category: category}, nil)
}

type recordsResponse struct {
	Records []types.Record `json:"records"`
}

// ListRecords returns up to limit full records for the category,
// ordered by server ranking, for the lookahead buffers.
func (c *Client) ListRecords(ctx context.Context, scope string, category types.Category, limit int) ([]types.Record, error) {
	q := url.Values{}
	q.Set("category", string(category))
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := fmt.Sprintf("/api/v1/boards/%s/records?%s", url.PathEscape(scope), q.Encode())

	var out recordsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errPayload struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return &StatusError{StatusCode: resp.StatusCode, Message: errPayload.Detail}
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}
