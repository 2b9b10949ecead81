// internal/api/client.go
package api

import (
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

	"github.com/movatlas/movements/internal/filter"
)

// ErrMissingEndpoint is returned by every request when no base URL is
// configured. It surfaces at the point of use, not at construction.
var ErrMissingEndpoint = errors.New("content API endpoint not configured")

// NoLimit asks the API for every matching row.
const NoLimit = -1

// Config is the explicit configuration of a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to a Directus-style content API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a new API client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:      cfg.Token,
		httpClient: hc,
	}
}

// Query selects rows of a collection.
type Query struct {
	Table  string
	Fields []string
	Filter *filter.Filter
	// Limit 0 means NoLimit.
	Limit    int
	Sort     []string
	Distinct []string
}

// Values encodes the query string.
func (q Query) Values() url.Values {
	v := url.Values{}
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	if q.Filter != nil {
		v.Set("filter", q.Filter.String())
	}
	limit := q.Limit
	if limit == 0 {
		limit = NoLimit
	}
	v.Set("limit", strconv.Itoa(limit))
	if len(q.Sort) > 0 {
		v.Set("sort", strings.Join(q.Sort, ","))
	}
	if len(q.Distinct) > 0 {
		v.Set("distinct", strings.Join(q.Distinct, ","))
	}
	return v
}

// Meta is the optional metadata block of a response.
type Meta struct {
	TotalCount  *int `json:"total_count,omitempty"`
	FilterCount *int `json:"filter_count,omitempty"`
}

type itemsResponse struct {
	Data *[]map[string]any `json:"data"`
	Meta *Meta             `json:"meta,omitempty"`
}

// Items fetches rows of q.Table. A non-2xx status or a body without a
// data array is an error; there are no retries.
func (c *Client) Items(ctx context.Context, q Query) ([]map[string]any, *Meta, error) {
	if c.baseURL == "" {
		return nil, nil, ErrMissingEndpoint
	}
	if strings.TrimSpace(q.Table) == "" {
		return nil, nil, errors.New("query table is empty")
	}

	endpoint := fmt.Sprintf("%s/items/%s?%s", c.baseURL, url.PathEscape(q.Table), q.Values().Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("items request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var body itemsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, fmt.Errorf("failed to decode items response: %w", err)
	}
	if body.Data == nil {
		return nil, nil, errors.New("items response has no data array")
	}
	return *body.Data, body.Meta, nil
}

// Healthcheck checks if the content API is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	if c.baseURL == "" {
		return ErrMissingEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/server/ping", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("items returned status %d", e.Code)
	}
	return fmt.Sprintf("items returned status %d: %s", e.Code, e.Body)
}
