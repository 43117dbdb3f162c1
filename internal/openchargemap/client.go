// Package openchargemap reads charge-point records from the Open Charge Map
// POI endpoint, one region (ISO country code) at a time.
package openchargemap

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
	"time"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/pkg/logger"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the catalog endpoint settings.
type Config struct {
	BaseURL    string
	APIKey     string
	MaxResults int
	UserAgent  string
	Timeout    time.Duration
}

// Client is the Open Charge Map API client.
type Client struct {
	baseURL    string
	apiKey     string
	maxResults int
	userAgent  string
	httpClient HTTPDoer
	log        *logger.Logger
}

// NewClient creates a new catalog client. A single request per region is
// made; failures are not retried here.
func NewClient(cfg Config) *Client {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 50000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "POI-Importer/1.0"
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.New("OpenChargeMap"),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client HTTPDoer) {
	c.httpClient = client
}

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(l *logger.Logger) {
	c.log = l
}

// Fetch returns every element of the catalog's response array for region,
// in catalog order and byte for byte. Elements are not decoded here, so a
// record with an unexpected shape fails only its own job. A response body
// that is not a JSON array yields an empty slice. Transport failures,
// timeouts and non-2xx statuses are returned as *domain.FetchError.
func (c *Client) Fetch(ctx context.Context, region string) ([]json.RawMessage, error) {
	c.log.Info("fetching POIs", "region", region)

	body, err := c.get(ctx, region)
	if err != nil {
		c.log.Error("fetch failed", "region", region, "error", err)
		return nil, &domain.FetchError{Region: region, Err: err}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		c.log.Warn("no data returned", "region", region)
		return []json.RawMessage{}, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		// Only a truncated or non-JSON body gets here; element shapes are
		// never checked.
		c.log.Error("failed to decode catalog response", "region", region, "error", err)
		return nil, &domain.FetchError{Region: region, Err: fmt.Errorf("decode response: %w", err)}
	}
	if records == nil {
		records = []json.RawMessage{}
	}

	c.log.Info("fetched POIs", "region", region, "count", len(records))
	return records, nil
}

func (c *Client) get(ctx context.Context, region string) ([]byte, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("countrycode", region)
	params.Set("maxresults", strconv.Itoa(c.maxResults))
	params.Set("compact", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = logger.RedactURLKeys(ue.URL)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 256))
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
