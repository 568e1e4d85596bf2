// Package truth queries the external system of record used to verify claimed
// records. Only read access is used, and only against production: claims about
// real bookings cannot be checked anywhere else.
package truth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrAuthFailed aborts the verification stage; it is never masked as a
// record-level failure.
var ErrAuthFailed = errors.New("truth: authentication failed")

// Record is a flattened view of one external record: scalar attributes only,
// keys lowercased at the boundary so lookups are spelling-tolerant.
type Record map[string]string

// Source is the lookup interface the Fulfillment Verifier consumes.
// found=false with a nil error means the system answered "not found".
type Source interface {
	LookupRecord(ctx context.Context, externalID string) (Record, bool, error)
}

// Client is the HTTP implementation of Source.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a production source-of-truth client. Any environment other
// than production is refused outright.
func NewClient(baseURL, apiKey, environment string) (*Client, error) {
	if environment != "production" {
		return nil, fmt.Errorf("truth: refusing non-production environment %q", environment)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// LookupRecord fetches one record by its external identifier.
func (c *Client) LookupRecord(ctx context.Context, externalID string) (Record, bool, error) {
	url := fmt.Sprintf("%s/api/records/%s", c.baseURL, externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("truth: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("truth: lookup %s: %w", externalID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, ErrAuthFailed
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("truth: lookup %s: unexpected status %d", externalID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("truth: read response: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false, fmt.Errorf("truth: decode record %s: %w", externalID, err)
	}
	return Flatten(raw), true, nil
}

// Flatten lowercases keys and keeps scalar attributes, dropping nested
// structures the verifier never compares against.
func Flatten(raw map[string]any) Record {
	rec := make(Record, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			rec[strings.ToLower(k)] = t
		case float64:
			rec[strings.ToLower(k)] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			rec[strings.ToLower(k)] = strconv.FormatBool(t)
		}
	}
	return rec
}
