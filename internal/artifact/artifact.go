// Package artifact reads the versioned agent-configuration artifacts and the
// append-only deploy-event log that records when each version went live.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dshills/calltriage/internal/schema"
)

// Artifact is the current content and version of one configuration artifact.
type Artifact struct {
	Key     schema.ArtifactKey `json:"key"`
	Version int                `json:"version"`
	Content string             `json:"content"`
}

// Store fetches artifacts by key. A nil Artifact with a nil error means the
// store has no content for that key, which is a valid response.
type Store interface {
	GetArtifact(ctx context.Context, key schema.ArtifactKey) (*Artifact, error)
}

// DeployLog lists deploy events for one artifact key.
type DeployLog interface {
	EventsFor(ctx context.Context, key schema.ArtifactKey) ([]schema.DeployEvent, error)
}

// Client implements Store and DeployLog over the artifact service HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds an artifact service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// GetArtifact fetches the current content and version for a key.
func (c *Client) GetArtifact(ctx context.Context, key schema.ArtifactKey) (*Artifact, error) {
	var a Artifact
	found, err := c.getJSON(ctx, fmt.Sprintf("%s/api/artifacts/%s", c.baseURL, key), &a)
	if err != nil || !found {
		return nil, err
	}
	a.Key = key
	return &a, nil
}

// EventsFor fetches the deploy events recorded for a key, oldest first.
func (c *Client) EventsFor(ctx context.Context, key schema.ArtifactKey) ([]schema.DeployEvent, error) {
	var events []schema.DeployEvent
	found, err := c.getJSON(ctx, fmt.Sprintf("%s/api/artifacts/%s/deploys", c.baseURL, key), &events)
	if err != nil || !found {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].DeployedAt.Before(events[j].DeployedAt)
	})
	return events, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("artifact: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("artifact: %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("artifact: %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("artifact: read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("artifact: decode response: %w", err)
	}
	return true, nil
}

// LatestAt finds the most recent deploy event at or before t. An event whose
// timestamp equals t matches. No matching event returns nil, never a zero
// correlation.
func LatestAt(events []schema.DeployEvent, t time.Time) *schema.DeployCorrelation {
	var best *schema.DeployEvent
	for i := range events {
		e := events[i]
		if e.DeployedAt.After(t) {
			continue
		}
		if best == nil || e.DeployedAt.After(best.DeployedAt) {
			best = &events[i]
		}
	}
	if best == nil {
		return nil
	}
	return &schema.DeployCorrelation{
		ArtifactKey:  best.ArtifactKey,
		Version:      best.Version,
		DeployedAt:   best.DeployedAt,
		DeltaMinutes: int(t.Sub(best.DeployedAt) / time.Minute),
	}
}
