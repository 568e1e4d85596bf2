// Package trace fetches a session's transcript and recorded tool invocations
// from the trace store, and owns the policies for deciding which observations
// are real tool calls and which carry an error signal.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dshills/calltriage/internal/schema"
)

// ErrSessionNotFound is returned when the trace store has no record of the
// requested session. Callers must surface this as a hard failure.
var ErrSessionNotFound = errors.New("trace: session not found")

// ErrAuthFailed is returned when the trace store rejects the configured
// credentials. Never masked as an empty session.
var ErrAuthFailed = errors.New("trace: authentication failed")

// SessionTrace is everything the pipeline needs about one completed call.
type SessionTrace struct {
	SessionID    string                    `json:"session_id"`
	Turns        []schema.ConversationTurn `json:"turns"`
	Observations []schema.Observation      `json:"observations"`
}

// Source provides session traces. The HTTP client below is the production
// implementation; tests substitute their own.
type Source interface {
	Fetch(ctx context.Context, sessionID string) (*SessionTrace, error)
}

// Client fetches traces over HTTP with basic auth and retries 5xx responses
// with exponential backoff.
type Client struct {
	baseURL    string
	publicKey  string
	secretKey  string
	httpClient *http.Client
}

// NewClient builds a trace client for the given store.
func NewClient(baseURL, publicKey, secretKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		publicKey:  publicKey,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch retrieves the transcript and observation list for one session.
// Observations are filtered down to real tool calls before being returned.
func (c *Client) Fetch(ctx context.Context, sessionID string) (*SessionTrace, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	url := fmt.Sprintf("%s/api/public/sessions/%s/trace", c.baseURL, sessionID)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.publicKey, c.secretKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrSessionNotFound)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(ErrAuthFailed)
		case resp.StatusCode >= 500:
			return fmt.Errorf("trace: server error %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("trace: unexpected status %d", resp.StatusCode))
		}

		body, err = io.ReadAll(resp.Body)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("trace: fetch session %s: %w", sessionID, err)
	}

	var st SessionTrace
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("trace: decode session %s: %w", sessionID, err)
	}
	st.SessionID = sessionID
	st.Observations = FilterToolCalls(st.Observations)
	return &st, nil
}

// internalSpans are framework plumbing recorded alongside real tool calls.
// They never represent agent actions and are excluded before analysis.
var internalSpans = []string{
	"RunnableMap",
	"RunnableLambda",
	"RunnableSequence",
	"RunnableParallel",
	"RunnableBranch",
	"RunnablePassthrough",
}

// knownTools is the agent's actual tool inventory. Observations with these
// names are always kept even when they lack a tool/api marker.
var knownTools = map[string]bool{
	schema.ActionPatientTool:    true,
	schema.ActionSchedulingTool: true,
	schema.ActionCurrentDate:    true,
	schema.ActionEscalation:     true,
}

// FilterToolCalls keeps only observations that represent real tool or API
// invocations, preserving order.
func FilterToolCalls(obs []schema.Observation) []schema.Observation {
	var kept []schema.Observation
	for _, o := range obs {
		if IsToolCall(o.ActionName) {
			kept = append(kept, o)
		}
	}
	return kept
}

// IsToolCall reports whether an observation name identifies a tool or API
// call rather than an internal framework span.
func IsToolCall(name string) bool {
	if name == "" {
		return false
	}
	for _, internal := range internalSpans {
		if strings.Contains(name, internal) {
			return false
		}
	}
	if knownTools[name] {
		return true
	}
	lower := strings.ToLower(name)
	return strings.Contains(lower, "tool") || strings.Contains(lower, "api")
}

// debugErrorMarkers are substrings that flag a failure inside an otherwise
// well-formed output payload.
var debugErrorMarkers = []string{"DEBUG ERROR", "[ERROR]"}

// HasErrorSignal reports whether an observation shows any of the three error
// signals: an explicit error level, a false success flag in the output, or a
// debug-error marker. Any one signal is sufficient.
func HasErrorSignal(o schema.Observation) bool {
	if strings.EqualFold(o.ErrorLevel, "error") {
		return true
	}
	if len(o.Output) == 0 {
		return false
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(o.Output, &out); err == nil {
		if raw, ok := out["success"]; ok {
			var b bool
			if err := json.Unmarshal(raw, &b); err == nil && !b {
				return true
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && strings.EqualFold(s, "false") {
				return true
			}
		}
	}

	body := string(o.Output)
	for _, marker := range debugErrorMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}
