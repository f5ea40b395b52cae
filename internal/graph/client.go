package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/Matza-labs/atlas-ai/internal/grounding"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// ErrNotFound is returned when the graph service has no such run or item.
var ErrNotFound = errors.New("not found in graph service")

// StatusError is a non-2xx response from the graph service.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graph service returned HTTP %d for %s", e.StatusCode, e.URL)
}

// Client reads evidence from the graph service. Transport errors and 5xx
// responses are retried with exponential backoff; 4xx responses are not.
type Client struct {
	baseURL         string
	http            *http.Client
	maxRetries      int
	initialInterval time.Duration
}

// NewClient creates a client for baseURL. A nil httpClient uses one with
// the given timeout.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		http:            httpClient,
		maxRetries:      3,
		initialInterval: 200 * time.Millisecond,
	}
}

// RunEvidence returns the seed evidence recorded for an analysis run.
// GET {base}/v1/runs/{run_id}/evidence
func (c *Client) RunEvidence(ctx context.Context, runID string) ([]atlas.EvidenceRef, error) {
	body, err := c.get(ctx, "/v1/runs/"+url.PathEscape(runID)+"/evidence")
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)
	items := doc.Array()
	if !doc.IsArray() {
		items = doc.Get("evidence").Array()
	}

	refs := make([]atlas.EvidenceRef, 0, len(items))
	for _, item := range items {
		if ref, ok := parseEvidence(item); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// Evidence returns a single evidence item.
// GET {base}/v1/evidence/{id}
func (c *Client) Evidence(ctx context.Context, id string) (*atlas.EvidenceRef, error) {
	body, err := c.get(ctx, "/v1/evidence/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	ref, ok := parseEvidence(gjson.ParseBytes(body))
	if !ok {
		return nil, fmt.Errorf("graph service returned evidence without an id for %s", id)
	}
	return &ref, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	target := c.baseURL + path
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("graph request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read graph response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, target))
		case resp.StatusCode >= 500:
			return &StatusError{StatusCode: resp.StatusCode, URL: target}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, URL: target})
		}

		if !gjson.ValidBytes(data) {
			return backoff.Permanent(fmt.Errorf("graph service returned invalid JSON for %s", target))
		}
		body = data
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialInterval
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.maxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

func parseEvidence(item gjson.Result) (atlas.EvidenceRef, bool) {
	id := grounding.NormalizeID(item.Get("id").String())
	if id == "" {
		return atlas.EvidenceRef{}, false
	}

	kind := atlas.EvidenceKind(item.Get("kind").String())
	if kind == "" {
		kind = atlas.EvidenceKindGraph
	}

	label := item.Get("label").String()
	if label == "" {
		label = item.Get("name").String()
	}

	var related []string
	for _, r := range item.Get("related").Array() {
		if s := grounding.NormalizeID(r.String()); s != "" {
			related = append(related, s)
		}
	}

	return atlas.EvidenceRef{
		ID:       id,
		Kind:     kind,
		Label:    label,
		Severity: item.Get("severity").String(),
		Detail:   item.Get("detail").String(),
		Related:  related,
	}, true
}
