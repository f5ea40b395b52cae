package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

const sampleReport = `{
  "meta": {"name": "build-and-deploy", "platform": "github-actions"},
  "findings": [
    {"rule_id": "no-cache", "severity": "high", "message": "No dependency caching"},
    {"rule_id": "no-timeout", "severity": "medium", "message": "Job has no timeout"},
    {"rule_id": "no-cache", "severity": "high", "message": "Second job without caching"},
    {"severity": "low", "message": "missing rule id"},
    {"rule_id": "pinned", "message": "Action not pinned"}
  ],
  "structure": {"nodes_by_type": {"job": 3, "step": 14}}
}`

// graphServer serves a small evidence graph:
//
//	run-1 -> seed-a -> rel-b -> rel-c
//	             \-> gone (404)
type graphServer struct {
	*httptest.Server
	hits      int32
	failFirst int32 // number of initial requests answered with 503
}

func newGraphServer(t *testing.T) *graphServer {
	t.Helper()
	items := map[string]string{
		"rel-b": `{"id": "rel-b", "kind": "graph", "name": "deploy job", "related": ["rel-c"]}`,
		"rel-c": `{"id": "rel-c", "kind": "node", "label": "deploy step", "severity": "low"}`,
	}

	gs := &graphServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/runs/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&gs.hits, 1)
		if n <= atomic.LoadInt32(&gs.failFirst) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path != "/v1/runs/run-1/evidence" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"evidence": [
			{"id": "seed-a", "label": "pipeline", "detail": "root", "related": ["rel-b", "gone"]},
			{"label": "no id, ignored"}
		]}`))
	})
	mux.HandleFunc("/v1/evidence/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&gs.hits, 1)
		id := strings.TrimPrefix(r.URL.Path, "/v1/evidence/")
		body, ok := items[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	gs.Server = httptest.NewServer(mux)
	t.Cleanup(gs.Close)
	return gs
}

func newTestClient(url string) *Client {
	c := NewClient(url, nil, 2*time.Second)
	c.initialInterval = time.Millisecond
	return c
}

func TestFromReport(t *testing.T) {
	refs := FromReport(json.RawMessage(sampleReport))

	want := []atlas.EvidenceRef{
		{ID: "finding:no-cache", Kind: atlas.EvidenceKindFinding, Label: "no-cache", Severity: "high", Detail: "No dependency caching"},
		{ID: "finding:no-timeout", Kind: atlas.EvidenceKindFinding, Label: "no-timeout", Severity: "medium", Detail: "Job has no timeout"},
		{ID: "finding:pinned", Kind: atlas.EvidenceKindFinding, Label: "pinned", Severity: "info", Detail: "Action not pinned"},
		{ID: "node:job", Kind: atlas.EvidenceKindNode, Label: "job", Detail: "3 node(s)"},
		{ID: "node:step", Kind: atlas.EvidenceKindNode, Label: "step", Detail: "14 node(s)"},
	}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Errorf("FromReport mismatch (-want +got):\n%s", diff)
	}

	assert.Nil(t, FromReport(nil))
	assert.Empty(t, FromReport(json.RawMessage(`{}`)))
}

func TestEvidenceIDsAreCitable(t *testing.T) {
	refs := FromReport(json.RawMessage(`{"findings": [{"rule_id": "GHA 001]"}], "structure": {"nodes_by_type": {"job#build": 1}}}`))
	require.Len(t, refs, 2)
	assert.Equal(t, "finding:GHA 001_", refs[0].ID)
	assert.Equal(t, "node:job#build", refs[1].ID)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": "a[1]", "related": ["b]\n"]}]`))
	}))
	defer srv.Close()

	refs, err := newTestClient(srv.URL).RunEvidence(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "a[1_", refs[0].ID)
	assert.Equal(t, []string{"b_"}, refs[0].Related)
}

func TestClient_RunEvidence(t *testing.T) {
	gs := newGraphServer(t)
	c := newTestClient(gs.URL)

	refs, err := c.RunEvidence(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "seed-a", refs[0].ID)
	assert.Equal(t, atlas.EvidenceKindGraph, refs[0].Kind, "kind defaults to graph")
	assert.Equal(t, []string{"rel-b", "gone"}, refs[0].Related)

	t.Run("bare array body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"id": "x"}, {"id": "y"}]`))
		}))
		defer srv.Close()

		refs, err := newTestClient(srv.URL).RunEvidence(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Len(t, refs, 2)
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := c.RunEvidence(context.Background(), "run-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClient_Retries(t *testing.T) {
	t.Run("5xx is retried", func(t *testing.T) {
		gs := newGraphServer(t)
		gs.failFirst = 2
		c := newTestClient(gs.URL)

		refs, err := c.RunEvidence(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Len(t, refs, 1)
		assert.Equal(t, int32(3), atomic.LoadInt32(&gs.hits))
	})

	t.Run("4xx is not retried", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Evidence(context.Background(), "x")
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("invalid JSON is not retried", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Evidence(context.Background(), "x")
		assert.ErrorContains(t, err, "invalid JSON")
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})
}

func evidenceIDs(refs []atlas.EvidenceRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

func TestFetcher_Fetch(t *testing.T) {
	event := &atlas.Event{EventID: "evt-1", RunID: "run-1", Report: json.RawMessage(sampleReport)}
	reportIDs := []string{"finding:no-cache", "finding:no-timeout", "finding:pinned", "node:job", "node:step"}

	t.Run("without graph client", func(t *testing.T) {
		f := NewFetcher(nil, 2, 50, nil)
		refs, err := f.Fetch(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, reportIDs, evidenceIDs(refs))
	})

	t.Run("expands related items by depth", func(t *testing.T) {
		gs := newGraphServer(t)
		f := NewFetcher(newTestClient(gs.URL), 2, 50, nil)

		refs, err := f.Fetch(context.Background(), event)
		require.NoError(t, err)
		want := append(append([]string{}, reportIDs...), "seed-a", "rel-b", "rel-c")
		assert.Equal(t, want, evidenceIDs(refs))
	})

	t.Run("depth limit", func(t *testing.T) {
		gs := newGraphServer(t)
		f := NewFetcher(newTestClient(gs.URL), 1, 50, nil)

		refs, err := f.Fetch(context.Background(), event)
		require.NoError(t, err)
		want := append(append([]string{}, reportIDs...), "seed-a", "rel-b")
		assert.Equal(t, want, evidenceIDs(refs))
	})

	t.Run("item limit", func(t *testing.T) {
		gs := newGraphServer(t)
		f := NewFetcher(newTestClient(gs.URL), 5, 1, nil)

		refs, err := f.Fetch(context.Background(), event)
		require.NoError(t, err)
		want := append(append([]string{}, reportIDs...), "seed-a")
		assert.Equal(t, want, evidenceIDs(refs))
	})

	t.Run("no run id skips graph", func(t *testing.T) {
		gs := newGraphServer(t)
		f := NewFetcher(newTestClient(gs.URL), 2, 50, nil)

		refs, err := f.Fetch(context.Background(), &atlas.Event{EventID: "evt-2", Report: json.RawMessage(sampleReport)})
		require.NoError(t, err)
		assert.Equal(t, reportIDs, evidenceIDs(refs))
		assert.Zero(t, atomic.LoadInt32(&gs.hits))
	})

	t.Run("unreachable graph degrades to report evidence", func(t *testing.T) {
		gs := newGraphServer(t)
		url := gs.URL
		gs.Close()

		f := NewFetcher(newTestClient(url), 2, 50, nil)
		refs, err := f.Fetch(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, reportIDs, evidenceIDs(refs))
	})

	t.Run("cancelled context is an error", func(t *testing.T) {
		gs := newGraphServer(t)
		f := NewFetcher(newTestClient(gs.URL), 2, 50, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.Fetch(ctx, event)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
