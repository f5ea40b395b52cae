package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Matza-labs/atlas-ai/internal/config"
	"github.com/Matza-labs/atlas-ai/internal/printer"
	"github.com/Matza-labs/atlas-ai/internal/publisher"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

const testReport = `{
  "meta": {"name": "build-and-deploy", "platform": "github-actions"},
  "scores": {"complexity_score": 42, "fragility_score": 61},
  "findings": [
    {"rule_id": "unpinned-images", "severity": "high", "message": "3 images use :latest"}
  ]
}`

// fakeOllama answers /api/chat. Summaries are recognised by their prompt and
// every response cites the given evidence ID.
type fakeOllama struct {
	*httptest.Server
	calls atomic.Int32
}

func newFakeOllama(t *testing.T, cite string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		user := gjson.GetBytes(body, "messages.1.content").String()

		content, tokens := fmt.Sprintf("1. Pin container images [ev:%s]", cite), 110
		if strings.HasPrefix(user, "Generate a concise") {
			content, tokens = fmt.Sprintf("Healthy overall; pin images first [ev:%s].", cite), 40
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      "mistral",
			"message":    map[string]string{"role": "assistant", "content": content},
			"eval_count": tokens,
		})
	}))
	t.Cleanup(f.Close)
	return f
}

func setEnv(t *testing.T, llmURL string) {
	t.Helper()
	for _, key := range []string{
		"ATLAS_AI_CONFIG", "ATLAS_AI_MODE", "ATLAS_GRAPH_URL", "ATLAS_AI_GROUNDING",
		"ATLAS_REDIS_URL", "ATLAS_AI_HEALTH_ADDR", "LLM_API_KEY", "LLM_MODEL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("LLM_BASE_URL", llmURL)
	t.Setenv("ATLAS_AI_LOG_LEVEL", "error")
}

type result struct {
	stdout string
	stderr string // printer output
	err    error
}

func execute(t *testing.T, ctx context.Context, stdin string, args ...string) result {
	t.Helper()

	configPath, rootMode, rootInfo = "", "", false
	insightsOutputFormat, insightsSince, insightsUntil = "default", "", ""
	insightsModel, insightsProvider = "", ""
	insightsLimit, insightsUngrounded, insightsFailures, insightsWatch = 100, false, false, false

	var stdout, cmdErr, pOut, pErr bytes.Buffer
	prevOut, prevErr, prevNoColor := printer.Stdout, printer.Stderr, color.NoColor
	printer.Stdout, printer.Stderr, color.NoColor = &pOut, &pErr, true
	defer func() {
		printer.Stdout, printer.Stderr, color.NoColor = prevOut, prevErr, prevNoColor
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&cmdErr)

	err := rootCmd.ExecuteContext(ctx)
	return result{
		stdout: stdout.String() + pOut.String(),
		stderr: pErr.String(),
		err:    err,
	}
}

func TestInfo(t *testing.T) {
	setEnv(t, "http://ollama:11434")
	t.Setenv("LLM_MODEL", "llama3")

	res := execute(t, context.Background(), "", "--info")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "PipelineAtlas AI Modernization Advisor\n")
	assert.Contains(t, res.stdout, "Provider:  ollama\n")
	assert.Contains(t, res.stdout, "Model:     llama3\n")
	assert.Contains(t, res.stdout, "Base URL:  http://ollama:11434\n")
	assert.Contains(t, res.stdout, "Mode:      stdin\n")
}

func TestInfo_ModeFlag(t *testing.T) {
	setEnv(t, "http://ollama:11434")
	t.Setenv("ATLAS_AI_MODE", "stdin")

	res := execute(t, context.Background(), "", "--info", "--mode", "stream")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Mode:      stream\n")
}

func TestInfo_UnvalidatedConfiguration(t *testing.T) {
	setEnv(t, "https://api.anthropic.com")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("LLM_MODEL", "claude")

	res := execute(t, context.Background(), "", "--info")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Provider:  anthropic\n")
	assert.Empty(t, res.stderr)

	res = execute(t, context.Background(), "", "--mode", "stream")
	require.EqualError(t, res.err, "invalid configuration")
	assert.Contains(t, res.stderr, "LLM_API_KEY environment variable is required")
}

func TestHelpNamesInboundStream(t *testing.T) {
	assert.Contains(t, rootCmd.Long, "Consume "+atlas.ReportsStream+" events")
}

func TestInvalidConfiguration(t *testing.T) {
	setEnv(t, "http://ollama:11434")

	res := execute(t, context.Background(), "", "--mode", "batch")
	require.EqualError(t, res.err, "invalid configuration")
	assert.Contains(t, res.stderr, `mode must be "stdin" or "stream", got "batch"`)
}

func TestStdinMode(t *testing.T) {
	llm := newFakeOllama(t, "finding:unpinned-images")
	setEnv(t, llm.URL)

	res := execute(t, context.Background(), testReport)
	require.NoError(t, res.err, res.stderr)

	var out struct {
		Model            string `json:"model"`
		TokensUsed       int    `json:"tokens_used"`
		Roadmap          string `json:"roadmap"`
		ExecutiveSummary string `json:"executive_summary"`
		Grounding        struct {
			Citations []string `json:"citations"`
			Unknown   []string `json:"unknown"`
			Grounded  bool     `json:"grounded"`
		} `json:"grounding"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))

	assert.Equal(t, "mistral", out.Model)
	assert.Equal(t, 150, out.TokensUsed)
	assert.Equal(t, "1. Pin container images [ev:finding:unpinned-images]", out.Roadmap)
	assert.Contains(t, out.ExecutiveSummary, "Healthy overall")
	assert.True(t, out.Grounding.Grounded)
	assert.Equal(t, []string{"finding:unpinned-images"}, out.Grounding.Citations)
	assert.Empty(t, out.Grounding.Unknown)
	assert.Equal(t, int32(2), llm.calls.Load())
	assert.True(t, strings.HasPrefix(res.stdout, "{\n  \"model\""), "output is indented JSON")
}

func TestStdinMode_InvalidInput(t *testing.T) {
	llm := newFakeOllama(t, "finding:unpinned-images")
	setEnv(t, llm.URL)

	for _, input := range []string{"", "not json", `["an", "array"]`} {
		res := execute(t, context.Background(), input)
		require.EqualError(t, res.err, "invalid input", "input %q", input)
		assert.Contains(t, res.stderr, "JSON analysis report object")
	}
	assert.Zero(t, llm.calls.Load())
}

func TestStdinMode_UngroundedRejected(t *testing.T) {
	llm := newFakeOllama(t, "node:ghost")
	setEnv(t, llm.URL)
	t.Setenv("ATLAS_AI_GROUNDING", "reject")

	res := execute(t, context.Background(), testReport)
	require.EqualError(t, res.err, "ungrounded output rejected")
	assert.Empty(t, res.stdout)
}

func TestStdinMode_UngroundedFlagged(t *testing.T) {
	llm := newFakeOllama(t, "node:ghost")
	setEnv(t, llm.URL)

	res := execute(t, context.Background(), testReport)
	require.NoError(t, res.err)
	assert.False(t, gjson.Get(res.stdout, "grounding.grounded").Bool())
	assert.Equal(t, "node:ghost", gjson.Get(res.stdout, "grounding.unknown.0").String())
}

func TestStdinMode_BackendDown(t *testing.T) {
	llm := newFakeOllama(t, "finding:unpinned-images")
	llm.Close()
	setEnv(t, llm.URL)
	t.Setenv("LLM_TIMEOUT", "1")

	res := execute(t, context.Background(), testReport)
	require.EqualError(t, res.err, "analysis failed")
	assert.Contains(t, res.stderr, "Provider: ollama")
}

func TestStreamMode(t *testing.T) {
	llm := newFakeOllama(t, "finding:unpinned-images")
	setEnv(t, llm.URL)
	mr := miniredis.RunT(t)
	t.Setenv("ATLAS_REDIS_URL", "redis://"+mr.Addr())
	t.Setenv("ATLAS_AI_HEALTH_ADDR", "127.0.0.1:0")

	client := atlas.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	_, err := client.AddToStream(ctx, atlas.ReportsStream, 0, atlas.EventToFields(&atlas.Event{
		EventID: "evt-1",
		Report:  json.RawMessage(testReport),
	}))
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan result, 1)
	go func() {
		done <- execute(t, runCtx, "", "--mode", "stream")
	}()

	require.Eventually(t, func() bool {
		entries, err := client.RecentEntries(ctx, atlas.InsightsStream, 10)
		return err == nil && len(entries) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case res := <-done:
		require.NoError(t, res.err, res.stderr)
	case <-time.After(10 * time.Second):
		t.Fatal("stream mode did not stop after cancellation")
	}

	entries, err := client.RecentEntries(ctx, atlas.InsightsStream, 10)
	require.NoError(t, err)
	a, err := atlas.ArtifactFromFields(entries[0].Values)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", a.EventID)
	assert.Equal(t, 150, a.TokensUsed)
	assert.True(t, a.Grounded)

	pending, err := client.RedisClient().XPending(ctx, atlas.ReportsStream, atlas.ConsumerGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestStreamMode_RedisUnreachable(t *testing.T) {
	setEnv(t, "http://ollama:11434")
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	t.Setenv("ATLAS_REDIS_URL", "redis://"+addr)

	res := execute(t, context.Background(), "", "--mode", "stream")
	require.EqualError(t, res.err, "Redis connection failed")
}

func TestInsights(t *testing.T) {
	setEnv(t, "http://ollama:11434")
	mr := miniredis.RunT(t)
	t.Setenv("ATLAS_REDIS_URL", "redis://"+mr.Addr())

	client := atlas.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	a := &atlas.Artifact{
		ID:          uuid.New().String(),
		EventID:     "evt-1",
		Kind:        atlas.ArtifactKindAnalysis,
		Roadmap:     "1. Pin container images [ev:finding:unpinned-images]",
		Model:       "mistral",
		Provider:    "ollama",
		TokensUsed:  150,
		Provenance:  []string{"finding:unpinned-images"},
		Citations:   []string{"finding:unpinned-images"},
		Unknown:     []string{},
		Coverage:    1,
		Grounded:    true,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	pub := publisher.New(client, config.PublisherConfig{StreamMaxLen: 100}, nil)
	_, err := pub.PublishArtifact(context.Background(), a)
	require.NoError(t, err)

	t.Run("table", func(t *testing.T) {
		res := execute(t, context.Background(), "", "insights", "--since", "1h")
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "1 insight found")
		assert.Contains(t, res.stdout, "mistral")
	})

	t.Run("jsonl", func(t *testing.T) {
		res := execute(t, context.Background(), "", "insights", "-o", "jsonl")
		require.NoError(t, res.err)
		assert.Equal(t, a.ID, gjson.Get(res.stdout, "id").String())
	})

	t.Run("ungrounded only", func(t *testing.T) {
		res := execute(t, context.Background(), "", "insights", "--ungrounded")
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "No insights found")
	})

	t.Run("failures", func(t *testing.T) {
		res := execute(t, context.Background(), "", "insights", "--failures")
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "No failures found")
	})

	t.Run("get", func(t *testing.T) {
		res := execute(t, context.Background(), "", "insights", a.ID)
		require.NoError(t, res.err)
		assert.Equal(t, "evt-1", gjson.Get(res.stdout, "event_id").String())
	})

	t.Run("get by short ID", func(t *testing.T) {
		res := execute(t, context.Background(), "", "insights", a.ID[:8])
		require.NoError(t, res.err, res.stderr)
		assert.Equal(t, a.ID, gjson.Get(res.stdout, "id").String())
	})

	t.Run("model filter", func(t *testing.T) {
		res := execute(t, context.Background(), "", "insights", "--model", "gpt-*")
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "No insights found")

		res = execute(t, context.Background(), "", "insights", "--model", "gpt-[")
		require.EqualError(t, res.err, "invalid filter")
	})

	t.Run("watch stops with the context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		time.AfterFunc(300*time.Millisecond, cancel)
		res := execute(t, ctx, "", "insights", "--watch")
		require.NoError(t, res.err, res.stderr)
		assert.Empty(t, res.stdout, "artifacts published before the watch are not replayed")
	})

	t.Run("watch with failures", func(t *testing.T) {
		res := execute(t, context.Background(), "", "insights", "--watch", "--failures")
		require.EqualError(t, res.err, "conflicting flags")
	})

	t.Run("get unknown", func(t *testing.T) {
		id := uuid.New().String()
		res := execute(t, context.Background(), "", "insights", id)
		require.EqualError(t, res.err, fmt.Sprintf("artifact with ID '%s' not found", id))
	})

	t.Run("bad output format", func(t *testing.T) {
		res := execute(t, context.Background(), "", "insights", "-o", "xml")
		require.EqualError(t, res.err, "invalid output format")
	})

	t.Run("bad time range", func(t *testing.T) {
		res := execute(t, context.Background(), "", "insights", "--since", "yesterday")
		require.EqualError(t, res.err, "invalid time range")
	})
}
