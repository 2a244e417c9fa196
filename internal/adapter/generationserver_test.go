package adapter

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/proof"
	"github.com/stretchr/testify/require"
)

func newFakeGenerationServer(t *testing.T, completeAfter int) *httptest.Server {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queueResponse{PromptID: "p1"})
	})
	mux.HandleFunc("/history/p1", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls >= completeAfter {
			json.NewEncoder(w).Encode(pollResponse{Status: "completed", OutputFiles: []string{"out.png"}})
			return
		}
		json.NewEncoder(w).Encode(pollResponse{Status: "pending"})
	})
	return httptest.NewServer(mux)
}

func TestGenerationServerAdapterExecuteSucceeds(t *testing.T) {
	srv := newFakeGenerationServer(t, 2)
	defer srv.Close()

	parsed, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	a := NewGenerationServerAdapter(GenerationServerConfig{Host: host, Port: port, PollInterval: 10 * time.Millisecond})
	m := manifest.NewBuilder("wc-1", "wc/issue-1/wc-1", beadstore.Issue{ID: "issue-1"}).
		WithToolchainConfig(manifest.ToolchainConfig{
			Toolchain: "generationserver",
			Extra:     map[string]any{"workflow_path": "workflows/txt2img.json", "seed": float64(7)},
		}).Build()

	p := a.Execute(context.Background(), m, t.TempDir(), 2*time.Second)
	require.Equal(t, proof.StatusSuccess, p.Status)
	require.True(t, p.Verification.AllPassed)
}

func TestGenerationServerAdapterExecuteMissingWorkflowPath(t *testing.T) {
	a := NewGenerationServerAdapter(GenerationServerConfig{})
	m := manifest.NewBuilder("wc-2", "wc/issue-2/wc-2", beadstore.Issue{ID: "issue-2"}).Build()
	p := a.Execute(context.Background(), m, t.TempDir(), time.Second)
	require.Equal(t, proof.StatusError, p.Status)
}

func TestGenerationServerAdapterEstimateCostIsZero(t *testing.T) {
	a := NewGenerationServerAdapter(GenerationServerConfig{})
	m := manifest.NewBuilder("wc-3", "wc/issue-3/wc-3", beadstore.Issue{ID: "issue-3"}).Build()
	est := a.EstimateCost(m)
	require.Equal(t, 0, est.EstimatedTokens)
	require.Equal(t, 0.0, est.EstimatedCostUSD)
}
