package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyntra-dev/cyntra/internal/config"
	"github.com/cyntra-dev/cyntra/internal/metrics"
	"github.com/cyntra-dev/cyntra/internal/proof"
	"github.com/cyntra-dev/cyntra/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeRunner struct {
	paused bool
}

func (f *fakeRunner) Pause()       { f.paused = true }
func (f *fakeRunner) Resume()      { f.paused = false }
func (f *fakeRunner) Paused() bool { return f.paused }

func newTestServer(t *testing.T) (*Server, *store.Store, *fakeRunner) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cyntra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Defaults()
	runner := &fakeRunner{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv, err := NewServer(cfg, st, nil, runner, logger)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, st, runner
}

func TestHandleStatusReportsRunningCountAndPauseState(t *testing.T) {
	srv, st, runner := newTestServer(t)
	_, err := st.RecordWorkcellCreated("wc-1", "issue-1", "b", "/tmp/a", "c", "")
	require.NoError(t, err)
	runner.Pause()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.handleStatus(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, float64(1), body["running_count"])
	require.Equal(t, true, body["paused"])
}

func TestHandleHistoryFiltersByIssue(t *testing.T) {
	srv, st, _ := newTestServer(t)
	p := proof.PatchProof{WorkcellID: "wc-1", IssueID: "issue-1", Status: proof.StatusSuccess}
	_, err := st.RecordProof(p, `{}`)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/history?issue=issue-1", nil)
	w := httptest.NewRecorder()
	srv.handleHistory(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var rows []store.ProofRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "issue-1", rows[0].IssueID)
}

func TestHandleStatsComputesSuccessRate(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ok := proof.PatchProof{WorkcellID: "wc-1", IssueID: "issue-1", Status: proof.StatusSuccess}
	ok.Metadata.CostUSD = 1.5
	failed := proof.PatchProof{WorkcellID: "wc-2", IssueID: "issue-2", Status: proof.StatusFailed}
	_, err := st.RecordProof(ok, `{}`)
	require.NoError(t, err)
	_, err = st.RecordProof(failed, `{}`)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	srv.handleStats(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, float64(2), body["sample_size"])
	require.Equal(t, 0.5, body["success_rate"])
}

func TestHandleSchedulerPauseResumeRoundTrip(t *testing.T) {
	srv, _, runner := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/scheduler/pause", nil)
	w := httptest.NewRecorder()
	srv.handleSchedulerPause(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, runner.Paused())

	req = httptest.NewRequest(http.MethodPost, "/scheduler/resume", nil)
	w = httptest.NewRecorder()
	srv.handleSchedulerResume(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, runner.Paused())
}

func TestInstrumentRecordsRequestMetrics(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cyntra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := metrics.New()
	srv, err := NewServer(config.Defaults(), st, m, &fakeRunner{}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	handler := srv.instrument("/status", srv.handleStatus)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	before := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/status", "200"))
	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))
	after := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/status", "200"))
	require.Equal(t, before+1, after)
}

func TestHandleSchedulerPauseWithoutRunnerReports503(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cyntra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv, err := NewServer(config.Defaults(), st, nil, nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	req := httptest.NewRequest(http.MethodPost, "/scheduler/pause", nil)
	w := httptest.NewRecorder()
	srv.handleSchedulerPause(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
