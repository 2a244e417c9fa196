package health

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/ids"
	"github.com/cyntra-dev/cyntra/internal/store"
	"github.com/cyntra-dev/cyntra/internal/workcell"
)

type fakeBeadClient struct {
	updates map[string]beadstore.Status
}

func newFakeBeadClient() *fakeBeadClient {
	return &fakeBeadClient{updates: make(map[string]beadstore.Status)}
}

func (f *fakeBeadClient) ListReady(ctx context.Context) ([]beadstore.Issue, error)      { return nil, nil }
func (f *fakeBeadClient) ListInProgress(ctx context.Context) ([]beadstore.Issue, error) { return nil, nil }
func (f *fakeBeadClient) Get(ctx context.Context, id string) (beadstore.Issue, error) {
	return beadstore.Issue{}, nil
}
func (f *fakeBeadClient) UpdateStatus(ctx context.Context, id string, newStatus beadstore.Status, reason string) error {
	f.updates[id] = newStatus
	return nil
}
func (f *fakeBeadClient) UpdateRetryBudget(ctx context.Context, id string, remaining int) error {
	return nil
}

var _ beadstore.Client = (*fakeBeadClient)(nil)

func openJanitorTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cyntra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSweepRecoversStaleRunningWorkcell(t *testing.T) {
	st := openJanitorTestStore(t)
	beads := newFakeBeadClient()

	now := time.Now().UTC()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	manager := workcell.New(t.TempDir(), t.TempDir(), t.TempDir(), ids.FixedClock{At: now}, logger)

	_, err := st.RecordWorkcellCreated("wc-stale", "issue-1", "b", filepath.Join(t.TempDir(), "wc-stale"), "c", "")
	require.NoError(t, err)

	j := NewJanitor(st, beads, manager, ids.FixedClock{At: now.Add(staleAfter + time.Minute)}, logger)
	recovered, err := j.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	rec, err := st.GetWorkcell("wc-stale")
	require.NoError(t, err)
	require.Equal(t, "failed", rec.Status)
	require.Equal(t, beadstore.StatusReady, beads.updates["issue-1"])
}

func TestSweepIgnoresRecentlyStartedWorkcell(t *testing.T) {
	st := openJanitorTestStore(t)
	beads := newFakeBeadClient()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	now := time.Now().UTC()
	manager := workcell.New(t.TempDir(), t.TempDir(), t.TempDir(), ids.FixedClock{At: now}, logger)

	_, err := st.RecordWorkcellCreated("wc-fresh", "issue-2", "b", filepath.Join(t.TempDir(), "wc-fresh"), "c", "")
	require.NoError(t, err)

	j := NewJanitor(st, beads, manager, ids.FixedClock{At: now.Add(time.Minute)}, logger)
	recovered, err := j.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, recovered)

	rec, err := st.GetWorkcell("wc-fresh")
	require.NoError(t, err)
	require.Equal(t, "running", rec.Status)
	require.Empty(t, beads.updates)
}

func TestSweepSkipsBeadRevertWhenClientNil(t *testing.T) {
	st := openJanitorTestStore(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	now := time.Now().UTC()
	manager := workcell.New(t.TempDir(), t.TempDir(), t.TempDir(), ids.FixedClock{At: now}, logger)

	_, err := st.RecordWorkcellCreated("wc-nobeads", "issue-3", "b", filepath.Join(t.TempDir(), "wc-nobeads"), "c", "")
	require.NoError(t, err)

	j := NewJanitor(st, nil, manager, ids.FixedClock{At: now.Add(staleAfter + time.Minute)}, logger)
	recovered, err := j.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
}
