package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyntra-dev/cyntra/internal/proof"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cyntra.db")
	st, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestWorkcellLifecycle(t *testing.T) {
	st := openTestStore(t)

	id, err := st.RecordWorkcellCreated("wc-1", "issue-1", "cyntra/wc-1", "/tmp/wc-1", "abc123", "")
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	running, err := st.ListRunningWorkcells()
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "wc-1", running[0].WorkcellID)
	require.False(t, running[0].CompletedAt.Valid)

	require.NoError(t, st.UpdateWorkcellStatus("wc-1", "completed"))

	running, err = st.ListRunningWorkcells()
	require.NoError(t, err)
	require.Len(t, running, 0)

	wc, err := st.GetWorkcell("wc-1")
	require.NoError(t, err)
	require.NotNil(t, wc)
	require.Equal(t, "completed", wc.Status)
	require.True(t, wc.CompletedAt.Valid)
}

func TestListWorkcellsByIssueCoversSpeculateGroup(t *testing.T) {
	st := openTestStore(t)

	_, err := st.RecordWorkcellCreated("wc-a", "issue-1", "b-a", "/tmp/a", "c1", "spec-0")
	require.NoError(t, err)
	_, err = st.RecordWorkcellCreated("wc-b", "issue-1", "b-b", "/tmp/b", "c1", "spec-1")
	require.NoError(t, err)
	_, err = st.RecordWorkcellCreated("wc-c", "issue-2", "b-c", "/tmp/c", "c1", "")
	require.NoError(t, err)

	rows, err := st.ListWorkcellsByIssue("issue-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestListAllWorkcellsCoversEveryIssue(t *testing.T) {
	st := openTestStore(t)

	_, err := st.RecordWorkcellCreated("wc-a", "issue-1", "b-a", "/tmp/a", "c1", "")
	require.NoError(t, err)
	_, err = st.RecordWorkcellCreated("wc-b", "issue-2", "b-b", "/tmp/b", "c1", "")
	require.NoError(t, err)

	rows, err := st.ListAllWorkcells()
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestRecordAndListProofs(t *testing.T) {
	st := openTestStore(t)

	p := proof.PatchProof{
		WorkcellID: "wc-1",
		IssueID:    "issue-1",
		Status:     proof.StatusSuccess,
		Confidence: 0.9,
	}
	p.Verification.AllPassed = true
	p.Metadata.DurationMS = 1200
	p.Metadata.CostUSD = 0.05

	_, err := st.RecordProof(p, `{"workcell_id":"wc-1"}`)
	require.NoError(t, err)

	rows, err := st.ListProofsByIssue("issue-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "success", rows[0].Status)
	require.True(t, rows[0].AllPassed)
	require.Equal(t, int64(1200), rows[0].DurationMS)

	recent, err := st.ListRecentProofs(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestTickMetrics(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.RecordTick(5, 2, 1, 3))
	require.NoError(t, st.RecordTick(4, 1, 0, 2))

	ticks, err := st.RecentTicks(10)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	require.Equal(t, 4, ticks[0].Ready)
}

func TestLeaseAcquireRenewAndRelease(t *testing.T) {
	st := openTestStore(t)

	ok, err := st.AcquireLease("scheduler", "holder-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.AcquireLease("scheduler", "holder-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second holder must not acquire a live lease")

	ok, err = st.AcquireLease("scheduler", "holder-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "the current holder can renew")

	require.NoError(t, st.ReleaseLease("scheduler", "holder-a"))

	lease, err := st.GetLease("scheduler")
	require.NoError(t, err)
	require.Nil(t, lease)
}

func TestLeaseAcquireAfterExpiry(t *testing.T) {
	st := openTestStore(t)

	ok, err := st.AcquireLease("scheduler", "holder-a", -time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.AcquireLease("scheduler", "holder-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "an expired lease can be taken by another holder")

	lease, err := st.GetLease("scheduler")
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "holder-b", lease.HolderID)
}
