package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsSharedSingleton(t *testing.T) {
	a := New()
	b := New()
	require.Same(t, a, b)
}

func TestRecordGateResultSeparatesPassFail(t *testing.T) {
	m := New()
	m.RecordGateResult("test", true)
	m.RecordGateResult("test", false)
	m.RecordGateResult("test", false)

	require.Equal(t, float64(1), testutil.ToFloat64(m.GatePassTotal.WithLabelValues("test")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.GateFailTotal.WithLabelValues("test")))
}

func TestRecordSpeculateGroupLabelsWinner(t *testing.T) {
	m := New()
	m.RecordSpeculateGroup(true)

	require.Equal(t, float64(1), testutil.ToFloat64(m.SpeculateGroupsTotal.WithLabelValues("true")))
}
