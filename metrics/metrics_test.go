package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailprobe/verifier"
	"mailprobe/worker"
)

type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, address string) verifier.Result {
	if address == "gone@example.com" {
		return verifier.Result{Address: address, Category: "Unknown error: boom", Severity: verifier.SeverityWarning}
	}
	return verifier.Result{Address: address, Category: verifier.CategoryMailboxExists, Severity: verifier.SeveritySuccess}
}

func TestObserverCountsRunProgress(t *testing.T) {
	runsBefore := testutil.ToFloat64(metricRuns)
	okBefore := testutil.ToFloat64(metricResults.WithLabelValues("success", verifier.CategoryMailboxExists))
	unknownBefore := testutil.ToFloat64(metricResults.WithLabelValues("warning", "Unknown error"))

	scheduler := worker.NewScheduler(context.Background(), stubVerifier{}, 2, Observer{})
	scheduler.Submit([]string{"a@example.com", "b@example.com", "gone@example.com"})

	select {
	case <-scheduler.Current().Done():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "run did not complete")
	}

	assert.Equal(t, runsBefore+1, testutil.ToFloat64(metricRuns))
	assert.Equal(t, okBefore+2, testutil.ToFloat64(metricResults.WithLabelValues("success", verifier.CategoryMailboxExists)))
	assert.Equal(t, unknownBefore+1, testutil.ToFloat64(metricResults.WithLabelValues("warning", "Unknown error")))
	assert.Zero(t, testutil.ToFloat64(metricActiveRuns))
}

func TestCategoryLabel(t *testing.T) {
	assert.Equal(t, "Unknown SMTP response", categoryLabel("Unknown SMTP response: 503"))
	assert.Equal(t, "Unknown error", categoryLabel("Unknown error: panic: x"))
	assert.Equal(t, verifier.CategoryTimeout, categoryLabel(verifier.CategoryTimeout))
}
