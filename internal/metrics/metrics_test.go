package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveHelpersAreNoOpsBeforeInit(t *testing.T) {
	// Must run before Init; no t.Parallel so ordering inside the package is
	// by declaration.
	require.NotPanics(t, func() {
		ObserveBuildDiscovered()
		ObserveBuildCompleted("completed")
		IncBuildsInFlight()
		DecBuildsInFlight()
		SetQueueDepth(3)
		ObserveEventDispatched("TaskFinished")
		ObserveStreamError("listener")
		ObserveStreamRetry("listener")
	})
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	require.NotPanics(t, Init)
}

func TestCollectorsRecordObservations(t *testing.T) {
	Init()

	ObserveBuildDiscovered()
	ObserveBuildCompleted("completed")
	ObserveBuildCompleted("failed")
	IncBuildsInFlight()
	SetQueueDepth(4)
	ObserveEventDispatched("TaskFinished")
	ObserveStreamError("listener")
	ObserveStreamRetry("listener")

	require.GreaterOrEqual(t, testutil.ToFloat64(buildsDiscoveredTotal), float64(1))
	require.GreaterOrEqual(t, testutil.ToFloat64(buildsCompletedTotal.WithLabelValues("completed")), float64(1))
	require.GreaterOrEqual(t, testutil.ToFloat64(buildsInFlight), float64(1))
	require.Equal(t, float64(4), testutil.ToFloat64(buildQueueDepth))
	require.GreaterOrEqual(t, testutil.ToFloat64(eventsDispatchedTotal.WithLabelValues("TaskFinished")), float64(1))
	require.GreaterOrEqual(t, testutil.ToFloat64(streamErrorsTotal.WithLabelValues("listener")), float64(1))
	require.GreaterOrEqual(t, testutil.ToFloat64(streamRetriesTotal.WithLabelValues("listener")), float64(1))
}

func TestHandlerServesRegistry(t *testing.T) {
	Init()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "exportstream_build_queue_depth")
}
