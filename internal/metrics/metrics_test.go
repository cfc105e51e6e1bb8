package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveGateway(t *testing.T) {
	before := testutil.ToFloat64(GatewayRequests.WithLabelValues("cardpay", "init", "error"))
	ObserveGateway("cardpay", "init", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(GatewayRequests.WithLabelValues("cardpay", "init", "error"))
	assert.Equal(t, before+1, after)
}

func TestObserveSweep(t *testing.T) {
	before := testutil.ToFloat64(SweepRows.WithLabelValues("release", "applied"))
	ObserveSweep("release", time.Now(), 3, 1, 0, nil)
	assert.Equal(t, before+3, testutil.ToFloat64(SweepRows.WithLabelValues("release", "applied")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(SweepRuns.WithLabelValues("release", "ok")), 1.0)
}

func TestHandler(t *testing.T) {
	LedgerOperations.WithLabelValues("purchase", "ok").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "escrow_ledger_operations_total")
}
