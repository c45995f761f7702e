package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, "2xx", classifyStatus(202))
	assert.Equal(t, "3xx", classifyStatus(304))
	assert.Equal(t, "4xx", classifyStatus(429))
	assert.Equal(t, "5xx", classifyStatus(503))
	assert.Equal(t, "unknown", classifyStatus(99))
}

func TestRecordIntent(t *testing.T) {
	before := testutil.ToFloat64(intentsTotal.WithLabelValues("update", "error"))
	RecordIntent("update", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(intentsTotal.WithLabelValues("update", "error")))
}

func TestRecordRemoteCall(t *testing.T) {
	before := testutil.ToFloat64(remoteCallsTotal.WithLabelValues("getCartsItems", "ok"))
	RecordRemoteCall("getCartsItems", nil, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(remoteCallsTotal.WithLabelValues("getCartsItems", "ok")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	RecordBusDrop("cpq.cart-changed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "cpq_bus_dropped_total")
}
