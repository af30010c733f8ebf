package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument("test_route", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("test_route", http.MethodGet, "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("test_route", http.MethodGet, "418"))

	assert.Equal(t, before+1, after)
}
