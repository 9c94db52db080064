package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	m := New()
	m.CompileJobsTotal.WithLabelValues(`completed`).Inc()
	m.CompileQueueDepth.Set(3)

	req := httptest.NewRequest(`GET`, `/metrics`, nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `ctfarena_compile_worker_jobs_total`)
	require.Contains(t, body, `ctfarena_queue_compile_depth 3`)
}
