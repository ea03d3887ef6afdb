package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRegistered_Idempotent(t *testing.T) {
	EnsureRegistered()
	// A second call must not panic on duplicate registration.
	EnsureRegistered()
}

func TestMetricsHandler_Scrapes(t *testing.T) {
	RecordInbound("wsgateway")
	RecordOutbound("wsgateway")
	SetAdapterHealthy("wsgateway", true)
	SetActiveSessions(3)
	RecordTokenRefresh("cryptohook", true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "kurir_inbound_messages_total")
	assert.Contains(t, body, "kurir_adapter_healthy")
	assert.Contains(t, body, "kurir_sessions_active")
}
