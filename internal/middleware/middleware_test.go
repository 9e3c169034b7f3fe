package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/docchat/pkg/logger"
)

func TestLogging_GeneratesCorrelationID(t *testing.T) {
	var seen string
	handler := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pdfs", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLogging_PropagatesCorrelationID(t *testing.T) {
	var seen string
	handler := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/pdfs", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "corr-123", seen)
}

func TestRateLimit_RejectsWithDetailBody(t *testing.T) {
	handler := RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.RemoteAddr = "10.0.0.1:4000"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.JSONEq(t, `{"detail":"rate limit exceeded"}`, second.Body.String())
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}

func TestValidateChatMessage(t *testing.T) {
	assert.NoError(t, ValidateChatMessage("what is the warranty period?"))
	assert.Error(t, ValidateChatMessage(""))
	assert.Error(t, ValidateChatMessage(string([]byte{0xff, 0xfe})))
}

func TestValidateConversationID(t *testing.T) {
	assert.NoError(t, ValidateConversationID(""))
	assert.NoError(t, ValidateConversationID("0190c7f4-90b4-7cc3-ae4f-46e554b9a832"))
	assert.Error(t, ValidateConversationID("not-a-uuid"))
}

func TestValidateFilename(t *testing.T) {
	assert.NoError(t, ValidateFilename("manual.pdf"))
	assert.NoError(t, ValidateFilename("Report 2024.PDF"))
	assert.Error(t, ValidateFilename(""))
	assert.Error(t, ValidateFilename("notes.txt"))
	assert.Error(t, ValidateFilename("../etc/passwd.pdf"))
	assert.Error(t, ValidateFilename(`..\boot.pdf`))
}

func TestValidateSearchQuery(t *testing.T) {
	assert.NoError(t, ValidateSearchQuery("warranty"))
	assert.Error(t, ValidateSearchQuery("   "))
	assert.Error(t, ValidateSearchQuery(""))
}
