package tracing

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSafeAttributesDropsTenantID(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("tenant_id", "t1"),
		attribute.String("http.route", "/api/v1/usage/limits"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorUnwrapsNothing(t *testing.T) {
	base := errors.New("inner")
	wrapped := fmt.Errorf("outer: %w", base)
	safe := SafeError(wrapped)
	assert.Equal(t, "outer: inner", safe.Error())
	assert.False(t, errors.Is(safe, base))
	assert.Nil(t, SafeError(nil))
}

func quotaRouter(t *testing.T, cfg MiddlewareConfig) *tracetest.SpanRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	router := gin.New()
	router.Use(GinMiddleware(cfg))
	router.GET("/api/v1/usage/limits/:resource_type", func(c *gin.Context) {
		c.Set("resource_type", "api_calls")
		c.Set("quota_decision", "allowed")
		c.Status(http.StatusOK)
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/usage/limits/api_calls", nil))
	return recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (string, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.AsString(), true
		}
	}
	return "", false
}

func TestGinMiddlewareNamesSpanByRoute(t *testing.T) {
	recorder := quotaRouter(t, MiddlewareConfig{QuotaAttributes: true, ResourceKey: "resource_type", DecisionKey: "quota_decision"})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET /api/v1/usage/limits/:resource_type", spans[0].Name())

	resource, ok := spanAttr(spans[0], "usage.resource_type")
	require.True(t, ok)
	assert.Equal(t, "api_calls", resource)
	decision, _ := spanAttr(spans[0], "usage.decision")
	assert.Equal(t, "allowed", decision)
}

func TestGinMiddlewareOmitsQuotaAttributesWhenDisabled(t *testing.T) {
	recorder := quotaRouter(t, MiddlewareConfig{ResourceKey: "resource_type", DecisionKey: "quota_decision"})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	_, ok := spanAttr(spans[0], "usage.resource_type")
	assert.False(t, ok)
}

func TestQuotaAttributes(t *testing.T) {
	assert.Nil(t, QuotaAttributes("", "denied"))
	assert.Len(t, QuotaAttributes("storage", ""), 1)
	assert.Len(t, QuotaAttributes("storage", "denied"), 2)
}
