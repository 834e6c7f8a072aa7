package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("resource_type", "api_calls"),
		attribute.String("tenant_id", "456"),
		attribute.String("decision", "denied"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "tenant_id" {
			t.Fatalf("expected tenant_id to be dropped")
		}
	}
}

func TestRecordUsageCheckCountsDecisions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordUsageCheck(ctx, "api_calls", "allowed")
	m.RecordUsageCheck(ctx, "api_calls", "allowed")
	m.RecordUsageCheck(ctx, "api_calls", "fail_closed")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			if md.Name != "concierge_usage_checks_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), total)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordUsageCheck(context.Background(), "api_calls", "allowed")
	m.RecordUsageIncrement(context.Background(), "api_calls", false)

	var h *HTTPMetrics
	h.ObserveRequest("GET", "/", 200, 0)
}

func TestGinMiddlewareCountsQuotaRejections(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	router := gin.New()
	router.Use(GinMiddleware(m))
	router.GET("/limited", func(c *gin.Context) {
		c.Set("resource_type", "api_calls")
		c.Status(http.StatusTooManyRequests)
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/limited", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("GET", "/limited", "429")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.quota.WithLabelValues("/limited", "api_calls")))
}
