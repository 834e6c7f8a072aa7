package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes usage-metering instruments.
type Metrics struct {
	usageChecks     metric.Int64Counter
	usageIncrements metric.Int64Counter
	counterResets   metric.Int64Counter
	metricRecords   metric.Int64Counter
	aiReplies       metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "concierge"
	}
	meter := provider.Meter(name)

	usageChecks, err := meter.Int64Counter("concierge_usage_checks_total")
	if err != nil {
		return nil, err
	}
	usageIncrements, err := meter.Int64Counter("concierge_usage_increments_total")
	if err != nil {
		return nil, err
	}
	counterResets, err := meter.Int64Counter("concierge_usage_counter_resets_total")
	if err != nil {
		return nil, err
	}
	metricRecords, err := meter.Int64Counter("concierge_usage_metric_records_total")
	if err != nil {
		return nil, err
	}
	aiReplies, err := meter.Int64Counter("concierge_ai_replies_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageChecks:     usageChecks,
		usageIncrements: usageIncrements,
		counterResets:   counterResets,
		metricRecords:   metricRecords,
		aiReplies:       aiReplies,
	}, nil
}

// RecordUsageCheck counts quota decisions. decision is allowed, denied or fail_closed.
func (m *Metrics) RecordUsageCheck(ctx context.Context, resourceType, decision string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("resource_type", strings.TrimSpace(resourceType)),
		attribute.String("decision", strings.TrimSpace(decision)),
	)
	m.usageChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordUsageIncrement(ctx context.Context, resourceType string, ok bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("resource_type", strings.TrimSpace(resourceType)),
		attribute.String("result", resultLabel(ok)),
	)
	m.usageIncrements.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCounterReset counts window rollovers. trigger is lazy or sweep.
func (m *Metrics) RecordCounterReset(ctx context.Context, resourceType, trigger string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("resource_type", strings.TrimSpace(resourceType)),
		attribute.String("trigger", strings.TrimSpace(trigger)),
	)
	m.counterResets.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordMetricRecord(ctx context.Context, metricName, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("metric_name", strings.TrimSpace(metricName)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.metricRecords.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordAIReply(ctx context.Context, tone string, ok bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tone", strings.TrimSpace(tone)),
		attribute.String("result", resultLabel(ok)),
	)
	m.aiReplies.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"resource_type": {},
	"decision":      {},
	"result":        {},
	"trigger":       {},
	"metric_name":   {},
	"tone":          {},
	"endpoint":      {},
	"status_code":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// Tenant ids are never a label.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
