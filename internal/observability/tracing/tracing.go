package tracing

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// EndpointEnv names the variable holding the OTLP HTTP collector endpoint
const EndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

// Init installs an OTLP HTTP tracer provider when EndpointEnv is set. Without
// an endpoint tracing stays a no-op. The returned function flushes and stops
// the provider.
func Init(ctx context.Context, logger *zap.Logger, serviceName, version string) (func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoint := os.Getenv(EndpointEnv)
	if endpoint == "" {
		logger.Info("Tracing disabled", zap.String("reason", EndpointEnv+" not set"))
		return func(context.Context) error { return nil }, nil
	}

	// a full URL is the collector base, traces go to its /v1/traces; a bare
	// host:port is plain HTTP
	var opts []otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(strings.TrimSuffix(endpoint, "/")+"/v1/traces"))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Tracing initialized", zap.String("endpoint", endpoint))
	return tp.Shutdown, nil
}
