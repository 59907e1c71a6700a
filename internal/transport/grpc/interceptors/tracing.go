package interceptors

import (
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/stats"
)

const healthMethodPrefix = "/grpc.health.v1.Health/"

// TracingOptions customises the OpenTelemetry stats handler.
type TracingOptions struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
	// TraceHealthChecks keeps spans for health probes, which are dropped otherwise.
	TraceHealthChecks bool
	Additional     []otelgrpc.Option
}

// TracingServerOption returns a server option installing the otelgrpc stats handler.
func TracingServerOption(opts TracingOptions) grpc.ServerOption {
	options := make([]otelgrpc.Option, 0, len(opts.Additional)+3)
	if opts.TracerProvider != nil {
		options = append(options, otelgrpc.WithTracerProvider(opts.TracerProvider))
	}
	if opts.Propagators != nil {
		options = append(options, otelgrpc.WithPropagators(opts.Propagators))
	}
	if !opts.TraceHealthChecks {
		options = append(options, otelgrpc.WithFilter(skipHealthChecks))
	}
	options = append(options, opts.Additional...)

	return grpc.StatsHandler(otelgrpc.NewServerHandler(options...))
}

func skipHealthChecks(info *stats.RPCTagInfo) bool {
	return info == nil || !strings.HasPrefix(info.FullMethodName, healthMethodPrefix)
}
