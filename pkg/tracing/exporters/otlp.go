// Package exporters builds the span exporters the tracer provider writes to.
package exporters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"

	defaultExportTimeout = 10 * time.Second
)

type OTLPConfig struct {
	// Collector address without scheme, "localhost:4317" for gRPC or
	// "localhost:4318" for HTTP
	Endpoint string
	// ProtocolGRPC or ProtocolHTTP, empty means gRPC
	Protocol string
	Insecure bool
	Headers  map[string]string
	Timeout  time.Duration
}

// NewOTLPExporter connects an OTLP span exporter to the collector
func NewOTLPExporter(ctx context.Context, config OTLPConfig) (*otlptrace.Exporter, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultExportTimeout
	}

	switch strings.ToLower(config.Protocol) {
	case "", ProtocolGRPC:
		return otlptracegrpc.New(ctx, grpcOptions(config, timeout)...)
	case ProtocolHTTP:
		return otlptracehttp.New(ctx, httpOptions(config, timeout)...)
	}
	return nil, fmt.Errorf("unsupported OTLP protocol %q, expected %s or %s", config.Protocol, ProtocolGRPC, ProtocolHTTP)
}

func grpcOptions(config OTLPConfig, timeout time.Duration) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
		otlptracegrpc.WithTimeout(timeout),
		otlptracegrpc.WithHeaders(config.Headers),
	}
	if config.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return opts
}

func httpOptions(config OTLPConfig, timeout time.Duration) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.Endpoint),
		otlptracehttp.WithTimeout(timeout),
		otlptracehttp.WithHeaders(config.Headers),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}
