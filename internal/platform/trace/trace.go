// Package trace 初始化 OpenTelemetry，并定义解析链路上共用的 span 属性名。
package trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

type Options struct {
	Endpoint       string // OTLP gRPC，host:port
	ServiceName    string
	ServiceVersion string
	// SampleRatio 取值 (0,1]，0 按 1 处理。父 span 已采样时总是跟随。
	SampleRatio float64
}

// InitTrace 配置 OTLP gRPC 导出并设为全局 TracerProvider，返回的 shutdown 负责 flush。
// 连不上 collector 不会在这里报错，导出失败由 batcher 在后台丢弃。
func InitTrace(ctx context.Context, opts Options) (shutdown func(context.Context) error, err error) {
	if opts.Endpoint == "" || opts.ServiceName == "" {
		return nil, errors.New("trace: endpoint and service name are required")
	}
	ratio := opts.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	dialCtx, stop := context.WithTimeout(ctx, 5*time.Second)
	defer stop()
	exporter, err := otlptracegrpc.New(dialCtx, otlptracegrpc.WithEndpoint(opts.Endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(opts.ServiceName))}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(opts.ServiceVersion)))
	}
	res, err := resource.New(ctx, append(attrs, resource.WithHost(), resource.WithProcessRuntimeVersion())...)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}
