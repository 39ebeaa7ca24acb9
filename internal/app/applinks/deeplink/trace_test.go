package deeplink

import (
	"context"
	"errors"
	"testing"

	apptrace "applinks.local/internal/platform/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPipeline_RecordsResolveSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	var log []string
	p := NewPipeline(nil)
	p.AddStage(&recordStage{name: "a", claim: true, apply: true, log: &log})
	p.Resolve(context.Background(), MustParse("myapp://catalog/1"), nil)

	failing := NewPipeline(nil)
	failing.AddStage(failStage{err: errors.New("upstream down")})
	failing.Resolve(context.Background(), MustParse("myapp://catalog/2"), nil)

	ended := sr.Ended()
	if len(ended) != 2 {
		t.Fatalf("spans: got %d, want 2", len(ended))
	}
	ok := ended[0]
	if ok.Name() != "deeplink.Resolve" {
		t.Fatalf("span name: got %q", ok.Name())
	}
	attrs := map[string]string{}
	for _, kv := range ok.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs[apptrace.LinkScheme] != "myapp" || attrs[apptrace.LinkHost] != "catalog" || attrs[apptrace.LinkOutcome] != "handled" {
		t.Fatalf("attributes: got %v", attrs)
	}
	if got := ended[1].Status().Code; got != codes.Error {
		t.Fatalf("failed span status: got %v, want Error", got)
	}
}
