package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"turnrelay/pkg/config"
)

func TestSetupNoneIsNoop(t *testing.T) {
	shutdown, err := Setup(config.TelemetryConfig{TraceExporter: "none"}, nil)
	if err != nil {
		t.Fatalf("Setup error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupRejectsUnknownExporter(t *testing.T) {
	_, err := Setup(config.TelemetryConfig{TraceExporter: "zipkin"}, nil)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("Setup error = %v, want ErrUnknownExporter", err)
	}
}

func TestSetupStdoutExportsSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var out bytes.Buffer
	shutdown, err := Setup(config.TelemetryConfig{TraceExporter: "stdout", ServiceName: "relay-test"}, &out)
	if err != nil {
		t.Fatalf("Setup error: %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "unit-span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	if !strings.Contains(out.String(), "unit-span") {
		t.Fatalf("exported output missing span:\n%s", out.String())
	}
}
