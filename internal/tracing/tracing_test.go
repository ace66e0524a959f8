package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "mentorbook-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected non-nil shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		t.Error("SDK provider should not be installed when disabled")
	}
}

func TestSetup_SetsPropagator(t *testing.T) {
	if _, err := Setup(context.Background(), "mentorbook-test", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}
