package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetup_NoopWithoutEndpoint(t *testing.T) {
	prev := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), "", "skillforge", "test")
	if err != nil {
		t.Fatalf("Setup() ошибка: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown ошибка: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Error("без endpoint глобальный провайдер меняться не должен")
	}
}

func TestSetup_WithEndpoint(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// Немаршрутизируемый адрес: экспорт не выполняется.
	shutdown, err := Setup(context.Background(), "http://192.0.2.1:4318", "skillforge", "test")
	if err != nil {
		t.Fatalf("Setup() ошибка: %v", err)
	}
	if otel.GetTracerProvider() == prev {
		t.Error("провайдер должен быть зарегистрирован")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown ошибка: %v", err)
	}
}
