package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

func TestInitDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for name, cfg := range map[string]domain.TracingConfig{
		"Disabled":   {Enabled: false, Endpoint: "localhost:4317"},
		"NoEndpoint": {Enabled: true},
		"NoneType":   {Enabled: true, ExporterType: "none", Endpoint: "localhost:4317"},
	} {
		t.Run(name, func(t *testing.T) {
			shutdown, err := Init(context.Background(), cfg, "test", logger)
			if err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown failed: %v", err)
			}
		})
	}
}
