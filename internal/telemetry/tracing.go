package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for connection setup spans.
const TracerName = "github.com/bartektricks/noob-skater-sub000"

// Tracer returns the globally registered tracer for netplay spans. With no
// provider installed this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
