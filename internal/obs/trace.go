package obs

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "qazna.org/console"

// Tracer returns the console tracer from the global provider. Without a
// configured provider the returned tracer is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
