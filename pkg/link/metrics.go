package link

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/open-rov/rovbridge/pkg/link"

type linkMetrics struct {
	attrs metric.MeasurementOption

	framesWritten  metric.Int64Counter
	framesDropped  metric.Int64Counter
	linesTelemetry metric.Int64Counter
	linesMalformed metric.Int64Counter
}

// newLinkMetrics registers the per-link counters on the global meter.
func newLinkMetrics(name string) *linkMetrics {
	m := otel.Meter(instrumentationName)
	lm := &linkMetrics{attrs: metric.WithAttributes(attribute.String("link", name))}

	lm.framesWritten, _ = m.Int64Counter("link.frames.written",
		metric.WithDescription("Command frames written to the serial port"))
	lm.framesDropped, _ = m.Int64Counter("link.frames.dropped",
		metric.WithDescription("Command frames dropped because the write queue was full"))
	lm.linesTelemetry, _ = m.Int64Counter("link.lines.telemetry",
		metric.WithDescription("Telemetry lines received from the device"))
	lm.linesMalformed, _ = m.Int64Counter("link.lines.malformed",
		metric.WithDescription("Lines from the device that were not valid JSON"))
	return lm
}

func (m *linkMetrics) written()   { m.framesWritten.Add(context.Background(), 1, m.attrs) }
func (m *linkMetrics) dropped()   { m.framesDropped.Add(context.Background(), 1, m.attrs) }
func (m *linkMetrics) telemetry() { m.linesTelemetry.Add(context.Background(), 1, m.attrs) }
func (m *linkMetrics) malformed() { m.linesMalformed.Add(context.Background(), 1, m.attrs) }
