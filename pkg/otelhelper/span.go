package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DeviceAttributes identifies the device and request event a span belongs to.
func DeviceAttributes(deviceID, eventName string, extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2+len(extra))
	attrs = append(attrs,
		attribute.String(DeviceIDKey, deviceID),
		attribute.String(EventNameKey, eventName),
	)

	return append(attrs, extra...)
}

// SetError marks span as failed. attrs are attached to the recorded exception.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}
