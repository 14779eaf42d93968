// Package metadata holds the header map handlers read and emit, together with
// the header keys handlerflow reserves.
package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Reserved header keys.
const (
	// KeyCorrelationID tracks related messages across services.
	KeyCorrelationID = "correlation_id"
	// KeyEventSchema names the Go type of the payload.
	KeyEventSchema = "event_message_schema"
	// KeyIdempotency is the default idempotent receiver key header.
	KeyIdempotency = "idempotency_key"
	// KeyTraceID and KeySpanID carry tracing ids across transports without propagation.
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"
)

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

// New constructs Metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns a shallow copy. The copy of a nil map is empty, not nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// With returns a copy holding key=value.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// WithAll returns a copy with entries merged over m.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.Clone()
	maps.Copy(cloned, entries)
	return cloned
}

// CorrelationID returns the correlation id header, if any.
func (m Metadata) CorrelationID() string {
	return m[KeyCorrelationID]
}

// IdempotencyKey returns the default idempotency header and whether it is set.
// An empty value that is present is still a key.
func (m Metadata) IdempotencyKey() (string, bool) {
	key, ok := m[KeyIdempotency]
	return key, ok
}

// FromWatermill copies Watermill headers.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(md).Clone()
}

// ToWatermill copies m into Watermill headers.
func ToWatermill(m Metadata) message.Metadata {
	return message.Metadata(m.Clone())
}
