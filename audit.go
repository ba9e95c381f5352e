package venueauth

import (
	"io"

	"github.com/MrEthical07/venueauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant fact emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's background dispatcher.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// MultiSink fans events out to several sinks.
type MultiSink = audit.MultiSink

// NewChannelSink returns a sink that exposes events on a buffered channel.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON document per event to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink logs every event at info level through logger.
func NewZapSink(logger *zap.Logger) *audit.ZapSink {
	return audit.NewZapSink(logger)
}
