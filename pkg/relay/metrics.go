package relay

import (
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/concierge/pkg/relay"

// instruments holds the relay's OpenTelemetry instruments.
type instruments struct {
	framesSent      metric.Int64Counter
	framesDropped   metric.Int64Counter
	buffers         metric.Int64Counter
	interruptions   metric.Int64Counter
	decodeErrors    metric.Int64Counter
	activeSessions  metric.Int64UpDownCounter
	playbackSeconds metric.Float64Counter
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	m := mp.Meter(meterName)
	var err error
	in := &instruments{}

	if in.framesSent, err = m.Int64Counter("concierge.relay.frames.sent",
		metric.WithDescription("Microphone frames forwarded to the speech session."),
	); err != nil {
		return nil, err
	}
	if in.framesDropped, err = m.Int64Counter("concierge.relay.frames.dropped",
		metric.WithDescription("Microphone frames discarded because no session was connected."),
	); err != nil {
		return nil, err
	}
	if in.buffers, err = m.Int64Counter("concierge.relay.playback.buffers",
		metric.WithDescription("Output buffers scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if in.playbackSeconds, err = m.Float64Counter("concierge.relay.playback.duration",
		metric.WithDescription("Total duration of scheduled output audio."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if in.interruptions, err = m.Int64Counter("concierge.relay.interruptions",
		metric.WithDescription("Remote interruptions that flushed queued playback."),
	); err != nil {
		return nil, err
	}
	if in.decodeErrors, err = m.Int64Counter("concierge.relay.decode_errors",
		metric.WithDescription("Malformed audio payloads skipped."),
	); err != nil {
		return nil, err
	}
	if in.activeSessions, err = m.Int64UpDownCounter("concierge.relay.active_sessions",
		metric.WithDescription("Number of open relay sessions."),
	); err != nil {
		return nil, err
	}
	return in, nil
}
