package gateway

import (
	"errors"
	"log/slog"

	"cqbridge/internal/domain"
	"cqbridge/internal/metrics"
)

// sink turns raw event payloads into bus entries. Both event sources share it.
type sink struct {
	bus     domain.EventBus
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// ingest parses data and publishes message events. Ignored events return nil.
func (s sink) ingest(source string, data []byte) error {
	ev, err := ParseEvent(data)
	if errors.Is(err, ErrIgnored) {
		s.logger.Debug("event ignored", "source", source, "reason", err)
		return nil
	}
	if err != nil {
		s.logger.Warn("malformed event", "source", source, "error", err)
		s.metrics.Event("unknown", "malformed")
		return err
	}

	s.logger.Debug("event received",
		"source", source,
		"trace", ev.Trace,
		"kind", ev.Kind,
		"user_id", ev.Sender.UserID,
		"group_id", ev.GroupID,
		"message_id", ev.MessageID,
	)
	if !s.bus.Publish(ev) {
		s.metrics.Event(string(ev.Kind), "dropped")
	}
	return nil
}
