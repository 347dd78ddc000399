package realtime

import (
	"context"
	"time"

	"community-chat/internal/observability"
)

const wsRoutingKey = "ws_events.community_chat"

type ConnInfo struct {
	ConnID      string
	UserID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// publish reports a lifecycle event for the connection to metrics and AMQP.
func (i ConnInfo) publish(ctx context.Context, event, topic, reason string) {
	observability.IncWSEvent(event)

	var duration int64
	if event != "ws_connect" {
		duration = time.Since(i.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: observability.WSPayload{
			WS: observability.WSDetails{
				Event:      event,
				ConnID:     i.ConnID,
				Topic:      topic,
				DurationMS: duration,
				Reason:     reason,
			},
			Identity: observability.Identity{
				UserID:   i.UserID,
				DeviceID: i.DeviceID,
				IP:       i.IP,
			},
		},
	}, observability.BuildHeaders(i.RequestID, i.TraceID))
}
