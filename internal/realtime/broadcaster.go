package realtime

import (
	"context"
	"encoding/json"
	"log"

	"community-chat/internal/models"
	"community-chat/internal/observability"
)

// Broadcaster turns domain events into bus envelopes and delivers envelopes
// from the bus to the local hub.
type Broadcaster struct {
	hub *Hub
	bus Bus
}

func NewBroadcaster(hub *Hub, bus Bus) *Broadcaster {
	return &Broadcaster{hub: hub, bus: bus}
}

// BroadcastCommunity publishes a message event on community:{id}.
func (b *Broadcaster) BroadcastCommunity(ctx context.Context, communityID int64, event models.Event) {
	b.publish(ctx, models.CommunityTopic(communityID), event)
}

// NotifyCommunityInfo publishes latest_community_info on user:{id}.
func (b *Broadcaster) NotifyCommunityInfo(ctx context.Context, userID int64, info models.CommunityInfo) {
	b.publish(ctx, models.UserTopic(userID), models.LatestCommunityInfo{Info: info})
}

func (b *Broadcaster) publish(ctx context.Context, topic string, event models.Event) {
	raw, err := models.EncodeEvent(event)
	if err != nil {
		log.Printf("encode event failed: topic=%s type=%s err=%v", topic, event.Type(), err)
		return
	}
	if err := b.bus.Publish(ctx, Envelope{Topic: topic, Event: raw}); err != nil {
		observability.IncBusPublishError(b.bus.Name())
		log.Printf("bus publish failed: bus=%s topic=%s type=%s err=%v", b.bus.Name(), topic, event.Type(), err)
	}
}

// Run delivers bus envelopes to local subscribers until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	return b.bus.Subscribe(ctx, b.deliver)
}

func (b *Broadcaster) deliver(env Envelope) {
	frame, err := json.Marshal(models.Frame{Identifier: env.Topic, Message: env.Event})
	if err != nil {
		log.Printf("marshal frame failed: topic=%s err=%v", env.Topic, err)
		return
	}
	b.hub.Deliver(env.Topic, frame)
}
