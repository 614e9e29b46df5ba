package bus

import "time"

// Event kinds published on the bus. Subscriptions filter by namespace
// prefix, so "channel." matches every inbound push event and "message."
// matches the store-side message lifecycle.
const (
	// Inbound push events, published by the channel event handler.
	KindChannelMessage      = "channel.message"
	KindChannelTyping       = "channel.typing"
	KindChannelOnline       = "channel.online"
	KindChannelSeen         = "channel.seen"
	KindChannelConnected    = "channel.connected"
	KindChannelDisconnected = "channel.disconnected"

	// Store lifecycle, published by the sync engine.
	KindMessageAppended   = "message.appended"
	KindMessageConfirmed  = "message.confirmed"
	KindMessageRolledBack = "message.rolled_back"
	KindMessageSeen       = "message.seen"

	KindConversationUpdated = "conversation.updated"
	KindPresenceUpdated     = "presence.updated"
	KindSyncRefreshed       = "sync.refreshed"

	KindStatusChanged = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
