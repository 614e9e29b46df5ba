package channel

import (
	"time"

	"github.com/lfelipesv/talkd/internal/bus"
	"github.com/lfelipesv/talkd/internal/model"
	"github.com/lfelipesv/talkd/internal/status"
	"go.uber.org/zap"
)

// EventHandler bridges adapter callbacks onto the bus and drives the status
// machine on connection changes. It does NOT touch the stores directly —
// the sync engine subscribes to the bus independently, which is what keeps
// event application sequential.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Register attaches the handler to an adapter. Returns a detach function.
func (h *EventHandler) Register(a *Adapter) func() {
	unsubMsg := a.OnMessage(h.HandleEvent)
	unsubConn := a.OnConnect(h.HandleConnect)
	unsubDisc := a.OnDisconnect(h.HandleDisconnect)
	return func() {
		unsubMsg()
		unsubConn()
		unsubDisc()
	}
}

// HandleEvent decodes one inbound envelope and publishes the typed payload.
func (h *EventHandler) HandleEvent(env *Envelope) {
	payload, err := env.Decode()
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("skipping push event", zap.Error(err))
		}
		return
	}

	var kind string
	switch payload.(type) {
	case *model.Message:
		kind = bus.KindChannelMessage
	case *model.TypingStatus:
		kind = bus.KindChannelTyping
	case *model.OnlineStatus:
		kind = bus.KindChannelOnline
	case *model.SeenEvent:
		kind = bus.KindChannelSeen
	default:
		return
	}

	h.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// HandleConnect is invoked when the websocket is (re)established.
func (h *EventHandler) HandleConnect() {
	if h.logger != nil {
		h.logger.Info("push channel connected")
	}
	switch h.machine.Current() {
	case status.Connecting, status.Reconnecting:
		_ = h.machine.Transition(status.Syncing)
	}
	h.bus.Publish(bus.Event{Kind: bus.KindChannelConnected, Timestamp: time.Now()})
}

// HandleDisconnect is invoked when the websocket drops.
func (h *EventHandler) HandleDisconnect() {
	if h.logger != nil {
		h.logger.Warn("push channel disconnected")
	}
	switch h.machine.Current() {
	case status.Syncing, status.Ready, status.Degraded:
		_ = h.machine.Transition(status.Reconnecting)
	}
	h.bus.Publish(bus.Event{Kind: bus.KindChannelDisconnected, Timestamp: time.Now()})
}
