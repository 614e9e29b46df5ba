package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lfelipesv/talkd/internal/api"
	"github.com/lfelipesv/talkd/internal/bus"
	"github.com/lfelipesv/talkd/internal/channel"
	"github.com/lfelipesv/talkd/internal/model"
	"github.com/lfelipesv/talkd/internal/presence"
	"github.com/lfelipesv/talkd/internal/state"
	"github.com/lfelipesv/talkd/internal/status"
	"go.uber.org/zap"
)

// Backend is the authoritative chat API consumed by the engine.
type Backend interface {
	ListConversations(ctx context.Context, viewerID string) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error)
	CreateMessage(ctx context.Context, conversationID, userID, content, clientKey string) (*model.Message, error)
	GetOrCreateDirect(ctx context.Context, otherUserID string) (*model.Conversation, error)
	MarkSeen(ctx context.Context, messageID string) error
	OnlineUsers(ctx context.Context) ([]model.ChatUser, error)
}

// Publisher is the advisory outbound side of the push channel.
type Publisher interface {
	Send(env *channel.Envelope)
}

// Options tune the engine's timers.
type Options struct {
	// RefreshInterval is the periodic full-resync cadence. The resync is a
	// consistency backstop against missed or malformed push events.
	RefreshInterval time.Duration
	// TypingIdle is how long after the last Typing call the engine
	// announces typing=false on the caller's behalf.
	TypingIdle time.Duration
}

func (o *Options) fill() {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 30 * time.Second
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 2 * time.Second
	}
}

// Engine is the synchronizer: the sole writer of the in-memory stores. It
// applies inbound push events strictly in delivery order from a single bus
// subscription, issues REST calls for authoritative writes, and publishes
// advisory traffic on the push channel.
type Engine struct {
	store   *state.Store
	tracker *presence.Tracker
	backend Backend
	pub     Publisher
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	opts    Options

	viewer model.ChatUser
	cancel context.CancelFunc

	typingMu     sync.Mutex
	typingTimers map[string]*time.Timer
}

// NewEngine creates a sync engine for the given viewer identity.
func NewEngine(viewer model.ChatUser, st *state.Store, tr *presence.Tracker, backend Backend, pub Publisher, b *bus.Bus, machine *status.Machine, logger *zap.Logger, opts Options) *Engine {
	opts.fill()
	return &Engine{
		store:        st,
		tracker:      tr,
		backend:      backend,
		pub:          pub,
		bus:          b,
		machine:      machine,
		logger:       logger,
		opts:         opts,
		viewer:       viewer,
		typingTimers: make(map[string]*time.Timer),
	}
}

// Start subscribes to inbound channel events and begins the refresh timer.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("channel.", 256)

	go func() {
		defer unsub()
		ticker := time.NewTicker(e.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ticker.C:
				e.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts event processing and cancels pending typing timers.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.typingMu.Lock()
	for id, timer := range e.typingTimers {
		timer.Stop()
		delete(e.typingTimers, id)
	}
	e.typingMu.Unlock()
}

// handleEvent applies one inbound event to completion before the next.
// Sequential application is what keeps unread accounting safe: two events
// for the same conversation can never interleave.
func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindChannelMessage:
		msg, ok := evt.Payload.(*model.Message)
		if !ok {
			return
		}
		res := e.store.ApplyPush(msg)
		e.publish(bus.KindMessageAppended, msg)
		e.publishConversation(msg.ConversationID)
		if !res.ConversationKnown {
			// A conversation we have never fetched: pull the real summary.
			if err := e.LoadConversations(ctx); err != nil {
				e.warn("refresh after unknown conversation failed", err)
			}
		}

	case bus.KindChannelTyping:
		ts, ok := evt.Payload.(*model.TypingStatus)
		if !ok {
			return
		}
		e.tracker.ApplyTyping(*ts)
		e.publish(bus.KindPresenceUpdated, ts)

	case bus.KindChannelOnline:
		o, ok := evt.Payload.(*model.OnlineStatus)
		if !ok {
			return
		}
		e.tracker.ApplyOnline(*o)
		e.publish(bus.KindPresenceUpdated, o)

	case bus.KindChannelSeen:
		seen, ok := evt.Payload.(*model.SeenEvent)
		if !ok {
			return
		}
		at := seen.SeenAt
		if at == 0 {
			at = time.Now().UnixMilli()
		}
		if e.store.ApplySeen(seen.MessageID, model.SeenReceipt{UserID: seen.UserID, SeenAt: at}) {
			e.publish(bus.KindMessageSeen, seen)
		}

	case bus.KindChannelConnected:
		// Resync immediately: anything fanned out while the channel was
		// down is only recoverable by refetching.
		e.Refresh(ctx)

	case bus.KindChannelDisconnected:
		e.tracker.Reset()
	}
}

// LoadConversations refetches the viewer's conversation list wholesale.
func (e *Engine) LoadConversations(ctx context.Context) error {
	convs, err := e.backend.ListConversations(ctx, e.viewer.ID)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	e.store.ReplaceConversations(convs)
	e.publish(bus.KindConversationUpdated, nil)
	return nil
}

// OpenConversation marks a conversation open and loads its history. A
// response that arrives after the user has moved on is discarded by the
// store's stale guard. Opening does not change unread counts.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	if !e.store.Open(conversationID) {
		return nil, &api.ValidationError{Reason: fmt.Sprintf("unknown conversation %q", conversationID)}
	}
	msgs, err := e.backend.ListMessages(ctx, conversationID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if !e.store.ReplaceMessages(conversationID, msgs) {
		// User switched conversations while the fetch was in flight.
		return nil, nil
	}
	return e.store.Messages(conversationID), nil
}

// LoadOlderMessages pages backwards from the given timestamp cursor.
func (e *Engine) LoadOlderMessages(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error) {
	msgs, err := e.backend.ListMessages(ctx, conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("load older messages: %w", err)
	}
	return msgs, nil
}

// CloseConversation clears the open pointer and its ephemeral typing state.
func (e *Engine) CloseConversation() {
	if closed := e.store.Close(); closed != "" {
		e.tracker.ClearConversation(closed)
		e.cancelTyping(closed)
	}
}

// SendMessage performs the optimistic send pipeline: validate, append a
// pending entry (zero perceived latency), call the authoritative create,
// then reconcile or roll back. Failures after the optimistic append are
// returned to the caller so the UI can restore the typed input.
func (e *Engine) SendMessage(ctx context.Context, conversationID, content string) (*model.Message, error) {
	if content == "" {
		return nil, &api.ValidationError{Reason: "empty content"}
	}
	if _, ok := e.store.Conversation(conversationID); !ok {
		return nil, &api.ValidationError{Reason: fmt.Sprintf("unknown conversation %q", conversationID)}
	}

	clientKey := uuid.NewString()
	now := time.Now().UnixMilli()
	optimistic := model.Message{
		ID:             "tmp-" + clientKey,
		ConversationID: conversationID,
		SenderID:       e.viewer.ID,
		Sender:         e.viewer,
		Content:        content,
		ClientKey:      clientKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e.store.ApplyOptimistic(optimistic)
	e.publishConversation(conversationID)

	confirmed, err := e.backend.CreateMessage(ctx, conversationID, e.viewer.ID, content, clientKey)
	if err != nil {
		e.store.RollbackOptimistic(clientKey)
		e.publish(bus.KindMessageRolledBack, &optimistic)
		// Reload to discard the speculative reordering; best effort.
		if lerr := e.LoadConversations(ctx); lerr != nil {
			e.warn("rollback reload failed", lerr)
		}
		return nil, err
	}

	e.store.ReconcileConfirmed(clientKey, *confirmed)
	e.publish(bus.KindMessageConfirmed, confirmed)
	e.publishConversation(conversationID)
	return confirmed, nil
}

// CreateDirectConversation returns the one-to-one conversation with the
// given user, creating it remotely if needed.
func (e *Engine) CreateDirectConversation(ctx context.Context, otherUserID string) (*model.Conversation, error) {
	conv, err := e.backend.GetOrCreateDirect(ctx, otherUserID)
	if err != nil {
		return nil, err
	}
	e.store.UpsertConversation(*conv)
	e.publish(bus.KindConversationUpdated, nil)
	return conv, nil
}

// MarkSeen announces that the viewer has seen a message. The channel
// publish is advisory and fire-and-forget; the authoritative seenBy append
// arrives later as its own push event. The REST acknowledgment is issued in
// the background so a slow backend never stalls the caller.
func (e *Engine) MarkSeen(messageID string) {
	if env, err := channel.SeenEvent(messageID, e.viewer.ID); err == nil {
		e.pub.Send(env)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.backend.MarkSeen(ctx, messageID); err != nil {
			e.warn("mark seen failed", err)
		}
	}()
}

// MarkRead zeroes a conversation's unread counter. Explicit, never implied
// by opening the conversation.
func (e *Engine) MarkRead(conversationID string) {
	e.store.MarkRead(conversationID)
	e.publishConversation(conversationID)
}

// Typing announces that the viewer is typing. Each call re-arms an idle
// timer; when it fires without another call, typing=false is sent
// automatically so remote indicators clear even if the caller forgets.
func (e *Engine) Typing(conversationID string) {
	e.sendTyping(conversationID, true)

	e.typingMu.Lock()
	defer e.typingMu.Unlock()
	if timer, ok := e.typingTimers[conversationID]; ok {
		timer.Stop()
	}
	e.typingTimers[conversationID] = time.AfterFunc(e.opts.TypingIdle, func() {
		e.typingMu.Lock()
		delete(e.typingTimers, conversationID)
		e.typingMu.Unlock()
		e.sendTyping(conversationID, false)
	})
}

// StopTyping sends an immediate typing=false, e.g. when a message is sent.
func (e *Engine) StopTyping(conversationID string) {
	e.cancelTyping(conversationID)
	e.sendTyping(conversationID, false)
}

func (e *Engine) cancelTyping(conversationID string) {
	e.typingMu.Lock()
	if timer, ok := e.typingTimers[conversationID]; ok {
		timer.Stop()
		delete(e.typingTimers, conversationID)
	}
	e.typingMu.Unlock()
}

func (e *Engine) sendTyping(conversationID string, isTyping bool) {
	env, err := channel.TypingEvent(model.TypingStatus{
		ConversationID: conversationID,
		UserID:         e.viewer.ID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return
	}
	e.pub.Send(env)
}

// Refresh refetches conversations and presence. It is the consistency
// backstop: worst case after a missed push event is one interval of
// staleness.
func (e *Engine) Refresh(ctx context.Context) {
	if err := e.LoadConversations(ctx); err != nil {
		e.warn("periodic refresh failed", err)
		return
	}
	users, err := e.backend.OnlineUsers(ctx)
	if err != nil {
		e.warn("presence refresh failed", err)
	} else {
		e.tracker.ReplaceOnline(users)
	}

	if e.machine != nil && e.machine.Current() == status.Syncing {
		_ = e.machine.Transition(status.Ready)
	}
	e.publish(bus.KindSyncRefreshed, nil)
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (e *Engine) publishConversation(conversationID string) {
	e.publish(bus.KindConversationUpdated, conversationID)
}

func (e *Engine) warn(msg string, err error) {
	if e.logger != nil {
		e.logger.Warn(msg, zap.Error(err))
	}
}
