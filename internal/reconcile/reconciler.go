// Package reconcile consumes the ordered backend event stream and
// applies each event to the entity cache. One worker drains the channel;
// this is the system's single serialization point, so no event is ever
// applied concurrently with another.
package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chatsync/internal/backend"
	"chatsync/internal/cache"
	"chatsync/internal/domain"
)

// AuthStateHandler receives authorization-state events lifted off the
// stream. It runs on the consumption loop and must return quickly.
type AuthStateHandler func(domain.AuthStateChanged)

// TypingHandler receives peer typing events lifted off the stream.
// Typing is transient and never persisted; it fans out to the
// registered handlers instead. Handlers run on the consumption loop
// and must return quickly.
type TypingHandler func(domain.UserTyping)

type Reconciler struct {
	store    *cache.Store
	notify   backend.NotificationSink
	onAuth   AuthStateHandler
	logger   *zap.Logger
	unlocked atomic.Bool

	typingMu   sync.Mutex
	typing     map[int]TypingHandler
	nextTyping int
}

func New(store *cache.Store, sink backend.NotificationSink, onAuth AuthStateHandler, logger *zap.Logger) *Reconciler {
	if sink == nil {
		sink = backend.NoopSink{}
	}
	return &Reconciler{
		store:  store,
		notify: sink,
		onAuth: onAuth,
		logger: logger,
		typing: make(map[int]TypingHandler),
	}
}

// OnTyping registers a peer-typing handler and returns its unsubscribe
// func. Conversation controllers register here for their open chat.
func (r *Reconciler) OnTyping(fn TypingHandler) func() {
	r.typingMu.Lock()
	id := r.nextTyping
	r.nextTyping++
	r.typing[id] = fn
	r.typingMu.Unlock()
	return func() {
		r.typingMu.Lock()
		delete(r.typing, id)
		r.typingMu.Unlock()
	}
}

// SetUnlocked gates entity-event application. While locked (not yet
// authorized) entity events are dropped; auth events always pass.
func (r *Reconciler) SetUnlocked(unlocked bool) {
	r.unlocked.Store(unlocked)
}

// Run drains events until the channel closes or ctx is cancelled.
// Events are applied strictly in arrival order.
func (r *Reconciler) Run(ctx context.Context, events <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Apply(ev)
		}
	}
}

// Apply reconciles a single event into the cache. Applying the same
// event twice is a no-op the second time: every mutation compares
// incoming values against stored state before writing, and application
// is keyed by entity id, never by position.
func (r *Reconciler) Apply(ev domain.Event) {
	if auth, ok := ev.(domain.AuthStateChanged); ok {
		if r.onAuth != nil {
			r.onAuth(auth)
		}
		return
	}
	if !r.unlocked.Load() {
		r.logger.Debug("dropping entity event before authorization",
			zap.String("event", eventName(ev)))
		return
	}

	switch e := ev.(type) {
	case domain.ChatNew:
		r.store.UpsertChat(e.Chat)
	case domain.ChatUpdated:
		r.store.UpsertChat(e.Chat)
	case domain.ChatDeleted:
		r.store.DeleteChat(e.ChatID)
	case domain.ChatPositionChanged:
		r.store.MutateChat(e.ChatID, func(c *domain.Chat) bool {
			if cur, ok := c.Position(e.Position.List); ok && cur == e.Position {
				return false
			}
			c.SetPosition(e.Position)
			return true
		})
	case domain.ChatUnreadChanged:
		r.store.MutateChat(e.ChatID, func(c *domain.Chat) bool {
			if c.UnreadCount == e.UnreadCount && c.IsMarkedUnread == e.IsMarkedUnread {
				return false
			}
			c.UnreadCount = e.UnreadCount
			c.IsMarkedUnread = e.IsMarkedUnread
			return true
		})
	case domain.ChatLastMessageChanged:
		r.applyLastMessage(e.ChatID, e.LastMessage)
	case domain.ChatDraftChanged:
		r.store.MutateChat(e.ChatID, func(c *domain.Chat) bool {
			if draftEqual(c.Draft, e.Draft) {
				return false
			}
			c.Draft = e.Draft
			return true
		})
	case domain.MessageNew:
		r.applyNewMessage(e.Message)
	case domain.MessageEdited:
		r.store.EditMessage(e.ChatID, e.MessageID, e.Content, e.EditDate)
	case domain.MessagesDeleted:
		r.store.DeleteMessages(e.ChatID, e.MessageIDs)
	case domain.MessageReadChanged:
		r.store.ApplyRead(e.ChatID, e.MaxID, e.Outgoing)
	case domain.MessageReactionsChanged:
		r.store.ApplyReactions(e.ChatID, e.MessageID, e.Reactions)
	case domain.UserUpdated:
		r.store.UpsertUser(e.User)
	case domain.UserStatusChanged:
		r.store.SetUserStatus(e.UserID, e.Status)
	case domain.UserTyping:
		r.typingMu.Lock()
		fns := make([]TypingHandler, 0, len(r.typing))
		for _, fn := range r.typing {
			fns = append(fns, fn)
		}
		r.typingMu.Unlock()
		for _, fn := range fns {
			fn(e)
		}
	default:
		// Unknown kinds never crash the loop: log and move on.
		r.logger.Warn("skipping unknown event kind", zap.String("event", eventName(ev)))
	}
}

// applyNewMessage upserts the message and rolls the owning chat's last
// message and unread count forward, then fans out a notification for
// incoming messages. The sink call runs off-loop so a slow sink cannot
// stall ingestion.
func (r *Reconciler) applyNewMessage(msg domain.Message) {
	if _, ok := r.store.Message(msg.ChatID, msg.ID); ok {
		// Duplicate delivery (or an optimistic send already confirmed
		// locally): upsert handles field drift, skip the side effects.
		r.store.UpsertMessage(msg)
		return
	}
	r.store.UpsertMessage(msg)
	r.store.MutateChat(msg.ChatID, func(c *domain.Chat) bool {
		changed := false
		if c.LastMessage == nil || c.LastMessage.ID < msg.ID {
			m := msg
			c.LastMessage = &m
			c.LastMessageDate = msg.Date
			changed = true
		}
		if !msg.IsOutgoing {
			c.UnreadCount++
			changed = true
		}
		return changed
	})
	if !msg.IsOutgoing {
		preview := msg.PreviewText()
		chatID := msg.ChatID
		go r.notify.Notify(chatID, preview)
	}
}

func (r *Reconciler) applyLastMessage(chatID int64, last *domain.Message) {
	r.store.MutateChat(chatID, func(c *domain.Chat) bool {
		if last == nil {
			if c.LastMessage == nil {
				return false
			}
			c.LastMessage = nil
			c.LastMessageDate = time.Time{}
			return true
		}
		if c.LastMessage != nil && c.LastMessage.ID == last.ID &&
			c.LastMessage.Date.Equal(last.Date) {
			return false
		}
		m := *last
		c.LastMessage = &m
		c.LastMessageDate = last.Date
		return true
	})
}

func draftEqual(a, b *domain.Draft) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Text == b.Text && a.ReplyToID == b.ReplyToID && a.Date.Equal(b.Date)
}

func eventName(ev domain.Event) string {
	switch ev.(type) {
	case domain.ChatNew:
		return "chatNew"
	case domain.ChatUpdated:
		return "chatUpdated"
	case domain.ChatDeleted:
		return "chatDeleted"
	case domain.ChatPositionChanged:
		return "chatPositionChanged"
	case domain.ChatUnreadChanged:
		return "chatUnreadChanged"
	case domain.ChatLastMessageChanged:
		return "chatLastMessageChanged"
	case domain.ChatDraftChanged:
		return "chatDraftChanged"
	case domain.MessageNew:
		return "messageNew"
	case domain.MessageEdited:
		return "messageEdited"
	case domain.MessagesDeleted:
		return "messagesDeleted"
	case domain.MessageReadChanged:
		return "messageReadChanged"
	case domain.MessageReactionsChanged:
		return "messageReactionsChanged"
	case domain.UserUpdated:
		return "userUpdated"
	case domain.UserStatusChanged:
		return "userStatusChanged"
	case domain.UserTyping:
		return "userTyping"
	case domain.AuthStateChanged:
		return "authStateChanged"
	default:
		return "unknown"
	}
}
