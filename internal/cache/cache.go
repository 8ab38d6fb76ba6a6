// Package cache is the in-memory authoritative store of chats, messages
// and users. It owns the entity records; everything handed out is a
// snapshot the caller must treat as immutable. All writes are serialized
// behind one mutex, readers get copy-out snapshots.
package cache

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"chatsync/internal/domain"
)

// maxMessagesPerChat caps the per-chat history window held in memory.
const maxMessagesPerChat = 500

// ChangeKind tags a change notification.
type ChangeKind int

const (
	ChatChanged ChangeKind = iota
	ChatRemoved
	MessageChanged
	MessagesRemoved
	UserChanged
	StoreReset
)

// Change describes one cache mutation. MessageIDs is set for message
// changes, UserID for user changes.
type Change struct {
	Kind       ChangeKind
	ChatID     int64
	MessageIDs []int64
	UserID     int64
}

type Store struct {
	mu       sync.RWMutex
	chats    map[int64]*domain.Chat
	messages map[int64][]domain.Message // ascending by message id
	users    map[int64]*domain.User

	subMu   sync.RWMutex
	subs    map[int]func(Change)
	nextSub int
}

func New() *Store {
	return &Store{
		chats:    make(map[int64]*domain.Chat),
		messages: make(map[int64][]domain.Message),
		users:    make(map[int64]*domain.User),
		subs:     make(map[int]func(Change)),
	}
}

// Subscribe registers a change listener and returns its unsubscribe
// func. Listeners run synchronously after the mutation, outside the
// store lock; they must not block.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

// UpsertChat inserts or replaces a chat by id. Re-applying an identical
// chat is a no-op and emits no notification.
func (s *Store) UpsertChat(chat domain.Chat) {
	s.mu.Lock()
	if cur, ok := s.chats[chat.ID]; ok && reflect.DeepEqual(*cur, chat) {
		s.mu.Unlock()
		return
	}
	cp := cloneChat(chat)
	s.chats[chat.ID] = &cp
	s.mu.Unlock()
	s.notify(Change{Kind: ChatChanged, ChatID: chat.ID})
}

// DeleteChat removes a chat, its messages and all derived state.
func (s *Store) DeleteChat(chatID int64) {
	s.mu.Lock()
	_, ok := s.chats[chatID]
	if ok {
		delete(s.chats, chatID)
		delete(s.messages, chatID)
	}
	s.mu.Unlock()
	if ok {
		s.notify(Change{Kind: ChatRemoved, ChatID: chatID})
	}
}

// MutateChat applies fn to the chat under the write lock. fn returns
// true if it changed anything; unchanged mutations emit no
// notification. Returns false if the chat does not exist.
func (s *Store) MutateChat(chatID int64, fn func(*domain.Chat) bool) bool {
	s.mu.Lock()
	chat, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	changed := fn(chat)
	s.mu.Unlock()
	if changed {
		s.notify(Change{Kind: ChatChanged, ChatID: chatID})
	}
	return true
}

// UpsertMessage inserts a message at its id-ordered position, or
// replaces the stored copy if the id already exists. The per-chat
// window is capped; the oldest messages fall off first.
func (s *Store) UpsertMessage(msg domain.Message) {
	s.mu.Lock()
	msgs := s.messages[msg.ChatID]
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].ID >= msg.ID })
	if i < len(msgs) && msgs[i].ID == msg.ID {
		if reflect.DeepEqual(msgs[i], msg) {
			s.mu.Unlock()
			return
		}
		msgs[i] = cloneMessage(msg)
	} else {
		msgs = append(msgs, domain.Message{})
		copy(msgs[i+1:], msgs[i:])
		msgs[i] = cloneMessage(msg)
		if len(msgs) > maxMessagesPerChat {
			msgs = msgs[len(msgs)-maxMessagesPerChat:]
		}
	}
	s.messages[msg.ChatID] = msgs
	s.mu.Unlock()
	s.notify(Change{Kind: MessageChanged, ChatID: msg.ChatID, MessageIDs: []int64{msg.ID}})
}

// EditMessage replaces a message's content and edit date in place,
// keeping its id and position. No-op if the message is absent or the
// content is already current.
func (s *Store) EditMessage(chatID, messageID int64, content domain.MessageContent, editDate time.Time) {
	s.mu.Lock()
	msgs := s.messages[chatID]
	i := indexOf(msgs, messageID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	if reflect.DeepEqual(msgs[i].Content, content) && msgs[i].EditDate.Equal(editDate) {
		s.mu.Unlock()
		return
	}
	msgs[i].Content = content
	msgs[i].EditDate = editDate
	s.mu.Unlock()
	s.notify(Change{Kind: MessageChanged, ChatID: chatID, MessageIDs: []int64{messageID}})
}

// DeleteMessages removes messages by id. Ids not present are ignored;
// each notification carries only the ids actually removed. A zero
// chatID means the deletion was not scoped to a chat (plain-chat
// updates carry no peer): the ids are removed wherever they are loaded,
// with one notification per affected chat.
func (s *Store) DeleteMessages(chatID int64, messageIDs []int64) {
	drop := make(map[int64]bool, len(messageIDs))
	for _, id := range messageIDs {
		drop[id] = true
	}
	s.mu.Lock()
	removed := make(map[int64][]int64)
	if chatID != 0 {
		if ids := dropMessages(s.messages, chatID, drop); len(ids) > 0 {
			removed[chatID] = ids
		}
	} else {
		for id := range s.messages {
			if ids := dropMessages(s.messages, id, drop); len(ids) > 0 {
				removed[id] = ids
			}
		}
	}
	s.mu.Unlock()
	for id, ids := range removed {
		s.notify(Change{Kind: MessagesRemoved, ChatID: id, MessageIDs: ids})
	}
}

func dropMessages(messages map[int64][]domain.Message, chatID int64, drop map[int64]bool) []int64 {
	msgs := messages[chatID]
	var removed []int64
	kept := msgs[:0]
	for _, m := range msgs {
		if drop[m.ID] {
			removed = append(removed, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	messages[chatID] = kept
	return removed
}

// ApplyRead marks messages up to maxID as read. outgoing means the peer
// read our messages; otherwise it is our own read position and the
// chat's unread count is cleared as well.
func (s *Store) ApplyRead(chatID, maxID int64, outgoing bool) {
	s.mu.Lock()
	var changedIDs []int64
	msgs := s.messages[chatID]
	for i := range msgs {
		if msgs[i].ID > maxID || msgs[i].IsRead {
			continue
		}
		if msgs[i].IsOutgoing == outgoing {
			msgs[i].IsRead = true
			changedIDs = append(changedIDs, msgs[i].ID)
		}
	}
	chatChanged := false
	if !outgoing {
		if chat, ok := s.chats[chatID]; ok && (chat.UnreadCount != 0 || chat.IsMarkedUnread) {
			chat.UnreadCount = 0
			chat.IsMarkedUnread = false
			chatChanged = true
		}
	}
	s.mu.Unlock()
	if len(changedIDs) > 0 {
		s.notify(Change{Kind: MessageChanged, ChatID: chatID, MessageIDs: changedIDs})
	}
	if chatChanged {
		s.notify(Change{Kind: ChatChanged, ChatID: chatID})
	}
}

// ApplyReactions replaces a message's reaction multiset.
func (s *Store) ApplyReactions(chatID, messageID int64, reactions []domain.Reaction) {
	s.mu.Lock()
	msgs := s.messages[chatID]
	i := indexOf(msgs, messageID)
	if i < 0 || reflect.DeepEqual(msgs[i].Reactions, reactions) {
		s.mu.Unlock()
		return
	}
	msgs[i].Reactions = append([]domain.Reaction(nil), reactions...)
	s.mu.Unlock()
	s.notify(Change{Kind: MessageChanged, ChatID: chatID, MessageIDs: []int64{messageID}})
}

// UpsertUser inserts or replaces a user by id.
func (s *Store) UpsertUser(user domain.User) {
	s.mu.Lock()
	if cur, ok := s.users[user.ID]; ok && reflect.DeepEqual(*cur, user) {
		s.mu.Unlock()
		return
	}
	cp := user
	s.users[user.ID] = &cp
	s.mu.Unlock()
	s.notify(Change{Kind: UserChanged, UserID: user.ID})
}

// SetUserStatus updates a user's presence in place. Unknown users are
// ignored; a full UserUpdated will create them.
func (s *Store) SetUserStatus(userID int64, status domain.UserStatus) {
	s.mu.Lock()
	user, ok := s.users[userID]
	if !ok || reflect.DeepEqual(user.Status, status) {
		s.mu.Unlock()
		return
	}
	user.Status = status
	s.mu.Unlock()
	s.notify(Change{Kind: UserChanged, UserID: userID})
}

// Chat returns a snapshot of one chat.
func (s *Store) Chat(chatID int64) (domain.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return domain.Chat{}, false
	}
	return cloneChat(*chat), true
}

// Chats returns snapshots of every cached chat, in unspecified order.
func (s *Store) Chats() []domain.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Chat, 0, len(s.chats))
	for _, chat := range s.chats {
		out = append(out, cloneChat(*chat))
	}
	return out
}

// Messages returns snapshots of a chat's loaded messages, ascending by id.
func (s *Store) Messages(chatID int64) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[chatID]
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out
}

// Message returns a snapshot of one message.
func (s *Store) Message(chatID, messageID int64) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[chatID]
	i := indexOf(msgs, messageID)
	if i < 0 {
		return domain.Message{}, false
	}
	return cloneMessage(msgs[i]), true
}

// User returns a snapshot of one user.
func (s *Store) User(userID int64) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.User{}, false
	}
	return *user, true
}

// Reset drops every entity. Used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.chats = make(map[int64]*domain.Chat)
	s.messages = make(map[int64][]domain.Message)
	s.users = make(map[int64]*domain.User)
	s.mu.Unlock()
	s.notify(Change{Kind: StoreReset})
}

func indexOf(msgs []domain.Message, id int64) int {
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].ID >= id })
	if i < len(msgs) && msgs[i].ID == id {
		return i
	}
	return -1
}

func cloneChat(c domain.Chat) domain.Chat {
	c.Positions = append([]domain.Position(nil), c.Positions...)
	if c.LastMessage != nil {
		m := cloneMessage(*c.LastMessage)
		c.LastMessage = &m
	}
	if c.Draft != nil {
		d := *c.Draft
		c.Draft = &d
	}
	return c
}

func cloneMessage(m domain.Message) domain.Message {
	if m.Reactions != nil {
		m.Reactions = append([]domain.Reaction(nil), m.Reactions...)
	}
	return m
}
