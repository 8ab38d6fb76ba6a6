package domain

import "time"

// Event is one entry of the ordered backend change stream. The set is
// closed on the consumer side; event kinds the reconciler does not know
// are logged and skipped.
type Event interface {
	isEvent()
}

type ChatNew struct {
	Chat Chat
}

type ChatUpdated struct {
	Chat Chat
}

type ChatDeleted struct {
	ChatID int64
}

type ChatPositionChanged struct {
	ChatID   int64
	Position Position
}

type ChatUnreadChanged struct {
	ChatID         int64
	UnreadCount    int
	IsMarkedUnread bool
}

type ChatLastMessageChanged struct {
	ChatID      int64
	LastMessage *Message
}

type ChatDraftChanged struct {
	ChatID int64
	Draft  *Draft
}

type MessageNew struct {
	Message Message
}

type MessageEdited struct {
	ChatID    int64
	MessageID int64
	Content   MessageContent
	EditDate  time.Time
}

// MessagesDeleted removes messages by id. A zero ChatID means the
// backend did not scope the deletion to a chat; the ids are removed
// wherever they are loaded.
type MessagesDeleted struct {
	ChatID     int64
	MessageIDs []int64
}

// MessageReadChanged marks all messages up to MaxID as read. Outgoing
// reports the peer reading our messages; otherwise it is our own read
// position and clears the chat's unread count.
type MessageReadChanged struct {
	ChatID   int64
	MaxID    int64
	Outgoing bool
}

type MessageReactionsChanged struct {
	ChatID    int64
	MessageID int64
	Reactions []Reaction
}

type UserUpdated struct {
	User User
}

type UserStatusChanged struct {
	UserID int64
	Status UserStatus
}

// UserTyping reports a peer typing (or stopping) in a chat.
type UserTyping struct {
	ChatID int64
	UserID int64
	Active bool
}

type AuthStateChanged struct {
	State        AuthState
	Code         *CodeInfo
	PasswordHint string
}

func (ChatNew) isEvent()                 {}
func (ChatUpdated) isEvent()             {}
func (ChatDeleted) isEvent()             {}
func (ChatPositionChanged) isEvent()     {}
func (ChatUnreadChanged) isEvent()       {}
func (ChatLastMessageChanged) isEvent()  {}
func (ChatDraftChanged) isEvent()        {}
func (MessageNew) isEvent()              {}
func (MessageEdited) isEvent()           {}
func (MessagesDeleted) isEvent()         {}
func (MessageReadChanged) isEvent()      {}
func (MessageReactionsChanged) isEvent() {}
func (UserUpdated) isEvent()             {}
func (UserStatusChanged) isEvent()       {}
func (UserTyping) isEvent()              {}
func (AuthStateChanged) isEvent()        {}
