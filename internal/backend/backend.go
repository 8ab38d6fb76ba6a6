// Package backend defines the contracts the sync core consumes: the
// remote call interface, the credential store and the notification sink.
// Concrete transports (internal/telegram) implement them; the core never
// sees wire details.
package backend

import (
	"context"

	"chatsync/internal/domain"
)

// Caller issues remote operations. Every method maps to one backend
// request and returns a typed *Error on failure. Calls run concurrently
// with event-stream consumption and honor ctx cancellation.
type Caller interface {
	// GetChats fetches one page of the chat list for the given
	// dialog list, starting after the cursor's anchor.
	GetChats(ctx context.Context, list domain.ChatList, cursor domain.Cursor) ([]domain.Chat, error)

	// GetHistory fetches one page of message history, going backwards
	// from the cursor's anchor message id (zero anchor = newest).
	GetHistory(ctx context.Context, chatID int64, cursor domain.Cursor) ([]domain.Message, error)

	SendMessage(ctx context.Context, chatID int64, text string, replyToID int64) (domain.Message, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string) (domain.Message, error)
	DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64, forAll bool) error
	ForwardMessages(ctx context.Context, fromChatID, toChatID int64, messageIDs []int64) error

	SetPinned(ctx context.Context, chatID int64, pinned bool) error
	SetMuted(ctx context.Context, chatID int64, muted bool) error
	MarkRead(ctx context.Context, chatID int64, maxID int64) error
	SetMarkedUnread(ctx context.Context, chatID int64, marked bool) error
	SetChatList(ctx context.Context, chatID int64, list domain.ChatList) error
	DeleteChat(ctx context.Context, chatID int64) error
	SendTyping(ctx context.Context, chatID int64, active bool) error

	SubmitPhoneNumber(ctx context.Context, number string) error
	SubmitCode(ctx context.Context, code string) error
	SubmitPassword(ctx context.Context, password string) error
	SubmitRegistration(ctx context.Context, firstName, lastName string) error
	ResendCode(ctx context.Context) error
	LogOut(ctx context.Context) error
}

// CredentialStore persists session tokens. Used only by the auth
// controller; failures surface as auth errors, never silently.
type CredentialStore interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, error)
	Delete(key string) error
}

// NotificationSink receives new-message notifications from the
// reconciler. Implementations must not block; failures must never reach
// the reconciliation loop.
type NotificationSink interface {
	Notify(chatID int64, preview string)
}

// NoopSink discards notifications.
type NoopSink struct{}

func (NoopSink) Notify(int64, string) {}
