// Package backendtest provides a configurable fake Caller for
// controller tests. Unset hooks succeed with zero values; every call is
// recorded so tests can assert on remote traffic.
package backendtest

import (
	"context"
	"sync"

	"chatsync/internal/backend"
	"chatsync/internal/domain"
)

var _ backend.Caller = (*Caller)(nil)

type Caller struct {
	mu    sync.Mutex
	calls []string

	GetChatsFunc           func(list domain.ChatList, cursor domain.Cursor) ([]domain.Chat, error)
	GetHistoryFunc         func(chatID int64, cursor domain.Cursor) ([]domain.Message, error)
	SendMessageFunc        func(chatID int64, text string, replyToID int64) (domain.Message, error)
	EditMessageFunc        func(chatID, messageID int64, text string) (domain.Message, error)
	DeleteMessagesFunc     func(chatID int64, messageIDs []int64, forAll bool) error
	ForwardMessagesFunc    func(fromChatID, toChatID int64, messageIDs []int64) error
	SetPinnedFunc          func(chatID int64, pinned bool) error
	SetMutedFunc           func(chatID int64, muted bool) error
	MarkReadFunc           func(chatID int64, maxID int64) error
	SetMarkedUnreadFunc    func(chatID int64, marked bool) error
	SetChatListFunc        func(chatID int64, list domain.ChatList) error
	DeleteChatFunc         func(chatID int64) error
	SendTypingFunc         func(chatID int64, active bool) error
	SubmitPhoneNumberFunc  func(number string) error
	SubmitCodeFunc         func(code string) error
	SubmitPasswordFunc     func(password string) error
	SubmitRegistrationFunc func(firstName, lastName string) error
	ResendCodeFunc         func() error
	LogOutFunc             func() error
}

func (c *Caller) record(name string) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
}

// Calls returns the remote operations issued so far, in order.
func (c *Caller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// CallCount returns how many times the named operation was issued.
func (c *Caller) CallCount(name string) int {
	n := 0
	for _, call := range c.Calls() {
		if call == name {
			n++
		}
	}
	return n
}

func (c *Caller) GetChats(_ context.Context, list domain.ChatList, cursor domain.Cursor) ([]domain.Chat, error) {
	c.record("GetChats")
	if c.GetChatsFunc != nil {
		return c.GetChatsFunc(list, cursor)
	}
	return nil, nil
}

func (c *Caller) GetHistory(_ context.Context, chatID int64, cursor domain.Cursor) ([]domain.Message, error) {
	c.record("GetHistory")
	if c.GetHistoryFunc != nil {
		return c.GetHistoryFunc(chatID, cursor)
	}
	return nil, nil
}

func (c *Caller) SendMessage(_ context.Context, chatID int64, text string, replyToID int64) (domain.Message, error) {
	c.record("SendMessage")
	if c.SendMessageFunc != nil {
		return c.SendMessageFunc(chatID, text, replyToID)
	}
	return domain.Message{}, nil
}

func (c *Caller) EditMessage(_ context.Context, chatID, messageID int64, text string) (domain.Message, error) {
	c.record("EditMessage")
	if c.EditMessageFunc != nil {
		return c.EditMessageFunc(chatID, messageID, text)
	}
	return domain.Message{}, nil
}

func (c *Caller) DeleteMessages(_ context.Context, chatID int64, messageIDs []int64, forAll bool) error {
	c.record("DeleteMessages")
	if c.DeleteMessagesFunc != nil {
		return c.DeleteMessagesFunc(chatID, messageIDs, forAll)
	}
	return nil
}

func (c *Caller) ForwardMessages(_ context.Context, fromChatID, toChatID int64, messageIDs []int64) error {
	c.record("ForwardMessages")
	if c.ForwardMessagesFunc != nil {
		return c.ForwardMessagesFunc(fromChatID, toChatID, messageIDs)
	}
	return nil
}

func (c *Caller) SetPinned(_ context.Context, chatID int64, pinned bool) error {
	c.record("SetPinned")
	if c.SetPinnedFunc != nil {
		return c.SetPinnedFunc(chatID, pinned)
	}
	return nil
}

func (c *Caller) SetMuted(_ context.Context, chatID int64, muted bool) error {
	c.record("SetMuted")
	if c.SetMutedFunc != nil {
		return c.SetMutedFunc(chatID, muted)
	}
	return nil
}

func (c *Caller) MarkRead(_ context.Context, chatID int64, maxID int64) error {
	c.record("MarkRead")
	if c.MarkReadFunc != nil {
		return c.MarkReadFunc(chatID, maxID)
	}
	return nil
}

func (c *Caller) SetMarkedUnread(_ context.Context, chatID int64, marked bool) error {
	c.record("SetMarkedUnread")
	if c.SetMarkedUnreadFunc != nil {
		return c.SetMarkedUnreadFunc(chatID, marked)
	}
	return nil
}

func (c *Caller) SetChatList(_ context.Context, chatID int64, list domain.ChatList) error {
	c.record("SetChatList")
	if c.SetChatListFunc != nil {
		return c.SetChatListFunc(chatID, list)
	}
	return nil
}

func (c *Caller) DeleteChat(_ context.Context, chatID int64) error {
	c.record("DeleteChat")
	if c.DeleteChatFunc != nil {
		return c.DeleteChatFunc(chatID)
	}
	return nil
}

func (c *Caller) SendTyping(_ context.Context, chatID int64, active bool) error {
	c.record("SendTyping")
	if c.SendTypingFunc != nil {
		return c.SendTypingFunc(chatID, active)
	}
	return nil
}

func (c *Caller) SubmitPhoneNumber(_ context.Context, number string) error {
	c.record("SubmitPhoneNumber")
	if c.SubmitPhoneNumberFunc != nil {
		return c.SubmitPhoneNumberFunc(number)
	}
	return nil
}

func (c *Caller) SubmitCode(_ context.Context, code string) error {
	c.record("SubmitCode")
	if c.SubmitCodeFunc != nil {
		return c.SubmitCodeFunc(code)
	}
	return nil
}

func (c *Caller) SubmitPassword(_ context.Context, password string) error {
	c.record("SubmitPassword")
	if c.SubmitPasswordFunc != nil {
		return c.SubmitPasswordFunc(password)
	}
	return nil
}

func (c *Caller) SubmitRegistration(_ context.Context, firstName, lastName string) error {
	c.record("SubmitRegistration")
	if c.SubmitRegistrationFunc != nil {
		return c.SubmitRegistrationFunc(firstName, lastName)
	}
	return nil
}

func (c *Caller) ResendCode(_ context.Context) error {
	c.record("ResendCode")
	if c.ResendCodeFunc != nil {
		return c.ResendCodeFunc()
	}
	return nil
}

func (c *Caller) LogOut(_ context.Context) error {
	c.record("LogOut")
	if c.LogOutFunc != nil {
		return c.LogOutFunc()
	}
	return nil
}
