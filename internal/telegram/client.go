// Package telegram implements the backend contracts over gotd/td. The
// update dispatcher is translated into the ordered domain event stream;
// remote operations implement backend.Caller. The sync core never
// imports this package's wire types.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"

	"chatsync/internal/backend"
	"chatsync/internal/domain"
)

const eventBuffer = 256

var _ backend.Caller = (*Client)(nil)

type Client struct {
	apiID   int
	apiHash string
	creds   backend.CredentialStore
	logger  *zap.Logger

	events chan domain.Event
	flow   *flowAuth

	client *telegram.Client
	api    *tg.Client
	sender *message.Sender
	gaps   *updates.Manager
	self   *tg.User

	mu        sync.Mutex
	peerCache map[int64]tg.InputPeerClass
}

func NewClient(apiID int, apiHash string, creds backend.CredentialStore, logger *zap.Logger) *Client {
	c := &Client{
		apiID:     apiID,
		apiHash:   apiHash,
		creds:     creds,
		logger:    logger,
		events:    make(chan domain.Event, eventBuffer),
		peerCache: make(map[int64]tg.InputPeerClass),
	}
	c.flow = newFlowAuth(c)
	return c
}

// Events is the ordered backend event stream consumed by the reconciler.
func (c *Client) Events() <-chan domain.Event {
	return c.events
}

// emit appends one event to the stream, preserving emission order.
func (c *Client) emit(ev domain.Event) {
	c.events <- ev
}

// credSession adapts the credential store to gotd's session storage, so
// the MTProto session token lives encrypted in the same place as every
// other credential.
type credSession struct {
	creds backend.CredentialStore
}

func (s credSession) LoadSession(context.Context) ([]byte, error) {
	data, err := s.creds.Load("mtproto")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, session.ErrNotFound
	}
	return data, nil
}

func (s credSession) StoreSession(_ context.Context, data []byte) error {
	return s.creds.Save("mtproto", data)
}

// Run connects, authenticates if necessary and pumps updates into the
// event stream until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	dispatcher := tg.NewUpdateDispatcher()
	c.registerHandlers(&dispatcher)

	c.gaps = updates.New(updates.Config{
		Handler: dispatcher,
		Logger:  c.logger.Named("gaps"),
	})

	c.client = telegram.NewClient(c.apiID, c.apiHash, telegram.Options{
		Logger:         c.logger,
		UpdateHandler:  c.gaps,
		SessionStorage: credSession{creds: c.creds},
	})

	c.emit(domain.AuthStateChanged{State: domain.AuthStateLoading})

	return c.client.Run(ctx, func(ctx context.Context) error {
		// The raw API handle is needed before authorization completes
		// (code resend happens mid-flow).
		c.api = c.client.API()
		c.sender = message.NewSender(c.api)

		flow := auth.NewFlow(c.flow, auth.SendCodeOptions{})
		if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("auth: %w", err)
		}

		self, err := c.client.Self(ctx)
		if err != nil {
			return fmt.Errorf("get self: %w", err)
		}
		c.self = self

		c.emit(domain.AuthStateChanged{State: domain.AuthStateAuthorized})

		return c.gaps.Run(ctx, c.api, self.ID, updates.AuthOptions{})
	})
}

func (c *Client) registerHandlers(dispatcher *tg.UpdateDispatcher) {
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
		c.handleNewMessage(update.Message, e)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
		c.handleNewMessage(update.Message, e)
		return nil
	})
	dispatcher.OnEditMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateEditMessage) error {
		c.handleEditMessage(update.Message)
		return nil
	})
	dispatcher.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateEditChannelMessage) error {
		c.handleEditMessage(update.Message)
		return nil
	})
	dispatcher.OnDeleteMessages(func(ctx context.Context, e tg.Entities, update *tg.UpdateDeleteMessages) error {
		// Plain-chat deletions carry no peer; the zero ChatID tells the
		// cache to remove the ids wherever they are loaded.
		ids := make([]int64, len(update.Messages))
		for i, id := range update.Messages {
			ids[i] = int64(id)
		}
		c.emit(domain.MessagesDeleted{MessageIDs: ids})
		return nil
	})
	dispatcher.OnDeleteChannelMessages(func(ctx context.Context, e tg.Entities, update *tg.UpdateDeleteChannelMessages) error {
		ids := make([]int64, len(update.Messages))
		for i, id := range update.Messages {
			ids[i] = int64(id)
		}
		c.emit(domain.MessagesDeleted{ChatID: update.ChannelID, MessageIDs: ids})
		return nil
	})
	dispatcher.OnReadHistoryInbox(func(ctx context.Context, e tg.Entities, update *tg.UpdateReadHistoryInbox) error {
		c.emit(domain.MessageReadChanged{
			ChatID: peerID(update.Peer),
			MaxID:  int64(update.MaxID),
		})
		return nil
	})
	dispatcher.OnReadHistoryOutbox(func(ctx context.Context, e tg.Entities, update *tg.UpdateReadHistoryOutbox) error {
		c.emit(domain.MessageReadChanged{
			ChatID:   peerID(update.Peer),
			MaxID:    int64(update.MaxID),
			Outgoing: true,
		})
		return nil
	})
	dispatcher.OnUserStatus(func(ctx context.Context, e tg.Entities, update *tg.UpdateUserStatus) error {
		c.emit(domain.UserStatusChanged{
			UserID: update.UserID,
			Status: convertStatus(update.Status),
		})
		return nil
	})
	dispatcher.OnUserTyping(func(ctx context.Context, e tg.Entities, update *tg.UpdateUserTyping) error {
		c.emit(domain.UserTyping{
			ChatID: update.UserID,
			UserID: update.UserID,
			Active: isTypingAction(update.Action),
		})
		return nil
	})
	dispatcher.OnChatUserTyping(func(ctx context.Context, e tg.Entities, update *tg.UpdateChatUserTyping) error {
		userID := int64(0)
		if p, ok := update.FromID.(*tg.PeerUser); ok {
			userID = p.UserID
		}
		c.emit(domain.UserTyping{
			ChatID: update.ChatID,
			UserID: userID,
			Active: isTypingAction(update.Action),
		})
		return nil
	})
	dispatcher.OnDialogPinned(func(ctx context.Context, e tg.Entities, update *tg.UpdateDialogPinned) error {
		dlgPeer, ok := update.Peer.(*tg.DialogPeer)
		if !ok {
			return nil
		}
		list := domain.ChatListMain
		if update.FolderID == archiveFolderID {
			list = domain.ChatListArchive
		}
		c.emit(domain.ChatPositionChanged{
			ChatID: peerID(dlgPeer.Peer),
			Position: domain.Position{
				List:     list,
				IsPinned: update.Pinned,
			},
		})
		return nil
	})
	dispatcher.OnDraftMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateDraftMessage) error {
		var draft *domain.Draft
		if d, ok := update.Draft.(*tg.DraftMessage); ok {
			draft = &domain.Draft{
				Text: d.Message,
				Date: time.Unix(int64(d.Date), 0),
			}
		}
		c.emit(domain.ChatDraftChanged{ChatID: peerID(update.Peer), Draft: draft})
		return nil
	})
}

func (c *Client) handleNewMessage(msg tg.MessageClass, e tg.Entities) {
	m, ok := msg.(*tg.Message)
	if !ok {
		return
	}
	// Surface the users seen alongside the message first, so the cache
	// already knows the sender when the message lands.
	for _, u := range e.Users {
		c.emit(domain.UserUpdated{User: convertUser(u)})
	}
	c.emit(domain.MessageNew{Message: c.convertMessage(m)})
}

func (c *Client) handleEditMessage(msg tg.MessageClass) {
	m, ok := msg.(*tg.Message)
	if !ok {
		return
	}
	dm := c.convertMessage(m)
	c.emit(domain.MessageEdited{
		ChatID:    dm.ChatID,
		MessageID: dm.ID,
		Content:   dm.Content,
		EditDate:  dm.EditDate,
	})
}

// findPeer looks up a cached input peer by chat id.
func (c *Client) findPeer(chatID int64) tg.InputPeerClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerCache[chatID]
}

func (c *Client) cachePeer(chatID int64, peer tg.InputPeerClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerCache[chatID] = peer
}
