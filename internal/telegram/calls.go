package telegram

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"chatsync/internal/backend"
	"chatsync/internal/domain"
)

// muteForever is Telegram's "muted indefinitely" sentinel.
const muteForever = 0x7FFFFFFF

var errNotConnected = errors.New("telegram: not connected")

// mapError translates transport failures into the typed backend
// taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return backend.RateLimited(d)
	}
	var rpc *tgerr.Error
	if errors.As(err, &rpc) {
		switch {
		case rpc.Type == "AUTH_KEY_UNREGISTERED" || rpc.Type == "SESSION_REVOKED" || rpc.Type == "SESSION_EXPIRED":
			return backend.NewError(backend.ErrAuthExpired, err)
		case rpc.Code == 400:
			return backend.NewError(backend.ErrInvalidArgument, err)
		default:
			return &backend.Error{Kind: backend.ErrUnknown, Code: rpc.Code, Cause: err}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return backend.NewError(backend.ErrNetworkUnavailable, err)
	}
	return backend.NewError(backend.ErrUnknown, err)
}

func (c *Client) peerOrErr(chatID int64) (tg.InputPeerClass, error) {
	if c.api == nil {
		return nil, backend.NewError(backend.ErrNetworkUnavailable, errNotConnected)
	}
	peer := c.findPeer(chatID)
	if peer == nil {
		return nil, backend.NewError(backend.ErrInvalidArgument, errors.New("unknown peer"))
	}
	return peer, nil
}

// GetChats fetches one page of dialogs for the given list, resuming
// after the cursor's anchor chat.
func (c *Client) GetChats(ctx context.Context, list domain.ChatList, cursor domain.Cursor) ([]domain.Chat, error) {
	if c.api == nil {
		return nil, backend.NewError(backend.ErrNetworkUnavailable, errNotConnected)
	}
	pageSize := cursor.PageSize
	if pageSize <= 0 {
		pageSize = 30
	}

	iter := dialogs.NewQueryBuilder(c.api).GetDialogs().BatchSize(100).Iter()
	skipping := !cursor.IsStart()
	var out []domain.Chat
	for iter.Next(ctx) {
		chat, ok := c.convertDialog(iter.Value())
		if !ok || !chat.InList(list) {
			continue
		}
		if skipping {
			if chat.ID == cursor.AnchorID {
				skipping = false
			}
			continue
		}
		out = append(out, chat)
		if len(out) >= pageSize {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// GetHistory fetches one history page going backwards from the anchor
// message id, returned ascending.
func (c *Client) GetHistory(ctx context.Context, chatID int64, cursor domain.Cursor) ([]domain.Message, error) {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return nil, err
	}
	pageSize := cursor.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	result, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		Limit:    pageSize,
		OffsetID: int(cursor.AnchorID),
	})
	if err != nil {
		return nil, mapError(err)
	}

	var raw []tg.MessageClass
	switch r := result.(type) {
	case *tg.MessagesMessages:
		raw = r.Messages
	case *tg.MessagesMessagesSlice:
		raw = r.Messages
	case *tg.MessagesChannelMessages:
		raw = r.Messages
	default:
		return nil, backend.NewError(backend.ErrUnknown, errors.New("unexpected history response"))
	}

	// The API returns newest first; the timeline wants ascending.
	out := make([]domain.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		msg, ok := raw[i].(*tg.Message)
		if !ok {
			continue
		}
		dm := c.convertMessage(msg)
		dm.ChatID = chatID
		out = append(out, dm)
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyToID int64) (domain.Message, error) {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return domain.Message{}, err
	}
	var upd tg.UpdatesClass
	if replyToID != 0 {
		upd, err = c.sender.To(peer).Reply(int(replyToID)).Text(ctx, text)
	} else {
		upd, err = c.sender.To(peer).Text(ctx, text)
	}
	if err != nil {
		return domain.Message{}, mapError(err)
	}
	return c.sentMessage(upd, chatID, text, replyToID), nil
}

// sentMessage extracts the confirmed message from a send response,
// falling back to a local reconstruction when the server answers with
// the short form.
func (c *Client) sentMessage(upd tg.UpdatesClass, chatID int64, text string, replyToID int64) domain.Message {
	base := domain.Message{
		ChatID:          chatID,
		Content:         domain.TextContent{Text: text},
		Date:            time.Now(),
		ReplyToID:       replyToID,
		IsOutgoing:      true,
		CanEdit:         true,
		CanForward:      true,
		CanDeleteForAll: true,
	}
	if c.self != nil {
		base.SenderID = c.self.ID
	}
	switch u := upd.(type) {
	case *tg.UpdateShortSentMessage:
		base.ID = int64(u.ID)
		base.Date = time.Unix(int64(u.Date), 0)
	case *tg.Updates:
		for _, up := range u.Updates {
			var msg tg.MessageClass
			switch m := up.(type) {
			case *tg.UpdateNewMessage:
				msg = m.Message
			case *tg.UpdateNewChannelMessage:
				msg = m.Message
			default:
				continue
			}
			if tm, ok := msg.(*tg.Message); ok && tm.Out {
				dm := c.convertMessage(tm)
				dm.ChatID = chatID
				return dm
			}
		}
	}
	return base
}

func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string) (domain.Message, error) {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return domain.Message{}, err
	}
	req := &tg.MessagesEditMessageRequest{Peer: peer, ID: int(messageID)}
	req.SetMessage(text)
	if _, err := c.api.MessagesEditMessage(ctx, req); err != nil {
		return domain.Message{}, mapError(err)
	}
	return domain.Message{
		ID:         messageID,
		ChatID:     chatID,
		Content:    domain.TextContent{Text: text},
		EditDate:   time.Now(),
		IsOutgoing: true,
		CanEdit:    true,
	}, nil
}

func (c *Client) DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64, forAll bool) error {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return err
	}
	ids := make([]int, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = int(id)
	}
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		_, err := c.api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      ids,
		})
		return mapError(err)
	}
	_, err = c.api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
		ID:     ids,
		Revoke: forAll,
	})
	return mapError(err)
}

func (c *Client) ForwardMessages(ctx context.Context, fromChatID, toChatID int64, messageIDs []int64) error {
	from, err := c.peerOrErr(fromChatID)
	if err != nil {
		return err
	}
	to, err := c.peerOrErr(toChatID)
	if err != nil {
		return err
	}
	ids := make([]int, len(messageIDs))
	randomIDs := make([]int64, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = int(id)
		randomIDs[i] = rand.Int64()
	}
	_, err = c.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: from,
		ToPeer:   to,
		ID:       ids,
		RandomID: randomIDs,
	})
	return mapError(err)
}

func (c *Client) SetPinned(ctx context.Context, chatID int64, pinned bool) error {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesToggleDialogPin(ctx, &tg.MessagesToggleDialogPinRequest{
		Peer:   &tg.InputDialogPeer{Peer: peer},
		Pinned: pinned,
	})
	return mapError(err)
}

func (c *Client) SetMuted(ctx context.Context, chatID int64, muted bool) error {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return err
	}
	settings := tg.InputPeerNotifySettings{}
	if muted {
		settings.SetMuteUntil(muteForever)
	} else {
		settings.SetMuteUntil(0)
	}
	_, err = c.api.AccountUpdateNotifySettings(ctx, &tg.AccountUpdateNotifySettingsRequest{
		Peer:     &tg.InputNotifyPeer{Peer: peer},
		Settings: settings,
	})
	return mapError(err)
}

func (c *Client) MarkRead(ctx context.Context, chatID int64, maxID int64) error {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return err
	}
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		_, err := c.api.ChannelsReadHistory(ctx, &tg.ChannelsReadHistoryRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			MaxID:   int(maxID),
		})
		return mapError(err)
	}
	_, err = c.api.MessagesReadHistory(ctx, &tg.MessagesReadHistoryRequest{
		Peer:  peer,
		MaxID: int(maxID),
	})
	return mapError(err)
}

func (c *Client) SetMarkedUnread(ctx context.Context, chatID int64, marked bool) error {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesMarkDialogUnread(ctx, &tg.MessagesMarkDialogUnreadRequest{
		Peer:   &tg.InputDialogPeer{Peer: peer},
		Unread: marked,
	})
	return mapError(err)
}

func (c *Client) SetChatList(ctx context.Context, chatID int64, list domain.ChatList) error {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return err
	}
	folderID := 0
	if list == domain.ChatListArchive {
		folderID = archiveFolderID
	}
	_, err = c.api.FoldersEditPeerFolders(ctx, []tg.InputFolderPeer{
		{Peer: peer, FolderID: folderID},
	})
	return mapError(err)
}

func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesDeleteHistory(ctx, &tg.MessagesDeleteHistoryRequest{
		Peer: peer,
	})
	return mapError(err)
}

func (c *Client) SendTyping(ctx context.Context, chatID int64, active bool) error {
	peer, err := c.peerOrErr(chatID)
	if err != nil {
		return err
	}
	var action tg.SendMessageActionClass = &tg.SendMessageTypingAction{}
	if !active {
		action = &tg.SendMessageCancelAction{}
	}
	_, err = c.api.MessagesSetTyping(ctx, &tg.MessagesSetTypingRequest{
		Peer:   peer,
		Action: action,
	})
	return mapError(err)
}

// SubmitPhoneNumber hands the number to the blocked auth flow.
func (c *Client) SubmitPhoneNumber(_ context.Context, number string) error {
	c.flow.phoneCh <- number
	return nil
}

func (c *Client) SubmitCode(_ context.Context, code string) error {
	c.flow.codeCh <- code
	return nil
}

func (c *Client) SubmitPassword(_ context.Context, password string) error {
	c.flow.passwordCh <- password
	return nil
}

func (c *Client) SubmitRegistration(_ context.Context, firstName, lastName string) error {
	c.flow.registrationCh <- [2]string{firstName, lastName}
	return nil
}

// ResendCode asks for a fresh login code mid-flow and re-emits the
// waiting-for-code state with the new code info.
func (c *Client) ResendCode(ctx context.Context) error {
	if c.api == nil {
		return backend.NewError(backend.ErrNetworkUnavailable, errNotConnected)
	}
	phone, hash, err := c.flow.codeHash()
	if err != nil {
		return backend.NewError(backend.ErrInvalidArgument, err)
	}
	sent, err := c.api.AuthResendCode(ctx, &tg.AuthResendCodeRequest{
		PhoneNumber:   phone,
		PhoneCodeHash: hash,
	})
	if err != nil {
		return mapError(err)
	}
	if code, ok := sent.(*tg.AuthSentCode); ok {
		c.flow.setCodeHash(code.PhoneCodeHash)
		c.emit(domain.AuthStateChanged{
			State: domain.AuthStateWaitCode,
			Code:  codeInfo(phone, code),
		})
	}
	return nil
}

func (c *Client) LogOut(ctx context.Context) error {
	if c.api == nil {
		return backend.NewError(backend.ErrNetworkUnavailable, errNotConnected)
	}
	if _, err := c.api.AuthLogOut(ctx); err != nil {
		return mapError(err)
	}
	c.emit(domain.AuthStateChanged{State: domain.AuthStateUnauthorized})
	return nil
}
