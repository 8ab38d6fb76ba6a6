package telegram

import (
	"time"

	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"

	"chatsync/internal/domain"
)

// archiveFolderID is Telegram's folder id for the archive list.
const archiveFolderID = 1

func peerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	default:
		return 0
	}
}

func inputPeerID(peer tg.InputPeerClass) int64 {
	switch p := peer.(type) {
	case *tg.InputPeerUser:
		return p.UserID
	case *tg.InputPeerChat:
		return p.ChatID
	case *tg.InputPeerChannel:
		return p.ChannelID
	default:
		return 0
	}
}

func convertStatus(status tg.UserStatusClass) domain.UserStatus {
	switch s := status.(type) {
	case *tg.UserStatusOnline:
		return domain.StatusOnline{}
	case *tg.UserStatusOffline:
		return domain.StatusOffline{WasOnline: time.Unix(int64(s.WasOnline), 0)}
	default:
		return domain.StatusUnknown{}
	}
}

func convertUser(u *tg.User) domain.User {
	user := domain.User{
		ID:         u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		IsBot:      u.Bot,
		IsVerified: u.Verified,
		IsPremium:  u.Premium,
		Status:     domain.StatusUnknown{},
	}
	if username, ok := u.GetUsername(); ok {
		user.Username = username
	}
	if phone, ok := u.GetPhone(); ok {
		user.PhoneNumber = phone
	}
	if u.Status != nil {
		user.Status = convertStatus(u.Status)
	}
	return user
}

func isTypingAction(action tg.SendMessageActionClass) bool {
	switch action.(type) {
	case *tg.SendMessageCancelAction:
		return false
	default:
		return true
	}
}

// convertContent maps a message's media to the closed domain variant.
// Unrecognized media degrades to a bare document rather than dropping
// the message.
func convertContent(msg *tg.Message) domain.MessageContent {
	switch media := msg.Media.(type) {
	case nil, *tg.MessageMediaEmpty:
		return domain.TextContent{Text: msg.Message}
	case *tg.MessageMediaPhoto:
		return domain.PhotoContent{Caption: msg.Message}
	case *tg.MessageMediaGeo:
		if p, ok := media.Geo.(*tg.GeoPoint); ok {
			return domain.LocationContent{Latitude: p.Lat, Longitude: p.Long}
		}
		return domain.LocationContent{}
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return domain.DocumentContent{}
		}
		content := domain.DocumentContent{Size: doc.Size}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					return domain.VoiceContent{Duration: time.Duration(a.Duration) * time.Second}
				}
			case *tg.DocumentAttributeVideo:
				return domain.VideoContent{
					Caption:  msg.Message,
					Duration: time.Duration(a.Duration) * time.Second,
				}
			case *tg.DocumentAttributeSticker:
				return domain.StickerContent{Emoji: a.Alt}
			case *tg.DocumentAttributeFilename:
				content.FileName = a.FileName
			}
		}
		return content
	default:
		return domain.TextContent{Text: msg.Message}
	}
}

func convertReactions(msg *tg.Message) []domain.Reaction {
	res, ok := msg.GetReactions()
	if !ok {
		return nil
	}
	var out []domain.Reaction
	for _, rc := range res.Results {
		if e, ok := rc.Reaction.(*tg.ReactionEmoji); ok {
			out = append(out, domain.Reaction{Emoji: e.Emoticon, Count: rc.Count})
		}
	}
	return out
}

func (c *Client) convertMessage(msg *tg.Message) domain.Message {
	m := domain.Message{
		ID:              int64(msg.ID),
		ChatID:          peerID(msg.PeerID),
		Content:         convertContent(msg),
		Date:            time.Unix(int64(msg.Date), 0),
		IsOutgoing:      msg.Out,
		CanEdit:         msg.Out,
		CanForward:      !msg.Noforwards,
		CanDeleteForAll: msg.Out,
		Reactions:       convertReactions(msg),
	}
	if editDate, ok := msg.GetEditDate(); ok {
		m.EditDate = time.Unix(int64(editDate), 0)
	}
	if replyTo, ok := msg.GetReplyTo(); ok {
		if h, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if id, ok := h.GetReplyToMsgID(); ok {
				m.ReplyToID = int64(id)
			}
		}
	}
	if fromID, ok := msg.GetFromID(); ok {
		m.SenderID = peerID(fromID)
	} else if msg.Out && c.self != nil {
		m.SenderID = c.self.ID
	} else {
		// In direct chats incoming messages often omit FromID; the
		// sender is the peer itself.
		m.SenderID = peerID(msg.PeerID)
	}
	return m
}

// convertDialog builds the domain chat for one dialog element and
// caches its input peer for later calls.
func (c *Client) convertDialog(elem dialogs.Elem) (domain.Chat, bool) {
	dlg, ok := elem.Dialog.(*tg.Dialog)
	if !ok || elem.Peer == nil {
		return domain.Chat{}, false
	}
	id := inputPeerID(elem.Peer)
	if id == 0 {
		return domain.Chat{}, false
	}
	c.cachePeer(id, elem.Peer)

	chat := domain.Chat{
		ID:             id,
		UnreadCount:    dlg.UnreadCount,
		IsMarkedUnread: dlg.UnreadMark,
		Permissions:    domain.Permissions{CanSendMessages: true},
	}

	switch p := dlg.Peer.(type) {
	case *tg.PeerUser:
		kind := domain.DirectChat{PeerID: p.UserID}
		if u, ok := elem.Entities.User(p.UserID); ok {
			kind.IsBot = u.Bot
			du := convertUser(u)
			chat.Title = du.DisplayName()
		}
		chat.Kind = kind
	case *tg.PeerChat:
		kind := domain.BasicGroup{GroupID: p.ChatID}
		if ch, ok := elem.Entities.Chat(p.ChatID); ok {
			kind.MemberCount = ch.ParticipantsCount
			chat.Title = ch.Title
		}
		chat.Kind = kind
	case *tg.PeerChannel:
		kind := domain.Supergroup{SupergroupID: p.ChannelID}
		if ch, ok := elem.Entities.Channel(p.ChannelID); ok {
			kind.IsChannel = ch.Broadcast
			chat.Title = ch.Title
			if count, ok := ch.GetParticipantsCount(); ok {
				kind.MemberCount = count
			}
		}
		chat.Kind = kind
	}
	if chat.Title == "" {
		chat.Title = "Unknown"
	}

	if elem.Last != nil {
		if msg, ok := elem.Last.(*tg.Message); ok {
			dm := c.convertMessage(msg)
			dm.ChatID = id
			chat.LastMessage = &dm
			chat.LastMessageDate = dm.Date
		}
	}

	if muteUntil, ok := dlg.NotifySettings.GetMuteUntil(); ok {
		chat.IsMuted = int64(muteUntil) > time.Now().Unix()
	}
	if d, ok := dlg.Draft.(*tg.DraftMessage); ok {
		chat.Draft = &domain.Draft{
			Text: d.Message,
			Date: time.Unix(int64(d.Date), 0),
		}
	}

	list := domain.ChatListMain
	if folderID, ok := dlg.GetFolderID(); ok && folderID == archiveFolderID {
		list = domain.ChatListArchive
	}
	chat.SetPosition(domain.Position{
		List:     list,
		Order:    chat.LastMessageDate.Unix(),
		IsPinned: dlg.Pinned,
	})
	return chat, true
}
