package domain

import "time"

// ChatList identifies which dialog list a chat belongs to.
type ChatList int

const (
	ChatListMain ChatList = iota
	ChatListArchive
)

// Position places a chat inside one list. A chat has exactly one
// position per list; Order is the server-assigned sort key used for
// pinned chats.
type Position struct {
	List     ChatList
	Order    int64
	IsPinned bool
}

// ChatKind is the closed set of chat type variants.
type ChatKind interface {
	isChatKind()
}

type DirectChat struct {
	PeerID int64
	IsBot  bool
}

type BasicGroup struct {
	GroupID     int64
	MemberCount int
}

type Supergroup struct {
	SupergroupID int64
	IsChannel    bool
	MemberCount  int
}

type SecretChat struct {
	SecretID int64
	PeerID   int64
}

func (DirectChat) isChatKind() {}
func (BasicGroup) isChatKind() {}
func (Supergroup) isChatKind() {}
func (SecretChat) isChatKind() {}

// Draft is unsent compose text attached to a chat.
type Draft struct {
	Text      string
	ReplyToID int64
	Date      time.Time
}

// Permissions are the acting user's rights in a chat.
type Permissions struct {
	CanSendMessages   bool
	CanPinMessages    bool
	CanDeleteMessages bool
}

// Chat is one dialog. LastMessage is a snapshot owned by the chat, not
// a pointer into the message collection.
type Chat struct {
	ID              int64
	Kind            ChatKind
	Title           string
	UnreadCount     int
	LastMessage     *Message
	LastMessageDate time.Time
	IsMarkedUnread  bool
	IsMuted         bool
	Draft           *Draft
	Permissions     Permissions
	Positions       []Position
}

// Position returns the chat's position in the given list.
func (c *Chat) Position(list ChatList) (Position, bool) {
	for _, p := range c.Positions {
		if p.List == list {
			return p, true
		}
	}
	return Position{}, false
}

// SetPosition replaces the position for its list, keeping the
// one-position-per-list invariant.
func (c *Chat) SetPosition(pos Position) {
	for i, p := range c.Positions {
		if p.List == pos.List {
			c.Positions[i] = pos
			return
		}
	}
	c.Positions = append(c.Positions, pos)
}

// IsPinned mirrors the pin flag of the chat's position in the given list.
func (c *Chat) IsPinned(list ChatList) bool {
	p, ok := c.Position(list)
	return ok && p.IsPinned
}

// InList reports whether the chat has a position in the given list.
func (c *Chat) InList(list ChatList) bool {
	_, ok := c.Position(list)
	return ok
}

// Cursor is a pagination marker: the last item of the previous page plus
// its ordering key. The zero value means "from the top".
type Cursor struct {
	AnchorID    int64
	AnchorOrder int64
	PageSize    int
}

// IsStart reports whether the cursor points at the beginning.
func (c Cursor) IsStart() bool {
	return c.AnchorID == 0
}

// Folder is a rule-based filter over the chat list: explicit per-chat
// includes and excludes plus type-based inclusion booleans.
type Folder struct {
	ID    int32
	Title string
	Icon  string

	IncludedChatIDs map[int64]bool
	ExcludedChatIDs map[int64]bool

	IncludeContacts bool
	IncludeGroups   bool
	IncludeChannels bool
	IncludeBots     bool
}

// Match evaluates the folder against a chat. Explicit include wins over
// everything, explicit exclude wins over type rules, and a chat matching
// no type rule is hidden.
func (f *Folder) Match(c *Chat) bool {
	if f == nil {
		return true
	}
	if f.IncludedChatIDs[c.ID] {
		return true
	}
	if f.ExcludedChatIDs[c.ID] {
		return false
	}
	switch k := c.Kind.(type) {
	case DirectChat:
		if k.IsBot {
			return f.IncludeBots
		}
		return f.IncludeContacts
	case SecretChat:
		return f.IncludeContacts
	case BasicGroup:
		return f.IncludeGroups
	case Supergroup:
		if k.IsChannel {
			return f.IncludeChannels
		}
		return f.IncludeGroups
	default:
		return false
	}
}
