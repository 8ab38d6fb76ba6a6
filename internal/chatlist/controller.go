// Package chatlist derives the visible chat list from the entity cache:
// folder filter, then search filter, then sort. Mutations are
// optimistic; the cache is corrected by later reconciled events.
package chatlist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chatsync/internal/backend"
	"chatsync/internal/cache"
	"chatsync/internal/domain"
)

// DefaultPageSize is the fixed chat-list page size.
const DefaultPageSize = 30

type Controller struct {
	store  *cache.Store
	caller backend.Caller
	logger *zap.Logger
	list   domain.ChatList

	mu       sync.Mutex
	folder   *domain.Folder
	query    string
	cursor   domain.Cursor
	pageSize int
	hasMore  bool
	loading  bool
	loadTok  uint64 // token the in-flight fetch started under
	token    uint64 // bumped when in-flight results must be discarded
	err      error

	onChange func()
	unsub    func()
}

func New(store *cache.Store, caller backend.Caller, list domain.ChatList, logger *zap.Logger) *Controller {
	c := &Controller{
		store:    store,
		caller:   caller,
		logger:   logger,
		list:     list,
		pageSize: DefaultPageSize,
		hasMore:  true,
	}
	c.unsub = store.Subscribe(c.onCacheChange)
	return c
}

// SetPageSize overrides the fetch page size. Ignored for non-positive
// values.
func (c *Controller) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.pageSize = n
	c.mu.Unlock()
}

// OnChange registers the view notification callback. The consumer pulls
// Visible() when it fires.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Close detaches the controller from the cache.
func (c *Controller) Close() {
	if c.unsub != nil {
		c.unsub()
	}
}

func (c *Controller) onCacheChange(ch cache.Change) {
	switch ch.Kind {
	case cache.ChatChanged, cache.ChatRemoved, cache.StoreReset:
	default:
		return
	}
	c.mu.Lock()
	fn := c.onChange
	if ch.Kind == cache.StoreReset {
		// Logout teardown: start over.
		c.cursor = domain.Cursor{}
		c.hasMore = true
		c.token++
	}
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetFolder installs the active folder filter; nil means no folder.
func (c *Controller) SetFolder(f *domain.Folder) {
	c.mu.Lock()
	c.folder = f
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetQuery installs the search query. An in-flight fetch started under
// the old query is discarded when it lands.
func (c *Controller) SetQuery(query string) {
	c.mu.Lock()
	c.query = query
	c.token++
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Visible computes filter(folder) then filter(search) then sort over
// the cached chats of this controller's list.
func (c *Controller) Visible() []domain.Chat {
	c.mu.Lock()
	folder := c.folder
	query := strings.ToLower(strings.TrimSpace(c.query))
	c.mu.Unlock()

	var out []domain.Chat
	for _, chat := range c.store.Chats() {
		if !chat.InList(c.list) {
			continue
		}
		if !folder.Match(&chat) {
			continue
		}
		if query != "" && !matchesQuery(&chat, query) {
			continue
		}
		out = append(out, chat)
	}
	c.sortChats(out)
	return out
}

// sortChats orders pinned chats first (by remote order within the pin
// group), then the rest by last-message date descending. A chat with no
// last message sorts as oldest.
func (c *Controller) sortChats(chats []domain.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		pi, pj := chats[i].IsPinned(c.list), chats[j].IsPinned(c.list)
		if pi != pj {
			return pi
		}
		if pi {
			oi, _ := chats[i].Position(c.list)
			oj, _ := chats[j].Position(c.list)
			return oi.Order > oj.Order
		}
		return chats[i].LastMessageDate.After(chats[j].LastMessageDate)
	})
}

func matchesQuery(chat *domain.Chat, query string) bool {
	if strings.Contains(strings.ToLower(chat.Title), query) {
		return true
	}
	if chat.LastMessage != nil &&
		strings.Contains(strings.ToLower(chat.LastMessage.PreviewText()), query) {
		return true
	}
	return false
}

// HasMore reports whether another page may exist.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// LoadMore fetches the next chat page into the cache. A call while a
// fetch is already in flight is a no-op, as is a call once the list is
// exhausted.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.loading || !c.hasMore {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	tok := c.token
	c.loadTok = tok
	cur := c.cursor
	cur.PageSize = c.pageSize
	c.mu.Unlock()

	page, err := c.caller.GetChats(ctx, c.list, cur)

	c.mu.Lock()
	if c.loadTok == tok {
		// Only the fetch that owns the flag clears it; after a refresh
		// the flag belongs to the refresh's own fetch.
		c.loading = false
	}
	if tok != c.token {
		// Superseded by a refresh or query change; drop the result.
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.err = fmt.Errorf("load chats: %w", err)
		c.mu.Unlock()
		return c.lastErr()
	}
	c.hasMore = len(page) == c.pageSize
	if len(page) > 0 {
		last := page[len(page)-1]
		pos, _ := last.Position(c.list)
		c.cursor = domain.Cursor{AnchorID: last.ID, AnchorOrder: pos.Order}
	}
	c.mu.Unlock()

	for _, chat := range page {
		c.store.UpsertChat(chat)
	}
	return nil
}

// Refresh resets pagination to the top and refetches the first page.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.token++
	c.cursor = domain.Cursor{}
	c.hasMore = true
	c.loading = false
	c.mu.Unlock()
	return c.LoadMore(ctx)
}

// TogglePin flips the chat's pin flag in this list, locally first. The
// remote failure policy is eventual-correction-only: the optimistic
// value stays and the next reconciled event restores server truth.
func (c *Controller) TogglePin(ctx context.Context, chatID int64) error {
	var pinned bool
	ok := c.store.MutateChat(chatID, func(chat *domain.Chat) bool {
		pos, _ := chat.Position(c.list)
		pos.List = c.list
		pos.IsPinned = !pos.IsPinned
		pinned = pos.IsPinned
		chat.SetPosition(pos)
		return true
	})
	if !ok {
		return c.failf("pin: unknown chat %d", chatID)
	}
	if err := c.caller.SetPinned(ctx, chatID, pinned); err != nil {
		return c.remoteFail("pin", err)
	}
	return nil
}

// ToggleMute flips the chat's mute flag, locally first.
func (c *Controller) ToggleMute(ctx context.Context, chatID int64) error {
	var muted bool
	ok := c.store.MutateChat(chatID, func(chat *domain.Chat) bool {
		chat.IsMuted = !chat.IsMuted
		muted = chat.IsMuted
		return true
	})
	if !ok {
		return c.failf("mute: unknown chat %d", chatID)
	}
	if err := c.caller.SetMuted(ctx, chatID, muted); err != nil {
		return c.remoteFail("mute", err)
	}
	return nil
}

// ToggleRead marks an unread chat read (clearing counters and pushing
// the read position to the last message) or a read chat as
// marked-unread.
func (c *Controller) ToggleRead(ctx context.Context, chatID int64) error {
	chat, ok := c.store.Chat(chatID)
	if !ok {
		return c.failf("read: unknown chat %d", chatID)
	}
	if chat.UnreadCount > 0 || chat.IsMarkedUnread {
		c.store.MutateChat(chatID, func(ch *domain.Chat) bool {
			ch.UnreadCount = 0
			ch.IsMarkedUnread = false
			return true
		})
		var maxID int64
		if chat.LastMessage != nil {
			maxID = chat.LastMessage.ID
		}
		if err := c.caller.MarkRead(ctx, chatID, maxID); err != nil {
			return c.remoteFail("mark read", err)
		}
		return nil
	}
	c.store.MutateChat(chatID, func(ch *domain.Chat) bool {
		ch.IsMarkedUnread = true
		return true
	})
	if err := c.caller.SetMarkedUnread(ctx, chatID, true); err != nil {
		return c.remoteFail("mark unread", err)
	}
	return nil
}

// Archive moves the chat to the archive list (or back to main if it is
// already archived), locally first.
func (c *Controller) Archive(ctx context.Context, chatID int64) error {
	target := domain.ChatListArchive
	chat, ok := c.store.Chat(chatID)
	if !ok {
		return c.failf("archive: unknown chat %d", chatID)
	}
	if chat.InList(domain.ChatListArchive) {
		target = domain.ChatListMain
	}
	c.store.MutateChat(chatID, func(ch *domain.Chat) bool {
		pos, _ := ch.Position(c.list)
		ch.Positions = []domain.Position{{List: target, Order: pos.Order, IsPinned: pos.IsPinned}}
		return true
	})
	if err := c.caller.SetChatList(ctx, chatID, target); err != nil {
		return c.remoteFail("archive", err)
	}
	return nil
}

// Delete removes the chat locally and remotely.
func (c *Controller) Delete(ctx context.Context, chatID int64) error {
	c.store.DeleteChat(chatID)
	if err := c.caller.DeleteChat(ctx, chatID); err != nil {
		return c.remoteFail("delete chat", err)
	}
	return nil
}

// Err returns the last surfaced error; the caller clears it explicitly.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) ClearErr() {
	c.mu.Lock()
	c.err = nil
	c.mu.Unlock()
}

func (c *Controller) lastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) failf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	return err
}

func (c *Controller) remoteFail(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, backend.AsError(err))
	c.logger.Warn("remote call failed, keeping optimistic state",
		zap.String("op", op), zap.Error(err))
	c.mu.Lock()
	c.err = wrapped
	c.mu.Unlock()
	return wrapped
}
