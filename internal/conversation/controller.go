// Package conversation manages one open chat: the day-grouped message
// timeline, compose and selection state, optimistic send and backward
// history pagination.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatsync/internal/backend"
	"chatsync/internal/cache"
	"chatsync/internal/domain"
)

// DefaultPageSize is the fixed history page size.
const DefaultPageSize = 50

// typingExpiry clears a typing flag that gets no follow-up keystroke.
const typingExpiry = 5 * time.Second

var (
	ErrEmptyMessage   = errors.New("conversation: empty message")
	ErrNotEditable    = errors.New("conversation: message cannot be edited")
	ErrUnknownMessage = errors.New("conversation: unknown message")
	ErrEmptySelection = errors.New("conversation: empty selection")
)

// ComposeMode is the input's current mode. Replying and editing are
// mutually exclusive; selection is orthogonal.
type ComposeMode int

const (
	ComposeIdle ComposeMode = iota
	ComposeReplying
	ComposeEditing
)

// Compose is the compose state: the mode plus the message it targets.
type Compose struct {
	Mode      ComposeMode
	MessageID int64
}

// DayGroup is one calendar day of the timeline, messages ascending.
type DayGroup struct {
	Day      time.Time
	Messages []domain.Message
}

type Controller struct {
	store  *cache.Store
	caller backend.Caller
	chatID int64
	logger *zap.Logger

	mu       sync.Mutex
	pageSize int
	compose  Compose
	input    string

	selecting bool
	selected  map[int64]bool

	hasMore bool
	loading bool
	err     error

	typing      bool
	typingTimer *time.Timer
	expiry      time.Duration

	peersTyping map[int64]*time.Timer

	onChange func()
	unsub    func()
}

func New(store *cache.Store, caller backend.Caller, chatID int64, logger *zap.Logger) *Controller {
	c := &Controller{
		store:       store,
		caller:      caller,
		chatID:      chatID,
		logger:      logger,
		pageSize:    DefaultPageSize,
		hasMore:     true,
		selected:    make(map[int64]bool),
		expiry:      typingExpiry,
		peersTyping: make(map[int64]*time.Timer),
	}
	c.unsub = store.Subscribe(c.onCacheChange)
	return c
}

// SetPageSize overrides the history page size. Ignored for non-positive
// values.
func (c *Controller) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.pageSize = n
	c.mu.Unlock()
}

// OnChange registers the view notification callback.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Close detaches from the cache and stops all timers.
func (c *Controller) Close() {
	if c.unsub != nil {
		c.unsub()
	}
	c.mu.Lock()
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	for id, t := range c.peersTyping {
		t.Stop()
		delete(c.peersTyping, id)
	}
	c.mu.Unlock()
}

// onCacheChange forwards cache notifications scoped to this chat only.
func (c *Controller) onCacheChange(ch cache.Change) {
	if ch.Kind != cache.StoreReset && ch.ChatID != c.chatID {
		return
	}
	switch ch.Kind {
	case cache.MessageChanged, cache.MessagesRemoved, cache.ChatRemoved, cache.StoreReset:
	default:
		return
	}
	c.mu.Lock()
	if ch.Kind == cache.MessagesRemoved {
		// Deleted messages fall out of the selection set.
		for _, id := range ch.MessageIDs {
			delete(c.selected, id)
		}
		if len(c.selected) == 0 {
			c.selecting = false
		}
	}
	fn := c.onChange
	c.mu.Unlock()
	c.signal(fn)
}

func (c *Controller) signal(fn func()) {
	if fn != nil {
		fn()
	}
}

func (c *Controller) changed() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	c.signal(fn)
}

// Messages returns the loaded timeline, ascending by id (and therefore
// by date, since ids are monotonic per chat).
func (c *Controller) Messages() []domain.Message {
	return c.store.Messages(c.chatID)
}

// GroupedByDay buckets the timeline into one group per calendar day.
func (c *Controller) GroupedByDay() []DayGroup {
	msgs := c.Messages()
	var groups []DayGroup
	for _, m := range msgs {
		day := dayOf(m.Date)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DayGroup{Day: day, Messages: []domain.Message{m}})
	}
	return groups
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Load fetches the most recent history page. Fails closed: on backend
// failure the timeline stays empty and a typed error is surfaced. A
// call while a fetch is in flight is a no-op.
func (c *Controller) Load(ctx context.Context) error {
	return c.fetch(ctx, domain.Cursor{})
}

// LoadMore pages backwards from the oldest loaded message. HasMore
// turns false once a fetch returns less than a full page.
func (c *Controller) LoadMore(ctx context.Context) error {
	var cur domain.Cursor
	if msgs := c.store.Messages(c.chatID); len(msgs) > 0 {
		cur.AnchorID = msgs[0].ID
	}
	return c.fetch(ctx, cur)
}

func (c *Controller) fetch(ctx context.Context, cur domain.Cursor) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil
	}
	if !cur.IsStart() && !c.hasMore {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	cur.PageSize = c.pageSize
	c.mu.Unlock()

	page, err := c.caller.GetHistory(ctx, c.chatID, cur)

	c.mu.Lock()
	c.loading = false
	if err != nil {
		c.err = fmt.Errorf("load history: %w", backend.AsError(err))
		c.mu.Unlock()
		return c.Err()
	}
	c.hasMore = len(page) == c.pageSize
	c.mu.Unlock()

	for _, m := range page {
		c.store.UpsertMessage(m)
	}
	return nil
}

// HasMoreMessages reports whether older history may exist.
func (c *Controller) HasMoreMessages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// SetInput replaces the compose text.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
}

func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Compose returns the current compose state.
func (c *Controller) Compose() Compose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compose
}

// StartReply switches the compose state to replying. Entering a reply
// leaves any active edit; the two modes are never active together.
func (c *Controller) StartReply(messageID int64) error {
	if _, ok := c.store.Message(c.chatID, messageID); !ok {
		return c.fail(ErrUnknownMessage)
	}
	c.mu.Lock()
	c.compose = Compose{Mode: ComposeReplying, MessageID: messageID}
	c.mu.Unlock()
	c.changed()
	return nil
}

// StartEdit switches the compose state to editing and pre-fills the
// input from the message text. Only messages flagged editable qualify.
func (c *Controller) StartEdit(messageID int64) error {
	msg, ok := c.store.Message(c.chatID, messageID)
	if !ok {
		return c.fail(ErrUnknownMessage)
	}
	if !msg.CanEdit {
		return c.fail(ErrNotEditable)
	}
	text := ""
	if tc, ok := msg.Content.(domain.TextContent); ok {
		text = tc.Text
	}
	c.mu.Lock()
	c.compose = Compose{Mode: ComposeEditing, MessageID: messageID}
	c.input = text
	c.mu.Unlock()
	c.changed()
	return nil
}

// CancelCompose returns the compose state to idle.
func (c *Controller) CancelCompose() {
	c.mu.Lock()
	c.compose = Compose{}
	c.mu.Unlock()
	c.changed()
}

// SendMessage validates the input, clears compose state synchronously
// before the call resolves, and sends (or, in edit mode, edits). On
// failure the cleared input and compose state are restored alongside the
// surfaced error.
func (c *Controller) SendMessage(ctx context.Context) error {
	c.mu.Lock()
	text := strings.TrimSpace(c.input)
	if text == "" {
		c.mu.Unlock()
		return c.fail(ErrEmptyMessage)
	}
	compose := c.compose
	prevInput := c.input
	c.input = ""
	c.compose = Compose{}
	c.mu.Unlock()
	c.changed()

	var (
		msg domain.Message
		err error
	)
	if compose.Mode == ComposeEditing {
		msg, err = c.caller.EditMessage(ctx, c.chatID, compose.MessageID, text)
	} else {
		var replyTo int64
		if compose.Mode == ComposeReplying {
			replyTo = compose.MessageID
		}
		msg, err = c.caller.SendMessage(ctx, c.chatID, text, replyTo)
	}
	if err != nil {
		c.mu.Lock()
		c.input = prevInput
		c.compose = compose
		c.err = fmt.Errorf("send message: %w", backend.AsError(err))
		c.mu.Unlock()
		c.changed()
		return c.Err()
	}

	if compose.Mode == ComposeEditing {
		// Edits replace content and edit date in place, never the id.
		c.store.EditMessage(c.chatID, compose.MessageID, msg.Content, msg.EditDate)
		return nil
	}

	// Idempotent against the reconciled duplicate: keyed by id.
	c.store.UpsertMessage(msg)
	c.store.MutateChat(c.chatID, func(ch *domain.Chat) bool {
		if ch.LastMessage != nil && ch.LastMessage.ID >= msg.ID {
			return false
		}
		m := msg
		ch.LastMessage = &m
		ch.LastMessageDate = msg.Date
		return true
	})
	return nil
}

// IsSelecting reports whether selection mode is active.
func (c *Controller) IsSelecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selecting
}

// Selected returns the selected message ids, ascending.
func (c *Controller) Selected() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.selected))
	for id := range c.selected {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ToggleSelect adds or removes a message from the selection. Selection
// mode exits automatically when the set becomes empty.
func (c *Controller) ToggleSelect(messageID int64) {
	c.mu.Lock()
	if c.selected[messageID] {
		delete(c.selected, messageID)
	} else {
		c.selected[messageID] = true
	}
	c.selecting = len(c.selected) > 0
	c.mu.Unlock()
	c.changed()
}

// ClearSelection empties the selection and exits selection mode.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	c.selected = make(map[int64]bool)
	c.selecting = false
	c.mu.Unlock()
	c.changed()
}

// DeleteMessages deletes the selected messages. On success they are
// removed locally and the selection cleared; on failure the selection
// is preserved and the error surfaced.
func (c *Controller) DeleteMessages(ctx context.Context, forAll bool) error {
	ids := c.Selected()
	if len(ids) == 0 {
		return c.fail(ErrEmptySelection)
	}
	if err := c.caller.DeleteMessages(ctx, c.chatID, ids, forAll); err != nil {
		return c.fail(fmt.Errorf("delete messages: %w", backend.AsError(err)))
	}
	c.store.DeleteMessages(c.chatID, ids)
	c.ClearSelection()
	return nil
}

// ForwardMessages forwards the selected messages to another chat. The
// selection clears on success only.
func (c *Controller) ForwardMessages(ctx context.Context, toChatID int64) error {
	ids := c.Selected()
	if len(ids) == 0 {
		return c.fail(ErrEmptySelection)
	}
	if err := c.caller.ForwardMessages(ctx, c.chatID, toChatID, ids); err != nil {
		return c.fail(fmt.Errorf("forward messages: %w", backend.AsError(err)))
	}
	c.ClearSelection()
	return nil
}

// UpdateTypingIndicator marks us typing for a fixed expiry, restarted on
// every keystroke-driven call. The flag clears locally on expiry; no
// server acknowledgement is involved.
func (c *Controller) UpdateTypingIndicator() {
	c.mu.Lock()
	c.typing = true
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(c.expiry, func() {
		c.mu.Lock()
		c.typing = false
		c.mu.Unlock()
		c.changed()
	})
	c.mu.Unlock()

	go func() {
		if err := c.caller.SendTyping(context.Background(), c.chatID, true); err != nil {
			c.logger.Debug("send typing failed", zap.Error(err))
		}
	}()
}

// IsTyping reports whether our local typing flag is set.
func (c *Controller) IsTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// HandleTyping consumes a peer typing event for this chat, expiring it
// with the same timeout as local typing.
func (c *Controller) HandleTyping(ev domain.UserTyping) {
	if ev.ChatID != c.chatID {
		return
	}
	c.mu.Lock()
	if t, ok := c.peersTyping[ev.UserID]; ok {
		t.Stop()
		delete(c.peersTyping, ev.UserID)
	}
	if ev.Active {
		userID := ev.UserID
		c.peersTyping[userID] = time.AfterFunc(c.expiry, func() {
			c.mu.Lock()
			delete(c.peersTyping, userID)
			c.mu.Unlock()
			c.changed()
		})
	}
	c.mu.Unlock()
	c.changed()
}

// TypingPeers returns the ids of peers currently typing in this chat.
func (c *Controller) TypingPeers() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.peersTyping))
	for id := range c.peersTyping {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
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

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	return err
}
