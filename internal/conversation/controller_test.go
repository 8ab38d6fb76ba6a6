package conversation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatsync/internal/backend/backendtest"
	"chatsync/internal/cache"
	"chatsync/internal/domain"
)

const testChatID = int64(1)

func newTestController(t *testing.T) (*Controller, *cache.Store, *backendtest.Caller) {
	t.Helper()
	store := cache.New()
	caller := &backendtest.Caller{}
	ctl := New(store, caller, testChatID, zap.NewNop())
	t.Cleanup(ctl.Close)
	return ctl, store, caller
}

func msgAt(id int64, text string, date time.Time) domain.Message {
	return domain.Message{
		ID:      id,
		ChatID:  testChatID,
		Content: domain.TextContent{Text: text},
		Date:    date,
	}
}

func msg(id int64, text string) domain.Message {
	return msgAt(id, text, time.Unix(1700000000+id, 0))
}

func TestSendMessage_EmptyInputRejected(t *testing.T) {
	ctl, _, caller := newTestController(t)

	ctl.SetInput("   \n\t ")
	err := ctl.SendMessage(t.Context())

	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, caller.CallCount("SendMessage"), "no remote call for empty input")
	assert.Equal(t, "   \n\t ", ctl.Input(), "whitespace input stays put")
}

func TestSendMessage_ClearsInputBeforeCallResolves(t *testing.T) {
	ctl, store, caller := newTestController(t)

	caller.SendMessageFunc = func(chatID int64, text string, replyToID int64) (domain.Message, error) {
		assert.Empty(t, ctl.Input(), "input must clear before the send resolves")
		assert.Equal(t, "hi there", text)
		return msgAt(10, text, time.Unix(1700000500, 0)), nil
	}

	ctl.SetInput("  hi there ")
	require.NoError(t, ctl.SendMessage(t.Context()))

	msgs := store.Messages(testChatID)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(10), msgs[0].ID)

	chat, ok := store.Chat(testChatID)
	if ok {
		require.NotNil(t, chat.LastMessage)
		assert.Equal(t, int64(10), chat.LastMessage.ID)
	}
}

func TestSendMessage_FailureRestoresInputAndCompose(t *testing.T) {
	ctl, store, caller := newTestController(t)
	store.UpsertMessage(msg(5, "original"))

	caller.SendMessageFunc = func(int64, string, int64) (domain.Message, error) {
		return domain.Message{}, errors.New("boom")
	}

	require.NoError(t, ctl.StartReply(5))
	ctl.SetInput("reply text")

	err := ctl.SendMessage(t.Context())
	require.Error(t, err)

	assert.Equal(t, "reply text", ctl.Input(), "failed send restores the input")
	assert.Equal(t, Compose{Mode: ComposeReplying, MessageID: 5}, ctl.Compose())
	assert.Error(t, ctl.Err())
	assert.Len(t, store.Messages(testChatID), 1, "nothing appended on failure")
}

func TestSendMessage_ReplyPassesTarget(t *testing.T) {
	ctl, store, caller := newTestController(t)
	store.UpsertMessage(msg(5, "question"))

	var gotReply int64
	caller.SendMessageFunc = func(_ int64, text string, replyToID int64) (domain.Message, error) {
		gotReply = replyToID
		return msgAt(6, text, time.Unix(1700000600, 0)), nil
	}

	require.NoError(t, ctl.StartReply(5))
	ctl.SetInput("answer")
	require.NoError(t, ctl.SendMessage(t.Context()))

	assert.Equal(t, int64(5), gotReply)
	assert.Equal(t, Compose{}, ctl.Compose(), "compose returns to idle after send")
}

func TestSendMessage_EditReplacesInPlace(t *testing.T) {
	ctl, store, caller := newTestController(t)
	original := msg(5, "tpyo")
	original.CanEdit = true
	store.UpsertMessage(original)

	editDate := time.Unix(1700000700, 0)
	caller.EditMessageFunc = func(_, messageID int64, text string) (domain.Message, error) {
		assert.Equal(t, int64(5), messageID)
		return domain.Message{
			ID:       messageID,
			ChatID:   testChatID,
			Content:  domain.TextContent{Text: text},
			EditDate: editDate,
		}, nil
	}

	require.NoError(t, ctl.StartEdit(5))
	assert.Equal(t, "tpyo", ctl.Input(), "edit pre-fills the input")

	ctl.SetInput("typo")
	require.NoError(t, ctl.SendMessage(t.Context()))

	msgs := store.Messages(testChatID)
	require.Len(t, msgs, 1, "edit must not append a new message")
	assert.Equal(t, int64(5), msgs[0].ID)
	assert.Equal(t, "typo", msgs[0].Content.PreviewText())
	assert.True(t, msgs[0].EditDate.Equal(editDate))
	assert.True(t, msgs[0].Date.Equal(original.Date), "original date survives the edit")
	assert.Zero(t, caller.CallCount("SendMessage"))
}

func TestStartEdit_RequiresEditableMessage(t *testing.T) {
	ctl, store, _ := newTestController(t)
	store.UpsertMessage(msg(5, "theirs"))

	err := ctl.StartEdit(5)
	require.ErrorIs(t, err, ErrNotEditable)
	assert.Equal(t, Compose{}, ctl.Compose())

	err = ctl.StartEdit(99)
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestCompose_ReplyAndEditAreExclusive(t *testing.T) {
	ctl, store, _ := newTestController(t)
	editable := msg(5, "mine")
	editable.CanEdit = true
	store.UpsertMessage(editable)
	store.UpsertMessage(msg(6, "theirs"))

	require.NoError(t, ctl.StartReply(6))
	require.NoError(t, ctl.StartEdit(5))
	assert.Equal(t, Compose{Mode: ComposeEditing, MessageID: 5}, ctl.Compose())

	require.NoError(t, ctl.StartReply(6))
	assert.Equal(t, Compose{Mode: ComposeReplying, MessageID: 6}, ctl.Compose())

	ctl.CancelCompose()
	assert.Equal(t, Compose{}, ctl.Compose())
}

func TestGroupedByDay(t *testing.T) {
	ctl, store, _ := newTestController(t)
	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 0, 30, 0, 0, time.UTC)

	store.UpsertMessage(msgAt(1, "a", day1))
	store.UpsertMessage(msgAt(2, "b", day1.Add(2*time.Hour)))
	store.UpsertMessage(msgAt(3, "c", day2))

	groups := ctl.GroupedByDay()
	require.Len(t, groups, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), groups[0].Day)
	assert.Len(t, groups[0].Messages, 2)
	assert.Len(t, groups[1].Messages, 1)
	assert.Equal(t, int64(3), groups[1].Messages[0].ID)
}

func TestLoad_FailsClosed(t *testing.T) {
	ctl, store, caller := newTestController(t)
	caller.GetHistoryFunc = func(int64, domain.Cursor) ([]domain.Message, error) {
		return nil, errors.New("network down")
	}

	err := ctl.Load(t.Context())
	require.Error(t, err)
	assert.Empty(t, store.Messages(testChatID), "failed load leaves the timeline empty")
	assert.Error(t, ctl.Err())
}

func TestLoadMore_AnchorsOnOldestAndTerminates(t *testing.T) {
	ctl, store, caller := newTestController(t)
	ctl.SetPageSize(2)

	var cursors []domain.Cursor
	pages := [][]domain.Message{
		{msg(10, "j"), msg(11, "k")},
		{msg(9, "i")},
	}
	caller.GetHistoryFunc = func(_ int64, cur domain.Cursor) ([]domain.Message, error) {
		cursors = append(cursors, cur)
		if len(cursors) <= len(pages) {
			return pages[len(cursors)-1], nil
		}
		return nil, nil
	}

	require.NoError(t, ctl.Load(t.Context()))
	require.NoError(t, ctl.LoadMore(t.Context()))
	require.NoError(t, ctl.LoadMore(t.Context()), "exhausted history makes LoadMore a no-op")

	require.Len(t, cursors, 2)
	assert.Zero(t, cursors[0].AnchorID)
	assert.Equal(t, int64(10), cursors[1].AnchorID, "backward page anchors on the oldest loaded id")
	assert.False(t, ctl.HasMoreMessages())
	assert.Len(t, store.Messages(testChatID), 3)
}

func TestSelection_ToggleAndAutoExit(t *testing.T) {
	ctl, store, _ := newTestController(t)
	store.UpsertMessage(msg(1, "a"))
	store.UpsertMessage(msg(2, "b"))

	ctl.ToggleSelect(2)
	ctl.ToggleSelect(1)
	assert.True(t, ctl.IsSelecting())
	assert.Equal(t, []int64{1, 2}, ctl.Selected())

	ctl.ToggleSelect(1)
	ctl.ToggleSelect(2)
	assert.False(t, ctl.IsSelecting(), "selection mode exits when the set empties")
}

func TestSelection_PrunedWhenMessagesRemoved(t *testing.T) {
	ctl, store, _ := newTestController(t)
	store.UpsertMessage(msg(1, "a"))
	store.UpsertMessage(msg(2, "b"))

	ctl.ToggleSelect(1)
	store.DeleteMessages(testChatID, []int64{1})

	assert.Empty(t, ctl.Selected())
	assert.False(t, ctl.IsSelecting())
}

func TestDeleteMessages_FailureKeepsSelection(t *testing.T) {
	ctl, store, caller := newTestController(t)
	store.UpsertMessage(msg(1, "a"))
	ctl.ToggleSelect(1)

	caller.DeleteMessagesFunc = func(int64, []int64, bool) error {
		return errors.New("boom")
	}

	err := ctl.DeleteMessages(t.Context(), false)
	require.Error(t, err)
	assert.Equal(t, []int64{1}, ctl.Selected(), "failed delete keeps the selection")
	assert.Len(t, store.Messages(testChatID), 1)
}

func TestDeleteMessages_SuccessRemovesAndClears(t *testing.T) {
	ctl, store, caller := newTestController(t)
	store.UpsertMessage(msg(1, "a"))
	store.UpsertMessage(msg(2, "b"))
	ctl.ToggleSelect(1)

	var gotForAll bool
	caller.DeleteMessagesFunc = func(_ int64, ids []int64, forAll bool) error {
		assert.Equal(t, []int64{1}, ids)
		gotForAll = forAll
		return nil
	}

	require.NoError(t, ctl.DeleteMessages(t.Context(), true))
	assert.True(t, gotForAll)
	assert.False(t, ctl.IsSelecting())
	msgs := store.Messages(testChatID)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(2), msgs[0].ID)
}

func TestForwardMessages_ClearsSelectionOnSuccessOnly(t *testing.T) {
	ctl, store, caller := newTestController(t)
	store.UpsertMessage(msg(1, "a"))
	ctl.ToggleSelect(1)

	caller.ForwardMessagesFunc = func(int64, int64, []int64) error {
		return errors.New("boom")
	}
	require.Error(t, ctl.ForwardMessages(t.Context(), 7))
	assert.Equal(t, []int64{1}, ctl.Selected())

	caller.ForwardMessagesFunc = nil
	require.NoError(t, ctl.ForwardMessages(t.Context(), 7))
	assert.Empty(t, ctl.Selected())
	assert.Len(t, store.Messages(testChatID), 1, "forwarding never removes the source messages")
}

func TestForwardMessages_EmptySelection(t *testing.T) {
	ctl, _, caller := newTestController(t)

	err := ctl.ForwardMessages(t.Context(), 7)
	require.ErrorIs(t, err, ErrEmptySelection)
	assert.Zero(t, caller.CallCount("ForwardMessages"))
}

func TestTypingIndicator_ExpiresWithoutFollowUp(t *testing.T) {
	ctl, _, caller := newTestController(t)
	ctl.expiry = 20 * time.Millisecond

	ctl.UpdateTypingIndicator()
	assert.True(t, ctl.IsTyping())

	assert.Eventually(t, func() bool { return !ctl.IsTyping() },
		time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return caller.CallCount("SendTyping") == 1 },
		time.Second, 5*time.Millisecond)
}

func TestHandleTyping_PeerExpiry(t *testing.T) {
	ctl, _, _ := newTestController(t)
	ctl.expiry = 20 * time.Millisecond

	ctl.HandleTyping(domain.UserTyping{ChatID: testChatID, UserID: 42, Active: true})
	assert.Equal(t, []int64{42}, ctl.TypingPeers())

	// Events for other chats are ignored.
	ctl.HandleTyping(domain.UserTyping{ChatID: 99, UserID: 7, Active: true})
	assert.Equal(t, []int64{42}, ctl.TypingPeers())

	assert.Eventually(t, func() bool { return len(ctl.TypingPeers()) == 0 },
		time.Second, 5*time.Millisecond)
}

func TestHandleTyping_CancelledExplicitly(t *testing.T) {
	ctl, _, _ := newTestController(t)

	ctl.HandleTyping(domain.UserTyping{ChatID: testChatID, UserID: 42, Active: true})
	ctl.HandleTyping(domain.UserTyping{ChatID: testChatID, UserID: 42, Active: false})

	assert.Empty(t, ctl.TypingPeers())
}
