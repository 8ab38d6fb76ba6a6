package cache_test

import (
	"testing"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/domain"
)

func textMsg(chatID, id int64, text string) domain.Message {
	return domain.Message{
		ID:      id,
		ChatID:  chatID,
		Content: domain.TextContent{Text: text},
		Date:    time.Unix(1700000000+id, 0),
	}
}

func TestStore_UpsertChat(t *testing.T) {
	s := cache.New()

	s.UpsertChat(domain.Chat{ID: 1, Title: "Alice", Kind: domain.DirectChat{PeerID: 1}})

	got, ok := s.Chat(1)
	if !ok {
		t.Fatal("chat 1 not found")
	}
	if got.Title != "Alice" {
		t.Errorf("Title = %q, want Alice", got.Title)
	}
}

func TestStore_UpsertChat_IdenticalIsNoNotify(t *testing.T) {
	s := cache.New()
	chat := domain.Chat{ID: 1, Title: "Alice", Kind: domain.DirectChat{PeerID: 1}}
	s.UpsertChat(chat)

	var fired int
	unsub := s.Subscribe(func(cache.Change) { fired++ })
	defer unsub()

	s.UpsertChat(chat)
	if fired != 0 {
		t.Errorf("notifications = %d, want 0 for identical upsert", fired)
	}

	chat.Title = "Alice B"
	s.UpsertChat(chat)
	if fired != 1 {
		t.Errorf("notifications = %d, want 1 after real change", fired)
	}
}

func TestStore_UpsertMessage_Ordering(t *testing.T) {
	s := cache.New()

	s.UpsertMessage(textMsg(1, 5, "five"))
	s.UpsertMessage(textMsg(1, 2, "two"))
	s.UpsertMessage(textMsg(1, 9, "nine"))

	msgs := s.Messages(1)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []int64{2, 5, 9} {
		if msgs[i].ID != want {
			t.Errorf("msgs[%d].ID = %d, want %d", i, msgs[i].ID, want)
		}
	}
}

func TestStore_UpsertMessage_SameIDReplaces(t *testing.T) {
	s := cache.New()

	s.UpsertMessage(textMsg(1, 5, "hi"))
	s.UpsertMessage(textMsg(1, 5, "hello"))

	msgs := s.Messages(1)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if got := msgs[0].Content.PreviewText(); got != "hello" {
		t.Errorf("content = %q, want hello", got)
	}
}

func TestStore_EditMessage(t *testing.T) {
	s := cache.New()
	s.UpsertMessage(textMsg(1, 5, "hi"))

	edit := time.Unix(1700000100, 0)
	s.EditMessage(1, 5, domain.TextContent{Text: "hello"}, edit)

	msg, ok := s.Message(1, 5)
	if !ok {
		t.Fatal("message 5 missing")
	}
	if msg.Content.PreviewText() != "hello" {
		t.Errorf("content = %q, want hello", msg.Content.PreviewText())
	}
	if !msg.EditDate.Equal(edit) {
		t.Errorf("EditDate = %v, want %v", msg.EditDate, edit)
	}
}

func TestStore_DeleteMessages(t *testing.T) {
	s := cache.New()
	for _, id := range []int64{1, 2, 3, 4} {
		s.UpsertMessage(textMsg(1, id, "m"))
	}

	s.DeleteMessages(1, []int64{2, 4, 99})

	msgs := s.Messages(1)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != 1 || msgs[1].ID != 3 {
		t.Errorf("remaining ids = %d,%d, want 1,3", msgs[0].ID, msgs[1].ID)
	}
}

func TestStore_DeleteMessages_UnscopedRemovesAcrossChats(t *testing.T) {
	s := cache.New()
	s.UpsertMessage(textMsg(1, 5, "a"))
	s.UpsertMessage(textMsg(1, 6, "b"))
	s.UpsertMessage(textMsg(2, 7, "c"))

	var notified []int64
	unsub := s.Subscribe(func(c cache.Change) {
		if c.Kind == cache.MessagesRemoved {
			notified = append(notified, c.ChatID)
		}
	})
	defer unsub()

	// Zero chat id: the deletion was not scoped to a chat.
	s.DeleteMessages(0, []int64{5, 7})

	msgs := s.Messages(1)
	if len(msgs) != 1 || msgs[0].ID != 6 {
		t.Errorf("chat 1 messages = %v, want only id 6", msgs)
	}
	if got := s.Messages(2); len(got) != 0 {
		t.Errorf("chat 2 messages = %d, want 0", len(got))
	}
	if len(notified) != 2 {
		t.Errorf("notified chats = %v, want one notification per affected chat", notified)
	}
}

func TestStore_ApplyRead_ClearsUnread(t *testing.T) {
	s := cache.New()
	s.UpsertChat(domain.Chat{ID: 1, Title: "Alice", UnreadCount: 3, IsMarkedUnread: true})
	s.UpsertMessage(textMsg(1, 1, "a"))
	s.UpsertMessage(textMsg(1, 2, "b"))

	s.ApplyRead(1, 2, false)

	chat, _ := s.Chat(1)
	if chat.UnreadCount != 0 || chat.IsMarkedUnread {
		t.Errorf("unread = %d marked = %v, want 0 false", chat.UnreadCount, chat.IsMarkedUnread)
	}
	for _, m := range s.Messages(1) {
		if !m.IsRead {
			t.Errorf("message %d not read", m.ID)
		}
	}
}

func TestStore_MessageLimit(t *testing.T) {
	s := cache.New()

	for i := int64(0); i < 600; i++ {
		s.UpsertMessage(textMsg(1, i, "msg"))
	}

	msgs := s.Messages(1)
	if len(msgs) > 500 {
		t.Errorf("messages = %d, want <= 500", len(msgs))
	}
	// Oldest messages fall off first.
	if msgs[0].ID != 100 {
		t.Errorf("oldest id = %d, want 100", msgs[0].ID)
	}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s := cache.New()
	s.UpsertChat(domain.Chat{
		ID:        1,
		Title:     "Alice",
		Positions: []domain.Position{{List: domain.ChatListMain, IsPinned: true}},
	})

	snap, _ := s.Chat(1)
	snap.Title = "mutated"
	snap.Positions[0].IsPinned = false

	got, _ := s.Chat(1)
	if got.Title != "Alice" {
		t.Errorf("Title = %q, snapshot mutation leaked into store", got.Title)
	}
	if !got.IsPinned(domain.ChatListMain) {
		t.Error("pin flag lost, snapshot mutation leaked into store")
	}
}

func TestStore_Reset(t *testing.T) {
	s := cache.New()
	s.UpsertChat(domain.Chat{ID: 1, Title: "Alice"})
	s.UpsertMessage(textMsg(1, 1, "a"))
	s.UpsertUser(domain.User{ID: 7, FirstName: "Bob", Status: domain.StatusUnknown{}})

	var gotReset bool
	unsub := s.Subscribe(func(c cache.Change) {
		if c.Kind == cache.StoreReset {
			gotReset = true
		}
	})
	defer unsub()

	s.Reset()

	if len(s.Chats()) != 0 || len(s.Messages(1)) != 0 {
		t.Error("entities survived reset")
	}
	if _, ok := s.User(7); ok {
		t.Error("user survived reset")
	}
	if !gotReset {
		t.Error("no reset notification")
	}
}

func TestStore_SetUserStatus(t *testing.T) {
	s := cache.New()
	s.UpsertUser(domain.User{ID: 7, FirstName: "Bob", Status: domain.StatusUnknown{}})

	s.SetUserStatus(7, domain.StatusOnline{})

	u, _ := s.User(7)
	if _, ok := u.Status.(domain.StatusOnline); !ok {
		t.Errorf("status = %T, want StatusOnline", u.Status)
	}
}
