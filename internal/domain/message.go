package domain

import "time"

// MessageContent is the closed set of content variants. The core only
// interprets content at the preview/search boundary; reconciliation
// treats it as an opaque value.
type MessageContent interface {
	isMessageContent()

	// PreviewText returns a short plain-text rendering used for chat
	// list previews, search matching and notification previews.
	PreviewText() string
}

type TextContent struct {
	Text string
}

type PhotoContent struct {
	Caption string
	Width   int
	Height  int
}

type VideoContent struct {
	Caption  string
	Duration time.Duration
}

type VoiceContent struct {
	Duration time.Duration
}

type DocumentContent struct {
	FileName string
	Size     int64
}

type LocationContent struct {
	Latitude  float64
	Longitude float64
}

type StickerContent struct {
	Emoji string
}

func (TextContent) isMessageContent()     {}
func (PhotoContent) isMessageContent()    {}
func (VideoContent) isMessageContent()    {}
func (VoiceContent) isMessageContent()    {}
func (DocumentContent) isMessageContent() {}
func (LocationContent) isMessageContent() {}
func (StickerContent) isMessageContent()  {}

func (c TextContent) PreviewText() string { return c.Text }

func (c PhotoContent) PreviewText() string {
	if c.Caption != "" {
		return "[Photo] " + c.Caption
	}
	return "[Photo]"
}

func (c VideoContent) PreviewText() string {
	if c.Caption != "" {
		return "[Video] " + c.Caption
	}
	return "[Video]"
}

func (c VoiceContent) PreviewText() string { return "[Voice message]" }

func (c DocumentContent) PreviewText() string {
	if c.FileName != "" {
		return "[File] " + c.FileName
	}
	return "[File]"
}

func (c LocationContent) PreviewText() string { return "[Location]" }

func (c StickerContent) PreviewText() string {
	if c.Emoji != "" {
		return c.Emoji + " Sticker"
	}
	return "Sticker"
}

// Reaction is one reaction type with its count.
type Reaction struct {
	Emoji string
	Count int
}

// Message is one message. (ChatID, ID) is the stable primary key; edits
// replace Content and EditDate in place, never the ID.
type Message struct {
	ID              int64
	ChatID          int64
	SenderID        int64
	Content         MessageContent
	Date            time.Time
	EditDate        time.Time // zero if never edited
	ReplyToID       int64
	IsOutgoing      bool
	CanEdit         bool
	CanForward      bool
	CanDeleteForAll bool
	Reactions       []Reaction
	IsRead          bool
}

// PreviewText returns the message content's preview, or "" for a
// message with no content.
func (m *Message) PreviewText() string {
	if m.Content == nil {
		return ""
	}
	return m.Content.PreviewText()
}
