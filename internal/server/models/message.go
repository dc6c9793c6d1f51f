package models

import (
	"strings"
	"time"
)

// Message is a single entry of a conversation. Only Seen ever changes after
// it is stored, and only from false to true.
type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversationId"`
	Seq            int64     `json:"seq"`
	AuthorUserID   string    `json:"msgByUserId"`
	Text           string    `json:"text"`
	ImageURL       string    `json:"imageUrl"`
	VideoURL       string    `json:"videoUrl"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Payload is the client-supplied content of a new message.
type Payload struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
	VideoURL string `json:"videoUrl"`
}

// Normalize trims surrounding whitespace from every field.
func (p Payload) Normalize() Payload {
	return Payload{
		Text:     strings.TrimSpace(p.Text),
		ImageURL: strings.TrimSpace(p.ImageURL),
		VideoURL: strings.TrimSpace(p.VideoURL),
	}
}

// IsEmpty reports whether none of text, image or video is set.
func (p Payload) IsEmpty() bool {
	n := p.Normalize()
	return n.Text == "" && n.ImageURL == "" && n.VideoURL == ""
}
