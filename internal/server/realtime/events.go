package realtime

import (
	"bytes"
	"encoding/json"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/dmitrijs2005/gophchat/internal/server/services"
)

// Inbound events.
const (
	EventSidebar     = "sidebar"
	EventMessagePage = "message-page"
	EventNewMessage  = "new-message"
	EventSeen        = "seen"
	EventUploadURL   = "upload-url"
)

// Outbound events.
const (
	EventConversation    = "conversation"
	EventMessagePageData = "message-page-data"
	EventMessage         = "message"
	EventMessagesSeen    = "messages-seen"
	EventOnlineUser      = "onlineUser"
	EventError           = "error"
)

// Frame is the envelope of every websocket text message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type NewMessageData struct {
	Receiver string `json:"receiver"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
	VideoURL string `json:"videoUrl"`
}

func (d NewMessageData) Payload() models.Payload {
	return models.Payload{Text: d.Text, ImageURL: d.ImageURL, VideoURL: d.VideoURL}
}

type UploadURLData struct {
	Kind        services.MediaKind `json:"kind"`
	ContentType string             `json:"contentType"`
}

type MessagePageData struct {
	User         models.Presence            `json:"user"`
	Conversation *models.ConversationDetail `json:"conversation"`
}

type MessagesSeenData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ErrorData is the payload of the generic error event.
type ErrorData struct {
	Message string `json:"message"`
}

// ResponseError replaces the data of a specific response event when the
// request could not be served.
type ResponseError struct {
	Error string `json:"error"`
}

// Encode builds an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: data})
}

// DecodeFrame parses an inbound frame.
func DecodeFrame(p []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(p, &f); err != nil {
		return Frame{}, common.ErrMalformedPayload
	}
	if f.Event == "" {
		return Frame{}, common.ErrMalformedPayload
	}
	return f, nil
}

// decodeID reads a payload that is a bare user id string. A missing or null
// payload yields "".
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", common.ErrInvalidUserID
	}
	return id, nil
}

func decodeData(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return common.ErrMalformedPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return common.ErrMalformedPayload
	}
	return nil
}

// encodeOnlineUsers is the presence broadcast frame.
func encodeOnlineUsers(online []string) ([]byte, error) {
	return Encode(EventOnlineUser, online)
}
