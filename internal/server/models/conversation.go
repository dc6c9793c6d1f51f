package models

import "time"

// Conversation is the durable record for one unordered pair of users.
// ParticipantA is always the lexically smaller id of the pair.
type Conversation struct {
	ID           string    `json:"_id"`
	ParticipantA string    `json:"participantA"`
	ParticipantB string    `json:"participantB"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Counterpart returns the participant that is not userID.
func (c *Conversation) Counterpart(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// HasParticipant reports whether userID is one of the pair.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// NormalizePair orders a pair of user ids so that {a,b} and {b,a} map to the
// same stored key.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// ConversationDetail is a conversation with participant profiles and its
// full message history in append order.
type ConversationDetail struct {
	ID        string     `json:"_id"`
	Sender    User       `json:"sender"`
	Receiver  User       `json:"receiver"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ConversationSummary is the sidebar view of a conversation for one user.
// It is derived on every request and never stored.
type ConversationSummary struct {
	ConversationID  string    `json:"_id"`
	CounterpartUser User      `json:"userDetails"`
	UnseenCount     int       `json:"unSeenMsg"`
	LastMessage     *Message  `json:"lastMsg"`
	UpdatedAt       time.Time `json:"-"`
}
