// Package models defines server-side data models persisted in the database
// and the views derived from them.
package models

// User is the public projection of an account. Accounts are owned by the
// account subsystem; the chat engine only reads them.
type User struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	ProfilePic string `json:"profile_pic"`
}

// Presence is a User enriched with the live online flag.
type Presence struct {
	User
	Online bool `json:"online"`
}
