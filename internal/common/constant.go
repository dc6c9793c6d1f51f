// Package common contains shared constants and sentinel errors used across
// gophchat components.
package common

const (
	// AuthorizationHeaderName carries "Bearer <token>" on HTTP and websocket
	// handshake requests.
	AuthorizationHeaderName = "Authorization"

	// BearerPrefix precedes the token inside the Authorization header.
	BearerPrefix = "Bearer "

	// TokenQueryParam is the handshake query parameter used by browser
	// clients that cannot set headers on a websocket upgrade.
	TokenQueryParam = "token"
)
