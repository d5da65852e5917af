package common

// AuthorizationHeaderName carries the client's bearer token on the
// WebSocket handshake.
const AuthorizationHeaderName = "Authorization"

// TokenQueryParam is accepted as an alternative to the Authorization
// header for clients that cannot set handshake headers.
const TokenQueryParam = "token"
