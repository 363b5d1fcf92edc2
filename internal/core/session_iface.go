package core

// SessionID identifies one client connection to the hub.
type SessionID string
