package common

import "github.com/google/uuid"

// SessionID identifies one persisted upload attempt. It is distinct from
// the file fingerprint: the fingerprint is the wire-level resume key
// (the engine sends it as the chunk and merge requests' fileId), the
// SessionID is only the store row's local
// identity.
type SessionID string

// NewSessionID mints a fresh session identity.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// EndpointID identifies one CDN/edge endpoint within a connector's pool.
type EndpointID string

// ModuleID identifies one registered kernel module.
type ModuleID string

// EventHandlerID is an opaque token returned by the event bus's On and
// consumed by Off. The bus never retains any identity beyond this token.
type EventHandlerID uint64
