package entity

import (
	"time"

	"github.com/gofrs/uuid"
)

type keyType string

// SessionContextKey indicates the key to be used to identify the session UUID in the context.
const SessionContextKey keyType = "SessionUUID"

// Session entity representing a single client connection.
type Session struct {
	UUID          uuid.UUID               `json:"uuid" zap:"uuid"`
	ClientVersion string                  `json:"clientVersion" zap:"clientVersion"`
	RemoteAddr    string                  `json:"remoteAddr" zap:"remoteAddr"`
	ConnectedAt   time.Time               `json:"connectedAt" zap:"connectedAt"`
	Documents     map[DocumentID]struct{} `json:"-" zap:"-"`
}

// Subscribed reports whether the session has subscribed to the document.
func (s *Session) Subscribed(doc DocumentID) bool {
	_, ok := s.Documents[doc]
	return ok
}
