package model

import (
	"time"

	"github.com/gofrs/uuid"
)

// Session is the repository layer model for an individual client session.
type Session struct {
	UUID          uuid.UUID
	ClientVersion string
	RemoteAddr    string
	ConnectedAt   time.Time
	Documents     []string
}
