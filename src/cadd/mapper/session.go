package mapper

import (
	"context"
	"sort"
	"time"

	"github.com/gofrs/uuid"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"github.com/uber/cad-server/src/cadd/model"
)

// SessionToModel maps a Session entity to its model equivalent.
func SessionToModel(f *entity.Session) *model.Session {
	docs := make([]string, 0, len(f.Documents))
	for doc := range f.Documents {
		docs = append(docs, string(doc))
	}
	sort.Strings(docs)

	return &model.Session{
		UUID:          f.UUID,
		ClientVersion: f.ClientVersion,
		RemoteAddr:    f.RemoteAddr,
		ConnectedAt:   f.ConnectedAt,
		Documents:     docs,
	}
}

// ModelToSession maps a model Session to its entity equivalent.
func ModelToSession(f *model.Session) (*entity.Session, error) {
	docs := make(map[entity.DocumentID]struct{}, len(f.Documents))
	for _, doc := range f.Documents {
		docs[entity.DocumentID(doc)] = struct{}{}
	}

	return &entity.Session{
		UUID:          f.UUID,
		ClientVersion: f.ClientVersion,
		RemoteAddr:    f.RemoteAddr,
		ConnectedAt:   f.ConnectedAt,
		Documents:     docs,
	}, nil
}

// UUIDToSession initializes a new Session entity with the assigned uuid.
func UUIDToSession(u uuid.UUID, remoteAddr string) *entity.Session {
	return &entity.Session{
		UUID:        u,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		Documents:   make(map[entity.DocumentID]struct{}),
	}
}

// ContextToSessionUUID extracts the UUID from a context
func ContextToSessionUUID(c context.Context) (uuid.UUID, error) {
	s, ok := c.Value(entity.SessionContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, &errors.NoSessionFoundError{}
	}
	return s, nil
}
