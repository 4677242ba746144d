package errors

import (
	stderr "errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/uber/cad-server/src/cadd/entity"
)

// UUIDNotFoundError is a service domain error for not found.
type UUIDNotFoundError struct {
	UUID uuid.UUID
}

// Error is an implementation of the error interface.
func (n *UUIDNotFoundError) Error() string {
	return fmt.Sprintf("UUID %q not found", n.UUID)
}

// NotFoundUUID returns an UUID and true if UUIDNotFoundError is part of the
// error chain.
func NotFoundUUID(e error) (_ uuid.UUID, ok bool) {
	var nf *UUIDNotFoundError
	if !stderr.As(e, &nf) {
		return uuid.Nil, false
	}
	return nf.UUID, true
}

// NoSessionFoundError indicates that a session cannot be found within the context.
type NoSessionFoundError struct{}

// Error is an implementation of the error interface.
func (n *NoSessionFoundError) Error() string {
	return "No session found in context"
}

// DocumentNotFoundError indicates that a document is not open.
type DocumentNotFoundError struct {
	DocumentID entity.DocumentID
}

// Error is an implementation of the error interface.
func (n *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("document %q not found", n.DocumentID)
}

// ObjectNotFoundError indicates that an object does not exist or has been deleted.
type ObjectNotFoundError struct {
	DocumentID entity.DocumentID
	ObjectID   entity.ObjectID
}

// Error is an implementation of the error interface.
func (n *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object %d not found in document %q", n.ObjectID, n.DocumentID)
}

// VersionUnavailableError indicates that a requested content version is not known,
// either because it has not been produced yet or its definition is no longer retained.
type VersionUnavailableError struct {
	Key     entity.MeshKey
	Current entity.ContentVersion
}

// Error is an implementation of the error interface.
func (n *VersionUnavailableError) Error() string {
	return fmt.Sprintf("version %d of object %d in document %q is unavailable (current version %d)", n.Key.Version, n.Key.ObjectID, n.Key.DocumentID, n.Current)
}
