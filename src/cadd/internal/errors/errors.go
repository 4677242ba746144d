package errors

import (
	stderr "errors"
	"fmt"
	"time"

	"github.com/uber/cad-server/src/cadd/entity"
)

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

var (
	// ErrOverloaded reports that the worker pool queue is at capacity.
	ErrOverloaded = New("worker pool is overloaded")
	// ErrDisconnected reports that the target session is no longer connected.
	ErrDisconnected = New("session disconnected")
	// ErrStopped reports that the worker pool has been shut down.
	ErrStopped = New("worker pool is stopped")
	// ErrNotImplemented reports that the geometry kernel does not support an operation.
	ErrNotImplemented = New("operation not implemented")
)

// Kind is the wire name of an error class, used as errorKind and Rejected reason.
type Kind string

const (
	KindInvalidEdit        Kind = "InvalidEdit"
	KindGeometryFailure    Kind = "GeometryFailure"
	KindWorkerTimeout      Kind = "WorkerTimeout"
	KindOverloaded         Kind = "Overloaded"
	KindDisconnected       Kind = "Disconnected"
	KindNotFound           Kind = "NotFound"
	KindVersionUnavailable Kind = "VersionUnavailable"
	KindInvalidMessage     Kind = "InvalidMessage"
	KindInternal           Kind = "Internal"
)

// KindOf classifies err for reporting to clients.
func KindOf(err error) Kind {
	var (
		invalidEdit *InvalidEditError
		geometry    *GeometryFailureError
		timeout     *WorkerTimeoutError
		docNotFound *DocumentNotFoundError
		objNotFound *ObjectNotFoundError
		version     *VersionUnavailableError
		invalidMsg  *InvalidMessageError
	)

	switch {
	case err == nil:
		return ""
	case stderr.As(err, &invalidEdit):
		return KindInvalidEdit
	case stderr.As(err, &timeout):
		return KindWorkerTimeout
	case stderr.As(err, &geometry):
		return KindGeometryFailure
	case stderr.Is(err, ErrOverloaded):
		return KindOverloaded
	case stderr.Is(err, ErrDisconnected):
		return KindDisconnected
	case stderr.As(err, &version):
		return KindVersionUnavailable
	case stderr.As(err, &docNotFound), stderr.As(err, &objNotFound):
		return KindNotFound
	case stderr.As(err, &invalidMsg):
		return KindInvalidMessage
	}
	return KindInternal
}

// IsCacheable reports whether a computation outcome may be stored in the mesh cache.
// Successful results and geometry failures are terminal for their key; timeouts,
// overload and shutdown reflect transient conditions and are never cached.
func IsCacheable(err error) bool {
	if err == nil {
		return true
	}
	return KindOf(err) == KindGeometryFailure
}

// InvalidEditError indicates that an edit was rejected before being applied.
type InvalidEditError struct {
	DocumentID entity.DocumentID
	ObjectID   entity.ObjectID
	Reason     string
}

// Error is an implementation of the error interface.
func (e *InvalidEditError) Error() string {
	return fmt.Sprintf("invalid edit of object %d in document %q: %s", e.ObjectID, e.DocumentID, e.Reason)
}

// GeometryFailureError indicates that the geometry kernel rejected a structurally valid input.
type GeometryFailureError struct {
	Key entity.MeshKey
	Err error
}

// Error is an implementation of the error interface.
func (e *GeometryFailureError) Error() string {
	return fmt.Sprintf("geometry failure for %s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying kernel error.
func (e *GeometryFailureError) Unwrap() error {
	return e.Err
}

// WorkerTimeoutError indicates that a computation made no progress within its deadline.
type WorkerTimeoutError struct {
	Key     entity.MeshKey
	Timeout time.Duration
}

// Error is an implementation of the error interface.
func (e *WorkerTimeoutError) Error() string {
	return fmt.Sprintf("computation of %s timed out after %s", e.Key, e.Timeout)
}

// InvalidMessageError indicates that an inbound message could not be decoded or validated.
type InvalidMessageError struct {
	Reason string
	Err    error
}

// Error is an implementation of the error interface.
func (e *InvalidMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid message: %s", e.Reason)
}

// Unwrap returns the underlying decode error, if any.
func (e *InvalidMessageError) Unwrap() error {
	return e.Err
}
