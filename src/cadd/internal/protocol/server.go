package protocol

import "github.com/uber/cad-server/src/cadd/entity"

// HelloAck confirms the session.
type HelloAck struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

// ObjectCreated answers CreateObject.
type ObjectCreated struct {
	Type           MessageType           `json:"type"`
	DocumentID     entity.DocumentID     `json:"documentId"`
	ObjectID       entity.ObjectID       `json:"objectId"`
	ContentVersion entity.ContentVersion `json:"contentVersion"`
}

// ContentChanged is sent as soon as an object's definition changes, independent of mesh availability.
type ContentChanged struct {
	Type           MessageType           `json:"type"`
	DocumentID     entity.DocumentID     `json:"documentId"`
	ObjectID       entity.ObjectID       `json:"objectId"`
	ContentVersion entity.ContentVersion `json:"contentVersion"`
}

// ObjectDeleted is sent when an object is removed from a document.
type ObjectDeleted struct {
	Type       MessageType       `json:"type"`
	DocumentID entity.DocumentID `json:"documentId"`
	ObjectID   entity.ObjectID   `json:"objectId"`
}

// MeshUpdate delivers a computed mesh.
type MeshUpdate struct {
	Type           MessageType           `json:"type"`
	DocumentID     entity.DocumentID     `json:"documentId"`
	ObjectID       entity.ObjectID       `json:"objectId"`
	ContentVersion entity.ContentVersion `json:"contentVersion"`
	Operation      entity.Operation      `json:"operation"`
	Mesh           *entity.Mesh          `json:"mesh"`
}

// MeshFailed reports a computation that ended in an error.
type MeshFailed struct {
	Type           MessageType           `json:"type"`
	DocumentID     entity.DocumentID     `json:"documentId"`
	ObjectID       entity.ObjectID       `json:"objectId"`
	ContentVersion entity.ContentVersion `json:"contentVersion"`
	Operation      entity.Operation      `json:"operation"`
	ErrorKind      string                `json:"errorKind"`
	Message        string                `json:"message,omitempty"`
}

// Rejected reports that an inbound message was not accepted.
type Rejected struct {
	Type        MessageType `json:"type"`
	Reason      string      `json:"reason"`
	Message     string      `json:"message,omitempty"`
	RequestType MessageType `json:"requestType,omitempty"`
}

func (m *HelloAck) MessageType() MessageType       { return TypeHelloAck }
func (m *ObjectCreated) MessageType() MessageType  { return TypeObjectCreated }
func (m *ContentChanged) MessageType() MessageType { return TypeContentChanged }
func (m *ObjectDeleted) MessageType() MessageType  { return TypeObjectDeleted }
func (m *MeshUpdate) MessageType() MessageType     { return TypeMeshUpdate }
func (m *MeshFailed) MessageType() MessageType     { return TypeMeshFailed }
func (m *Rejected) MessageType() MessageType       { return TypeRejected }

// NewHelloAck builds a HelloAck message.
func NewHelloAck(sessionID string) *HelloAck {
	return &HelloAck{Type: TypeHelloAck, SessionID: sessionID}
}

// NewObjectCreated builds an ObjectCreated message.
func NewObjectCreated(doc entity.DocumentID, obj entity.ObjectID, v entity.ContentVersion) *ObjectCreated {
	return &ObjectCreated{Type: TypeObjectCreated, DocumentID: doc, ObjectID: obj, ContentVersion: v}
}

// NewContentChanged builds a ContentChanged message.
func NewContentChanged(doc entity.DocumentID, obj entity.ObjectID, v entity.ContentVersion) *ContentChanged {
	return &ContentChanged{Type: TypeContentChanged, DocumentID: doc, ObjectID: obj, ContentVersion: v}
}

// NewObjectDeleted builds an ObjectDeleted message.
func NewObjectDeleted(doc entity.DocumentID, obj entity.ObjectID) *ObjectDeleted {
	return &ObjectDeleted{Type: TypeObjectDeleted, DocumentID: doc, ObjectID: obj}
}

// NewMeshUpdate builds a MeshUpdate message for key.
func NewMeshUpdate(key entity.MeshKey, mesh *entity.Mesh) *MeshUpdate {
	return &MeshUpdate{
		Type:           TypeMeshUpdate,
		DocumentID:     key.DocumentID,
		ObjectID:       key.ObjectID,
		ContentVersion: key.Version,
		Operation:      key.Operation,
		Mesh:           mesh,
	}
}

// NewMeshFailed builds a MeshFailed message for key.
func NewMeshFailed(key entity.MeshKey, kind string, message string) *MeshFailed {
	return &MeshFailed{
		Type:           TypeMeshFailed,
		DocumentID:     key.DocumentID,
		ObjectID:       key.ObjectID,
		ContentVersion: key.Version,
		Operation:      key.Operation,
		ErrorKind:      kind,
		Message:        message,
	}
}

// NewRejected builds a Rejected message.
func NewRejected(reason string, message string, requestType MessageType) *Rejected {
	return &Rejected{Type: TypeRejected, Reason: reason, Message: message, RequestType: requestType}
}
