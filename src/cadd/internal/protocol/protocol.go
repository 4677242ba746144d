// Package protocol defines the messages exchanged with clients over the session transport.
// Every message is a JSON object tagged by its "type" field.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
)

// MessageType tags each message on the wire.
type MessageType string

// Client to server messages.
const (
	TypeHello               MessageType = "Hello"
	TypeCreateObject        MessageType = "CreateObject"
	TypeEditObject          MessageType = "EditObject"
	TypeDeleteObject        MessageType = "DeleteObject"
	TypeSubscribeDocument   MessageType = "SubscribeDocument"
	TypeUnsubscribeDocument MessageType = "UnsubscribeDocument"
	TypeRequestMesh         MessageType = "RequestMesh"
)

// Server to client messages.
const (
	TypeHelloAck       MessageType = "HelloAck"
	TypeObjectCreated  MessageType = "ObjectCreated"
	TypeContentChanged MessageType = "ContentChanged"
	TypeObjectDeleted  MessageType = "ObjectDeleted"
	TypeMeshUpdate     MessageType = "MeshUpdate"
	TypeMeshFailed     MessageType = "MeshFailed"
	TypeRejected       MessageType = "Rejected"
)

// ClientMessage is implemented by every message a client may send.
type ClientMessage interface {
	MessageType() MessageType
	validate() error
}

// ServerMessage is implemented by every message the server may send.
type ServerMessage interface {
	MessageType() MessageType
}

// Hello announces the client.
type Hello struct {
	Type          MessageType `json:"type"`
	ClientVersion string      `json:"clientVersion"`
}

// CreateObject adds a new object to a document.
type CreateObject struct {
	Type       MessageType       `json:"type"`
	DocumentID entity.DocumentID `json:"documentId"`
	Definition entity.Definition `json:"definition"`
}

// EditObject replaces the definition of an existing object.
type EditObject struct {
	Type       MessageType       `json:"type"`
	DocumentID entity.DocumentID `json:"documentId"`
	ObjectID   entity.ObjectID   `json:"objectId"`
	Definition entity.Definition `json:"definition"`
}

// DeleteObject removes an object from a document.
type DeleteObject struct {
	Type       MessageType       `json:"type"`
	DocumentID entity.DocumentID `json:"documentId"`
	ObjectID   entity.ObjectID   `json:"objectId"`
}

// SubscribeDocument registers the session for notifications about a document.
type SubscribeDocument struct {
	Type       MessageType       `json:"type"`
	DocumentID entity.DocumentID `json:"documentId"`
}

// UnsubscribeDocument withdraws a document subscription.
type UnsubscribeDocument struct {
	Type       MessageType       `json:"type"`
	DocumentID entity.DocumentID `json:"documentId"`
}

// RequestMesh asks for the result of an operation on an object.
// A nil ContentVersion means the latest known version; an empty Operation means tessellate.
type RequestMesh struct {
	Type           MessageType            `json:"type"`
	DocumentID     entity.DocumentID      `json:"documentId"`
	ObjectID       entity.ObjectID        `json:"objectId"`
	ContentVersion *entity.ContentVersion `json:"contentVersion,omitempty"`
	Operation      entity.Operation       `json:"operation,omitempty"`
}

// EffectiveOperation returns the requested operation, defaulting to tessellate.
func (m *RequestMesh) EffectiveOperation() entity.Operation {
	if m.Operation == "" {
		return entity.OperationTessellate
	}
	return m.Operation
}

func (m *Hello) MessageType() MessageType               { return TypeHello }
func (m *CreateObject) MessageType() MessageType        { return TypeCreateObject }
func (m *EditObject) MessageType() MessageType          { return TypeEditObject }
func (m *DeleteObject) MessageType() MessageType        { return TypeDeleteObject }
func (m *SubscribeDocument) MessageType() MessageType   { return TypeSubscribeDocument }
func (m *UnsubscribeDocument) MessageType() MessageType { return TypeUnsubscribeDocument }
func (m *RequestMesh) MessageType() MessageType         { return TypeRequestMesh }

func (m *Hello) validate() error               { return nil }
func (m *CreateObject) validate() error        { return requireDocument(m.DocumentID) }
func (m *EditObject) validate() error          { return requireDocument(m.DocumentID) }
func (m *DeleteObject) validate() error        { return requireDocument(m.DocumentID) }
func (m *SubscribeDocument) validate() error   { return requireDocument(m.DocumentID) }
func (m *UnsubscribeDocument) validate() error { return requireDocument(m.DocumentID) }

func (m *RequestMesh) validate() error {
	if err := requireDocument(m.DocumentID); err != nil {
		return err
	}
	if m.Operation != "" && !m.Operation.Valid() {
		return &errors.InvalidMessageError{Reason: fmt.Sprintf("unknown operation %q", m.Operation)}
	}
	if m.ContentVersion != nil && *m.ContentVersion == 0 {
		return &errors.InvalidMessageError{Reason: "contentVersion must be positive"}
	}
	return nil
}

func requireDocument(doc entity.DocumentID) error {
	if doc == "" {
		return &errors.InvalidMessageError{Reason: "missing documentId"}
	}
	return nil
}

// DecodeClientMessage parses and validates a single inbound message.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var header struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, &errors.InvalidMessageError{Reason: "malformed json", Err: err}
	}

	var msg ClientMessage
	switch header.Type {
	case TypeHello:
		msg = &Hello{}
	case TypeCreateObject:
		msg = &CreateObject{}
	case TypeEditObject:
		msg = &EditObject{}
	case TypeDeleteObject:
		msg = &DeleteObject{}
	case TypeSubscribeDocument:
		msg = &SubscribeDocument{}
	case TypeUnsubscribeDocument:
		msg = &UnsubscribeDocument{}
	case TypeRequestMesh:
		msg = &RequestMesh{}
	case "":
		return nil, &errors.InvalidMessageError{Reason: "missing type"}
	default:
		return nil, &errors.InvalidMessageError{Reason: fmt.Sprintf("unknown type %q", header.Type)}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &errors.InvalidMessageError{Reason: fmt.Sprintf("decoding %s", header.Type), Err: err}
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode serializes a server message.
func Encode(msg ServerMessage) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("cannot encode nil message")
	}
	return json.Marshal(msg)
}
