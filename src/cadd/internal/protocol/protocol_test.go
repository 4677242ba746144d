package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
)

func TestDecodeClientMessage(t *testing.T) {
	t.Run("edit object", func(t *testing.T) {
		msg, err := DecodeClientMessage([]byte(`{"type":"EditObject","documentId":"doc","objectId":3,"definition":{"kind":"box","box":{"w":1,"h":2,"d":3}}}`))
		require.NoError(t, err)

		edit, ok := msg.(*EditObject)
		require.True(t, ok)
		assert.Equal(t, entity.DocumentID("doc"), edit.DocumentID)
		assert.Equal(t, entity.ObjectID(3), edit.ObjectID)
		assert.Equal(t, entity.ObjectKindBox, edit.Definition.Kind)
		assert.Equal(t, float32(2), edit.Definition.Box.H)
	})

	t.Run("request mesh without version", func(t *testing.T) {
		msg, err := DecodeClientMessage([]byte(`{"type":"RequestMesh","documentId":"doc","objectId":1}`))
		require.NoError(t, err)

		req := msg.(*RequestMesh)
		assert.Nil(t, req.ContentVersion)
		assert.Equal(t, entity.OperationTessellate, req.EffectiveOperation())
	})

	t.Run("request mesh with version and operation", func(t *testing.T) {
		msg, err := DecodeClientMessage([]byte(`{"type":"RequestMesh","documentId":"doc","objectId":1,"contentVersion":4,"operation":"export_step"}`))
		require.NoError(t, err)

		req := msg.(*RequestMesh)
		require.NotNil(t, req.ContentVersion)
		assert.Equal(t, entity.ContentVersion(4), *req.ContentVersion)
		assert.Equal(t, entity.OperationExportStep, req.EffectiveOperation())
	})

	t.Run("hello", func(t *testing.T) {
		msg, err := DecodeClientMessage([]byte(`{"type":"Hello","clientVersion":"0.3.1"}`))
		require.NoError(t, err)
		assert.Equal(t, "0.3.1", msg.(*Hello).ClientVersion)
	})
}

func TestDecodeClientMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `hello`},
		{name: "missing type", data: `{"documentId":"doc"}`},
		{name: "unknown type", data: `{"type":"Teleport"}`},
		{name: "missing document", data: `{"type":"SubscribeDocument"}`},
		{name: "wrong field type", data: `{"type":"EditObject","documentId":"doc","objectId":"three"}`},
		{name: "unknown operation", data: `{"type":"RequestMesh","documentId":"doc","objectId":1,"operation":"fillet"}`},
		{name: "zero version", data: `{"type":"RequestMesh","documentId":"doc","objectId":1,"contentVersion":0}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeClientMessage([]byte(tt.data))
			require.Error(t, err)
			var invalid *errors.InvalidMessageError
			assert.ErrorAs(t, err, &invalid)
			assert.Equal(t, errors.KindInvalidMessage, errors.KindOf(err))
		})
	}
}

func TestEncode(t *testing.T) {
	key := entity.MeshKey{DocumentID: "doc", ObjectID: 7, Version: 2, Operation: entity.OperationTessellate}
	mesh := &entity.Mesh{
		Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Normals:   [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Indices:   []uint32{0, 1, 2},
	}

	data, err := Encode(NewMeshUpdate(key, mesh))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "MeshUpdate", decoded["type"])
	assert.Equal(t, "doc", decoded["documentId"])
	assert.Equal(t, float64(7), decoded["objectId"])
	assert.Equal(t, float64(2), decoded["contentVersion"])
	assert.Contains(t, decoded, "mesh")

	data, err = Encode(NewRejected("Overloaded", "worker pool is overloaded", TypeRequestMesh))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Rejected","reason":"Overloaded","message":"worker pool is overloaded","requestType":"RequestMesh"}`, string(data))

	_, err = Encode(nil)
	assert.Error(t, err)
}

func TestServerMessageTypes(t *testing.T) {
	key := entity.MeshKey{DocumentID: "doc", ObjectID: 1, Version: 1}
	msgs := map[MessageType]ServerMessage{
		TypeHelloAck:       NewHelloAck("id"),
		TypeObjectCreated:  NewObjectCreated("doc", 1, 1),
		TypeContentChanged: NewContentChanged("doc", 1, 2),
		TypeObjectDeleted:  NewObjectDeleted("doc", 1),
		TypeMeshUpdate:     NewMeshUpdate(key, nil),
		TypeMeshFailed:     NewMeshFailed(key, "GeometryFailure", "boom"),
		TypeRejected:       NewRejected("InvalidEdit", "", ""),
	}

	for want, msg := range msgs {
		assert.Equal(t, want, msg.MessageType())
		data, err := Encode(msg)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"type":"`+string(want)+`"`)
	}
}
