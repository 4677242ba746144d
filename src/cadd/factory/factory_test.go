package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/uber/cad-server/src/cadd/mapper"
)

func TestUUID(t *testing.T) {
	assert.NotEqual(t, UUID(), UUID())
}

func TestSessionContext(t *testing.T) {
	id := UUID()
	got, err := mapper.ContextToSessionUUID(SessionContext(id))
	assert.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDefinitions(t *testing.T) {
	assert.NoError(t, BoxDefinition(1, 2, 3).Validate())
	assert.NoError(t, CylinderDefinition(1, 2).Validate())
}

func TestTriangle(t *testing.T) {
	assert.Equal(t, 1, Triangle().TriangleCount())
}

func TestClientMessage(t *testing.T) {
	assert.JSONEq(t, `{"type":"SubscribeDocument","documentId":"doc"}`, string(ClientMessage("SubscribeDocument", map[string]interface{}{"documentId": "doc"})))
}
