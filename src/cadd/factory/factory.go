package factory

import (
	"context"
	"encoding/json"

	"github.com/gofrs/uuid"
	"github.com/uber/cad-server/src/cadd/entity"
)

// UUID is a user-defined factory for a random uuid.UUID.
func UUID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

// SessionContext is a factory for a context carrying the given session UUID.
func SessionContext(id uuid.UUID) context.Context {
	return context.WithValue(context.Background(), entity.SessionContextKey, id)
}

// BoxDefinition is a factory for a valid box definition with the given dimensions.
func BoxDefinition(w, h, d float32) entity.Definition {
	return entity.Definition{
		Kind: entity.ObjectKindBox,
		Box:  &entity.BoxParams{W: w, H: h, D: d},
	}
}

// CylinderDefinition is a factory for a valid cylinder definition.
func CylinderDefinition(r, h float32) entity.Definition {
	return entity.Definition{
		Kind:     entity.ObjectKindCylinder,
		Cylinder: &entity.CylinderParams{R: r, H: h},
	}
}

// Triangle is a factory for a single-triangle mesh.
func Triangle() *entity.Mesh {
	return &entity.Mesh{
		Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Normals:   [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Indices:   []uint32{0, 1, 2},
	}
}

// ClientMessage is a factory for the wire form of a client message of the given type.
func ClientMessage(messageType string, fields map[string]interface{}) []byte {
	out := map[string]interface{}{"type": messageType}
	for k, v := range fields {
		out[k] = v
	}
	data, _ := json.Marshal(out)
	return data
}
