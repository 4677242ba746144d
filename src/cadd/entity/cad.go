// Package entity contains the domain types for the cad daemon.
package entity

import (
	"errors"
	"fmt"
	"math"
)

// DocumentID identifies an open document.
type DocumentID string

// ObjectID identifies a modeled object within a document. IDs are never reused within a document.
type ObjectID uint64

// ContentVersion is assigned to an object each time its definition changes.
// Versions start at 1 when the object is created and increase by exactly one per edit.
type ContentVersion uint64

// Operation is the kind of geometry computation requested for an object.
type Operation string

const (
	// OperationTessellate produces a render mesh for the object.
	OperationTessellate Operation = "tessellate"
	// OperationBooleanSubtract subtracts one solid from another.
	OperationBooleanSubtract Operation = "boolean_subtract"
	// OperationExportStep exports the object as STEP.
	OperationExportStep Operation = "export_step"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OperationTessellate, OperationBooleanSubtract, OperationExportStep:
		return true
	}
	return false
}

// MeshKey content-addresses a single computation result.
// Object IDs are scoped to a document, so the document is part of the key.
type MeshKey struct {
	DocumentID DocumentID     `json:"documentId"`
	ObjectID   ObjectID       `json:"objectId"`
	Version    ContentVersion `json:"contentVersion"`
	Operation  Operation      `json:"operation"`
}

// String implements fmt.Stringer.
func (k MeshKey) String() string {
	return fmt.Sprintf("%s/%d@%d:%s", k.DocumentID, k.ObjectID, k.Version, k.Operation)
}

// ObjectKind is the primitive shape of an object.
type ObjectKind string

const (
	// ObjectKindBox is an axis aligned box centered at the origin.
	ObjectKindBox ObjectKind = "box"
	// ObjectKindCylinder is a Y-axis cylinder centered at the origin.
	ObjectKindCylinder ObjectKind = "cylinder"
)

// Transform places an object in the document.
type Transform struct {
	Translation [3]float32 `json:"translation"`
	// Rotation is a quaternion [x, y, z, w].
	Rotation [4]float32 `json:"rotation"`
}

// IdentityTransform returns a transform that leaves geometry in place.
func IdentityTransform() Transform {
	return Transform{Rotation: [4]float32{0, 0, 0, 1}}
}

// BoxParams are the dimensions of a box.
type BoxParams struct {
	W float32 `json:"w"`
	H float32 `json:"h"`
	D float32 `json:"d"`
}

// CylinderParams are the dimensions of a cylinder.
type CylinderParams struct {
	R float32 `json:"r"`
	H float32 `json:"h"`
}

// Definition holds the parameters that define an object's geometry.
type Definition struct {
	Kind      ObjectKind      `json:"kind"`
	Box       *BoxParams      `json:"box,omitempty"`
	Cylinder  *CylinderParams `json:"cylinder,omitempty"`
	Transform *Transform      `json:"transform,omitempty"`
}

// Validate checks that the definition is structurally valid.
func (d Definition) Validate() error {
	switch d.Kind {
	case ObjectKindBox:
		if d.Box == nil {
			return errors.New("box definition is missing box parameters")
		}
		if d.Cylinder != nil {
			return errors.New("box definition must not carry cylinder parameters")
		}
		if err := positive("w", d.Box.W); err != nil {
			return err
		}
		if err := positive("h", d.Box.H); err != nil {
			return err
		}
		if err := positive("d", d.Box.D); err != nil {
			return err
		}
	case ObjectKindCylinder:
		if d.Cylinder == nil {
			return errors.New("cylinder definition is missing cylinder parameters")
		}
		if d.Box != nil {
			return errors.New("cylinder definition must not carry box parameters")
		}
		if err := positive("r", d.Cylinder.R); err != nil {
			return err
		}
		if err := positive("h", d.Cylinder.H); err != nil {
			return err
		}
	case "":
		return errors.New("missing object kind")
	default:
		return fmt.Errorf("unknown object kind %q", d.Kind)
	}

	if d.Transform != nil {
		for _, v := range d.Transform.Translation {
			if !finite(v) {
				return errors.New("translation must be finite")
			}
		}
		var norm float64
		for _, v := range d.Transform.Rotation {
			if !finite(v) {
				return errors.New("rotation must be finite")
			}
			norm += float64(v) * float64(v)
		}
		if norm < 1e-12 {
			return errors.New("rotation quaternion must be non-zero")
		}
	}
	return nil
}

// EffectiveTransform returns the transform, or the identity when none is set.
func (d Definition) EffectiveTransform() Transform {
	if d.Transform == nil {
		return IdentityTransform()
	}
	return *d.Transform
}

// Clone returns a deep copy of the definition.
func (d Definition) Clone() Definition {
	out := Definition{Kind: d.Kind}
	if d.Box != nil {
		b := *d.Box
		out.Box = &b
	}
	if d.Cylinder != nil {
		c := *d.Cylinder
		out.Cylinder = &c
	}
	if d.Transform != nil {
		t := *d.Transform
		out.Transform = &t
	}
	return out
}

func positive(name string, v float32) error {
	if !finite(v) || v <= 0 {
		return fmt.Errorf("%s must be a positive finite number, got %v", name, v)
	}
	return nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Snapshot is a read-only copy of an object's definition at the version named by Key.
type Snapshot struct {
	Key        MeshKey
	Definition Definition
}

// ObjectVersion describes the current state of an object in a document.
type ObjectVersion struct {
	ObjectID   ObjectID       `json:"objectId"`
	Version    ContentVersion `json:"contentVersion"`
	Definition Definition     `json:"definition"`
}

// ChangeKind describes what happened to an object.
type ChangeKind int

const (
	// ChangeCreated is emitted when an object is added to a document.
	ChangeCreated ChangeKind = iota
	// ChangeEdited is emitted when an object's definition changes.
	ChangeEdited
	// ChangeDeleted is emitted when an object is removed.
	ChangeDeleted
)

// String implements fmt.Stringer.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeEdited:
		return "edited"
	case ChangeDeleted:
		return "deleted"
	}
	return "unknown"
}

// ChangeEvent is emitted by the model store after a mutation has been applied.
type ChangeEvent struct {
	DocumentID DocumentID
	ObjectID   ObjectID
	Version    ContentVersion
	Kind       ChangeKind
}
