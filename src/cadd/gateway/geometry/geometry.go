// Package geometry is the gateway to the geometry kernel that turns object definitions into meshes.
package geometry

import (
	"context"
	"fmt"

	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKey = "geometry"

	_defaultCylinderSegments = 32
	_minCylinderSegments     = 3
)

//go:generate mockgen -source=geometry.go -destination=geometrymock/geometry_mock.go -package=geometrymock

// Module provides the bundled kernel to an Fx application.
var Module = fx.Provide(New)

// Kernel computes an operation over a read-only snapshot of an object.
// Implementations may not honour cancellation promptly; callers must not assume preemption.
type Kernel interface {
	Compute(ctx context.Context, op entity.Operation, snapshot entity.Snapshot) (*entity.Mesh, error)
}

// KernelFunc adapts a function to the Kernel interface.
type KernelFunc func(ctx context.Context, op entity.Operation, snapshot entity.Snapshot) (*entity.Mesh, error)

// Compute calls f.
func (f KernelFunc) Compute(ctx context.Context, op entity.Operation, snapshot entity.Snapshot) (*entity.Mesh, error) {
	return f(ctx, op, snapshot)
}

// Params are inbound parameters to initialize the kernel.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
}

// Config tunes the bundled tessellator.
type Config struct {
	CylinderSegments int `yaml:"cylinderSegments"`
}

type kernel struct {
	segments int
	logger   *zap.SugaredLogger
}

// New creates the bundled kernel, which tessellates primitive shapes.
func New(p Params) (Kernel, error) {
	cfg := Config{CylinderSegments: _defaultCylinderSegments}
	if v := p.Config.Get(_configKey); v.HasValue() {
		if err := v.Populate(&cfg); err != nil {
			return nil, fmt.Errorf("getting config field %q: %w", _configKey, err)
		}
	}
	if cfg.CylinderSegments < _minCylinderSegments {
		return nil, fmt.Errorf("config field %q: cylinderSegments must be at least %d, got %d", _configKey, _minCylinderSegments, cfg.CylinderSegments)
	}

	return &kernel{
		segments: cfg.CylinderSegments,
		logger:   p.Logger.With("component", "geometry-kernel"),
	}, nil
}

func (k *kernel) Compute(ctx context.Context, op entity.Operation, snapshot entity.Snapshot) (*entity.Mesh, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch op {
	case entity.OperationTessellate:
	case entity.OperationBooleanSubtract, entity.OperationExportStep:
		return nil, &errors.GeometryFailureError{Key: snapshot.Key, Err: errors.ErrNotImplemented}
	default:
		return nil, &errors.GeometryFailureError{Key: snapshot.Key, Err: fmt.Errorf("unknown operation %q", op)}
	}

	def := snapshot.Definition
	var mesh *entity.Mesh
	switch def.Kind {
	case entity.ObjectKindBox:
		if def.Box == nil {
			return nil, &errors.GeometryFailureError{Key: snapshot.Key, Err: errors.New("box parameters missing")}
		}
		mesh = tessellateBox(*def.Box)
	case entity.ObjectKindCylinder:
		if def.Cylinder == nil {
			return nil, &errors.GeometryFailureError{Key: snapshot.Key, Err: errors.New("cylinder parameters missing")}
		}
		mesh = tessellateCylinder(*def.Cylinder, k.segments)
	default:
		return nil, &errors.GeometryFailureError{Key: snapshot.Key, Err: fmt.Errorf("unsupported object kind %q", def.Kind)}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	applyTransform(mesh, def.EffectiveTransform())
	k.logger.Debugw("tessellated object", "key", snapshot.Key.String(), "triangles", mesh.TriangleCount())
	return mesh, nil
}
