package geometry

import (
	"math"

	"github.com/uber/cad-server/src/cadd/entity"
)

type vec3 = [3]float32

// tessellateBox builds an axis aligned box centered at the origin with flat-shaded faces.
func tessellateBox(p entity.BoxParams) *entity.Mesh {
	hx, hy, hz := p.W/2, p.H/2, p.D/2

	faces := []struct {
		normal  vec3
		corners [4]vec3
	}{
		{vec3{1, 0, 0}, [4]vec3{{hx, -hy, -hz}, {hx, hy, -hz}, {hx, hy, hz}, {hx, -hy, hz}}},
		{vec3{-1, 0, 0}, [4]vec3{{-hx, -hy, hz}, {-hx, hy, hz}, {-hx, hy, -hz}, {-hx, -hy, -hz}}},
		{vec3{0, 1, 0}, [4]vec3{{-hx, hy, -hz}, {-hx, hy, hz}, {hx, hy, hz}, {hx, hy, -hz}}},
		{vec3{0, -1, 0}, [4]vec3{{-hx, -hy, hz}, {-hx, -hy, -hz}, {hx, -hy, -hz}, {hx, -hy, hz}}},
		{vec3{0, 0, 1}, [4]vec3{{-hx, -hy, hz}, {hx, -hy, hz}, {hx, hy, hz}, {-hx, hy, hz}}},
		{vec3{0, 0, -1}, [4]vec3{{hx, -hy, -hz}, {-hx, -hy, -hz}, {-hx, hy, -hz}, {hx, hy, -hz}}},
	}

	mesh := &entity.Mesh{
		Positions: make([]vec3, 0, 24),
		Normals:   make([]vec3, 0, 24),
		Indices:   make([]uint32, 0, 36),
	}
	for _, f := range faces {
		base := uint32(len(mesh.Positions))
		for _, c := range f.corners {
			mesh.Positions = append(mesh.Positions, c)
			mesh.Normals = append(mesh.Normals, f.normal)
		}
		mesh.Indices = append(mesh.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return mesh
}

// tessellateCylinder builds a Y-axis cylinder centered at the origin from a smooth side and two flat caps.
func tessellateCylinder(p entity.CylinderParams, segments int) *entity.Mesh {
	hy := p.H / 2
	mesh := &entity.Mesh{}

	// Side: a ring of vertex pairs, the seam vertex duplicated so that indices stay contiguous.
	for i := 0; i <= segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		cos, sin := float32(math.Cos(theta)), float32(math.Sin(theta))
		n := vec3{cos, 0, sin}
		mesh.Positions = append(mesh.Positions, vec3{p.R * cos, -hy, p.R * sin}, vec3{p.R * cos, hy, p.R * sin})
		mesh.Normals = append(mesh.Normals, n, n)
	}
	for i := 0; i < segments; i++ {
		b := uint32(i * 2)
		mesh.Indices = append(mesh.Indices, b, b+1, b+3, b, b+3, b+2)
	}

	mesh.Append(disc(p.R, hy, segments, true))
	mesh.Append(disc(p.R, -hy, segments, false))
	return mesh
}

func disc(r, y float32, segments int, up bool) *entity.Mesh {
	normal := vec3{0, -1, 0}
	if up {
		normal = vec3{0, 1, 0}
	}

	mesh := &entity.Mesh{
		Positions: []vec3{{0, y, 0}},
		Normals:   []vec3{normal},
	}
	for i := 0; i <= segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		mesh.Positions = append(mesh.Positions, vec3{r * float32(math.Cos(theta)), y, r * float32(math.Sin(theta))})
		mesh.Normals = append(mesh.Normals, normal)
	}
	for i := 1; i <= segments; i++ {
		a, b := uint32(i), uint32(i+1)
		if up {
			mesh.Indices = append(mesh.Indices, 0, b, a)
		} else {
			mesh.Indices = append(mesh.Indices, 0, a, b)
		}
	}
	return mesh
}

// applyTransform rotates positions and normals by the normalized quaternion, then translates positions.
func applyTransform(mesh *entity.Mesh, t entity.Transform) {
	q := t.Rotation
	norm := float32(math.Sqrt(float64(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])))
	if norm == 0 {
		norm = 1
		q = [4]float32{0, 0, 0, 1}
	}
	for i := range q {
		q[i] /= norm
	}
	identity := q == [4]float32{0, 0, 0, 1}

	for i, p := range mesh.Positions {
		if !identity {
			p = rotate(q, p)
		}
		mesh.Positions[i] = vec3{p[0] + t.Translation[0], p[1] + t.Translation[1], p[2] + t.Translation[2]}
	}
	if identity {
		return
	}
	for i, n := range mesh.Normals {
		mesh.Normals[i] = rotate(q, n)
	}
}

// rotate computes v' = v + 2w(u×v) + 2u×(u×v) for the unit quaternion (u, w).
func rotate(q [4]float32, v vec3) vec3 {
	u := vec3{q[0], q[1], q[2]}
	w := q[3]
	uv := cross(u, v)
	uuv := cross(u, uv)
	return vec3{
		v[0] + 2*(w*uv[0]+uuv[0]),
		v[1] + 2*(w*uv[1]+uuv[1]),
		v[2] + 2*(w*uv[2]+uuv[2]),
	}
}

func cross(a, b vec3) vec3 {
	return vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
