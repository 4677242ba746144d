package entity

// Mesh is a triangle mesh with per-vertex normals.
type Mesh struct {
	Positions [][3]float32 `json:"positions"`
	Normals   [][3]float32 `json:"normals"`
	Indices   []uint32     `json:"indices"`
}

// errorEntrySize is the accounted size of a cached failure.
const errorEntrySize = 64

// SizeBytes returns the approximate memory held by the mesh buffers.
func (m *Mesh) SizeBytes() int64 {
	if m == nil {
		return 0
	}
	return int64(len(m.Positions))*12 + int64(len(m.Normals))*12 + int64(len(m.Indices))*4
}

// TriangleCount returns the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int {
	if m == nil {
		return 0
	}
	return len(m.Indices) / 3
}

// Append merges other into m, rebasing its indices.
func (m *Mesh) Append(other *Mesh) {
	if other == nil {
		return
	}
	base := uint32(len(m.Positions))
	m.Positions = append(m.Positions, other.Positions...)
	m.Normals = append(m.Normals, other.Normals...)
	for _, idx := range other.Indices {
		m.Indices = append(m.Indices, idx+base)
	}
}

// MeshResult is the terminal outcome of a computation: exactly one of Mesh or Err is set.
type MeshResult struct {
	Key  MeshKey
	Mesh *Mesh
	Err  error
}

// Failed reports whether the computation failed.
func (r MeshResult) Failed() bool {
	return r.Err != nil
}

// SizeBytes returns the accounted size of the result for cache budgeting.
func (r MeshResult) SizeBytes() int64 {
	if r.Err != nil {
		return errorEntrySize
	}
	return r.Mesh.SizeBytes()
}

// JobStatus is the lifecycle state of a scheduled computation.
type JobStatus int

const (
	// JobQueued indicates that the job is waiting for a worker slot.
	JobQueued JobStatus = iota
	// JobRunning indicates that a worker is executing the job.
	JobRunning
	// JobDone indicates that the job produced a mesh.
	JobDone
	// JobFailed indicates that the job produced an error.
	JobFailed
)

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobRunning:
		return "running"
	case JobDone:
		return "done"
	case JobFailed:
		return "failed"
	}
	return "unknown"
}
