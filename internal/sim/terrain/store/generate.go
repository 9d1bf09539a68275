package store

import "github.com/go-gl/mathgl/mgl32"

// GenerateChunk builds the mesh for the chunk at k. For every unit cell
// (i, j) in [x, x+size) x [z, z+size), where (x, z) is the chunk origin, it
// emits two triangles over the cell shifted back by half a chunk:
//
//	TL ---- TR
//	|     /  |
//	|   /    |
//	BL ---- BR
//
// first (TL, BL, TR), then (TR, BR, BL). The center height is sampled again
// at (x, z) and is not taken from the mesh.
func (s *ChunkStore) GenerateChunk(k ChunkKey) *Chunk {
	size := s.ChunkSize
	x := k.CX * size
	z := k.CZ * size
	halfW := float64(size) / 2

	verts := make([]float32, 0, 6*size*size*VertexStride)
	emit := func(px, py, pz float64) {
		c := s.Gen.Color(px, py, pz)
		verts = append(verts, float32(px), float32(py), float32(pz), c[0], c[1], c[2])
	}

	for i := x; i < x+size; i++ {
		for j := z; j < z+size; j++ {
			left := float64(i) - halfW
			right := left + 1
			top := float64(j) - halfW
			bottom := top + 1

			tl := s.Gen.Height(left, top)
			tr := s.Gen.Height(right, top)
			bl := s.Gen.Height(left, bottom)
			br := s.Gen.Height(right, bottom)

			emit(left, tl, top)
			emit(left, bl, bottom)
			emit(right, tr, top)

			emit(right, tr, top)
			emit(right, br, bottom)
			emit(left, bl, bottom)
		}
	}

	return &Chunk{
		Key:      k,
		Center:   mgl32.Vec3{float32(x), float32(s.Gen.Height(float64(x), float64(z))), float32(z)},
		Vertices: verts,
	}
}
