package store

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Interleaved vertex layout: position (3 floats) then color (3 floats).
const (
	VertexStride   = 6
	PositionOffset = 0
	ColorOffset    = 3
)

// ChunkKey is a chunk's grid coordinate. The chunk's world origin is
// (CX*chunkSize, CZ*chunkSize).
type ChunkKey struct {
	CX int
	CZ int
}

func KeyLess(a, b ChunkKey) bool {
	if a.CX != b.CX {
		return a.CX < b.CX
	}
	return a.CZ < b.CZ
}

type Chunk struct {
	Key    ChunkKey
	Center mgl32.Vec3
	// Vertices is the interleaved mesh, VertexStride floats per vertex.
	// Consumers must treat it as read-only.
	Vertices []float32

	hashed bool
	hash   [32]byte
}

func (c *Chunk) VertexCount() int {
	return len(c.Vertices) / VertexStride
}

// Digest hashes the vertex buffer. Chunks never change after generation, so
// the value is computed once.
func (c *Chunk) Digest() [32]byte {
	if !c.hashed {
		h := sha256.New()
		var tmp [4]byte
		for _, v := range c.Vertices {
			binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.hashed = true
	}
	return c.hash
}

// Sampler is the terrain synthesis the store generates chunks from.
type Sampler interface {
	Height(x, z float64) float64
	Color(x, y, z float64) [3]float32
}

type ChunkStore struct {
	Gen       Sampler
	ChunkSize int
	Chunks    map[ChunkKey]*Chunk
}

func NewChunkStore(gen Sampler, chunkSize int) *ChunkStore {
	if chunkSize <= 0 {
		chunkSize = 16
	}
	return &ChunkStore{
		Gen:       gen,
		ChunkSize: chunkSize,
		Chunks:    map[ChunkKey]*Chunk{},
	}
}
