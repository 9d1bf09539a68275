// Package stream keeps the chunk store in step with a moving observer.
//
// A Streamer is single-writer: one goroutine owns it and runs passes one at a
// time. Each pass rounds the observer to its center chunk, enumerates the
// square of candidate chunks within render distance, drops the ones outside
// the view frustum, generates what is missing and evicts everything else.
package stream

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"terrainstream.ai/internal/sim/logic/mathx"
	"terrainstream.ai/internal/sim/terrain/frustum"
	"terrainstream.ai/internal/sim/terrain/store"
)

type Config struct {
	ChunkSize      int
	RenderDistance int
}

func DefaultConfig() Config {
	return Config{ChunkSize: 16, RenderDistance: 7}
}

// View is the per-pass input.
type View struct {
	Position mgl32.Vec3
	// Combined is projection*view*model, column-major.
	Combined mgl32.Mat4
	// RenderDistance lowers the configured distance for this pass. Zero or
	// negative means the configured value; larger values are clamped to it.
	RenderDistance int
}

type PassResult struct {
	Center         store.ChunkKey
	RenderDistance int
	Candidates     int
	Culled         int
	Retained       int
	Generated      int
	Evicted        int
	Loaded         int
	Elapsed        time.Duration

	// Added holds chunks generated by this pass that are still loaded after it.
	Added []store.ChunkKey
	// Removed holds chunks that were loaded before this pass and evicted by it.
	Removed []store.ChunkKey
}

type Streamer struct {
	cfg        Config
	store      *store.ChunkStore
	cullRadius float32
	passes     uint64
}

func New(cfg Config, gen store.Sampler) (*Streamer, error) {
	if gen == nil {
		return nil, fmt.Errorf("stream: nil sampler")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("stream: chunk size must be > 0, got %d", cfg.ChunkSize)
	}
	if cfg.RenderDistance < 0 {
		return nil, fmt.Errorf("stream: render distance must be >= 0, got %d", cfg.RenderDistance)
	}
	return &Streamer{
		cfg:   cfg,
		store: store.NewChunkStore(gen, cfg.ChunkSize),
		// Half the footprint diagonal stands in for the chunk's bounding radius.
		cullRadius: float32(math.Sqrt2*float64(cfg.ChunkSize)) / 2,
	}, nil
}

func (s *Streamer) Config() Config { return s.cfg }

func (s *Streamer) Passes() uint64 { return s.passes }

// Chunks returns a read-only view of the loaded chunks, valid until the next
// pass.
func (s *Streamer) Chunks() store.View { return s.store.View() }

func (s *Streamer) Len() int { return s.store.Len() }

func (s *Streamer) Chunk(k store.ChunkKey) (*store.Chunk, bool) { return s.store.Get(k) }

// CenterKey returns the chunk the observer at pos occupies.
func (s *Streamer) CenterKey(pos mgl32.Vec3) store.ChunkKey {
	size := s.cfg.ChunkSize
	cx := mathx.RoundToMultiple(mathx.TruncInt(pos[0]), size)
	cz := mathx.RoundToMultiple(mathx.TruncInt(pos[2]), size)
	return store.ChunkKey{CX: cx / size, CZ: cz / size}
}

func (s *Streamer) renderDistance(requested int) int {
	if requested <= 0 || requested > s.cfg.RenderDistance {
		return s.cfg.RenderDistance
	}
	return requested
}

// Pass runs one streaming pass to completion.
func (s *Streamer) Pass(v View) PassResult {
	start := time.Now()
	s.passes++

	size := s.cfg.ChunkSize
	rd := s.renderDistance(v.RenderDistance)
	center := s.CenterKey(v.Position)

	before := make(map[store.ChunkKey]struct{}, s.store.Len())
	for k := range s.store.Chunks {
		before[k] = struct{}{}
	}

	res := PassResult{Center: center, RenderDistance: rd}
	var generated []store.ChunkKey
	if _, gen := s.store.GetOrGenChunk(center); gen {
		generated = append(generated, center)
	}

	planes := frustum.Extract(v.Combined, true)
	retained := make(map[store.ChunkKey]struct{}, (2*rd+1)*(2*rd+1))
	var order []store.ChunkKey
	for dx := -rd; dx <= rd; dx++ {
		for dz := -rd; dz <= rd; dz++ {
			k := store.ChunkKey{CX: center.CX + dx, CZ: center.CZ + dz}
			res.Candidates++
			x := float64(k.CX * size)
			z := float64(k.CZ * size)
			c := mgl32.Vec3{float32(x), float32(s.store.Gen.Height(x, z)), float32(z)}
			if planes.Outside(c, s.cullRadius) >= 0 {
				res.Culled++
				continue
			}
			retained[k] = struct{}{}
			order = append(order, k)
		}
	}
	res.Retained = len(retained)

	for _, k := range order {
		if _, gen := s.store.GetOrGenChunk(k); gen {
			generated = append(generated, k)
		}
	}
	evicted := s.store.Retain(retained)

	res.Generated = len(generated)
	res.Evicted = len(evicted)
	for _, k := range generated {
		if s.store.Has(k) {
			res.Added = append(res.Added, k)
		}
	}
	for _, k := range evicted {
		if _, ok := before[k]; ok {
			res.Removed = append(res.Removed, k)
		}
	}
	store.SortKeys(res.Added)
	res.Loaded = s.store.Len()
	res.Elapsed = time.Since(start)
	return res
}
