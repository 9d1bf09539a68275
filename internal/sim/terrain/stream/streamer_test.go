package stream

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"terrainstream.ai/internal/sim/terrain/biome"
	"terrainstream.ai/internal/sim/terrain/gen"
	"terrainstream.ai/internal/sim/terrain/noise"
	"terrainstream.ai/internal/sim/terrain/store"
)

type flatSampler struct{ height float64 }

func (f flatSampler) Height(x, z float64) float64      { return f.height }
func (f flatSampler) Color(x, y, z float64) [3]float32 { return [3]float32{0, 0.5, 1} }

func cos32(a float32) float32 { return float32(math.Cos(float64(a))) }
func sin32(a float32) float32 { return float32(math.Sin(float64(a))) }

func lookAt(eye, target mgl32.Vec3) mgl32.Mat4 {
	proj := mgl32.Perspective(mgl32.DegToRad(100), 1600.0/900.0, 0.1, 200)
	view := mgl32.LookAtV(eye, target, mgl32.Vec3{0, 1, 0})
	return proj.Mul4(view)
}

func newStreamer(t *testing.T, cfg Config, s store.Sampler) *Streamer {
	t.Helper()
	st, err := New(cfg, s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return st
}

func loadedSet(s *Streamer) map[store.ChunkKey]bool {
	out := map[store.ChunkKey]bool{}
	s.Chunks().Each(func(ch *store.Chunk) bool {
		out[ch.Key] = true
		return true
	})
	return out
}

func TestCenterKeyRounding(t *testing.T) {
	s := newStreamer(t, DefaultConfig(), flatSampler{6})
	cases := []struct {
		pos  mgl32.Vec3
		want store.ChunkKey
	}{
		{mgl32.Vec3{37, 0, -37}, store.ChunkKey{CX: 2, CZ: -2}},
		{mgl32.Vec3{8, 50, 7.9}, store.ChunkKey{CX: 1, CZ: 0}},
		{mgl32.Vec3{-8.7, 0, -23.9}, store.ChunkKey{CX: -1, CZ: -1}},
		{mgl32.Vec3{0, 0, 0}, store.ChunkKey{}},
	}
	for _, c := range cases {
		if got := s.CenterKey(c.pos); got != c.want {
			t.Fatalf("CenterKey(%v)=%+v want %+v", c.pos, got, c.want)
		}
	}
}

func TestPassCullsBehindKeepsAhead(t *testing.T) {
	s := newStreamer(t, Config{ChunkSize: 16, RenderDistance: 3}, flatSampler{6})
	eye := mgl32.Vec3{0, 20, 0}
	res := s.Pass(View{Position: eye, Combined: lookAt(eye, mgl32.Vec3{1, 20, 0})})

	if res.Candidates != 49 {
		t.Fatalf("candidates=%d want 49", res.Candidates)
	}
	if res.Culled+res.Retained != res.Candidates {
		t.Fatalf("culled %d + retained %d != candidates %d", res.Culled, res.Retained, res.Candidates)
	}
	loaded := loadedSet(s)
	if !loaded[store.ChunkKey{CX: 2, CZ: 0}] {
		t.Fatalf("chunk ahead not loaded: %v", s.Chunks().Keys())
	}
	if loaded[store.ChunkKey{CX: -3, CZ: 0}] {
		t.Fatalf("chunk behind loaded")
	}
	if res.Culled == 0 {
		t.Fatalf("expected some chunks culled")
	}
	if res.Loaded != res.Retained || len(loaded) != res.Retained {
		t.Fatalf("loaded=%d retained=%d", len(loaded), res.Retained)
	}
}

func TestPassVertexCountInvariant(t *testing.T) {
	s := newStreamer(t, Config{ChunkSize: 8, RenderDistance: 2}, flatSampler{6})
	eye := mgl32.Vec3{0, 20, 0}
	s.Pass(View{Position: eye, Combined: lookAt(eye, mgl32.Vec3{0, 20, 1})})
	if s.Len() == 0 {
		t.Fatalf("no chunks loaded")
	}
	s.Chunks().Each(func(ch *store.Chunk) bool {
		if ch.VertexCount() != 6*8*8 {
			t.Fatalf("chunk %+v vertex count=%d", ch.Key, ch.VertexCount())
		}
		return true
	})
}

func TestPassEvictsWhenRenderDistanceShrinks(t *testing.T) {
	s := newStreamer(t, Config{ChunkSize: 16, RenderDistance: 7}, flatSampler{6})
	eye := mgl32.Vec3{0, 20, 0}
	combo := lookAt(eye, mgl32.Vec3{1, 20, 0.2})

	first := s.Pass(View{Position: eye, Combined: combo})
	if first.RenderDistance != 7 {
		t.Fatalf("render distance=%d want 7", first.RenderDistance)
	}
	var far []store.ChunkKey
	for k := range loadedSet(s) {
		if k.CX > 2 || k.CX < -2 || k.CZ > 2 || k.CZ < -2 {
			far = append(far, k)
		}
	}
	if len(far) == 0 {
		t.Fatalf("expected chunks beyond distance 2 after first pass")
	}

	second := s.Pass(View{Position: eye, Combined: combo, RenderDistance: 2})
	if second.Candidates != 25 {
		t.Fatalf("candidates=%d want 25", second.Candidates)
	}
	loaded := loadedSet(s)
	for _, k := range far {
		if loaded[k] {
			t.Fatalf("chunk %+v survived shrink", k)
		}
	}
	if second.Removed == nil || len(second.Removed) < len(far) {
		t.Fatalf("removed=%d want >= %d", len(second.Removed), len(far))
	}
	if second.Generated != 0 {
		t.Fatalf("shrinking pass generated %d chunks", second.Generated)
	}
}

func TestPassRenderDistanceClampedToConfig(t *testing.T) {
	s := newStreamer(t, Config{ChunkSize: 16, RenderDistance: 2}, flatSampler{6})
	res := s.Pass(View{Combined: mgl32.Ident4(), RenderDistance: 50})
	if res.RenderDistance != 2 || res.Candidates != 25 {
		t.Fatalf("render distance=%d candidates=%d", res.RenderDistance, res.Candidates)
	}
}

func TestCenterChunkEvictedWhenOutsideFrustum(t *testing.T) {
	s := newStreamer(t, Config{ChunkSize: 16, RenderDistance: 3}, flatSampler{6})
	// Everything in range sits far behind the near plane.
	res := s.Pass(View{Combined: mgl32.Translate3D(0, 0, -1000)})
	if res.Retained != 0 || res.Culled != res.Candidates {
		t.Fatalf("retained=%d culled=%d", res.Retained, res.Culled)
	}
	if res.Generated != 1 || res.Evicted != 1 {
		t.Fatalf("generated=%d evicted=%d want 1,1 (center chunk)", res.Generated, res.Evicted)
	}
	if len(res.Added) != 0 || len(res.Removed) != 0 {
		t.Fatalf("added=%v removed=%v want empty", res.Added, res.Removed)
	}
	if s.Len() != 0 {
		t.Fatalf("store not empty: %v", s.Chunks().Keys())
	}
}

func TestAddedRemovedMirrorStore(t *testing.T) {
	s := newStreamer(t, Config{ChunkSize: 16, RenderDistance: 4}, flatSampler{6})
	mirror := map[store.ChunkKey]bool{}
	eye := mgl32.Vec3{0, 20, 0}
	for frame := 0; frame < 40; frame++ {
		eye = eye.Add(mgl32.Vec3{3, 0, 1.5})
		yaw := float32(frame) * 0.2
		target := eye.Add(mgl32.Vec3{cos32(yaw), -0.2, sin32(yaw)})
		res := s.Pass(View{Position: eye, Combined: lookAt(eye, target)})
		for _, k := range res.Removed {
			if !mirror[k] {
				t.Fatalf("frame %d: removed %+v never added", frame, k)
			}
			delete(mirror, k)
		}
		for _, k := range res.Added {
			if mirror[k] {
				t.Fatalf("frame %d: added %+v twice", frame, k)
			}
			mirror[k] = true
		}
		loaded := loadedSet(s)
		if len(loaded) != len(mirror) {
			t.Fatalf("frame %d: mirror has %d chunks, store has %d", frame, len(mirror), len(loaded))
		}
		for k := range loaded {
			if !mirror[k] {
				t.Fatalf("frame %d: %+v loaded but not mirrored", frame, k)
			}
		}
		keys := s.Chunks().Keys()
		for i := 1; i < len(keys); i++ {
			if !store.KeyLess(keys[i-1], keys[i]) {
				t.Fatalf("frame %d: keys not strictly ordered/unique: %v", frame, keys)
			}
		}
	}
	if s.Passes() != 40 {
		t.Fatalf("passes=%d", s.Passes())
	}
}

func TestPassDeterministicWithSynthesizer(t *testing.T) {
	build := func() *Streamer {
		h, err := noise.New(noise.KindSimplex, 1337, 0.005)
		if err != nil {
			t.Fatalf("noise: %v", err)
		}
		m, err := noise.New(noise.KindSimplex, 1338, 0.01)
		if err != nil {
			t.Fatalf("noise: %v", err)
		}
		pix := make([]uint8, 16*16*3)
		for i := range pix {
			pix[i] = uint8(i)
		}
		tbl, err := biome.FromRGB(16, 16, pix)
		if err != nil {
			t.Fatalf("table: %v", err)
		}
		synth, err := gen.New(h, m, tbl, gen.DefaultParams())
		if err != nil {
			t.Fatalf("gen: %v", err)
		}
		return newStreamer(t, Config{ChunkSize: 16, RenderDistance: 3}, synth)
	}
	a, b := build(), build()
	eye := mgl32.Vec3{40, 30, -20}
	v := View{Position: eye, Combined: lookAt(eye, mgl32.Vec3{80, 15, 10})}
	ra, rb := a.Pass(v), b.Pass(v)
	if ra.Retained != rb.Retained || ra.Culled != rb.Culled {
		t.Fatalf("passes differ: %+v vs %+v", ra, rb)
	}
	ka, kb := a.Chunks().Keys(), b.Chunks().Keys()
	if len(ka) != len(kb) {
		t.Fatalf("key sets differ")
	}
	for i := range ka {
		ca, _ := a.store.Get(ka[i])
		cb, _ := b.store.Get(kb[i])
		if ka[i] != kb[i] || ca.Digest() != cb.Digest() || ca.Center != cb.Center {
			t.Fatalf("chunk %+v differs between runs", ka[i])
		}
		if ca.Center[1] < 6 {
			t.Fatalf("center height %v below sea level", ca.Center[1])
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{ChunkSize: 0, RenderDistance: 1}, flatSampler{}); err == nil {
		t.Fatalf("expected error for zero chunk size")
	}
	if _, err := New(Config{ChunkSize: 16, RenderDistance: -1}, flatSampler{}); err == nil {
		t.Fatalf("expected error for negative render distance")
	}
	if _, err := New(DefaultConfig(), nil); err == nil {
		t.Fatalf("expected error for nil sampler")
	}
}
