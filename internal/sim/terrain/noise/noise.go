// Package noise wraps coherent gradient noise sources behind a fixed
// kind/frequency configuration. A Field has no per-call state: the same
// (x, z) always yields the same sample.
package noise

import (
	"fmt"

	"github.com/aquilax/go-perlin"
	"github.com/ojrac/opensimplex-go"

	"terrainstream.ai/internal/sim/logic/mathx"
)

type Kind string

const (
	KindSimplex Kind = "simplex"
	KindPerlin  Kind = "perlin"
)

// Perlin octave parameters (alpha, beta, n) as used for terrain elsewhere.
const (
	perlinAlpha = 2
	perlinBeta  = 2
	perlinN     = 3
)

// Source is a raw 2D noise function with values nominally in [-1,1].
type Source interface {
	Eval2(x, y float64) float64
}

type perlinSource struct{ p *perlin.Perlin }

func (s perlinSource) Eval2(x, y float64) float64 { return s.p.Noise2D(x, y) }

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSimplex, "":
		return KindSimplex, nil
	case KindPerlin:
		return KindPerlin, nil
	default:
		return "", fmt.Errorf("unknown noise kind %q", s)
	}
}

type Field struct {
	kind      Kind
	frequency float64
	src       Source
}

func New(kind Kind, seed int64, frequency float64) (*Field, error) {
	if frequency <= 0 {
		return nil, fmt.Errorf("noise frequency must be > 0, got %v", frequency)
	}
	var src Source
	switch kind {
	case KindSimplex, "":
		kind = KindSimplex
		src = opensimplex.New(seed)
	case KindPerlin:
		src = perlinSource{p: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinN, seed)}
	default:
		return nil, fmt.Errorf("unknown noise kind %q", kind)
	}
	return &Field{kind: kind, frequency: frequency, src: src}, nil
}

// NewFromSource builds a Field over an arbitrary source. Mostly for tests.
func NewFromSource(src Source, frequency float64) *Field {
	return &Field{kind: "custom", frequency: frequency, src: src}
}

func (f *Field) Kind() Kind         { return f.kind }
func (f *Field) Frequency() float64 { return f.frequency }

// Sample returns the noise value at world (x, z), in [-1,1].
func (f *Field) Sample(x, z float64) float64 {
	return mathx.Clamp11(f.src.Eval2(x*f.frequency, z*f.frequency))
}
