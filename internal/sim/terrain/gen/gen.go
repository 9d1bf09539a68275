package gen

import (
	"errors"
	"fmt"
	"math"

	"terrainstream.ai/internal/sim/logic/mathx"
	"terrainstream.ai/internal/sim/terrain/biome"
	"terrainstream.ai/internal/sim/terrain/noise"
)

// Octave frequency multipliers and weights for Height.
var (
	octaveFreqs   = [...]float64{1, 2, 4, 8, 16}
	octaveWeights = [...]float64{1, 0.5, 0.25, 0.125, 0.0625}
)

type Params struct {
	SeaLevel          float64
	HeightMultiplier  float64
	HeightExponent    float64
	MountainTopHeight float64
}

func DefaultParams() Params {
	return Params{
		SeaLevel:          6,
		HeightMultiplier:  15,
		HeightExponent:    2.3,
		MountainTopHeight: 65,
	}
}

// Synthesizer turns world (x, z) into terrain height and biome color.
// It holds only immutable state and is safe for concurrent use.
type Synthesizer struct {
	height   *noise.Field
	moisture *noise.Field
	table    *biome.Table
	p        Params

	heightSlope float64
}

func New(height, moisture *noise.Field, table *biome.Table, p Params) (*Synthesizer, error) {
	if height == nil || moisture == nil {
		return nil, errors.New("synthesizer: nil noise field")
	}
	if table == nil {
		return nil, errors.New("synthesizer: biome table not loaded")
	}
	if p.MountainTopHeight <= p.SeaLevel {
		return nil, fmt.Errorf("synthesizer: mountain top height %v must exceed sea level %v", p.MountainTopHeight, p.SeaLevel)
	}
	if p.HeightExponent <= 0 {
		return nil, fmt.Errorf("synthesizer: height exponent must be > 0, got %v", p.HeightExponent)
	}
	return &Synthesizer{
		height:      height,
		moisture:    moisture,
		table:       table,
		p:           p,
		heightSlope: float64(table.Height()) / (p.MountainTopHeight - p.SeaLevel),
	}, nil
}

func (s *Synthesizer) Params() Params { return s.p }

func (s *Synthesizer) SeaLevel() float64 { return s.p.SeaLevel }

// Height sums five octaves, shapes the sum with the exponent, scales it, and
// pins anything under sea level to exactly sea level.
func (s *Synthesizer) Height(x, z float64) float64 {
	var y float64
	for i, f := range octaveFreqs {
		y += octaveWeights[i] * mathx.Remap01(s.height.Sample(f*x, f*z))
	}
	y = math.Pow(y, s.p.HeightExponent) * s.p.HeightMultiplier
	if y < s.p.SeaLevel {
		y = s.p.SeaLevel
	}
	return y
}

// Color looks up the biome color for a point whose height y is already known.
func (s *Synthesizer) Color(x, y, z float64) [3]float32 {
	col, row := s.Index(x, y, z)
	return s.table.Normalized(row, col)
}

// Index returns the (column, row) table cell Color would sample, saturated to
// the table bounds.
func (s *Synthesizer) Index(x, y, z float64) (col, row int) {
	m := mathx.Remap01(s.moisture.Sample(x, z))
	col = mathx.ClampInt(int(math.Ceil(m*float64(s.table.Width()))), 0, s.table.Width()-1)
	row = int(math.Ceil(s.heightSlope*y - s.p.SeaLevel*s.heightSlope))
	row = mathx.ClampInt(row, 0, s.table.Height()-1)
	return col, row
}
