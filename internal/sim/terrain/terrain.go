// Package terrain assembles the synthesizer and streamer configuration from
// tuning.
package terrain

import (
	"fmt"

	"terrainstream.ai/internal/sim/terrain/biome"
	"terrainstream.ai/internal/sim/terrain/gen"
	"terrainstream.ai/internal/sim/terrain/noise"
	"terrainstream.ai/internal/sim/terrain/stream"
	"terrainstream.ai/internal/sim/tuning"
)

// NewSynthesizer loads the lookup table (resolved against configDir) and
// builds both noise fields. A missing or unreadable table is an error.
func NewSynthesizer(t tuning.Tuning, configDir string) (*gen.Synthesizer, error) {
	tbl, err := biome.Load(t.TablePath(configDir))
	if err != nil {
		return nil, err
	}
	return NewSynthesizerWithTable(t, tbl)
}

func NewSynthesizerWithTable(t tuning.Tuning, tbl *biome.Table) (*gen.Synthesizer, error) {
	kind, err := noise.ParseKind(t.Noise.Kind)
	if err != nil {
		return nil, err
	}
	height, err := noise.New(kind, t.Noise.Seed, t.Noise.HeightFrequency)
	if err != nil {
		return nil, fmt.Errorf("height noise: %w", err)
	}
	moisture, err := noise.New(kind, t.Noise.Seed+t.Noise.MoistureSeedOffset, t.Noise.MoistureFrequency)
	if err != nil {
		return nil, fmt.Errorf("moisture noise: %w", err)
	}
	return gen.New(height, moisture, tbl, Params(t))
}

func Params(t tuning.Tuning) gen.Params {
	return gen.Params{
		SeaLevel:          t.Terrain.SeaLevel,
		HeightMultiplier:  t.Terrain.HeightMultiplier,
		HeightExponent:    t.Terrain.HeightExponent,
		MountainTopHeight: t.Terrain.MountainTopHeight,
	}
}

func StreamConfig(t tuning.Tuning) stream.Config {
	return stream.Config{
		ChunkSize:      t.Terrain.ChunkSize,
		RenderDistance: t.Terrain.RenderDistance,
	}
}
