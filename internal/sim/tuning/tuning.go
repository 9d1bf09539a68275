package tuning

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"terrainstream.ai/internal/sim/terrain/noise"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Terrain Terrain `yaml:"terrain"`
	Noise   Noise   `yaml:"noise"`
	Camera  Camera  `yaml:"camera"`
	Debug   Debug   `yaml:"debug"`
	Server  Server  `yaml:"server"`
}

type Terrain struct {
	ChunkSize         int     `yaml:"chunk_size"`
	RenderDistance    int     `yaml:"render_distance"`
	SeaLevel          float64 `yaml:"sea_level"`
	HeightMultiplier  float64 `yaml:"height_multiplier"`
	HeightExponent    float64 `yaml:"height_exponent"`
	MountainTopHeight float64 `yaml:"mountain_top_height"`
	// Relative paths resolve against the directory of the tuning file.
	LookupTable string `yaml:"lookup_table"`
}

type Noise struct {
	Kind              string  `yaml:"kind"`
	Seed              int64   `yaml:"seed"`
	HeightFrequency   float64 `yaml:"height_frequency"`
	MoistureFrequency float64 `yaml:"moisture_frequency"`
	// Added to Seed for the moisture source so the two fields differ.
	MoistureSeedOffset int64 `yaml:"moisture_seed_offset"`
}

type Camera struct {
	FovDeg       float32 `yaml:"fov_deg"`
	AspectW      float32 `yaml:"aspect_w"`
	AspectH      float32 `yaml:"aspect_h"`
	Near         float32 `yaml:"near"`
	Far          float32 `yaml:"far"`
	ModelOffsetY float32 `yaml:"model_offset_y"`
	Speed        float32 `yaml:"speed"`
}

type Debug struct {
	FPS       bool `yaml:"fps"`
	NumChunks bool `yaml:"num_chunks"`
}

type Server struct {
	MaxSessions int `yaml:"max_sessions"`
	// Outgoing FRAME queue per session.
	FrameQueue int `yaml:"frame_queue"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Terrain: Terrain{
			ChunkSize:         16,
			RenderDistance:    7,
			SeaLevel:          6,
			HeightMultiplier:  15,
			HeightExponent:    2.3,
			MountainTopHeight: 65,
			LookupTable:       "heightmoisturemap.png",
		},
		Noise: Noise{
			Kind:               string(noise.KindSimplex),
			Seed:               1337,
			HeightFrequency:    0.005,
			MoistureFrequency:  0.01,
			MoistureSeedOffset: 101,
		},
		Camera: Camera{
			FovDeg:       100,
			AspectW:      1600,
			AspectH:      900,
			Near:         0.1,
			Far:          200,
			ModelOffsetY: -2,
			Speed:        20,
		},
		Server: Server{
			MaxSessions: 64,
			FrameQueue:  4,
		},
	}
}

// TablePath resolves Terrain.LookupTable against dir unless it is absolute.
func (t Tuning) TablePath(dir string) string {
	p := t.Terrain.LookupTable
	if filepath.IsAbs(p) || dir == "" {
		return p
	}
	return filepath.Join(dir, p)
}

// Load reads a tuning file over the defaults, then normalizes and validates it.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	t.Noise.Kind = strings.ToLower(strings.TrimSpace(t.Noise.Kind))
	if t.Noise.Kind == "" {
		t.Noise.Kind = string(noise.KindSimplex)
	}
	t.Terrain.LookupTable = strings.TrimSpace(t.Terrain.LookupTable)
	if t.Server.MaxSessions <= 0 {
		t.Server.MaxSessions = 64
	}
	if t.Server.FrameQueue <= 0 {
		t.Server.FrameQueue = 4
	}
}

func (t Tuning) Validate() error {
	tr := t.Terrain
	if tr.ChunkSize <= 0 {
		return fmt.Errorf("terrain.chunk_size must be > 0")
	}
	if tr.RenderDistance < 0 {
		return fmt.Errorf("terrain.render_distance must be >= 0")
	}
	if tr.MountainTopHeight <= tr.SeaLevel {
		return fmt.Errorf("terrain.mountain_top_height must exceed terrain.sea_level")
	}
	if tr.HeightExponent <= 0 {
		return fmt.Errorf("terrain.height_exponent must be > 0")
	}
	if tr.HeightMultiplier <= 0 {
		return fmt.Errorf("terrain.height_multiplier must be > 0")
	}
	if tr.LookupTable == "" {
		return fmt.Errorf("terrain.lookup_table must not be empty")
	}
	if _, err := noise.ParseKind(t.Noise.Kind); err != nil {
		return fmt.Errorf("noise.kind: %w", err)
	}
	if t.Noise.HeightFrequency <= 0 || t.Noise.MoistureFrequency <= 0 {
		return fmt.Errorf("noise frequencies must be > 0")
	}
	c := t.Camera
	if c.FovDeg <= 0 || c.FovDeg >= 180 {
		return fmt.Errorf("camera.fov_deg must be in (0, 180)")
	}
	if c.AspectW <= 0 || c.AspectH <= 0 {
		return fmt.Errorf("camera aspect must be > 0")
	}
	if c.Near <= 0 || c.Far <= c.Near {
		return fmt.Errorf("camera requires 0 < near < far")
	}
	return nil
}
