package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	passlog "terrainstream.ai/internal/persistence/log"
	"terrainstream.ai/internal/sim/camera"
	"terrainstream.ai/internal/sim/terrain"
	"terrainstream.ai/internal/sim/terrain/stream"
	"terrainstream.ai/internal/sim/tuning"
)

type options struct {
	tuningPath string
	frames     int
	dt         float64
	yaw        float64
	turn       float64
	altitude   float64
	dataDir    string
	debugFPS   bool
	debugNum   bool
}

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		o          options
	)
	flag.IntVar(&o.frames, "frames", 600, "frames to simulate")
	flag.Float64Var(&o.dt, "dt", 1.0/60.0, "seconds per frame")
	flag.Float64Var(&o.yaw, "yaw", -90, "initial heading in degrees (-90 looks down -Z)")
	flag.Float64Var(&o.turn, "turn", 0, "yaw change per frame in degrees")
	flag.Float64Var(&o.altitude, "altitude", 12, "height above terrain at the start position")
	flag.StringVar(&o.dataDir, "data", "", "write the pass log under this directory (optional)")
	flag.BoolVar(&o.debugFPS, "debug-fps", false, "print frames per second (overrides tuning)")
	flag.BoolVar(&o.debugNum, "debug-num-chunks", false, "print loaded chunks per frame (overrides tuning)")
	flag.Parse()

	logger := log.New(os.Stdout, "[flythrough] ", log.LstdFlags|log.Lmicroseconds)

	o.tuningPath = strings.TrimSpace(*tuningPath)
	if o.tuningPath == "" {
		o.tuningPath = filepath.Join(*configDir, "tuning.yaml")
	}
	if err := run(o, os.Stdout, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

// run flies the camera for o.frames passes. The pass log is closed before
// run returns, on error paths too.
func run(o options, out io.Writer, logger *log.Logger) (err error) {
	tune, err := tuning.Load(o.tuningPath)
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}
	showFPS := tune.Debug.FPS || o.debugFPS
	showNum := tune.Debug.NumChunks || o.debugNum

	synth, err := terrain.NewSynthesizer(tune, filepath.Dir(o.tuningPath))
	if err != nil {
		return fmt.Errorf("load terrain: %w", err)
	}
	st, err := stream.New(terrain.StreamConfig(tune), synth)
	if err != nil {
		return fmt.Errorf("streamer: %w", err)
	}

	var passes *passlog.PassLogger
	if o.dataDir != "" {
		passes = passlog.NewPassLogger(o.dataDir)
		defer func() {
			if cerr := passes.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close pass log: %w", cerr)
			}
		}()
	}
	sessionID := uuid.NewString()

	cam := camera.New(startPosition(synth.Height(0, 0), float32(o.altitude)), tune.Camera.Speed)
	cam.Yaw = float32(o.yaw)

	var (
		start     = time.Now()
		secStart  = start
		secFrames int
		generated int
		evicted   int
		maxPass   time.Duration
	)
	for frame := 1; frame <= o.frames; frame++ {
		cam.Turn(float32(o.turn), 0)
		cam.Move(camera.Forward, float32(o.dt))

		v := stream.View{Position: cam.Position, Combined: cam.Combined(tune.Camera)}
		res := st.Pass(v)
		generated += res.Generated
		evicted += res.Evicted
		if res.Elapsed > maxPass {
			maxPass = res.Elapsed
		}
		if passes != nil {
			if err := passes.WritePass(passlog.PassLogEntry{
				Time:           time.Now().UTC(),
				SessionID:      sessionID,
				Frame:          uint64(frame),
				Center:         [2]int{res.Center.CX, res.Center.CZ},
				Position:       v.Position,
				RenderDistance: res.RenderDistance,
				Candidates:     res.Candidates,
				Culled:         res.Culled,
				Retained:       res.Retained,
				Generated:      res.Generated,
				Evicted:        res.Evicted,
				Loaded:         res.Loaded,
				ElapsedUS:      res.Elapsed.Microseconds(),
			}); err != nil {
				return fmt.Errorf("write pass log: %w", err)
			}
		}

		if showNum {
			fmt.Fprintf(out, "Drawing %d chunks on frame %d\n", st.Len(), frame)
		}
		secFrames++
		if showFPS && time.Since(secStart) >= time.Second {
			fmt.Fprintf(out, "%d fps\n", secFrames)
			secFrames = 0
			secStart = time.Now()
		}
	}

	elapsed := time.Since(start)
	logger.Printf("done: frames=%d elapsed=%s generated=%d evicted=%d loaded=%d max_pass=%s pos=%v",
		o.frames, elapsed.Round(time.Millisecond), generated, evicted, st.Len(), maxPass, cam.Position)
	return nil
}

func startPosition(groundY float64, altitude float32) mgl32.Vec3 {
	return mgl32.Vec3{0, float32(groundY) + altitude, 0}
}
