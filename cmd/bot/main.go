package main

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"terrainstream.ai/internal/protocol"
	"terrainstream.ai/internal/sim/camera"
	"terrainstream.ai/internal/sim/tuning"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		frames   = flag.Int("frames", 300, "VIEW messages to send (0 = until interrupted)")
		rate     = flag.Int("hz", 30, "VIEW messages per second")
		rd       = flag.Int("render_distance", 0, "requested render distance (0 = server default)")
		turn     = flag.Float64("turn", 0.5, "yaw change per frame in degrees")
		altitude = flag.Float64("altitude", 30, "camera height")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		RenderDistance:  *rd,
	}); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	var w protocol.WelcomeMsg
	if typ, err := readTyped(conn, &w); err != nil || typ != protocol.TypeWelcome {
		logger.Fatalf("expected WELCOME, got %q: %v", typ, err)
	}
	logger.Printf("WELCOME session_id=%s chunk_size=%d render_distance=%d", w.SessionID, w.TerrainParams.ChunkSize, w.TerrainParams.RenderDistance)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	camCfg := tuning.Defaults().Camera
	cam := camera.New(mgl32.Vec3{0, float32(*altitude), 0}, camCfg.Speed)
	mir := newMirror()
	dt := time.Second / time.Duration(max(*rate, 1))
	tick := time.NewTicker(dt)
	defer tick.Stop()

	for frame := uint64(1); *frames == 0 || frame <= uint64(*frames); frame++ {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		cam.Turn(float32(*turn), 0)
		cam.Move(camera.Forward, float32(dt.Seconds()))

		if err := conn.WriteJSON(protocol.ViewMsg{
			Type:            protocol.TypeView,
			ProtocolVersion: protocol.Version,
			Frame:           frame,
			Position:        cam.Position,
			Combined:        cam.Combined(camCfg),
		}); err != nil {
			logger.Fatalf("send VIEW: %v", err)
		}

		var f protocol.FrameMsg
		typ, err := readTyped(conn, &f)
		if typ == protocol.TypeError {
			logger.Printf("frame %d: %v", frame, err)
			continue
		}
		if err != nil {
			logger.Fatalf("read: %v", err)
		}
		if err := mir.Apply(f); err != nil {
			logger.Fatalf("frame %d: %v", frame, err)
		}
		if frame%30 == 0 {
			logger.Printf("frame=%d center=%v loaded=%d added=%d removed=%d pass_us=%d",
				f.Frame, f.Center, mir.Len(), len(f.Added), len(f.Removed), f.Stats.ElapsedUS)
		}
	}
	logger.Printf("done: verified=%d chunks loaded=%d", mir.verified, mir.Len())
}

func readTyped(conn *websocket.Conn, v any) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return "", err
	}
	if base.Type == protocol.TypeError {
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return base.Type, err
		}
		return base.Type, fmt.Errorf("%s: %s", e.Code, e.Message)
	}
	return base.Type, json.Unmarshal(msg, v)
}

// mirror is the client's copy of the loaded chunk set, maintained from FRAME
// deltas and checked against each FRAME's retained list.
type mirror struct {
	chunks   map[[2]int]string
	verified int
}

func newMirror() *mirror { return &mirror{chunks: map[[2]int]string{}} }

func (m *mirror) Len() int { return len(m.chunks) }

func (m *mirror) Apply(f protocol.FrameMsg) error {
	for _, k := range f.Removed {
		if _, ok := m.chunks[k]; !ok {
			return fmt.Errorf("removed chunk %v was never added", k)
		}
		delete(m.chunks, k)
	}
	for _, ch := range f.Added {
		k := [2]int{ch.CX, ch.CZ}
		if err := verifyChunk(ch); err != nil {
			return fmt.Errorf("chunk %v: %w", k, err)
		}
		m.chunks[k] = ch.Digest
		m.verified++
	}
	if len(f.Retained) != len(m.chunks) {
		return fmt.Errorf("retained=%d local=%d", len(f.Retained), len(m.chunks))
	}
	for _, k := range f.Retained {
		if _, ok := m.chunks[k]; !ok {
			return fmt.Errorf("retained chunk %v missing locally", k)
		}
	}
	return nil
}

func (m *mirror) Keys() [][2]int {
	out := make([][2]int, 0, len(m.chunks))
	for k := range m.chunks {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

func verifyChunk(ch protocol.ChunkMsg) error {
	verts, err := protocol.DecodeVertices(ch.Encoding, ch.Data)
	if err != nil {
		return err
	}
	if ch.VertexCount <= 0 || len(verts)%ch.VertexCount != 0 {
		return fmt.Errorf("vertex_count=%d floats=%d", ch.VertexCount, len(verts))
	}
	raw, err := base64.StdEncoding.DecodeString(ch.Data)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)
	if got := hex.EncodeToString(sum[:]); got != ch.Digest {
		return fmt.Errorf("digest mismatch: got %s want %s", got, ch.Digest)
	}
	return nil
}
