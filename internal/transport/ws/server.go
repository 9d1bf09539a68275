package ws

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"terrainstream.ai/internal/protocol"
	"terrainstream.ai/internal/sim/terrain/store"
	"terrainstream.ai/internal/sim/terrain/stream"
)

// Sink receives session lifecycle and pass reports. Calls come from session
// goroutines concurrently.
type Sink interface {
	SessionStart(id, clientName string, renderDistance int)
	Pass(id string, frame uint64, v stream.View, res stream.PassResult)
	SessionEnd(id string)
}

type Config struct {
	Stream      stream.Config
	SeaLevel    float64
	MaxSessions int
	FrameQueue  int
}

type Stats struct {
	ActiveSessions int64
	SessionsTotal  uint64
	RejectedTotal  uint64
	FramesTotal    uint64
	ErrorsTotal    uint64
}

type Server struct {
	cfg     Config
	sampler store.Sampler
	sink    Sink
	log     *log.Logger

	upgrader websocket.Upgrader

	active   atomic.Int64
	sessions atomic.Uint64
	rejected atomic.Uint64
	frames   atomic.Uint64
	errs     atomic.Uint64
}

// NewServer serves terrain sessions. The sampler is shared by every session
// and must be safe for concurrent reads. sink may be nil.
func NewServer(cfg Config, sampler store.Sampler, sink Sink, logger *log.Logger) *Server {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 64
	}
	if cfg.FrameQueue <= 0 {
		cfg.FrameQueue = 4
	}
	return &Server{
		cfg:     cfg,
		sampler: sampler,
		sink:    sink,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 256 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		ActiveSessions: s.active.Load(),
		SessionsTotal:  s.sessions.Load(),
		RejectedTotal:  s.rejected.Load(),
		FramesTotal:    s.frames.Load(),
		ErrorsTotal:    s.errs.Load(),
	}
}

type session struct {
	id        string
	name      string
	maxRD     int
	streamer  *stream.Streamer
	lastFrame uint64
	seen      bool
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if n := s.active.Add(1); n > int64(s.cfg.MaxSessions) {
			s.active.Add(-1)
			s.rejected.Add(1)
			s.reject(conn, protocol.ErrServerBusy, "too many sessions")
			return
		}
		defer s.active.Add(-1)

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.sessions.Add(1)
		if s.sink != nil {
			s.sink.SessionStart(sess.id, sess.name, sess.maxRD)
			defer s.sink.SessionEnd(sess.id)
		}
		s.logf("session %s (%s) started rd=%d", sess.id, sess.name, sess.maxRD)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		out := make(chan []byte, s.cfg.FrameQueue)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// send blocks when the queue is full: FRAME deltas cannot be dropped
		// without desyncing the client's chunk set.
		send := func(v any) bool {
			b, err := json.Marshal(v)
			if err != nil {
				return false
			}
			select {
			case out <- b:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handleMessage(sess, msg)
			if reply == nil {
				continue
			}
			if !send(reply) {
				break
			}
		}
		cancel()
		s.logf("session %s ended after %d passes", sess.id, sess.streamer.Passes())
	}
}

func (s *Server) handleMessage(sess *session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return s.errorMsg(protocol.ErrProtoBadRequest, "malformed json", 0)
	}
	if base.Type != protocol.TypeView {
		return s.errorMsg(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type, 0)
	}
	var vm protocol.ViewMsg
	if err := json.Unmarshal(msg, &vm); err != nil {
		return s.errorMsg(protocol.ErrBadRequest, "bad VIEW: "+err.Error(), 0)
	}
	if vm.ProtocolVersion != protocol.Version {
		return s.errorMsg(protocol.ErrProtoVersion, "bad protocol_version", vm.Frame)
	}
	// Fixed-size arrays decode short or long input silently.
	var shape struct {
		Position []float32 `json:"position"`
		Combined []float32 `json:"combined"`
	}
	if err := json.Unmarshal(msg, &shape); err != nil || len(shape.Position) != 3 || len(shape.Combined) != 16 {
		return s.errorMsg(protocol.ErrBadRequest, "position needs 3 and combined 16 numbers", vm.Frame)
	}
	if sess.seen && vm.Frame <= sess.lastFrame {
		return s.errorMsg(protocol.ErrStale, "frame not newer than last processed frame", vm.Frame)
	}
	if !finite(vm.Position[:]) || !finite(vm.Combined[:]) {
		return s.errorMsg(protocol.ErrBadRequest, "non-finite position or matrix", vm.Frame)
	}
	sess.seen = true
	sess.lastFrame = vm.Frame

	rd := sess.maxRD
	if vm.RenderDistance > 0 && vm.RenderDistance < rd {
		rd = vm.RenderDistance
	}
	v := stream.View{
		Position:       mgl32.Vec3(vm.Position),
		Combined:       mgl32.Mat4(vm.Combined),
		RenderDistance: rd,
	}
	res := sess.streamer.Pass(v)
	s.frames.Add(1)
	if s.sink != nil {
		s.sink.Pass(sess.id, vm.Frame, v, res)
	}
	return BuildFrame(vm.Frame, sess.streamer, res)
}

// BuildFrame renders a pass result as a FRAME message, inlining the vertex
// data of every added chunk.
func BuildFrame(frame uint64, st *stream.Streamer, res stream.PassResult) protocol.FrameMsg {
	fm := protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		Frame:           frame,
		Center:          [2]int{res.Center.CX, res.Center.CZ},
		Retained:        keyPairs(st.Chunks().Keys()),
		Removed:         keyPairs(res.Removed),
		Stats: protocol.FrameStats{
			RenderDistance: res.RenderDistance,
			Candidates:     res.Candidates,
			Culled:         res.Culled,
			Generated:      res.Generated,
			Evicted:        res.Evicted,
			Loaded:         res.Loaded,
			ElapsedUS:      res.Elapsed.Microseconds(),
		},
	}
	fm.Added = make([]protocol.ChunkMsg, 0, len(res.Added))
	for _, k := range res.Added {
		ch, ok := st.Chunk(k)
		if !ok {
			continue
		}
		fm.Added = append(fm.Added, protocol.ChunkMsg{
			CX:          k.CX,
			CZ:          k.CZ,
			Center:      [3]float32(ch.Center),
			Digest:      protocol.DigestHex(ch.Digest()),
			VertexCount: ch.VertexCount(),
			Encoding:    protocol.EncodingF32LEB64,
			Data:        protocol.EncodeVertices(ch.Vertices),
		})
	}
	return fm
}

func keyPairs(keys []store.ChunkKey) [][2]int {
	out := make([][2]int, len(keys))
	for i, k := range keys {
		out[i] = [2]int{k.CX, k.CZ}
	}
	return out
}

func finite(v []float32) bool {
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return true
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return nil
	}
	name := strings.TrimSpace(hello.ClientName)
	if name == "" {
		name = "client"
	}

	cfg := s.cfg.Stream
	if hello.RenderDistance > 0 && hello.RenderDistance < cfg.RenderDistance {
		cfg.RenderDistance = hello.RenderDistance
	}
	st, err := stream.New(cfg, s.sampler)
	if err != nil {
		s.reject(conn, protocol.ErrInternal, err.Error())
		return nil
	}
	sess := &session{
		id:       uuid.NewString(),
		name:     name,
		maxRD:    cfg.RenderDistance,
		streamer: st,
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		TerrainParams:   TerrainParams(cfg, s.cfg.SeaLevel),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

// TerrainParams describes the chunk grid and vertex layout a client receives
// in WELCOME.
func TerrainParams(cfg stream.Config, seaLevel float64) protocol.TerrainParams {
	return protocol.TerrainParams{
		ChunkSize:      cfg.ChunkSize,
		RenderDistance: cfg.RenderDistance,
		SeaLevel:       seaLevel,
		VertexStride:   store.VertexStride,
		PositionOffset: store.PositionOffset,
		ColorOffset:    store.ColorOffset,
	}
}

func (s *Server) errorMsg(code, msg string, frame uint64) protocol.ErrorMsg {
	s.errs.Add(1)
	e := protocol.NewError(code, msg)
	e.Frame = frame
	return e
}

func (s *Server) reject(conn *websocket.Conn, code, msg string) {
	_ = writeJSON(conn, s.errorMsg(code, msg, 0))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), time.Now().Add(time.Second))
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
