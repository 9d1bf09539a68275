package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"terrainstream.ai/internal/observerproto"
	"terrainstream.ai/internal/protocol"
	"terrainstream.ai/internal/sim/terrain/stream"
)

// Server is a read-only spectator feed over every streaming session. It
// receives session and pass reports and fans them out to subscribed
// observers. Slow observers lose messages; sessions never wait on them.
type Server struct {
	params protocol.TerrainParams
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*observerproto.SessionInfo
	subs     map[string]*subscriber
}

type subscriber struct {
	filter string
	out    chan []byte
}

func NewServer(params protocol.TerrainParams, logger *log.Logger) *Server {
	return &Server{
		params: params,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*observerproto.SessionInfo{},
		subs:     map[string]*subscriber{},
	}
}

// Dropped counts messages not delivered to slow observers.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) SessionStart(id, clientName string, renderDistance int) {
	s.mu.Lock()
	s.sessions[id] = &observerproto.SessionInfo{SessionID: id, ClientName: clientName, RenderDistance: renderDistance}
	s.mu.Unlock()
	s.broadcast(id, observerproto.SessionMsg{
		Type: observerproto.TypeSession, ProtocolVersion: observerproto.Version,
		SessionID: id, ClientName: clientName, State: observerproto.StateStarted,
	})
}

func (s *Server) SessionEnd(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.broadcast(id, observerproto.SessionMsg{
		Type: observerproto.TypeSession, ProtocolVersion: observerproto.Version,
		SessionID: id, State: observerproto.StateEnded,
	})
}

func (s *Server) Pass(id string, frame uint64, v stream.View, res stream.PassResult) {
	s.mu.Lock()
	if info := s.sessions[id]; info != nil {
		info.Frame = frame
		info.Position = v.Position
		info.Loaded = res.Loaded
	}
	s.mu.Unlock()
	s.broadcast(id, observerproto.PassMsg{
		Type:            observerproto.TypePass,
		ProtocolVersion: observerproto.Version,
		SessionID:       id,
		Frame:           frame,
		Center:          [2]int{res.Center.CX, res.Center.CZ},
		Position:        v.Position,
		Candidates:      res.Candidates,
		Culled:          res.Culled,
		Generated:       res.Generated,
		Evicted:         res.Evicted,
		Loaded:          res.Loaded,
		ElapsedUS:       res.Elapsed.Microseconds(),
	})
}

func (s *Server) broadcast(sessionID string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	for _, sub := range s.subs {
		if sub.filter != "" && sub.filter != sessionID {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		sessions := make([]observerproto.SessionInfo, 0, len(s.sessions))
		for _, info := range s.sessions {
			sessions = append(sessions, *info)
		}
		s.mu.Unlock()
		sort.Slice(sessions, func(i, j int) bool { return sessions[i].SessionID < sessions[j].SessionID })

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			TerrainParams:   s.params,
			Sessions:        sessions,
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		oid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 256)
		s.mu.Lock()
		s.subs[oid] = &subscriber{filter: sub.SessionID, out: out}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, oid)
			s.mu.Unlock()
		}()
		if s.log != nil {
			s.log.Printf("observer %s subscribed session=%q", oid, sub.SessionID)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := decodeSubscribe(msg)
			if !ok {
				continue
			}
			s.mu.Lock()
			if cur := s.subs[oid]; cur != nil {
				cur.filter = sub.SessionID
			}
			s.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	sub.SessionID = strings.TrimSpace(sub.SessionID)
	return sub, true
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
