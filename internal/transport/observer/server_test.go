package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"terrainstream.ai/internal/observerproto"
	"terrainstream.ai/internal/protocol"
	"terrainstream.ai/internal/sim/terrain/store"
	"terrainstream.ai/internal/sim/terrain/stream"
)

func waitSubs(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.subs)
		s.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscribers never reached %d", n)
}

func subscribe(t *testing.T, url, sessionID string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.WriteJSON(observerproto.SubscribeMsg{
		Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, SessionID: sessionID,
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	return c
}

func readMsg(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func samplePass(n int) stream.PassResult {
	return stream.PassResult{
		Center:     store.ChunkKey{CX: 2, CZ: -1},
		Candidates: 49,
		Culled:     30,
		Generated:  n,
		Loaded:     19,
		Elapsed:    1500 * time.Microsecond,
	}
}

func TestFeedFollowsSubscribedSession(t *testing.T) {
	s := NewServer(protocol.TerrainParams{ChunkSize: 16}, nil)
	hs := httptest.NewServer(s.WSHandler())
	t.Cleanup(hs.Close)
	url := "ws" + strings.TrimPrefix(hs.URL, "http")

	c := subscribe(t, url, "b")
	waitSubs(t, s, 1)

	s.SessionStart("a", "other", 7)
	s.SessionStart("b", "mine", 5)
	s.Pass("a", 1, stream.View{}, samplePass(1))
	s.Pass("b", 3, stream.View{Position: mgl32.Vec3{1, 2, 3}}, samplePass(4))

	m := readMsg(t, c)
	if m["type"] != observerproto.TypeSession || m["session_id"] != "b" || m["state"] != observerproto.StateStarted {
		t.Fatalf("first msg=%v", m)
	}
	m = readMsg(t, c)
	if m["type"] != observerproto.TypePass || m["session_id"] != "b" || m["frame"] != float64(3) {
		t.Fatalf("pass msg=%v", m)
	}
	if m["generated"] != float64(4) || m["elapsed_us"] != float64(1500) {
		t.Fatalf("pass stats=%v", m)
	}

	// Re-subscribe with an empty filter follows everything.
	if err := c.WriteJSON(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		f := ""
		for _, sub := range s.subs {
			f = sub.filter
		}
		s.mu.Unlock()
		if f == "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.SessionEnd("a")
	m = readMsg(t, c)
	if m["session_id"] != "a" || m["state"] != observerproto.StateEnded {
		t.Fatalf("end msg=%v", m)
	}
}

func TestBootstrapListsActiveSessions(t *testing.T) {
	s := NewServer(protocol.TerrainParams{ChunkSize: 16, RenderDistance: 7}, nil)
	s.SessionStart("z", "zed", 3)
	s.SessionStart("a", "ay", 7)
	s.SessionStart("gone", "x", 1)
	s.SessionEnd("gone")
	s.Pass("a", 9, stream.View{Position: mgl32.Vec3{4, 5, 6}}, samplePass(2))

	hs := httptest.NewServer(s.BootstrapHandler())
	t.Cleanup(hs.Close)
	resp, err := http.Get(hs.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ProtocolVersion != observerproto.Version || b.TerrainParams.ChunkSize != 16 {
		t.Fatalf("bootstrap=%+v", b)
	}
	if len(b.Sessions) != 2 || b.Sessions[0].SessionID != "a" || b.Sessions[1].SessionID != "z" {
		t.Fatalf("sessions=%+v", b.Sessions)
	}
	if a := b.Sessions[0]; a.Frame != 9 || a.Loaded != 19 || a.Position != [3]float32{4, 5, 6} {
		t.Fatalf("session a=%+v", a)
	}

	post, err := http.Post(hs.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status=%d", post.StatusCode)
	}
}

func TestBadSubscribeCloses(t *testing.T) {
	s := NewServer(protocol.TerrainParams{}, nil)
	hs := httptest.NewServer(s.WSHandler())
	t.Cleanup(hs.Close)
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.WriteJSON(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: "9.9"})
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := c.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestSlowObserverDrops(t *testing.T) {
	s := NewServer(protocol.TerrainParams{}, nil)
	s.mu.Lock()
	s.subs["O1"] = &subscriber{out: make(chan []byte, 1)}
	s.mu.Unlock()
	s.Pass("x", 1, stream.View{}, samplePass(0))
	s.Pass("x", 2, stream.View{}, samplePass(0))
	if got := s.Dropped(); got != 1 {
		t.Fatalf("dropped=%d want 1", got)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
}
