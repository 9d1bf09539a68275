package observerproto

import "terrainstream.ai/internal/protocol"

// Version is the observer protocol version (separate from the session WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Empty follows every session.
	SessionID string `json:"session_id,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string                 `json:"protocol_version"`
	TerrainParams   protocol.TerrainParams `json:"terrain_params"`
	Sessions        []SessionInfo          `json:"sessions"`
}

type SessionInfo struct {
	SessionID      string     `json:"session_id"`
	ClientName     string     `json:"client_name"`
	RenderDistance int        `json:"render_distance"`
	Frame          uint64     `json:"frame"`
	Position       [3]float32 `json:"position"`
	Loaded         int        `json:"loaded"`
}

// Server -> Client. Sent once per streaming pass of a followed session.
type PassMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	Frame           uint64     `json:"frame"`
	Center          [2]int     `json:"center"`
	Position        [3]float32 `json:"position"`
	Candidates      int        `json:"candidates"`
	Culled          int        `json:"culled"`
	Generated       int        `json:"generated"`
	Evicted         int        `json:"evicted"`
	Loaded          int        `json:"loaded"`
	ElapsedUS       int64      `json:"elapsed_us"`
}

// Server -> Client. Session lifecycle.
type SessionMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ClientName      string `json:"client_name,omitempty"`
	State           string `json:"state"`
}

const (
	TypeSubscribe = "SUBSCRIBE"
	TypePass      = "PASS"
	TypeSession   = "SESSION"

	StateStarted = "STARTED"
	StateEnded   = "ENDED"
)
