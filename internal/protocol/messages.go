package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// RenderDistance caps the session below the server's configured value.
	RenderDistance int `json:"render_distance,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	TerrainParams   TerrainParams `json:"terrain_params"`
}

type TerrainParams struct {
	ChunkSize      int     `json:"chunk_size"`
	RenderDistance int     `json:"render_distance"`
	SeaLevel       float64 `json:"sea_level"`
	VertexStride   int     `json:"vertex_stride"`
	PositionOffset int     `json:"position_offset"`
	ColorOffset    int     `json:"color_offset"`
}

// VIEW (client -> server)
type ViewMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Frame           uint64     `json:"frame"`
	Position        [3]float32 `json:"position"`
	// Combined is projection*view*model in column-major order.
	Combined       [16]float32 `json:"combined"`
	RenderDistance int         `json:"render_distance,omitempty"`
}

// FRAME (server -> client)
type FrameMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Frame           uint64     `json:"frame"`
	Center          [2]int     `json:"center"`
	Retained        [][2]int   `json:"retained"`
	Added           []ChunkMsg `json:"added"`
	Removed         [][2]int   `json:"removed"`
	Stats           FrameStats `json:"stats"`
}

type ChunkMsg struct {
	CX          int        `json:"cx"`
	CZ          int        `json:"cz"`
	Center      [3]float32 `json:"center"`
	Digest      string     `json:"digest"`
	VertexCount int        `json:"vertex_count"`
	Encoding    string     `json:"encoding"`
	Data        string     `json:"data"`
}

type FrameStats struct {
	RenderDistance int   `json:"render_distance"`
	Candidates     int   `json:"candidates"`
	Culled         int   `json:"culled"`
	Generated      int   `json:"generated"`
	Evicted        int   `json:"evicted"`
	Loaded         int   `json:"loaded"`
	ElapsedUS      int64 `json:"elapsed_us"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	Frame           uint64 `json:"frame,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
