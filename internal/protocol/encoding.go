package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// EncodingF32LEB64 is little-endian float32 vertex data, base64 (std) encoded.
const EncodingF32LEB64 = "F32LE_B64"

func EncodeVertices(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func DecodeVertices(encoding, data string) ([]float32, error) {
	if encoding != EncodingF32LEB64 {
		return nil, fmt.Errorf("protocol: unsupported vertex encoding %q", encoding)
	}
	buf, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("protocol: vertex data: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("protocol: vertex data length %d not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}

func DigestHex(d [32]byte) string { return hex.EncodeToString(d[:]) }
