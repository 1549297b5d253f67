package helper

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"strconv"
	"strings"
)

var ErrBadEmbedding = errors.New("embedding is not base64 float32 or comma separated numbers")

// EncodeEmbedding packs v as little-endian float32 and base64 encodes it. This is the
// shape enrolled samples are stored in.
func EncodeEmbedding(v []float64) string {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(x)))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeEmbedding reverses EncodeEmbedding. Older clients wrote plain "0.1,0.2,..."
// text, which is accepted as a fallback.
func DecodeEmbedding(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrBadEmbedding
	}
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil && len(raw) > 0 && len(raw)%4 == 0 {
		out := make([]float64, len(raw)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
		}
		return out, nil
	}

	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, ErrBadEmbedding
		}
		out[i] = f
	}
	return out, nil
}
