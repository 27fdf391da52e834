// Package quant provides scalar vector quantization for memory-efficient
// indexing, with similarity computed directly on the quantized codes.
package quant

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Level selects the quantization precision. The memory/recall tradeoff is
// a deployment decision, configured rather than hardcoded.
type Level string

const (
	LevelNone Level = "none" // raw float32, 4 bytes/dim
	LevelInt8 Level = "int8" // 1 byte/dim
	LevelInt4 Level = "int4" // half a byte/dim
)

// ParseLevel parses a configuration string into a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelNone, LevelInt8, LevelInt4:
		return Level(s), nil
	case "":
		return LevelInt8, nil
	default:
		return "", fmt.Errorf("unknown quantization level %q", s)
	}
}

// Code is a quantized vector: packed components plus the per-vector affine
// parameters needed to score without reconstructing the full vector.
// Per-vector scale/offset keeps encoding deterministic and training-free.
type Code struct {
	Data   []byte
	Scale  float32
	Offset float32
	// sum of the raw integer components, precomputed for scoring
	compSum int64
}

// Quantizer encodes dense vectors and scores pairs of codes.
type Quantizer interface {
	Level() Level
	Dimension() int

	// Encode quantizes v. Deterministic: equal vectors yield equal codes.
	Encode(v []float32) Code

	// Decode reconstructs an approximation of the original vector.
	Decode(c Code) []float32

	// Score computes the approximate dot product of two codes without
	// decoding either. Inputs are expected to be L2-normalized before
	// encoding, making this an approximate cosine similarity.
	Score(a, b Code) float32
}

// New creates a quantizer for the given level and dimension.
func New(level Level, dim int) (Quantizer, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	switch level {
	case LevelNone:
		return &passthrough{dim: dim}, nil
	case LevelInt8:
		return &scalar{dim: dim, steps: 255, perByte: 1}, nil
	case LevelInt4:
		return &scalar{dim: dim, steps: 15, perByte: 2}, nil
	default:
		return nil, fmt.Errorf("unknown quantization level %q", level)
	}
}

// passthrough stores raw float32 components. Used when quantization is
// disabled.
type passthrough struct {
	dim int
}

func (p *passthrough) Level() Level   { return LevelNone }
func (p *passthrough) Dimension() int { return p.dim }

func (p *passthrough) Encode(v []float32) Code {
	data := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(x))
	}
	return Code{Data: data, Scale: 1}
}

func (p *passthrough) Decode(c Code) []float32 {
	out := make([]float32, len(c.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(c.Data[4*i:]))
	}
	return out
}

func (p *passthrough) Score(a, b Code) float32 {
	n := len(a.Data) / 4
	var dot float32
	for i := 0; i < n; i++ {
		x := math.Float32frombits(binary.LittleEndian.Uint32(a.Data[4*i:]))
		y := math.Float32frombits(binary.LittleEndian.Uint32(b.Data[4*i:]))
		dot += x * y
	}
	return dot
}

// scalar is fixed-point quantization with per-vector min/max calibration.
// For codes a, b with components ai, bi reconstructed as ai*sa+oa:
//
//	dot(a, b) = sa*sb*Σ(ai*bi) + sa*ob*Σai + sb*oa*Σbi + d*oa*ob
//
// Σai and Σbi are precomputed at encode time, so scoring is one pass over
// the integer components.
type scalar struct {
	dim     int
	steps   int // quantization steps per component
	perByte int // components packed per byte (1 or 2)
}

func (s *scalar) Level() Level {
	if s.perByte == 2 {
		return LevelInt4
	}
	return LevelInt8
}

func (s *scalar) Dimension() int { return s.dim }

func (s *scalar) Encode(v []float32) Code {
	lo, hi := v[0], v[0]
	for _, x := range v {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if hi == lo {
		hi = lo + 1
	}

	scale := (hi - lo) / float32(s.steps)
	inv := float32(s.steps) / (hi - lo)

	data := make([]byte, (len(v)+s.perByte-1)/s.perByte)
	var sum int64
	for i, x := range v {
		q := int((x-lo)*inv + 0.5)
		if q > s.steps {
			q = s.steps
		}
		sum += int64(q)
		if s.perByte == 2 {
			if i%2 == 0 {
				data[i/2] = byte(q)
			} else {
				data[i/2] |= byte(q) << 4
			}
		} else {
			data[i] = byte(q)
		}
	}

	return Code{Data: data, Scale: scale, Offset: lo, compSum: sum}
}

func (s *scalar) Decode(c Code) []float32 {
	out := make([]float32, s.dim)
	for i := 0; i < s.dim; i++ {
		out[i] = float32(s.component(c, i))*c.Scale + c.Offset
	}
	return out
}

func (s *scalar) Score(a, b Code) float32 {
	var prod int64
	if s.perByte == 2 {
		for i := range a.Data {
			prod += int64(a.Data[i]&0x0f) * int64(b.Data[i]&0x0f)
			prod += int64(a.Data[i]>>4) * int64(b.Data[i]>>4)
		}
	} else {
		for i := range a.Data {
			prod += int64(a.Data[i]) * int64(b.Data[i])
		}
	}

	d := float32(s.dim)
	return a.Scale*b.Scale*float32(prod) +
		a.Scale*b.Offset*float32(a.compSum) +
		b.Scale*a.Offset*float32(b.compSum) +
		d*a.Offset*b.Offset
}

func (s *scalar) component(c Code, i int) int {
	if s.perByte == 2 {
		b := c.Data[i/2]
		if i%2 == 0 {
			return int(b & 0x0f)
		}
		return int(b >> 4)
	}
	return int(c.Data[i])
}

// NormalizeL2 scales v in place to unit L2 norm. Returns false for a
// zero-norm vector, which cannot be normalized.
func NormalizeL2(v []float32) bool {
	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}
	if norm2 == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(norm2))
	for i := range v {
		v[i] *= inv
	}
	return true
}
