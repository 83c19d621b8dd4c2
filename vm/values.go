package vm

import "math"

// RawI32 encodes a signed 32-bit value as a raw word.
func RawI32(v int32) uint64 {
	return uint64(uint32(v))
}

// RawI64 encodes a signed 64-bit value as a raw word.
func RawI64(v int64) uint64 {
	return uint64(v)
}

// RawF32 encodes a 32-bit float as its bit pattern.
func RawF32(v float32) uint64 {
	return uint64(math.Float32bits(v))
}

// RawF64 encodes a 64-bit float as its bit pattern.
func RawF64(v float64) uint64 {
	return math.Float64bits(v)
}

// AsI32 decodes a raw word as a signed 32-bit value.
func AsI32(raw uint64) int32 {
	return int32(uint32(raw))
}

// AsI64 decodes a raw word as a signed 64-bit value.
func AsI64(raw uint64) int64 {
	return int64(raw)
}

// AsF32 decodes a raw word as a 32-bit float.
func AsF32(raw uint64) float32 {
	return math.Float32frombits(uint32(raw))
}

// AsF64 decodes a raw word as a 64-bit float.
func AsF64(raw uint64) float64 {
	return math.Float64frombits(raw)
}
