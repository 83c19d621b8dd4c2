package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"

	werrors "github.com/peregrinevm/peregrine/errors"
)

// Serialized artifacts share a small envelope: magic, format version,
// backend name, then the backend payload. The envelope pins an artifact
// to the backend that produced it.
const (
	envelopeMagic   uint32 = 0x4D565250 // "PRVM"
	envelopeVersion uint32 = 1
)

// EncodeEnvelope frames a backend payload for serialization.
func EncodeEnvelope(backend string, payload []byte) []byte {
	var buf bytes.Buffer
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], envelopeMagic)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], envelopeVersion)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(backend)))
	buf.Write(scratch[:])
	buf.WriteString(backend)
	buf.Write(payload)
	return buf.Bytes()
}

// IsEnvelope reports whether data starts with the artifact envelope
// magic, distinguishing serialized artifacts from raw wasm binaries.
func IsEnvelope(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data) == envelopeMagic
}

// DecodeEnvelope unframes serialized artifact data for the named
// backend. It fails when the magic, version or backend name do not
// match.
func DecodeEnvelope(backend string, data []byte) ([]byte, error) {
	if len(data) < 12 {
		return nil, NewDeserializeError(werrors.InvalidData(werrors.PhaseDeserialize,
			[]string{"envelope"}, "data too short"))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != envelopeMagic {
		return nil, NewDeserializeError(werrors.InvalidData(werrors.PhaseDeserialize,
			[]string{"envelope"}, fmt.Sprintf("bad magic 0x%08x", magic)))
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != envelopeVersion {
		return nil, NewDeserializeError(werrors.Unsupported(werrors.PhaseDeserialize,
			fmt.Sprintf("envelope version %d", v)))
	}
	nameLen := binary.LittleEndian.Uint32(data[8:])
	if uint64(12)+uint64(nameLen) > uint64(len(data)) {
		return nil, NewDeserializeError(werrors.InvalidData(werrors.PhaseDeserialize,
			[]string{"envelope"}, "truncated backend name"))
	}
	name := string(data[12 : 12+nameLen])
	if name != backend {
		return nil, NewDeserializeError(werrors.InvalidData(werrors.PhaseDeserialize,
			[]string{"envelope"},
			fmt.Sprintf("artifact was produced by backend %q, not %q", name, backend)))
	}
	return data[12+nameLen:], nil
}
