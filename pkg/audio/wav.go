package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	wavFormatPCM   uint16 = 1
	wavFormatMulaw uint16 = 7
)

// wavHeader is the canonical 44-byte RIFF header.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WAVHeader encodes a RIFF header for an open-ended stream in format f.
// Data sizes are left at zero since the stream length is not known.
func WAVHeader(f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var tag uint16
	switch f.Encoding {
	case EncodingLinear16:
		tag = wavFormatPCM
	case EncodingMulaw:
		tag = wavFormatMulaw
	default:
		return nil, fmt.Errorf("no wav format tag for %q", f.Encoding)
	}
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   tag,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.ByteRate()),
		BlockAlign:    uint16(f.Channels * f.BitDepth / 8),
		BitsPerSample: uint16(f.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
	}
	buf := bytes.NewBuffer(make([]byte, 0, 44))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return buf.Bytes(), nil
}
