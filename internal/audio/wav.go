package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type riffHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	SubchunkID    [4]byte
	SubchunkSize  uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

const riffHeaderSize = 44

// EncodeWAV frames raw PCM bytes in a canonical 44-byte RIFF/WAVE header so
// providers that sniff containers accept the window.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	channels := max(f.Channels, 1)
	h := riffHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(riffHeaderSize - 8 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		SubchunkID:    [4]byte{'f', 'm', 't', ' '},
		SubchunkSize:  16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.BytesPerSecond()),
		BlockAlign:    uint16(channels * BytesPerSample),
		BitsPerSample: BytesPerSample * 8,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, riffHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// IsWAV reports whether data already starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
