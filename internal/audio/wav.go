package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes the format of a decoded WAV buffer
type WAVInfo struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	NumFrames     int     `json:"num_frames"`
	Duration      float64 `json:"duration_seconds"`
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2) // 2 bytes per sample
	fileSize := 36 + dataSize            // data starts at offset 44

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     fileSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a PCM-16 WAV buffer into interleaved samples.
// Any channel count is accepted; callers are expected to downmix.
// Unknown chunks between "fmt " and "data" (LIST, cue, etc.) are skipped.
func DecodeWAV(data []byte) ([]int16, *WAVInfo, error) {
	if len(data) < 44 {
		return nil, nil, fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		fmtSeen    bool
		format     uint16
		channels   uint16
		sampleRate uint32
		bitDepth   uint16
	)

	// Walk the chunk list after the 12-byte RIFF header
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if chunkSize < 0 || body+chunkSize > len(data) {
			return nil, nil, fmt.Errorf("invalid WAV file: chunk %q overruns buffer", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", chunkSize)
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			bitDepth = binary.LittleEndian.Uint16(data[body+14 : body+16])
			fmtSeen = true

		case "data":
			if !fmtSeen {
				return nil, nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			if format != 1 {
				return nil, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format)
			}
			if bitDepth != 16 {
				return nil, nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", bitDepth)
			}
			if channels == 0 {
				return nil, nil, fmt.Errorf("invalid WAV file: zero channels")
			}
			if sampleRate == 0 {
				return nil, nil, fmt.Errorf("invalid WAV file: zero sample rate")
			}

			numSamples := chunkSize / 2 // 2 bytes per sample
			samples := make([]int16, numSamples)
			if err := binary.Read(bytes.NewReader(data[body:body+chunkSize]), binary.LittleEndian, samples); err != nil {
				return nil, nil, fmt.Errorf("failed to read audio samples: %w", err)
			}

			numFrames := numSamples / int(channels)
			info := &WAVInfo{
				SampleRate:    int(sampleRate),
				Channels:      int(channels),
				BitsPerSample: int(bitDepth),
				NumFrames:     numFrames,
				Duration:      float64(numFrames) / float64(sampleRate),
			}
			return samples, info, nil
		}

		// Chunks are word-aligned: odd sizes carry a pad byte
		offset = body + chunkSize + chunkSize%2
	}

	return nil, nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

// ValidateWAV checks whether a buffer carries a RIFF/WAVE signature
func ValidateWAV(data []byte) error {
	if len(data) < 44 {
		return fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	return nil
}
