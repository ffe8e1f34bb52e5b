package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVInfo holds the format metadata extracted from a RIFF/WAVE container.
type WAVInfo struct {
	DataOffset int // byte offset of the first PCM sample
	DataLen    int // length of the PCM payload in bytes
	SampleRate int // samples per second (e.g., 22050, 48000)
	Channels   int // 1 = mono, 2 = stereo
}

// ParseWAV scans the RIFF/WAVE container in wav and returns the data location
// and audio format from the "fmt " sub-chunk. Walking the chunk list is more
// robust than assuming a fixed 44-byte header because the fmt chunk size may
// vary between encoders.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV data too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV data missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV data missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	// Walk RIFF chunks starting after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataLen = min(chunkSize, len(wav)-info.DataOffset)
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if the size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV data missing data chunk")
}

// EncodeWAV wraps raw 16-bit little-endian PCM in a minimal RIFF/WAVE
// container. channels must be 1 or 2 and the PCM length must align to whole
// samples, otherwise an error is returned.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	if len(pcm) == 0 || len(pcm)%(2*channels) != 0 {
		return nil, fmt.Errorf("audio: PCM length %d does not align to %d-channel int16 samples", len(pcm), channels)
	}

	const headerLen = 44
	out := make([]byte, headerLen+len(pcm))

	blockAlign := 2 * channels
	byteRate := sampleRate * blockAlign

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM format tag
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)

	return out, nil
}
