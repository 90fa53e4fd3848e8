package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

const (
	wavHeaderSize = 44
	// MIMETypeWAV is the content type of encoded clips.
	MIMETypeWAV = "audio/wav"
)

// Clip is a finished recording ready for transcription.
type Clip struct {
	Data     []byte
	MIMEType string
	PCMBytes int
	Duration time.Duration
}

// Size returns the encoded byte length.
func (c Clip) Size() int {
	return len(c.Data)
}

// EncodeWAV wraps s16 PCM in a canonical 44-byte RIFF header.
func EncodeWAV(pcm []byte, format Format) []byte {
	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := format.SampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	buf.Write(header)
	buf.Write(pcm)
	return buf.Bytes()
}
