package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

const (
	// TargetSampleRate is the rate the model session expects
	TargetSampleRate = 16000

	// BlockSize is the number of samples captured per outbound frame
	BlockSize = 4096
)

// Blob is one encoded audio frame as carried in a realtime input message.
type Blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// PCMMimeType returns the MIME descriptor for 16-bit PCM at the given rate
func PCMMimeType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// EncodeFrame converts float samples in [-1,1] to base64 16-bit little-endian PCM
// tagged for TargetSampleRate. Samples are scaled by 32768 without clamping; a
// full-scale positive sample wraps the same way an Int16Array store does.
func EncodeFrame(samples []float32) Blob {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(int32(s*32768))))
	}
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(buf),
		MIMEType: PCMMimeType(TargetSampleRate),
	}
}

// DecodeFrame reverses EncodeFrame's byte layout, returning the raw 16-bit samples.
func DecodeFrame(b Blob) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid frame payload: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("odd frame length %d", len(raw))
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return out, nil
}
