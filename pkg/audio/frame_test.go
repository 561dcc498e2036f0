package audio

import (
	"bytes"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	blob := EncodeFrame([]float32{0, 0.5, -0.5, -1, 0.25})
	assert.Equal(t, "audio/pcm;rate=16000", blob.MIMEType)

	raw, err := base64.StdEncoding.DecodeString(blob.Data)
	require.NoError(t, err)
	assert.Len(t, raw, 10, "two bytes per sample")

	// 0.5*32768 = 16384 = 0x4000, little endian
	assert.Equal(t, []byte{0x00, 0x40}, raw[2:4])

	samples, err := DecodeFrame(blob)
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 16384, -16384, -32768, 8192}, samples)
}

func TestEncodeFrameFullScaleWraps(t *testing.T) {
	samples, err := DecodeFrame(EncodeFrame([]float32{1}))
	require.NoError(t, err)
	assert.Equal(t, int16(-32768), samples[0])
}

func TestEncodeFrameEmpty(t *testing.T) {
	blob := EncodeFrame(nil)
	assert.Empty(t, blob.Data)
	assert.Equal(t, PCMMimeType(16000), blob.MIMEType)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := DecodeFrame(Blob{Data: "!!!"})
	assert.Error(t, err)

	_, err = DecodeFrame(Blob{Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})})
	assert.Error(t, err)
}

func TestResamplerIdentity(t *testing.T) {
	r := NewResampler(16000, 16000)
	in := []float32{0.1, 0.2, 0.3}
	assert.Equal(t, in, r.Process(in))
}

func TestResamplerDownsample(t *testing.T) {
	r := NewResampler(32000, 16000)
	in := make([]float32, 4096)
	for i := range in {
		in[i] = float32(i)
	}

	out := r.Process(in)
	assert.Len(t, out, 2048)
	assert.Equal(t, float32(0), out[0])
	assert.Equal(t, float32(2), out[1])

	// phase carries over into the next block
	next := r.Process([]float32{4096, 4097, 4098, 4099})
	assert.Equal(t, []float32{4096, 4098}, next)
}

func TestResamplerUpsampleInterpolates(t *testing.T) {
	r := NewResampler(8000, 16000)
	out := r.Process([]float32{0, 1})
	require.Len(t, out, 3)
	assert.InDelta(t, 0.5, out[1], 1e-6)
}

func TestDownmixInterleaved(t *testing.T) {
	assert.Equal(t, []float32{0.5, 0}, DownmixInterleaved([]float32{1, 0, 0.5, -0.5}, 2))
	mono := []float32{0.3}
	assert.Equal(t, mono, DownmixInterleaved(mono, 1))
}

func TestDecodeFloat32LE(t *testing.T) {
	// 1.0 and -0.5 as IEEE 754 little endian
	raw := []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0xbf, 0xff}
	assert.Equal(t, []float32{1, -0.5}, DecodeFloat32LE(raw))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, []float32{1, -1, 0.5}, Clamp([]float32{1.5, -2, 0.5}))
}

func TestWAVReaderRoundTrip(t *testing.T) {
	samples := make([]int16, 5000)
	for i := range samples {
		samples[i] = int16(i % 100)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, samples, 16000))

	path := filepath.Join(t.TempDir(), "call.wav")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	reader, err := OpenWAV(path)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, 16000, reader.SampleRate)
	assert.Equal(t, 1, reader.Channels)
	assert.InDelta(t, 0.3125, reader.Duration().Seconds(), 1e-9)

	first, err := reader.ReadFrames(BlockSize)
	require.NoError(t, err)
	assert.Len(t, first, BlockSize)
	assert.InDelta(t, float64(1)/32768, first[1], 1e-9)

	rest, err := reader.ReadFrames(BlockSize)
	require.NoError(t, err)
	assert.Len(t, rest, 5000-BlockSize)

	_, err = reader.ReadFrames(BlockSize)
	assert.Equal(t, io.EOF, err)
}

func TestOpenWAVRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0o644))

	_, err := OpenWAV(path)
	assert.Error(t, err)
}
