package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// WAVReader streams mono float frames out of a 16-bit PCM WAV file.
type WAVReader struct {
	file          *os.File
	SampleRate    int
	Channels      int
	BitsPerSample int

	dataOffset int64
	dataSize   int64
	bytesRead  int64
}

// OpenWAV opens a WAV file for streaming reads
func OpenWAV(path string) (*WAVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	reader := &WAVReader{file: f}
	if err := reader.parseHeader(); err != nil {
		f.Close()
		return nil, fmt.Errorf("invalid WAV file %s: %w", path, err)
	}
	return reader, nil
}

func (wr *WAVReader) parseHeader() error {
	header := make([]byte, 12)
	if _, err := io.ReadFull(wr.file, header); err != nil {
		return err
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return fmt.Errorf("missing RIFF/WAVE header")
	}

	var fmtFound, dataFound bool
	for !fmtFound || !dataFound {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(wr.file, chunkHeader); err != nil {
			return err
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return fmt.Errorf("fmt chunk too short: %d", chunkSize)
			}
			fmtChunk := make([]byte, chunkSize)
			if _, err := io.ReadFull(wr.file, fmtChunk); err != nil {
				return err
			}
			if format := binary.LittleEndian.Uint16(fmtChunk[0:2]); format != 1 {
				return fmt.Errorf("unsupported audio format: %d", format)
			}
			wr.Channels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			wr.SampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			wr.BitsPerSample = int(binary.LittleEndian.Uint16(fmtChunk[14:16]))
			if wr.BitsPerSample != 16 {
				return fmt.Errorf("unsupported bits per sample: %d", wr.BitsPerSample)
			}
			if wr.Channels < 1 {
				return fmt.Errorf("invalid channel count: %d", wr.Channels)
			}
			fmtFound = true
		case "data":
			wr.dataOffset, _ = wr.file.Seek(0, io.SeekCurrent)
			wr.dataSize = chunkSize
			if _, err := wr.file.Seek(chunkSize, io.SeekCurrent); err != nil {
				return err
			}
			dataFound = true
		default:
			if _, err := wr.file.Seek(chunkSize, io.SeekCurrent); err != nil {
				return err
			}
		}
	}

	_, err := wr.file.Seek(wr.dataOffset, io.SeekStart)
	return err
}

// Duration returns the playing time of the data chunk
func (wr *WAVReader) Duration() time.Duration {
	bytesPerFrame := int64(wr.Channels * wr.BitsPerSample / 8)
	if bytesPerFrame == 0 || wr.SampleRate == 0 {
		return 0
	}
	frames := wr.dataSize / bytesPerFrame
	return time.Duration(frames) * time.Second / time.Duration(wr.SampleRate)
}

// ReadFrames reads up to maxFrames frames and returns them downmixed to mono
// floats. Returns io.EOF when no frames remain.
func (wr *WAVReader) ReadFrames(maxFrames int) ([]float32, error) {
	if maxFrames <= 0 {
		maxFrames = BlockSize
	}

	bytesPerFrame := wr.Channels * (wr.BitsPerSample / 8)
	remaining := int((wr.dataSize - wr.bytesRead) / int64(bytesPerFrame))
	if remaining <= 0 {
		return nil, io.EOF
	}
	if maxFrames > remaining {
		maxFrames = remaining
	}

	buf := make([]byte, maxFrames*bytesPerFrame)
	n, err := io.ReadFull(wr.file, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	wr.bytesRead += int64(n)

	frames := n / bytesPerFrame
	pcm := make([]int16, frames*wr.Channels)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return DownmixInterleaved(Int16ToFloat32(pcm), wr.Channels), nil
}

// Close closes the underlying file
func (wr *WAVReader) Close() error {
	if wr.file == nil {
		return nil
	}
	err := wr.file.Close()
	wr.file = nil
	return err
}

// WriteWAV writes mono 16-bit PCM samples as a WAV stream.
func WriteWAV(w io.Writer, samples []int16, sampleRate int) error {
	dataSize := uint32(len(samples) * 2)
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := w.Write(header); err != nil {
		return err
	}
	body := make([]byte, dataSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(body[2*i:], uint16(s))
	}
	_, err := w.Write(body)
	return err
}
