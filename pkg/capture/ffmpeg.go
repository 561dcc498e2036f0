package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callguard/pkg/audio"
	"callguard/pkg/errors"
)

// FFmpegConfig selects the platform input ffmpeg records from
type FFmpegConfig struct {
	Path       string // ffmpeg binary
	Format     string // input format, e.g. alsa, pulse, avfoundation, dshow
	Input      string // device name for the format
	SampleRate int
	BlockSize  int
}

// DefaultFFmpegConfig picks the usual microphone input for the running OS
func DefaultFFmpegConfig() FFmpegConfig {
	cfg := FFmpegConfig{
		Path:       "ffmpeg",
		SampleRate: audio.TargetSampleRate,
		BlockSize:  audio.BlockSize,
	}
	switch runtime.GOOS {
	case "linux":
		cfg.Format, cfg.Input = "alsa", "default"
	case "darwin":
		cfg.Format, cfg.Input = "avfoundation", ":0"
	case "windows":
		cfg.Format = "dshow"
	}
	return cfg
}

// FFmpegDevice records a microphone through an ffmpeg subprocess that writes
// raw mono float32 samples to stdout.
type FFmpegDevice struct {
	config FFmpegConfig
	logger *logrus.Logger
}

// NewFFmpegDevice creates a microphone device
func NewFFmpegDevice(config FFmpegConfig, logger *logrus.Logger) *FFmpegDevice {
	if config.Path == "" {
		config.Path = "ffmpeg"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = audio.TargetSampleRate
	}
	if config.BlockSize <= 0 {
		config.BlockSize = audio.BlockSize
	}
	return &FFmpegDevice{config: config, logger: logger}
}

// Name identifies the device in logs
func (d *FFmpegDevice) Name() string {
	return fmt.Sprintf("ffmpeg:%s:%s", d.config.Format, d.config.Input)
}

func (d *FFmpegDevice) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", d.config.Format,
		"-i", d.config.Input,
		"-ac", "1",
		"-ar", strconv.Itoa(d.config.SampleRate),
		"-f", "f32le",
		"pipe:1",
	}
}

// Acquire starts ffmpeg and waits for the first samples, which is the point
// where the operating system has granted the input.
func (d *FFmpegDevice) Acquire(ctx context.Context) (Source, error) {
	if d.config.Format == "" || d.config.Input == "" {
		return nil, errors.NewDeviceError(errors.DeviceUnsupported,
			fmt.Errorf("no capture input configured for %s", runtime.GOOS))
	}
	if _, err := exec.LookPath(d.config.Path); err != nil {
		return nil, errors.NewDeviceError(errors.DeviceUnsupported, err)
	}

	cmd := exec.Command(d.config.Path, d.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewDeviceError(errors.DeviceUnsupported, err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, errors.NewDeviceError(errors.DeviceUnsupported, fmt.Errorf("failed to start ffmpeg: %w", err))
	}

	src := &ffmpegSource{
		cmd:        cmd,
		reader:     bufio.NewReaderSize(stdout, d.config.BlockSize*4),
		stderr:     stderr,
		sampleRate: d.config.SampleRate,
		blockSize:  d.config.BlockSize,
	}

	ready := make(chan error, 1)
	go func() {
		_, err := src.reader.Peek(4)
		ready <- err
	}()

	select {
	case <-ctx.Done():
		src.Stop()
		return nil, ctx.Err()
	case err := <-ready:
		if err != nil {
			src.Stop()
			reason := classifyFFmpegError(stderr.String())
			return nil, errors.NewDeviceError(reason, fmt.Errorf("ffmpeg: %s", strings.TrimSpace(stderr.String())))
		}
	}

	d.logger.WithFields(logrus.Fields{
		"device":      d.Name(),
		"sample_rate": d.config.SampleRate,
	}).Info("Audio input acquired")
	return src, nil
}

// classifyFFmpegError maps ffmpeg's diagnostics onto device failure reasons
func classifyFFmpegError(stderr string) errors.DeviceReason {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not authorized"):
		return errors.DeviceDenied
	case strings.Contains(msg, "device or resource busy"):
		return errors.DeviceBusy
	case strings.Contains(msg, "unknown input format"):
		return errors.DeviceUnsupported
	default:
		return errors.DeviceNotFound
	}
}

type ffmpegSource struct {
	cmd        *exec.Cmd
	reader     *bufio.Reader
	stderr     *syncBuffer
	sampleRate int
	blockSize  int

	stopOnce sync.Once
	mu       sync.Mutex
	stopped  bool
}

func (s *ffmpegSource) SampleRate() int {
	return s.sampleRate
}

func (s *ffmpegSource) ReadBlock(ctx context.Context) ([]float32, error) {
	buf := make([]byte, s.blockSize*4)
	n, err := io.ReadFull(s.reader, buf)
	if n >= 4 {
		return audio.DecodeFloat32LE(buf[:n]), nil
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, ErrStopped
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err == io.EOF {
		// the process died under us; the device went away
		return nil, errors.NewDeviceError(classifyFFmpegError(s.stderr.String()), fmt.Errorf("ffmpeg exited: %s", strings.TrimSpace(s.stderr.String())))
	}
	return nil, err
}

// Stop kills ffmpeg, which closes the input device
func (s *ffmpegSource) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		// exit status is always non-zero after a kill
		s.cmd.Wait()
	})
	return nil
}

// syncBuffer is a bytes.Buffer safe for the exec copier and readers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
