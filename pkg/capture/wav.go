package capture

import (
	"context"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callguard/pkg/audio"
	"callguard/pkg/errors"
)

// WAVDevice replays a recorded call as if it were a live microphone. Blocks
// are paced at the file's real playing speed unless Realtime is false.
type WAVDevice struct {
	Path      string
	Realtime  bool
	BlockSize int
	logger    *logrus.Logger
}

// NewWAVDevice creates a replay device for the given file
func NewWAVDevice(path string, realtime bool, logger *logrus.Logger) *WAVDevice {
	return &WAVDevice{Path: path, Realtime: realtime, BlockSize: audio.BlockSize, logger: logger}
}

// Name identifies the device in logs
func (d *WAVDevice) Name() string {
	return "wav:" + d.Path
}

// Acquire opens the file
func (d *WAVDevice) Acquire(ctx context.Context) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader, err := audio.OpenWAV(d.Path)
	if err != nil {
		switch {
		case errors.IsErrorType(err, fs.ErrNotExist):
			return nil, errors.NewDeviceError(errors.DeviceNotFound, err)
		case errors.IsErrorType(err, fs.ErrPermission):
			return nil, errors.NewDeviceError(errors.DeviceDenied, err)
		default:
			return nil, errors.NewDeviceError(errors.DeviceUnsupported, err)
		}
	}

	blockSize := d.BlockSize
	if blockSize <= 0 {
		blockSize = audio.BlockSize
	}

	d.logger.WithFields(logrus.Fields{
		"file":        d.Path,
		"sample_rate": reader.SampleRate,
		"channels":    reader.Channels,
		"duration":    reader.Duration().String(),
	}).Info("Replay input acquired")

	return &wavSource{
		reader:    reader,
		realtime:  d.Realtime,
		blockSize: blockSize,
		interval:  time.Duration(blockSize) * time.Second / time.Duration(reader.SampleRate),
		stop:      make(chan struct{}),
	}, nil
}

type wavSource struct {
	reader    *audio.WAVReader
	realtime  bool
	blockSize int
	interval  time.Duration
	next      time.Time

	mu       sync.Mutex
	stopped  bool
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *wavSource) SampleRate() int {
	return s.reader.SampleRate
}

func (s *wavSource) ReadBlock(ctx context.Context) ([]float32, error) {
	if s.realtime {
		if s.next.IsZero() {
			s.next = time.Now()
		}
		s.next = s.next.Add(s.interval)
		timer := time.NewTimer(time.Until(s.next))
		select {
		case <-timer.C:
		case <-s.stop:
			timer.Stop()
			return nil, ErrStopped
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	block, err := s.reader.ReadFrames(s.blockSize)
	if err == io.EOF {
		return nil, io.EOF
	}
	return block, err
}

func (s *wavSource) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped = true
		err = s.reader.Close()
	})
	return err
}
