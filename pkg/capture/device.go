// Package capture acquires audio input devices and runs the processing chain
// that turns their output into fixed-size 16 kHz blocks.
package capture

import (
	"context"
	"errors"
)

// ErrStopped is returned by a source that was released while being read
var ErrStopped = errors.New("capture source stopped")

// Device grants exclusive access to an audio input
type Device interface {
	// Acquire blocks until the input is open or has failed. Failures are
	// device errors from pkg/errors. Cancelling ctx abandons the attempt and
	// releases anything opened so far.
	Acquire(ctx context.Context) (Source, error)
	Name() string
}

// Source is an acquired input delivering mono float samples in [-1,1].
type Source interface {
	SampleRate() int
	// ReadBlock returns the next chunk of samples. io.EOF marks a finite
	// source running out; ErrStopped follows Stop.
	ReadBlock(ctx context.Context) ([]float32, error)
	// Stop releases the device. Safe to call more than once.
	Stop() error
}
