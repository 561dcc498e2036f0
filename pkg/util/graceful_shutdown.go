// Package util holds process lifecycle helpers shared by the commands.
package util

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GracefulShutdown tears down registered resources in priority order.
// Resources with the same priority are shut down together; the next
// priority starts only after the previous one finished or timed out.
type GracefulShutdown struct {
	resources []ShutdownResource
	mu        sync.Mutex
	logger    *logrus.Logger
	timeout   time.Duration
}

// ShutdownResource represents a resource that needs graceful shutdown
type ShutdownResource struct {
	Name     string
	Shutdown func(context.Context) error
	Priority int // Lower numbers shut down first
}

// NewGracefulShutdown creates a new graceful shutdown manager. timeout
// bounds the whole shutdown, not each resource.
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a resource to be shut down
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.resources = append(gs.resources, resource)
	// stable, so registration order is kept within a priority
	sort.SliceStable(gs.resources, func(i, j int) bool {
		return gs.resources[i].Priority < gs.resources[j].Priority
	})

	gs.logger.WithFields(logrus.Fields{
		"resource": resource.Name,
		"priority": resource.Priority,
	}).Debug("Registered resource for graceful shutdown")
}

// RegisterFunc registers a shutdown step that cannot fail
func (gs *GracefulShutdown) RegisterFunc(name string, priority int, fn func(context.Context)) {
	gs.Register(ShutdownResource{
		Name:     name,
		Priority: priority,
		Shutdown: func(ctx context.Context) error {
			fn(ctx)
			return nil
		},
	})
}

// Shutdown shuts down all registered resources. Every resource is attempted;
// the returned error joins every failure.
// Stages that would start after the deadline are reported as timed out.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	gs.logger.WithField("resource_count", len(resources)).Info("Starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var errs []error
	for start := 0; start < len(resources); {
		end := start
		for end < len(resources) && resources[end].Priority == resources[start].Priority {
			end++
		}
		if shutdownCtx.Err() != nil {
			// out of time, later stages are not attempted
			for _, res := range resources[start:end] {
				errs = append(errs, &ShutdownTimeoutError{Resource: res.Name})
			}
		} else {
			errs = append(errs, gs.shutdownStage(shutdownCtx, resources[start:end])...)
		}
		start = end
	}

	if len(errs) > 0 {
		return &MultiShutdownError{Errors: errs}
	}

	gs.logger.Info("Graceful shutdown completed successfully")
	return nil
}

func (gs *GracefulShutdown) shutdownStage(ctx context.Context, stage []ShutdownResource) []error {
	errChan := make(chan error, len(stage))

	for _, resource := range stage {
		gs.logger.WithField("resource", resource.Name).Debug("Shutting down resource")

		go func(res ShutdownResource) {
			done := make(chan error, 1)

			go func() {
				defer func() {
					if r := recover(); r != nil {
						gs.logger.WithFields(logrus.Fields{
							"panic":    r,
							"resource": res.Name,
						}).Error("Panic during resource shutdown")
						done <- &ShutdownPanicError{Resource: res.Name, Panic: r}
					}
				}()
				done <- res.Shutdown(ctx)
			}()

			select {
			case err := <-done:
				if err != nil {
					var panicErr *ShutdownPanicError
					if !errors.As(err, &panicErr) {
						gs.logger.WithError(err).WithField("resource", res.Name).Error("Error shutting down resource")
						err = &ShutdownError{Resource: res.Name, Err: err}
					}
					errChan <- err
					return
				}
				gs.logger.WithField("resource", res.Name).Debug("Resource shut down successfully")
				errChan <- nil
			case <-ctx.Done():
				gs.logger.WithField("resource", res.Name).Warn("Shutdown timeout for resource")
				errChan <- &ShutdownTimeoutError{Resource: res.Name}
			}
		}(resource)
	}

	var errs []error
	for range stage {
		if err := <-errChan; err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ShutdownError is a resource that failed to shut down
type ShutdownError struct {
	Resource string
	Err      error
}

func (e *ShutdownError) Error() string {
	return "shutdown error for " + e.Resource + ": " + e.Err.Error()
}

func (e *ShutdownError) Unwrap() error { return e.Err }

// ShutdownTimeoutError is a resource still shutting down when time ran out
type ShutdownTimeoutError struct {
	Resource string
}

func (e *ShutdownTimeoutError) Error() string {
	return "shutdown timeout for " + e.Resource
}

// ShutdownPanicError is a resource whose shutdown panicked
type ShutdownPanicError struct {
	Resource string
	Panic    interface{}
}

func (e *ShutdownPanicError) Error() string {
	return "panic during shutdown of " + e.Resource
}

// MultiShutdownError collects every shutdown failure
type MultiShutdownError struct {
	Errors []error
}

func (e *MultiShutdownError) Error() string {
	return errors.Join(e.Errors...).Error()
}

func (e *MultiShutdownError) Unwrap() []error { return e.Errors }
