// Package session runs live analysis sessions: it owns the capture device and
// the model stream for the lifetime of one session and keeps the observable
// analysis, transcript and risk timeline.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"callguard/pkg/analysis"
	"callguard/pkg/audio"
	"callguard/pkg/capture"
	"callguard/pkg/errors"
	"callguard/pkg/history"
	"callguard/pkg/live"
	"callguard/pkg/metrics"
	"callguard/pkg/telemetry/tracing"
	"callguard/pkg/transcript"
)

// Stop reasons reported to metrics and traces
const (
	ReasonUserStop     = "user_stop"
	ReasonStreamError  = "stream_error"
	ReasonServerClosed = "server_closed"
	ReasonDialFailed   = "dial_failed"
	ReasonDeviceError  = "device_error"
	ReasonCaptureEnded = "capture_ended"
)

// Config holds controller settings
type Config struct {
	// Model is the live model name
	Model string
	// SampleRate and BlockSize shape the frames sent to the model
	SampleRate int
	BlockSize  int
	// StopTimeout bounds the history write and the stream close during teardown
	StopTimeout time.Duration
}

// DefaultConfig returns the settings the model expects
func DefaultConfig() Config {
	return Config{
		Model:       live.DefaultModel,
		SampleRate:  audio.TargetSampleRate,
		BlockSize:   audio.BlockSize,
		StopTimeout: 5 * time.Second,
	}
}

// ControllerOption customizes a Controller
type ControllerOption func(*Controller)

// WithClock replaces time.Now
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator replaces the session ID generator
func WithIDGenerator(newID func() string) ControllerOption {
	return func(c *Controller) { c.newID = newID }
}

// WithObserver registers an observer
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// resources are the handles held by one session. They exist only outside Idle.
type resources struct {
	id       string
	cancel   context.CancelFunc
	scope    *tracing.SessionScope
	log      *logrus.Entry
	source   capture.Source
	stream   Stream
	pipeline *capture.Pipeline
	opened   func()
	endTimer func(reason string)
}

// Controller is the live analysis state machine: Idle → Starting → Active → Idle.
type Controller struct {
	device    capture.Device
	dialer    Dialer
	store     history.Store
	config    Config
	logger    *logrus.Logger
	now       func() time.Time
	newID     func() string
	observers []Observer

	// notifyMu keeps observer callbacks ordered
	notifyMu sync.Mutex

	mu         sync.Mutex
	state      State
	stopping   bool
	generation uint64
	sessionID  string
	startedAt  time.Time
	analysis   analysis.DetailedAnalysis
	transcript *transcript.Assembler
	timeline   []analysis.TimelinePoint
	alert      bool
	lastError  string
	res        *resources
}

// NewController creates an idle controller
func NewController(device capture.Device, dialer Dialer, store history.Store, config Config, logger *logrus.Logger, opts ...ControllerOption) *Controller {
	defaults := DefaultConfig()
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.SampleRate <= 0 {
		config.SampleRate = defaults.SampleRate
	}
	if config.BlockSize <= 0 {
		config.BlockSize = defaults.BlockSize
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = defaults.StopTimeout
	}

	c := &Controller{
		device:   device,
		dialer:   dialer,
		store:    store,
		config:   config,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		analysis: analysis.Standby(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transcript = transcript.NewAssembler(c.now)

	logger.WithFields(logrus.Fields{
		"device":      device.Name(),
		"model":       config.Model,
		"sample_rate": config.SampleRate,
		"block_size":  config.BlockSize,
	}).Info("Session controller initialized")

	return c
}

// Start begins a new session. It returns once the audio device is acquired;
// the model stream opens in the background and the session turns Active when
// the model confirms it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return errors.Wrap(errors.ErrSessionActive, "session start rejected", map[string]interface{}{
			"state": state.String(),
		})
	}

	c.generation++
	gen := c.generation
	id := c.newID()

	sessionCtx, cancel := context.WithCancel(context.Background())
	scope := tracing.StartSession(sessionCtx, id, attribute.String("device", c.device.Name()))
	res := &resources{
		id:     id,
		cancel: cancel,
		scope:  scope,
		log:    c.logger.WithField("session_id", id),
	}

	c.state = StateStarting
	c.sessionID = id
	c.startedAt = c.now()
	c.analysis = analysis.Standby()
	c.transcript.Reset()
	c.timeline = nil
	c.alert = false
	c.lastError = ""
	c.res = res
	c.mu.Unlock()

	metrics.RecordSessionStart(c.device.Name())
	res.log.WithField("device", c.device.Name()).Info("Starting analysis session")
	c.notify()

	// Stop cancels the session context; the caller may also give up
	acquireCtx, acquireCancel := context.WithCancel(scope.Context())
	release := context.AfterFunc(ctx, acquireCancel)
	source, err := c.device.Acquire(acquireCtx)
	release()
	acquireCancel()

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		if source != nil {
			if stopErr := source.Stop(); stopErr != nil {
				res.log.WithError(stopErr).Warn("Failed to release audio device")
			}
			res.log.Info("Released audio device acquired after stop")
		}
		return errors.Wrap(errors.ErrAborted, "session stopped while acquiring the audio device")
	}

	if err != nil {
		c.state = StateIdle
		c.lastError = errors.UserMessage(err)
		c.res = nil
		c.mu.Unlock()

		reason, _ := errors.GetDeviceReason(err)
		metrics.RecordDeviceError(string(reason))
		metrics.RecordSessionEnd(ReasonDeviceError)
		scope.End(ReasonDeviceError, err)
		cancel()

		res.log.WithError(err).WithField("reason", reason).Warn("Audio device unavailable")
		c.notify()
		return err
	}

	res.source = source
	res.opened = metrics.ObserveStreamOpen()
	c.mu.Unlock()

	scope.AddEvent("device.acquired", attribute.Int("sample_rate", source.SampleRate()))
	res.log.WithField("sample_rate", source.SampleRate()).Info("Audio device acquired")

	go c.open(scope.Context(), gen, res)
	return nil
}

// open dials the model and then becomes the session's dispatch goroutine
func (c *Controller) open(ctx context.Context, gen uint64, res *resources) {
	stream, err := c.dialer.Dial(ctx, res.id, live.AnalysisSetup(c.config.Model))

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		if stream != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), c.config.StopTimeout)
			defer cancel()
			if closeErr := stream.Close(closeCtx); closeErr != nil {
				res.log.WithError(closeErr).Debug("Error closing stream opened after stop")
			}
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		res.log.WithError(err).Warn("Failed to open analysis stream")
		c.stopSession(context.Background(), gen, ReasonDialFailed, errors.NewServiceError("failed to open analysis stream", err))
		return
	}
	res.stream = stream
	c.mu.Unlock()

	res.scope.AddEvent("stream.dialed")
	c.dispatch(ctx, gen, res, stream)
}

// dispatch handles inbound events in delivery order until the session ends
func (c *Controller) dispatch(ctx context.Context, gen uint64, res *resources, stream Stream) {
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				ev = live.Event{Kind: live.EventStreamClosed}
			}
			if !c.handle(gen, res, stream, ev) || !ok {
				return
			}
		}
	}
}

// handle applies one event and reports whether the session continues
func (c *Controller) handle(gen uint64, res *resources, stream Stream, ev live.Event) bool {
	switch ev.Kind {
	case live.EventOpened:
		c.onOpened(gen, res, stream)
	case live.EventToolCall:
		c.onToolCall(gen, res, stream, ev.Calls)
	case live.EventTranscriptDelta:
		c.onTranscriptDelta(gen, ev.Text)
	case live.EventTurnComplete:
		c.onTurnComplete(gen)
	case live.EventStreamError:
		res.log.WithError(ev.Err).Warn("Analysis stream failed")
		c.stopSession(context.Background(), gen, ReasonStreamError, errors.NewServiceError("analysis stream failed", ev.Err))
		return false
	case live.EventStreamClosed:
		res.log.Info("Analysis stream closed by server")
		c.stopSession(context.Background(), gen, ReasonServerClosed, nil)
		return false
	}
	return true
}

func (c *Controller) onOpened(gen uint64, res *resources, stream Stream) {
	c.mu.Lock()
	if c.generation != gen || c.state != StateStarting {
		c.mu.Unlock()
		return
	}
	c.state = StateActive
	res.endTimer = metrics.StartSessionTimer()

	// onEnd runs on the pipeline goroutine, which teardown waits for
	res.pipeline = capture.NewPipeline(res.source, c.config.SampleRate, c.config.BlockSize,
		func(block []float32) { c.sendFrame(stream, block) },
		func(err error) { go c.captureEnded(gen, err) },
		res.log)
	res.pipeline.Start()
	c.mu.Unlock()

	res.opened()
	res.scope.AddEvent("stream.opened")
	res.log.Info("Analysis session active")
	c.notify()
}

// sendFrame encodes a block and enqueues it without waiting on the network
func (c *Controller) sendFrame(stream Stream, block []float32) {
	if err := stream.SendAudio(audio.EncodeFrame(block)); err != nil {
		metrics.RecordAudioFrame("dropped", 0)
		return
	}
	metrics.RecordAudioFrame("ok", len(block)*2)
}

func (c *Controller) captureEnded(gen uint64, err error) {
	if err == nil {
		c.stopSession(context.Background(), gen, ReasonCaptureEnded, nil)
		return
	}
	if !errors.IsErrorType(err, errors.ErrDevice) {
		err = errors.NewDeviceError(errors.DeviceNotFound, err)
	}
	c.stopSession(context.Background(), gen, ReasonDeviceError, err)
}

func (c *Controller) onToolCall(gen uint64, res *resources, stream Stream, calls []live.FunctionCall) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}

	acks := make([]live.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		acks = append(acks, live.Acknowledge(call))
	}

	// reports only count once the model has confirmed the session
	if state := c.state; state != StateActive {
		c.mu.Unlock()
		res.log.WithField("state", state.String()).Warn("Ignoring analysis report before session is active")
		c.acknowledge(res, stream, acks)
		return
	}

	// a report ends whatever the caller was saying
	c.transcript.TurnComplete()

	var scores []float64
	var raised *analysis.DetailedAnalysis
	for _, call := range calls {
		if call.Name != analysis.ReportFunctionName {
			res.log.WithField("function", call.Name).Warn("Ignoring unknown tool call")
			continue
		}
		report, err := analysis.ParseReport(call.Args)
		if err != nil {
			res.log.WithError(err).WithField("call_id", call.ID).Warn("Discarding malformed analysis report")
			continue
		}

		now := c.now()
		c.analysis = report.Analysis()
		c.timeline = append(c.timeline, analysis.TimelinePoint{
			Timestamp: now.Format(analysis.ClockFormat),
			RiskScore: c.analysis.AggregateScore,
			Time:      c.elapsed(now),
		})
		scores = append(scores, c.analysis.AggregateScore)

		if !c.alert && analysis.ShouldAlert(c.analysis.AggregateScore) {
			c.alert = true
			a := c.analysis.Clone()
			raised = &a
		}
	}
	id := c.sessionID
	c.mu.Unlock()

	c.acknowledge(res, stream, acks)

	for _, score := range scores {
		metrics.RecordReport(score)
		res.scope.AddEvent("report", attribute.Float64("aggregate_score", score))
		res.log.WithFields(logrus.Fields{
			"aggregate_score": score,
			"risk_level":      analysis.Level(score),
		}).Debug("Analysis report applied")
	}

	if raised != nil {
		metrics.RecordCriticalAlert()
		res.scope.AddEvent("alert", attribute.Float64("aggregate_score", raised.AggregateScore))
		res.log.WithField("aggregate_score", raised.AggregateScore).Warn("Critical scam risk detected")
		c.notifyAlert(id, *raised)
	}

	if len(scores) > 0 {
		c.notify()
	}
}

// acknowledge answers tool calls, applied or not
func (c *Controller) acknowledge(res *resources, stream Stream, acks []live.FunctionResponse) {
	if len(acks) == 0 {
		return
	}
	if err := stream.SendToolResponse(acks...); err != nil {
		res.log.WithError(err).Warn("Failed to acknowledge tool call")
		metrics.RecordToolAck("failed")
		return
	}
	metrics.RecordToolAck("ok")
}

// elapsed is whole seconds since start, never below the previous point
func (c *Controller) elapsed(now time.Time) int {
	secs := int(now.Sub(c.startedAt) / time.Second)
	if n := len(c.timeline); n > 0 && secs < c.timeline[n-1].Time {
		secs = c.timeline[n-1].Time
	}
	if secs < 0 {
		secs = 0
	}
	return secs
}

func (c *Controller) onTranscriptDelta(gen uint64, text string) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	changed := c.transcript.Delta(analysis.SpeakerCaller, text)
	c.mu.Unlock()

	metrics.RecordTranscriptDelta()
	if changed {
		c.notify()
	}
}

func (c *Controller) onTurnComplete(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.transcript.TurnComplete()
	}
}

// Stop ends the current session. It is a no-op in Idle and never fails:
// teardown problems are logged.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	c.stopSession(ctx, gen, ReasonUserStop, nil)
}

// Close releases everything the controller holds
func (c *Controller) Close() error {
	c.Stop(context.Background())
	return nil
}

// stopSession is the single exit path of a session. cause, when set, becomes
// the user-visible error.
func (c *Controller) stopSession(ctx context.Context, gen uint64, reason string, cause error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.generation != gen || c.state == StateIdle || c.stopping {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	c.generation++
	if cause != nil {
		c.lastError = errors.UserMessage(cause)
	}
	res := c.res
	final := c.analysis.Clone()
	stream, source, pipeline, endTimer := res.stream, res.source, res.pipeline, res.endTimer
	res.cancel()
	c.mu.Unlock()

	if final.AggregateScore > 0 {
		c.persist(ctx, res, final)
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.StopTimeout)
	defer cancel()

	if stream != nil {
		if err := stream.Close(closeCtx); err != nil {
			res.log.WithError(err).Debug("Error closing analysis stream")
		}
	}
	if source != nil {
		if err := source.Stop(); err != nil {
			res.log.WithError(err).Warn("Failed to release audio device")
		}
	}
	if pipeline != nil {
		pipeline.Disconnect()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.stopping = false
	c.res = nil
	c.mu.Unlock()

	if endTimer != nil {
		endTimer(reason)
	} else {
		metrics.RecordSessionEnd(reason)
	}
	res.scope.End(reason, cause)

	fields := logrus.Fields{
		"reason":          reason,
		"aggregate_score": final.AggregateScore,
	}
	if cause != nil {
		res.log.WithFields(fields).WithError(cause).Warn("Analysis session ended with error")
	} else {
		res.log.WithFields(fields).Info("Analysis session stopped")
	}
	c.notify()
}

// persist saves the finished session. Failures are logged and swallowed.
func (c *Controller) persist(ctx context.Context, res *resources, final analysis.DetailedAnalysis) {
	entry := analysis.NewHistoryEntry(res.id, c.now(), analysis.SourceLive, analysis.LiveSourceName, final)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.StopTimeout)
	defer cancel()

	if err := c.store.Append(saveCtx, entry); err != nil {
		metrics.RecordHistoryWrite(string(analysis.SourceLive), "failed")
		res.log.WithError(err).Warn("Failed to save session to history")
		return
	}

	metrics.RecordHistoryWrite(string(analysis.SourceLive), "ok")
	res.log.WithField("aggregate_score", final.AggregateScore).Info("Session saved to history")
	c.notifySaved(entry)
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the observable state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:      c.state,
		SessionID:  c.sessionID,
		Analysis:   c.analysis.Clone(),
		RiskLevel:  c.analysis.Level(),
		Transcript: c.transcript.Entries(),
		Timeline:   append(make([]analysis.TimelinePoint, 0, len(c.timeline)), c.timeline...),
		Alert:      c.alert,
		Error:      c.lastError,
	}
}

// Observers must not call Start or Stop synchronously
func (c *Controller) notify() {
	if len(c.observers) == 0 {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	snapshot := c.Snapshot()
	for _, o := range c.observers {
		o.SessionUpdated(snapshot)
	}
}

func (c *Controller) notifyAlert(sessionID string, a analysis.DetailedAnalysis) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for _, o := range c.observers {
		o.CriticalAlert(sessionID, a)
	}
}

func (c *Controller) notifySaved(entry analysis.HistoryEntry) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for _, o := range c.observers {
		o.SessionSaved(entry)
	}
}
