package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callguard/pkg/analysis"
	"callguard/pkg/audio"
	"callguard/pkg/capture"
	"callguard/pkg/errors"
	"callguard/pkg/history"
	"callguard/pkg/live"
)

const waitTimeout = 2 * time.Second

// fakeSource delivers whatever blocks the test pushes
type fakeSource struct {
	blocks  chan []float32
	stopped chan struct{}
	once    sync.Once
	stops   atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{blocks: make(chan []float32, 8), stopped: make(chan struct{})}
}

func (s *fakeSource) SampleRate() int { return audio.TargetSampleRate }

func (s *fakeSource) ReadBlock(ctx context.Context) ([]float32, error) {
	select {
	case b, ok := <-s.blocks:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-s.stopped:
		return nil, capture.ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSource) Stop() error {
	s.stops.Add(1)
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *fakeSource) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// fakeDevice hands out its source, optionally after gate is closed. The gate
// ignores ctx to model a platform that resolves the request late.
type fakeDevice struct {
	source   *fakeSource
	err      error
	gate     chan struct{}
	entered  chan struct{}
	enterOne sync.Once
	acquired atomic.Int32
}

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Acquire(ctx context.Context) (capture.Source, error) {
	if d.entered != nil {
		d.enterOne.Do(func() { close(d.entered) })
	}
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return nil, d.err
	}
	d.acquired.Add(1)
	return d.source, nil
}

// fakeStream records everything sent to the model
type fakeStream struct {
	events chan live.Event

	mu     sync.Mutex
	frames []audio.Blob
	acks   []live.FunctionResponse
	closes int
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan live.Event, 32)}
}

func (s *fakeStream) Events() <-chan live.Event { return s.events }

func (s *fakeStream) SendAudio(blob audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, blob)
	return nil
}

func (s *fakeStream) SendToolResponse(responses ...live.FunctionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, responses...)
	return nil
}

func (s *fakeStream) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeStream) counts() (frames, acks, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames), len(s.acks), s.closes
}

type fakeDialer struct {
	stream *fakeStream
	err    error

	mu     sync.Mutex
	setups []live.Setup
}

func (d *fakeDialer) Dial(ctx context.Context, sessionID string, setup live.Setup) (Stream, error) {
	d.mu.Lock()
	d.setups = append(d.setups, setup)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.setups)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, entry analysis.HistoryEntry) error {
	return errors.NewPersistenceError("append", fmt.Errorf("disk full"))
}
func (failingStore) List(ctx context.Context) ([]analysis.HistoryEntry, error) { return nil, nil }
func (failingStore) Clear(ctx context.Context) error { return nil }

type recorder struct {
	mu      sync.Mutex
	updates int
	alerts  []string
	saved   []analysis.HistoryEntry
}

func (r *recorder) SessionUpdated(Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
}

func (r *recorder) CriticalAlert(sessionID string, a analysis.DetailedAnalysis) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, sessionID)
}

func (r *recorder) SessionSaved(entry analysis.HistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, entry)
}

type harness struct {
	device     *fakeDevice
	dialer     *fakeDialer
	stream     *fakeStream
	store      *history.MemoryStore
	clock      *fakeClock
	recorder   *recorder
	controller *Controller
}

func newHarness(t *testing.T, opts ...func(*harness)) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	stream := newFakeStream()
	h := &harness{
		device:   &fakeDevice{source: newFakeSource()},
		dialer:   &fakeDialer{stream: stream},
		stream:   stream,
		store:    history.NewMemoryStore(),
		clock:    &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		recorder: &recorder{},
	}
	for _, opt := range opts {
		opt(h)
	}

	ids := 0
	h.controller = NewController(h.device, h.dialer, h.store, DefaultConfig(), logger,
		WithClock(h.clock.Now),
		WithIDGenerator(func() string { ids++; return fmt.Sprintf("session-%d", ids) }),
		WithObserver(h.recorder),
	)
	t.Cleanup(func() { h.controller.Close() })
	return h
}

// activate starts a session and confirms the stream
func (h *harness) activate(t *testing.T) {
	t.Helper()
	require.NoError(t, h.controller.Start(context.Background()))
	require.Eventually(t, func() bool { return h.dialer.dials() > 0 }, waitTimeout, time.Millisecond)
	h.stream.events <- live.Event{Kind: live.EventOpened}
	h.waitState(t, StateActive)
}

func (h *harness) waitState(t *testing.T, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.controller.State() == state }, waitTimeout, time.Millisecond,
		"state never became %s", state)
}

func (h *harness) report(id string, spectral, biometric, contextual, intelligence float64) {
	args, _ := json.Marshal(analysis.Report{
		SpectralScore:      spectral,
		SpectralReason:     "spectral",
		BiometricScore:     biometric,
		BiometricReason:    "biometric",
		ContextualScore:    contextual,
		ContextualReason:   "contextual",
		ContextualKeywords: []string{"gift card"},
		IntelligenceScore:  intelligence,
		IntelligenceReason: "intelligence",
	})
	h.stream.events <- live.Event{Kind: live.EventToolCall, Calls: []live.FunctionCall{
		{ID: id, Name: analysis.ReportFunctionName, Args: args},
	}}
}

func (h *harness) waitReports(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.controller.Snapshot().Timeline) == n }, waitTimeout, time.Millisecond)
}

func (h *harness) history(t *testing.T) []analysis.HistoryEntry {
	t.Helper()
	entries, err := h.store.List(context.Background())
	require.NoError(t, err)
	return entries
}

func TestStartOpensStreamAndSendsFrames(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.controller.Start(context.Background()))
	assert.Equal(t, StateStarting, h.controller.State())

	require.Eventually(t, func() bool { return h.dialer.dials() == 1 }, waitTimeout, time.Millisecond)
	setup := h.dialer.setups[0]
	assert.Equal(t, live.DefaultModel, setup.Model)
	assert.Equal(t, []string{live.ModalityAudio}, setup.ResponseModalities)
	assert.True(t, setup.InputTranscription)
	require.Len(t, setup.Tools, 1)
	assert.Equal(t, analysis.ReportFunctionName, setup.Tools[0].Name)

	// no audio flows before the model confirms the session
	h.device.source.blocks <- make([]float32, audio.BlockSize)
	time.Sleep(20 * time.Millisecond)
	frames, _, _ := h.stream.counts()
	assert.Zero(t, frames)

	h.stream.events <- live.Event{Kind: live.EventOpened}
	h.waitState(t, StateActive)

	h.device.source.blocks <- make([]float32, audio.BlockSize)
	require.Eventually(t, func() bool {
		frames, _, _ := h.stream.counts()
		return frames >= 1
	}, waitTimeout, time.Millisecond)

	h.stream.mu.Lock()
	blob := h.stream.frames[0]
	h.stream.mu.Unlock()
	assert.Equal(t, "audio/pcm;rate=16000", blob.MIMEType)
	pcm, err := audio.DecodeFrame(blob)
	require.NoError(t, err)
	assert.Len(t, pcm, audio.BlockSize)
}

func TestSecondStartIsRejected(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	err := h.controller.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrSessionActive))

	assert.Equal(t, int32(1), h.device.acquired.Load())
	assert.Equal(t, 1, h.dialer.dials())
	assert.Equal(t, StateActive, h.controller.State())
}

func TestStopDuringPendingAcquisitionReleasesDevice(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	h := newHarness(t, func(h *harness) {
		h.device.gate = gate
		h.device.entered = entered
	})

	startErr := make(chan error, 1)
	go func() { startErr <- h.controller.Start(context.Background()) }()

	<-entered
	assert.Equal(t, StateStarting, h.controller.State())

	h.controller.Stop(context.Background())
	assert.Equal(t, StateIdle, h.controller.State())

	// the device resolves after the stop
	close(gate)

	var err error
	select {
	case err = <-startErr:
	case <-time.After(waitTimeout):
		t.Fatal("Start did not return")
	}
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrAborted))

	assert.True(t, h.device.source.isStopped())
	assert.Zero(t, h.dialer.dials())
	assert.Equal(t, StateIdle, h.controller.State())
	assert.Empty(t, h.history(t))
}

func TestStopWhileStreamOpeningClosesEverything(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.controller.Start(context.Background()))
	require.Eventually(t, func() bool { return h.dialer.dials() == 1 }, waitTimeout, time.Millisecond)

	h.controller.Stop(context.Background())

	assert.Equal(t, StateIdle, h.controller.State())
	assert.True(t, h.device.source.isStopped())
	require.Eventually(t, func() bool {
		_, _, closes := h.stream.counts()
		return closes >= 1
	}, waitTimeout, time.Millisecond)
}

func TestReportsBuildTimeline(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	const n = 4
	for i := 0; i < n; i++ {
		h.clock.Advance(12 * time.Second)
		h.report(fmt.Sprintf("call-%d", i), float64(10*i), 20, 30, 40)
		h.waitReports(t, i+1)
	}

	snapshot := h.controller.Snapshot()
	require.Len(t, snapshot.Timeline, n)
	for i := 1; i < n; i++ {
		assert.GreaterOrEqual(t, snapshot.Timeline[i].Time, snapshot.Timeline[i-1].Time)
	}
	assert.Equal(t, 12, snapshot.Timeline[0].Time)
	assert.Equal(t, 48, snapshot.Timeline[n-1].Time)
	assert.Equal(t, "12:00:48", snapshot.Timeline[n-1].Timestamp)

	// the latest report replaces the analysis
	assert.InDelta(t, snapshot.Timeline[n-1].RiskScore, snapshot.Analysis.AggregateScore, 1e-9)
	assert.InDelta(t, 30.0, snapshot.Analysis.Spectral.Score, 1e-9)

	require.Eventually(t, func() bool {
		_, acks, _ := h.stream.counts()
		return acks == n
	}, waitTimeout, time.Millisecond)
	h.stream.mu.Lock()
	ack := h.stream.acks[0]
	h.stream.mu.Unlock()
	assert.Equal(t, "call-0", ack.ID)
	assert.Equal(t, analysis.ReportFunctionName, ack.Name)
	assert.Equal(t, analysis.ReportAcknowledgement, ack.Response["result"])
}

func TestReportBeforeSetupCompleteIsIgnored(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.controller.Start(context.Background()))
	require.Eventually(t, func() bool { return h.dialer.dials() == 1 }, waitTimeout, time.Millisecond)

	h.report("early", 90, 90, 90, 90)
	require.Eventually(t, func() bool {
		_, acks, _ := h.stream.counts()
		return acks == 1
	}, waitTimeout, time.Millisecond)

	snapshot := h.controller.Snapshot()
	assert.Equal(t, StateStarting, snapshot.State)
	assert.Empty(t, snapshot.Timeline)
	assert.False(t, snapshot.Alert)
	assert.Zero(t, snapshot.Analysis.AggregateScore)

	h.stream.events <- live.Event{Kind: live.EventOpened}
	h.waitState(t, StateActive)
	h.report("first", 10, 10, 10, 10)
	h.waitReports(t, 1)
}

func TestMalformedReportIsStillAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.stream.events <- live.Event{Kind: live.EventToolCall, Calls: []live.FunctionCall{
		{ID: "bad", Name: analysis.ReportFunctionName, Args: json.RawMessage(`{"spectral_score":`)},
		{ID: "other", Name: "lookup_number"},
	}}

	require.Eventually(t, func() bool {
		_, acks, _ := h.stream.counts()
		return acks == 2
	}, waitTimeout, time.Millisecond)

	snapshot := h.controller.Snapshot()
	assert.Empty(t, snapshot.Timeline)
	assert.Equal(t, "Standby", snapshot.Analysis.Spectral.Reason)
}

func TestTranscriptDeltasMergeWithinTurn(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.stream.events <- live.Event{Kind: live.EventTranscriptDelta, Text: "Hello"}
	h.stream.events <- live.Event{Kind: live.EventTranscriptDelta, Text: "Hello there"}
	require.Eventually(t, func() bool {
		entries := h.controller.Snapshot().Transcript
		return len(entries) == 1 && entries[0].Text == "Hello there"
	}, waitTimeout, time.Millisecond)

	h.stream.events <- live.Event{Kind: live.EventTurnComplete}
	h.stream.events <- live.Event{Kind: live.EventTranscriptDelta, Text: "Next"}
	require.Eventually(t, func() bool { return len(h.controller.Snapshot().Transcript) == 2 }, waitTimeout, time.Millisecond)

	entries := h.controller.Snapshot().Transcript
	assert.Equal(t, "Hello there", entries[0].Text)
	assert.Equal(t, "Next", entries[1].Text)
	assert.Equal(t, analysis.SpeakerCaller, entries[1].Speaker)
}

func TestToolCallClosesTranscriptTurn(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.stream.events <- live.Event{Kind: live.EventTranscriptDelta, Text: "Please buy gift cards"}
	h.report("r1", 50, 50, 50, 50)
	h.stream.events <- live.Event{Kind: live.EventTranscriptDelta, Text: "right now"}

	require.Eventually(t, func() bool { return len(h.controller.Snapshot().Transcript) == 2 }, waitTimeout, time.Millisecond)
	entries := h.controller.Snapshot().Transcript
	assert.Equal(t, "Please buy gift cards", entries[0].Text)
	assert.Equal(t, "right now", entries[1].Text)
}

func TestAlertIsStickyUntilNextStart(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.report("low", 10, 10, 10, 10)
	h.waitReports(t, 1)
	assert.False(t, h.controller.Snapshot().Alert)

	h.report("high", 100, 100, 80, 60)
	h.waitReports(t, 2)
	assert.True(t, h.controller.Snapshot().Alert)

	h.report("drop", 5, 5, 5, 5)
	h.waitReports(t, 3)
	assert.True(t, h.controller.Snapshot().Alert)

	h.controller.Stop(context.Background())
	assert.True(t, h.controller.Snapshot().Alert)

	h.recorder.mu.Lock()
	assert.Equal(t, []string{"session-1"}, h.recorder.alerts)
	h.recorder.mu.Unlock()

	require.NoError(t, h.controller.Start(context.Background()))
	snapshot := h.controller.Snapshot()
	assert.False(t, snapshot.Alert)
	assert.Empty(t, snapshot.Timeline)
	assert.Empty(t, snapshot.Transcript)
	assert.Zero(t, snapshot.Analysis.AggregateScore)
}

func TestStopWithoutScoreSavesNothing(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.controller.Stop(context.Background())

	assert.Equal(t, StateIdle, h.controller.State())
	assert.Empty(t, h.history(t))
	assert.True(t, h.device.source.isStopped())
	_, _, closes := h.stream.counts()
	assert.Equal(t, 1, closes)
}

func TestStopWithScoreSavesOneEntry(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.report("r1", 40, 40, 40, 40)
	h.waitReports(t, 1)

	h.controller.Stop(context.Background())
	h.controller.Stop(context.Background())

	entries := h.history(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "session-1", entries[0].ID)
	assert.Equal(t, analysis.SourceLive, entries[0].Source)
	assert.Equal(t, "Live Session", entries[0].SourceName)
	assert.InDelta(t, 40.0, entries[0].AggregateScore, 1e-9)
	assert.Equal(t, "2025-03-01T12:00:00.000Z", entries[0].Date)

	// analysis stays visible after stop
	snapshot := h.controller.Snapshot()
	assert.Equal(t, StateIdle, snapshot.State)
	assert.InDelta(t, 40.0, snapshot.Analysis.AggregateScore, 1e-9)

	h.recorder.mu.Lock()
	assert.Len(t, h.recorder.saved, 1)
	assert.Positive(t, h.recorder.updates)
	h.recorder.mu.Unlock()
}

func TestPersistenceFailureDoesNotBlockStop(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	source := newFakeSource()
	stream := newFakeStream()
	controller := NewController(&fakeDevice{source: source}, &fakeDialer{stream: stream}, failingStore{}, DefaultConfig(), logger)

	require.NoError(t, controller.Start(context.Background()))
	stream.events <- live.Event{Kind: live.EventOpened}
	require.Eventually(t, func() bool { return controller.State() == StateActive }, waitTimeout, time.Millisecond)

	args, _ := json.Marshal(analysis.Report{SpectralScore: 70})
	stream.events <- live.Event{Kind: live.EventToolCall, Calls: []live.FunctionCall{{ID: "r", Name: analysis.ReportFunctionName, Args: args}}}
	require.Eventually(t, func() bool { return len(controller.Snapshot().Timeline) == 1 }, waitTimeout, time.Millisecond)

	controller.Stop(context.Background())

	snapshot := controller.Snapshot()
	assert.Equal(t, StateIdle, snapshot.State)
	assert.Empty(t, snapshot.Error)
	assert.True(t, source.isStopped())
}

func TestDeviceDeniedScenario(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.device.err = errors.NewDeviceError(errors.DeviceDenied, fmt.Errorf("permission denied"))
	})

	err := h.controller.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrDevice))

	snapshot := h.controller.Snapshot()
	assert.Equal(t, StateIdle, snapshot.State)
	assert.Equal(t, "Could not access the microphone. Please grant permission and try again.", snapshot.Error)
	assert.Zero(t, h.dialer.dials())

	h.controller.Stop(context.Background())
	assert.Empty(t, h.history(t))
}

func TestCriticalReportScenario(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.report("r1", 90, 90, 80, 85)
	h.waitReports(t, 1)

	snapshot := h.controller.Snapshot()
	assert.InDelta(t, 87.25, snapshot.Analysis.AggregateScore, 1e-9)
	assert.Equal(t, analysis.LevelCritical, snapshot.RiskLevel)
	assert.True(t, snapshot.Alert)
	assert.Equal(t, []string{"gift card"}, snapshot.Analysis.Contextual.Keywords)
}

func TestStreamErrorEndsSession(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.stream.events <- live.Event{Kind: live.EventStreamError, Err: fmt.Errorf("connection reset")}
	h.waitState(t, StateIdle)

	snapshot := h.controller.Snapshot()
	assert.Equal(t, "An error occurred with the analysis service. Please try again.", snapshot.Error)
	assert.True(t, h.device.source.isStopped())
	_, _, closes := h.stream.counts()
	assert.Equal(t, 1, closes)
}

func TestServerCloseEndsSessionWithoutError(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.report("r1", 20, 20, 20, 20)
	h.waitReports(t, 1)

	h.stream.events <- live.Event{Kind: live.EventStreamClosed}
	h.waitState(t, StateIdle)

	assert.Empty(t, h.controller.Snapshot().Error)
	assert.True(t, h.device.source.isStopped())
	assert.Len(t, h.history(t), 1)
}

func TestDialFailureEndsSession(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.dialer.err = errors.NewServiceError("dial failed", fmt.Errorf("handshake refused"))
	})

	require.NoError(t, h.controller.Start(context.Background()))
	h.waitState(t, StateIdle)

	assert.Equal(t, "An error occurred with the analysis service. Please try again.", h.controller.Snapshot().Error)
	assert.True(t, h.device.source.isStopped())
}

func TestCaptureEndEndsSession(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	close(h.device.source.blocks)
	h.waitState(t, StateIdle)

	assert.Empty(t, h.controller.Snapshot().Error)
	_, _, closes := h.stream.counts()
	assert.Equal(t, 1, closes)
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t)

	h.controller.Stop(context.Background())

	assert.Equal(t, StateIdle, h.controller.State())
	assert.Empty(t, h.history(t))
	assert.Zero(t, h.device.acquired.Load())
}

func TestSessionIsRestartable(t *testing.T) {
	source := newFakeSource()
	h := newHarness(t)
	h.activate(t)
	h.controller.Stop(context.Background())

	// a fresh source and stream for the second session
	h.device.source = source
	h.stream = newFakeStream()
	h.dialer.stream = h.stream

	require.NoError(t, h.controller.Start(context.Background()))
	require.Eventually(t, func() bool { return h.dialer.dials() == 2 }, waitTimeout, time.Millisecond)
	h.stream.events <- live.Event{Kind: live.EventOpened}
	h.waitState(t, StateActive)
	assert.Equal(t, "session-2", h.controller.Snapshot().SessionID)
}

func TestSnapshotJSON(t *testing.T) {
	h := newHarness(t)

	data, err := json.Marshal(h.controller.Snapshot())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "idle", decoded["state"])
	assert.Equal(t, "LOW", decoded["riskLevel"])
	assert.Equal(t, []interface{}{}, decoded["transcript"])
	assert.Equal(t, []interface{}{}, decoded["timeline"])
	assert.NotContains(t, decoded, "error")
}
