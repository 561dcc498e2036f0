// Package live is a client for the Gemini Live BidiGenerateContent WebSocket.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"callguard/pkg/analysis"
	"callguard/pkg/audio"
	"callguard/pkg/errors"
	"callguard/pkg/version"
)

const (
	DefaultURL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	// ModalityAudio asks the model to answer with audio
	ModalityAudio = "AUDIO"
)

// Config holds the connection settings for the live endpoint
type Config struct {
	URL          string
	APIKey       string
	WriteTimeout time.Duration
	EventBuffer  int
}

// DefaultConfig returns a config pointing at the public endpoint
func DefaultConfig() Config {
	return Config{
		URL:          DefaultURL,
		WriteTimeout: 10 * time.Second,
		EventBuffer:  64,
	}
}

// Setup is the configuration sent as the first frame of a session
type Setup struct {
	Model              string
	SystemInstruction  string
	ResponseModalities []string
	Tools              []analysis.FunctionDeclaration
	InputTranscription bool
}

// AnalysisSetup returns the setup used for call protection sessions
func AnalysisSetup(model string) Setup {
	if model == "" {
		model = DefaultModel
	}
	return Setup{
		Model:              model,
		SystemInstruction:  analysis.LiveInstruction,
		ResponseModalities: []string{ModalityAudio},
		Tools:              []analysis.FunctionDeclaration{analysis.ReportDeclaration()},
		InputTranscription: true,
	}
}

func (s Setup) message() clientMessage {
	model := s.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	msg := &setupMessage{Model: model}
	if len(s.ResponseModalities) > 0 {
		msg.GenerationConfig = &generationConfig{ResponseModalities: s.ResponseModalities}
	}
	if s.SystemInstruction != "" {
		msg.SystemInstruction = &content{Parts: []part{{Text: s.SystemInstruction}}}
	}
	if len(s.Tools) > 0 {
		msg.Tools = []tool{{FunctionDeclarations: s.Tools}}
	}
	if s.InputTranscription {
		msg.InputAudioTranscription = &struct{}{}
	}
	return clientMessage{Setup: msg}
}

// Client opens live sessions
type Client struct {
	config Config
	dialer *websocket.Dialer
	logger *logrus.Logger
}

// NewClient creates a live client
func NewClient(config Config, logger *logrus.Logger) *Client {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	return &Client{
		config: config,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Dial connects to the endpoint and sends the setup frame. The session is not
// usable for audio until an EventOpened arrives on Events.
func (c *Client) Dial(ctx context.Context, sessionID string, setup Setup) (*Session, error) {
	if c.config.APIKey == "" {
		return nil, errors.NewConfigurationError("live API key is not configured")
	}

	wsURL, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, errors.NewServiceError("invalid live endpoint URL", err)
	}
	query := wsURL.Query()
	query.Set("key", c.config.APIKey)
	wsURL.RawQuery = query.Encode()

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", version.UserAgent())

	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		fields := map[string]interface{}{"session_id": sessionID}
		if resp != nil {
			fields["status"] = resp.StatusCode
		}
		return nil, errors.NewServiceError("failed to open analysis stream", err).WithFields(fields)
	}

	s := &Session{
		id:         sessionID,
		conn:       conn,
		timeout:    c.config.WriteTimeout,
		events:     make(chan Event, c.config.EventBuffer),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		logger:     c.logger.WithField("session_id", sessionID),
	}

	// setup must be the first frame on the wire
	if err := s.write(setup.message()); err != nil {
		conn.Close()
		return nil, errors.NewServiceError("failed to send session setup", err)
	}

	go s.readLoop()
	go s.writeLoop()

	s.logger.WithField("model", setup.Model).Info("Live session connecting")
	return s, nil
}

// Session is one open BidiGenerateContent stream.
type Session struct {
	id      string
	conn    *websocket.Conn
	timeout time.Duration
	logger  *logrus.Entry

	writeMu sync.Mutex

	queueMu sync.Mutex
	queue   [][]byte
	notify  chan struct{}

	events     chan Event
	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
	closed     bool
}

// ID returns the session identifier the stream was opened for
func (s *Session) ID() string {
	return s.id
}

// Events delivers inbound events in arrival order. The channel is closed
// after EventStreamClosed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// SendAudio enqueues one audio frame. It never blocks on the network; the
// outbound queue is unbounded.
func (s *Session) SendAudio(blob audio.Blob) error {
	return s.enqueue(clientMessage{RealtimeInput: &realtimeInput{MediaChunks: []audio.Blob{blob}}})
}

// SendToolResponse enqueues acknowledgements for tool calls
func (s *Session) SendToolResponse(responses ...FunctionResponse) error {
	if len(responses) == 0 {
		return nil
	}
	return s.enqueue(clientMessage{ToolResponse: &toolResponse{FunctionResponses: responses}})
}

func (s *Session) enqueue(msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	s.queueMu.Lock()
	if s.closed {
		s.queueMu.Unlock()
		return ErrSessionClosed
	}
	s.queue = append(s.queue, data)
	s.queueMu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) drain() [][]byte {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

func (s *Session) write(msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.writeRaw(websocket.TextMessage, data)
}

func (s *Session) writeRaw(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			for _, frame := range s.drain() {
				if err := s.writeRaw(websocket.TextMessage, frame); err != nil {
					s.logger.WithError(err).Warn("Failed to send frame to live session")
					// the reader observes the broken connection and reports it
					s.conn.Close()
					return
				}
			}
		}
	}
}

func (s *Session) readLoop() {
	defer close(s.readerDone)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).Error("Live session read error")
				s.emit(Event{Kind: EventStreamError, Err: err})
			}
			s.emit(Event{Kind: EventStreamClosed, Err: err})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.WithError(err).Warn("Failed to parse live session frame")
			continue
		}

		for _, ev := range msg.events() {
			s.emit(ev)
		}

		if msg.ToolCallCancellation != nil {
			s.logger.WithField("ids", msg.ToolCallCancellation.IDs).Debug("Tool calls cancelled")
		}
		if msg.GoAway != nil {
			s.logger.WithField("time_left", msg.GoAway.TimeLeft).Warn("Live session going away")
		}
	}
}

// events splits one frame into ordered events: tool calls first, then the
// transcription delta, then the turn boundary.
func (m serverMessage) events() []Event {
	var out []Event
	if m.SetupComplete != nil {
		out = append(out, Event{Kind: EventOpened})
	}
	if m.ToolCall != nil && len(m.ToolCall.FunctionCalls) > 0 {
		out = append(out, Event{Kind: EventToolCall, Calls: m.ToolCall.FunctionCalls})
	}
	if sc := m.ServerContent; sc != nil {
		if sc.InputTranscription != nil {
			out = append(out, Event{Kind: EventTranscriptDelta, Text: sc.InputTranscription.Text})
		}
		if sc.TurnComplete {
			out = append(out, Event{Kind: EventTurnComplete})
		}
	}
	return out
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) isClosed() bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.closed
}

// Close sends a close frame and waits for the server to finish the close
// handshake or for ctx to expire. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.queueMu.Lock()
		s.closed = true
		s.queue = nil
		s.queueMu.Unlock()
		close(s.done)

		if werr := s.writeRaw(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); werr != nil {
			s.logger.WithError(werr).Debug("Failed to send close frame")
		}

		select {
		case <-s.readerDone:
		case <-ctx.Done():
			err = ctx.Err()
		}
		s.conn.Close()
		s.logger.Info("Live session closed")
	})
	return err
}
