package upload

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callguard/pkg/analysis"
	"callguard/pkg/errors"
	"callguard/pkg/history"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

const reportJSON = `{
  "spectral_score": 90, "spectral_reason": "synthetic harmonics",
  "biometric_score": 85, "biometric_reason": "no breathing",
  "contextual_score": 88, "contextual_reason": "gift card request",
  "contextual_keywords": ["gift card", "urgent"],
  "intelligence_score": 84, "intelligence_reason": "looped phrasing"
}`

type capturedRequest struct {
	path   string
	apiKey string
	body   generateRequest
}

// modelServer answers generateContent with text as the only part
func modelServer(t *testing.T, status int, text string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.apiKey = r.Header.Get("x-goog-api-key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = io.WriteString(w, `{"error":{"message":"bad request"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

type savedRecorder struct {
	mu      sync.Mutex
	entries []analysis.HistoryEntry
}

func (s *savedRecorder) SessionSaved(entry analysis.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

type failingStore struct{ history.Store }

func (failingStore) Append(context.Context, analysis.HistoryEntry) error {
	return errors.NewPersistenceError("append", io.ErrUnexpectedEOF)
}

func newTestAnalyzer(url string, store history.Store, notifier Notifier) *Analyzer {
	a := NewAnalyzer(Config{APIKey: "test-key", APIURL: url, Model: "test-model"}, store, notifier, quietLogger())
	a.now = func() time.Time { return time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC) }
	a.newID = func() string { return "upload-1" }
	return a
}

func TestAnalyzeSavesUploadEntry(t *testing.T) {
	srv, captured := modelServer(t, http.StatusOK, reportJSON)
	store := history.NewMemoryStore()
	saved := &savedRecorder{}
	a := newTestAnalyzer(srv.URL, store, saved)

	entry, err := a.Analyze(context.Background(), File{Name: "call.mp3", MIMEType: "audio/mpeg", Data: []byte("ID3fake")})
	require.NoError(t, err)

	assert.Equal(t, "upload-1", entry.ID)
	assert.Equal(t, analysis.SourceUpload, entry.Source)
	assert.Equal(t, "call.mp3", entry.SourceName)
	assert.Equal(t, "2025-03-01T12:30:00.000Z", entry.Date)
	assert.InDelta(t, 86.95, entry.AggregateScore, 1e-9)
	assert.Equal(t, analysis.LevelCritical, entry.Level())
	assert.Equal(t, []string{"gift card", "urgent"}, entry.Contextual.Keywords)

	listed, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, entry, listed[0])
	assert.Len(t, saved.entries, 1)

	assert.Equal(t, "/models/test-model:generateContent", captured.path)
	assert.Equal(t, "test-key", captured.apiKey)
	require.Len(t, captured.body.Contents, 1)
	parts := captured.body.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "audio/mpeg", parts[0].InlineData.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("ID3fake")), parts[0].InlineData.Data)
	assert.Equal(t, analysis.UploadInstruction, parts[1].Text)
	assert.Equal(t, "application/json", captured.body.GenerationConfig.ResponseMIMEType)
	assert.Equal(t, "OBJECT", captured.body.GenerationConfig.ResponseSchema.Type)
}

func TestAnalyzeWithoutAPIKey(t *testing.T) {
	a := NewAnalyzer(Config{}, history.NewMemoryStore(), nil, quietLogger())

	_, err := a.Analyze(context.Background(), File{Name: "call.wav", Data: []byte("RIFF")})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrConfiguration))
	assert.Equal(t, "API key is not configured. Please set GEMINI_API_KEY in environment variables.", errors.UserMessage(err))
}

func TestAnalyzeRejectsEmptyFile(t *testing.T) {
	a := newTestAnalyzer("http://127.0.0.1:0", history.NewMemoryStore(), nil)

	_, err := a.Analyze(context.Background(), File{Name: "empty.wav"})
	assert.True(t, errors.IsErrorType(err, errors.ErrInvalidInput))
}

func TestAnalyzeFailures(t *testing.T) {
	const failure = "Failed to analyze the audio file. The file may be corrupted or in an unsupported format. Please try again."

	tests := []struct {
		name   string
		status int
		text   string
	}{
		{"http error", http.StatusBadRequest, ""},
		{"not json", http.StatusOK, "I could not process this file"},
		{"missing field", http.StatusOK, `{"spectral_score": 10}`},
		{"wrong type", http.StatusOK, `{"spectral_score": "high", "spectral_reason": "", "biometric_score": 1, "biometric_reason": "", "contextual_score": 1, "contextual_reason": "", "contextual_keywords": [], "intelligence_score": 1, "intelligence_reason": ""}`},
		{"empty text", http.StatusOK, "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := modelServer(t, tt.status, tt.text)
			store := history.NewMemoryStore()
			a := newTestAnalyzer(srv.URL, store, nil)

			_, err := a.Analyze(context.Background(), File{Name: "call.wav", MIMEType: "audio/wav", Data: []byte("RIFF")})
			require.Error(t, err)
			assert.True(t, errors.IsErrorType(err, errors.ErrUpload))
			assert.Equal(t, failure, errors.UserMessage(err))

			listed, _ := store.List(context.Background())
			assert.Empty(t, listed)
		})
	}
}

func TestAnalyzeSurvivesPersistenceFailure(t *testing.T) {
	srv, _ := modelServer(t, http.StatusOK, reportJSON)
	saved := &savedRecorder{}
	a := newTestAnalyzer(srv.URL, failingStore{}, saved)

	entry, err := a.Analyze(context.Background(), File{Name: "call.wav", MIMEType: "audio/wav", Data: []byte("RIFF")})
	require.NoError(t, err)
	assert.Equal(t, "upload-1", entry.ID)
	assert.Empty(t, saved.entries)
}

func TestToJSONSchema(t *testing.T) {
	doc := toJSONSchema(analysis.ReportSchema(false))

	assert.Equal(t, "object", doc["type"])
	props := doc["properties"].(map[string]any)
	assert.Equal(t, "number", props["spectral_score"].(map[string]any)["type"])
	keywords := props["contextual_keywords"].(map[string]any)
	assert.Equal(t, "array", keywords["type"])
	assert.Equal(t, "string", keywords["items"].(map[string]any)["type"])
	assert.Len(t, doc["required"], 9)

	assert.NoError(t, validateReport([]byte(reportJSON)))
}
