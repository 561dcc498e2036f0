// Package upload runs a one-shot analysis of a recorded call.
package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"callguard/pkg/analysis"
	"callguard/pkg/errors"
	"callguard/pkg/history"
	"callguard/pkg/metrics"
	"callguard/pkg/telemetry/tracing"
	"callguard/pkg/version"
)

// DefaultAPIURL is the model REST endpoint root
const DefaultAPIURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is the model used for file analysis
const DefaultModel = "gemini-2.5-flash"

// maxErrorBody bounds how much of a failed response is kept for logging
const maxErrorBody = 4 << 10

// Config holds upload analysis configuration
type Config struct {
	APIKey  string
	APIURL  string
	Model   string
	Timeout time.Duration
}

// File is an uploaded recording
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Notifier is told about entries the analyzer saved
type Notifier interface {
	SessionSaved(entry analysis.HistoryEntry)
}

// Analyzer sends recordings to the model and records the result in history
type Analyzer struct {
	config   Config
	client   *http.Client
	store    history.Store
	logger   *logrus.Logger
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

// NewAnalyzer creates an upload analyzer. notifier may be nil.
func NewAnalyzer(config Config, store history.Store, notifier Notifier, logger *logrus.Logger) *Analyzer {
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = 90 * time.Second
	}

	return &Analyzer{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		store:    store,
		logger:   logger,
		notifier: notifier,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType string           `json:"responseMimeType"`
	ResponseSchema   *analysis.Schema `json:"responseSchema"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Analyze runs a one-shot analysis of file. On success the result is saved
// as an upload history entry; a failed save is logged and does not fail the
// analysis.
func (a *Analyzer) Analyze(ctx context.Context, file File) (analysis.HistoryEntry, error) {
	done := metrics.ObserveUpload()

	logger := a.logger.WithFields(logrus.Fields{
		"file":      file.Name,
		"mime_type": file.MIMEType,
		"bytes":     len(file.Data),
	})

	if a.config.APIKey == "" {
		done("unconfigured")
		return analysis.HistoryEntry{}, errors.NewConfigurationError("upload API key is not configured")
	}
	if len(file.Data) == 0 {
		done("invalid")
		return analysis.HistoryEntry{}, errors.NewInvalidInput("The uploaded file is empty.")
	}

	ctx, span := tracing.StartSpan(ctx, "upload.analyze", trace.WithAttributes(
		attribute.String("file.mime_type", file.MIMEType),
		attribute.Int("file.bytes", len(file.Data)),
		attribute.String("model", a.config.Model),
	))
	defer span.End()

	result, err := a.generate(ctx, file)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		done("failed")
		logger.WithError(err).Error("Upload analysis failed")
		return analysis.HistoryEntry{}, errors.NewUploadError(err)
	}
	done("success")
	span.SetAttributes(attribute.Float64("aggregate_score", result.AggregateScore))

	entry := analysis.NewHistoryEntry(a.newID(), a.now(), analysis.SourceUpload, file.Name, result)
	if err := a.store.Append(context.WithoutCancel(ctx), entry); err != nil {
		metrics.RecordHistoryWrite(string(analysis.SourceUpload), "failed")
		logger.WithError(err).Warn("Failed to save upload analysis to history")
	} else {
		metrics.RecordHistoryWrite(string(analysis.SourceUpload), "success")
		if a.notifier != nil {
			a.notifier.SessionSaved(entry)
		}
	}

	logger.WithFields(logrus.Fields{
		"entry_id":        entry.ID,
		"aggregate_score": result.AggregateScore,
		"risk_level":      result.Level(),
	}).Info("Upload analysis complete")

	return entry, nil
}

func (a *Analyzer) generate(ctx context.Context, file File) (analysis.DetailedAnalysis, error) {
	mimeType := file.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(file.Data)}},
				{Text: analysis.UploadInstruction},
			},
		}},
		GenerationConfig: generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   analysis.ReportSchema(false),
		},
	})
	if err != nil {
		return analysis.DetailedAnalysis{}, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(a.config.APIURL, "/"), a.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return analysis.DetailedAnalysis{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.config.APIKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := a.client.Do(req)
	if err != nil {
		return analysis.DetailedAnalysis{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return analysis.DetailedAnalysis{}, fmt.Errorf("model returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return analysis.DetailedAnalysis{}, fmt.Errorf("failed to decode response: %w", err)
	}

	raw := responseText(out)
	if raw == "" {
		return analysis.DetailedAnalysis{}, fmt.Errorf("response has no text")
	}
	if err := validateReport([]byte(raw)); err != nil {
		return analysis.DetailedAnalysis{}, err
	}

	report, err := analysis.ParseReport([]byte(raw))
	if err != nil {
		return analysis.DetailedAnalysis{}, err
	}
	return report.Analysis(), nil
}

// responseText joins the text parts of the first candidate
func responseText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String())
}
