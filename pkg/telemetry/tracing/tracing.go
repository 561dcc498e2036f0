package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callguard/pkg/config"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("callguard")

// SessionScope tracks the root span of one live analysis session.
type SessionScope struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	span      trace.Span
	endOnce   sync.Once
}

// Context returns the context carrying the session span.
func (s *SessionScope) Context() context.Context {
	if s == nil {
		return context.Background()
	}
	return s.ctx
}

// SetAttributes attaches attributes to the session root span.
func (s *SessionScope) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// AddEvent records a lifecycle event on the session root span.
func (s *SessionScope) AddEvent(name string, attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End marks the root span as completed and drops the registered scope.
func (s *SessionScope) End(reason string, err error) {
	if s == nil {
		return
	}
	s.endOnce.Do(func() {
		s.span.SetAttributes(attribute.String("session.stop_reason", reason))
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		} else {
			s.span.SetStatus(codes.Ok, "completed")
		}
		s.span.End()
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Init installs the global tracer provider. Spans are exported over OTLP when
// tracing is enabled; otherwise they stay in process.
func Init(ctx context.Context, cfg config.TracingConfig, logger *logrus.Logger) (func(context.Context) error, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "callguard"
	}

	sampleRatio := cfg.SampleRatio
	if sampleRatio <= 0 {
		sampleRatio = 1.0
	}
	if sampleRatio > 1 {
		sampleRatio = 1
	}

	var providerOpts []sdktrace.TracerProviderOption

	if res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
		),
	); err != nil {
		logger.WithError(err).Warn("failed to build OpenTelemetry resource")
	} else {
		providerOpts = append(providerOpts, sdktrace.WithResource(res))
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))
	providerOpts = append(providerOpts, sdktrace.WithSampler(sampler))

	var spanProcessor sdktrace.SpanProcessor
	if cfg.Enabled && cfg.Endpoint != "" {
		exporterCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}

		otlpExporter, err := otlptracegrpc.New(exporterCtx, clientOpts...)
		if err != nil {
			logger.WithError(err).Warn("failed to initialize OTLP tracing exporter; falling back to local processing")
		} else {
			spanProcessor = sdktrace.NewBatchSpanProcessor(otlpExporter)
			providerOpts = append(providerOpts, sdktrace.WithSpanProcessor(spanProcessor))
		}
	}

	provider := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = provider.Tracer("callguard/tracing")

	shutdown := func(shutdownCtx context.Context) error {
		if spanProcessor != nil {
			if err := spanProcessor.ForceFlush(shutdownCtx); err != nil {
				logger.WithError(err).Warn("failed to flush spans during shutdown")
			}
		}
		return provider.Shutdown(shutdownCtx)
	}

	return shutdown, nil
}

// StartSession registers and returns a new per-session tracing scope.
func StartSession(parent context.Context, sessionID string, attrs ...attribute.KeyValue) *SessionScope {
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)

	sessionAttrs := []attribute.KeyValue{attribute.String("session.id", sessionID)}
	sessionAttrs = append(sessionAttrs, attrs...)

	spanName := fmt.Sprintf("session.%s", sessionID)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(sessionAttrs...), trace.WithSpanKind(trace.SpanKindClient))

	scope := &SessionScope{
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
		span:      span,
	}

	return scope
}

// StartSpan starts a span under ctx
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}
