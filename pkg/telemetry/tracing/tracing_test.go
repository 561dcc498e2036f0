package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSessionScope(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	defer provider.Shutdown(context.Background())

	scope := StartSession(context.Background(), "live-1", attribute.String("device", "wav:call.wav"))
	scope.AddEvent("stream.opened")

	_, child := StartSpan(scope.Context(), "upload.analyze")
	child.End()

	scope.End("capture_ended", errors.New("device lost"))
	// a second end is ignored
	scope.End("user_stop", nil)

	assert.Error(t, scope.Context().Err())

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	root := ended[1]
	assert.Equal(t, "session.live-1", root.Name())
	assert.Equal(t, codes.Error, root.Status().Code)
	assert.Contains(t, root.Attributes(), attribute.String("session.stop_reason", "capture_ended"))
	assert.Contains(t, root.Attributes(), attribute.String("device", "wav:call.wav"))
	require.NotEmpty(t, root.Events())
	assert.Equal(t, "stream.opened", root.Events()[0].Name)

	assert.Equal(t, root.SpanContext().SpanID(), ended[0].Parent().SpanID())
}

func TestNilScopeIsSafe(t *testing.T) {
	var scope *SessionScope
	scope.AddEvent("ignored")
	scope.SetAttributes(attribute.Bool("ignored", true))
	scope.End("user_stop", nil)
	assert.NoError(t, scope.Context().Err())
}
