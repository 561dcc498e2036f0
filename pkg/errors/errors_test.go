package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "test error")
	assert.NotEmpty(t, err.Location())
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, "wrapped")
	require.NotNil(t, err)

	assert.Contains(t, err.Error(), "wrapped")
	assert.Contains(t, err.Error(), "base error")
	assert.Equal(t, baseErr, errors.Unwrap(err))

	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestWithFieldsDoesNotMutateReceiver(t *testing.T) {
	base := New("test error").WithField("key", "value")
	extended := base.WithFields(map[string]interface{}{"other": 2})

	assert.Len(t, base.GetFields(), 1)
	assert.Len(t, extended.GetFields(), 2)
	assert.Equal(t, "value", extended.GetFields()["key"])
}

func TestDeviceError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewDeviceError(DeviceDenied, cause)

	assert.True(t, errors.Is(err, ErrDevice))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrService))
	assert.Equal(t, "DEVICE_PERMISSION_DENIED", GetErrorCode(err))

	reason, ok := GetDeviceReason(err)
	require.True(t, ok)
	assert.Equal(t, DeviceDenied, reason)

	_, ok = GetDeviceReason(NewServiceError("dial failed", nil))
	assert.False(t, ok)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"denied", NewDeviceError(DeviceDenied, nil), "Could not access the microphone. Please grant permission and try again."},
		{"missing", NewDeviceError(DeviceNotFound, nil), "No microphone was found. Please connect a microphone and try again."},
		{"service", NewServiceError("socket closed", nil), "An error occurred with the analysis service. Please try again."},
		{"config", NewConfigurationError("no key"), "API key is not configured. Please set GEMINI_API_KEY in environment variables."},
		{"busy session", ErrSessionActive, "An analysis session is already running."},
		{"upload", NewUploadError(errors.New("bad json")), "Failed to analyze the audio file. The file may be corrupted or in an unsupported format. Please try again."},
		{"invalid input", NewInvalidInput("file is empty"), "file is empty"},
		{"rate limited", NewRateLimited("slow down"), "slow down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestHTTPStatusFromError(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatusFromError(ErrSessionActive))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusFromError(NewDeviceError(DeviceBusy, nil)))
	assert.Equal(t, http.StatusBadGateway, HTTPStatusFromError(NewServiceError("x", nil)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFromError(NewInvalidInput("bad")))
	assert.Equal(t, http.StatusBadGateway, HTTPStatusFromError(NewUploadError(nil)))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatusFromError(NewRateLimited("slow down")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromError(errors.New("plain")))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewPersistenceError("append", errors.New("disk full")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "PERSISTENCE_ERROR", body["code"])
	assert.True(t, strings.Contains(body["message"].(string), "disk full"))
}
