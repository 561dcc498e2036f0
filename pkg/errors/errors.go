package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Standard error types that can be used throughout the application
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternalError      = errors.New("internal error")
	ErrUnavailable        = errors.New("service unavailable")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrAborted            = errors.New("operation aborted")
	ErrRateLimited        = errors.New("rate limit exceeded")

	// Session error taxonomy
	ErrDevice        = errors.New("audio device error")
	ErrService       = errors.New("analysis service error")
	ErrPersistence   = errors.New("history persistence error")
	ErrSessionActive = errors.New("analysis session already running")
	ErrNotActive     = errors.New("no analysis session running")
	ErrConfiguration = errors.New("configuration error")
	ErrUpload        = errors.New("audio file analysis failed")
)

// DeviceReason classifies why an audio input device could not be acquired.
type DeviceReason string

const (
	DeviceDenied      DeviceReason = "permission_denied"
	DeviceNotFound    DeviceReason = "not_found"
	DeviceBusy        DeviceReason = "busy"
	DeviceUnsupported DeviceReason = "unsupported"
)

// Error represents a structured error with location and additional context
type Error struct {
	original error
	message  string
	fields   map[string]interface{}

	// file and line record where the error was created
	file string
	line int

	// Code is an optional error code for categorization
	Code string
}

func newError(original error, message, code string, fields []map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(2)

	fieldMap := make(map[string]interface{})
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			fieldMap[k] = v
		}
	}

	return &Error{
		original: original,
		message:  message,
		fields:   fieldMap,
		file:     file,
		line:     line,
		Code:     code,
	}
}

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	return newError(errors.New(message), "", "", fields)
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	return newError(err, message, "", fields)
}

// WithField adds a single field to the error context
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	return e.WithFields(map[string]interface{}{key: value})
}

// WithFields adds multiple fields to the error context
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}

	// Copy so the receiver stays untouched
	result := *e
	result.fields = make(map[string]interface{}, len(e.fields)+len(fields))
	for k, v := range e.fields {
		result.fields[k] = v
	}
	for k, v := range fields {
		result.fields[k] = v
	}
	return &result
}

// WithCode adds an error code to the error
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	result := *e
	result.Code = code
	return &result
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" {
		return e.original.Error()
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns the file:line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// GetCode returns the error's code
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// AsJSON returns the error in JSON-friendly map format
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}

	result := map[string]interface{}{
		"message":  e.Error(),
		"location": e.Location(),
	}
	if e.Code != "" {
		result["code"] = e.Code
	}
	if len(e.fields) > 0 {
		result["context"] = e.fields
	}
	return result
}

// chain links a taxonomy sentinel and an optional cause so errors.Is matches both.
type chain struct {
	kind  error
	cause error
}

func (c *chain) Error() string {
	if c.cause == nil {
		return c.kind.Error()
	}
	return fmt.Sprintf("%s: %v", c.kind, c.cause)
}

func (c *chain) Unwrap() []error {
	if c.cause == nil {
		return []error{c.kind}
	}
	return []error{c.kind, c.cause}
}

// NewDeviceError reports a failure to acquire or run the audio input device.
func NewDeviceError(reason DeviceReason, cause error) *Error {
	return newError(&chain{kind: ErrDevice, cause: cause}, "audio input unavailable", "DEVICE_"+strings.ToUpper(string(reason)),
		[]map[string]interface{}{{"reason": string(reason)}})
}

// NewServiceError reports a failure opening or running the model session.
func NewServiceError(message string, cause error) *Error {
	return newError(&chain{kind: ErrService, cause: cause}, message, "SERVICE_ERROR", nil)
}

// NewPersistenceError reports a history store failure for the given operation.
func NewPersistenceError(op string, cause error) *Error {
	return newError(&chain{kind: ErrPersistence, cause: cause}, "history "+op+" failed", "PERSISTENCE_ERROR",
		[]map[string]interface{}{{"operation": op}})
}

// NewInvalidInput creates a new ErrInvalidInput error with additional context
func NewInvalidInput(message string, fields ...map[string]interface{}) *Error {
	return newError(ErrInvalidInput, message, "INVALID_INPUT", fields)
}

// NewConfigurationError reports missing or invalid configuration.
func NewConfigurationError(message string) *Error {
	return newError(ErrConfiguration, message, "CONFIGURATION_ERROR", nil)
}

// NewUploadError reports a failed one-shot analysis of an uploaded file.
func NewUploadError(cause error) *Error {
	return newError(&chain{kind: ErrUpload, cause: cause}, "upload analysis failed", "UPLOAD_FAILED", nil)
}

// NewRateLimited reports a request refused by rate limiting
func NewRateLimited(message string) *Error {
	return newError(ErrRateLimited, message, "RATE_LIMITED", nil)
}

// GetDeviceReason extracts the device failure reason, if err is a device error.
func GetDeviceReason(err error) (DeviceReason, bool) {
	var serr *Error
	if !errors.As(err, &serr) || !errors.Is(err, ErrDevice) {
		return "", false
	}
	reason, ok := serr.fields["reason"].(string)
	return DeviceReason(reason), ok
}

// UserMessage maps an error from the taxonomy to the text shown on the dashboard.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDevice):
		reason, _ := GetDeviceReason(err)
		switch reason {
		case DeviceNotFound:
			return "No microphone was found. Please connect a microphone and try again."
		case DeviceBusy:
			return "The microphone is already in use by another application."
		case DeviceUnsupported:
			return "Audio capture is not supported on this platform."
		default:
			return "Could not access the microphone. Please grant permission and try again."
		}
	case errors.Is(err, ErrConfiguration):
		return "API key is not configured. Please set GEMINI_API_KEY in environment variables."
	case errors.Is(err, ErrService):
		return "An error occurred with the analysis service. Please try again."
	case errors.Is(err, ErrUpload):
		return "Failed to analyze the audio file. The file may be corrupted or in an unsupported format. Please try again."
	case errors.Is(err, ErrSessionActive):
		return "An analysis session is already running."
	case errors.Is(err, ErrNotActive):
		return "No analysis session is running."
	case errors.Is(err, ErrAborted):
		return "The analysis session was stopped before it started."
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrRateLimited):
		var serr *Error
		if errors.As(err, &serr) && serr.message != "" {
			return serr.message
		}
		return err.Error()
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// IsErrorType checks if an error is of a specific error type
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from an error if it's a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetCode()
	}
	return ""
}
