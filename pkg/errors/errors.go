// Package errors provides structured error handling for the tile cache.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Request errors
	ErrCodeMalformedRequest      ErrorCode = "MALFORMED_REQUEST"
	ErrCodeRangeNotSatisfiable   ErrorCode = "RANGE_NOT_SATISFIABLE"
	ErrCodeMultiRangeUnsupported ErrorCode = "MULTI_RANGE_UNSUPPORTED"

	// Lookup errors
	ErrCodeTileNotFound   ErrorCode = "TILE_NOT_FOUND"
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"

	// Storage errors
	ErrCodeStorageRead       ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite      ErrorCode = "STORAGE_WRITE"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeCorruptIndex      ErrorCode = "CORRUPT_INDEX"

	// Cache errors
	ErrCodeCacheUnavailable    ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeBufferPoolExhausted ErrorCode = "BUFFER_POOL_EXHAUSTED"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// System errors
	ErrCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"
)

// ErrorCategory groups related error codes
type ErrorCategory string

const (
	CategoryRequest       ErrorCategory = "request"
	CategoryLookup        ErrorCategory = "lookup"
	CategoryStorage       ErrorCategory = "storage"
	CategoryCache         ErrorCategory = "cache"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// TileError represents a structured error with context and metadata.
type TileError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *TileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *TileError) Unwrap() error {
	return e.Cause
}

// Is matches any TileError carrying the same code.
func (e *TileError) Is(target error) bool {
	if t, ok := target.(*TileError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *TileError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("TileError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *TileError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new tile error with default values.
func NewError(code ErrorCode, message string) *TileError {
	return &TileError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Newf is NewError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *TileError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error of the given code around cause.
func Wrap(code ErrorCode, message string, cause error) *TileError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeMalformedRequest, ErrCodeRangeNotSatisfiable, ErrCodeMultiRangeUnsupported:
		return CategoryRequest
	case ErrCodeTileNotFound, ErrCodeObjectNotFound:
		return CategoryLookup
	case ErrCodeStorageRead, ErrCodeStorageWrite, ErrCodeConnectionTimeout,
		ErrCodeConnectionFailed, ErrCodeCorruptIndex:
		return CategoryStorage
	case ErrCodeCacheUnavailable, ErrCodeBufferPoolExhausted:
		return CategoryCache
	case ErrCodeInvalidConfig:
		return CategoryConfiguration
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether an error code is transient.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeStorageRead, ErrCodeConnectionTimeout, ErrCodeConnectionFailed,
		ErrCodeOperationTimeout, ErrCodeBufferPoolExhausted:
		return true
	default:
		return false
	}
}

var statusMap = map[ErrorCode]int{
	ErrCodeMalformedRequest:      http.StatusBadRequest,
	ErrCodeInvalidConfig:         http.StatusBadRequest,
	ErrCodeTileNotFound:          http.StatusNotFound,
	ErrCodeObjectNotFound:        http.StatusNotFound,
	ErrCodeRangeNotSatisfiable:   http.StatusRequestedRangeNotSatisfiable,
	ErrCodeMultiRangeUnsupported: http.StatusNotImplemented,
	ErrCodeStorageRead:           http.StatusBadGateway,
	ErrCodeStorageWrite:          http.StatusBadGateway,
	ErrCodeConnectionFailed:      http.StatusServiceUnavailable,
	ErrCodeCacheUnavailable:      http.StatusServiceUnavailable,
	ErrCodeBufferPoolExhausted:   http.StatusServiceUnavailable,
	ErrCodeConnectionTimeout:     http.StatusGatewayTimeout,
	ErrCodeOperationTimeout:      http.StatusGatewayTimeout,
	ErrCodeCorruptIndex:          http.StatusInternalServerError,
	ErrCodeInternalError:         http.StatusInternalServerError,
}

// GetDefaultHTTPStatus returns the HTTP status code for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	if status, ok := statusMap[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithContext adds contextual information to an error
func (e *TileError) WithContext(key, value string) *TileError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *TileError) WithDetail(key string, value interface{}) *TileError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *TileError) WithComponent(component string) *TileError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *TileError) WithOperation(operation string) *TileError {
	e.Operation = operation
	return e
}

// WithRequestID tags the error with the request that produced it
func (e *TileError) WithRequestID(id string) *TileError {
	e.RequestID = id
	return e
}

// WithCause sets the underlying cause
func (e *TileError) WithCause(cause error) *TileError {
	e.Cause = cause
	return e
}

// Sentinels usable with errors.Is; matching is by code only.
var (
	ErrTileNotFound          = NewError(ErrCodeTileNotFound, "tile not found")
	ErrObjectNotFound        = NewError(ErrCodeObjectNotFound, "object not found")
	ErrMalformedRequest      = NewError(ErrCodeMalformedRequest, "malformed request")
	ErrRangeNotSatisfiable   = NewError(ErrCodeRangeNotSatisfiable, "range not satisfiable")
	ErrMultiRangeUnsupported = NewError(ErrCodeMultiRangeUnsupported, "multiple ranges are not supported")
	ErrCorruptIndex          = NewError(ErrCodeCorruptIndex, "corrupt index")
	ErrCacheUnavailable      = NewError(ErrCodeCacheUnavailable, "cache unavailable")
	ErrBufferPoolExhausted   = NewError(ErrCodeBufferPoolExhausted, "buffer pool exhausted")
)

// AsTileError returns the first TileError in err's chain.
func AsTileError(err error) (*TileError, bool) {
	var te *TileError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// CodeOf extracts the code of the first TileError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var te *TileError
	if errors.As(err, &te) {
		return te.Code, true
	}
	return "", false
}

// IsNotFound reports whether err means the tile or object does not exist.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && (code == ErrCodeTileNotFound || code == ErrCodeObjectNotFound)
}

// IsMalformed reports whether err is a client request error.
func IsMalformed(err error) bool {
	code, ok := CodeOf(err)
	return ok && GetCategory(code) == CategoryRequest
}

// IsCorruptIndex reports whether err was raised while validating an index.
func IsCorruptIndex(err error) bool {
	return errors.Is(err, ErrCorruptIndex)
}

// IsTransient reports whether retrying the operation may succeed.
func IsTransient(err error) bool {
	var te *TileError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// HTTPStatus maps err to the status code the HTTP surface should answer with.
func HTTPStatus(err error) int {
	var te *TileError
	if errors.As(err, &te) {
		if te.HTTPStatus != 0 {
			return te.HTTPStatus
		}
		return GetDefaultHTTPStatus(te.Code)
	}
	return http.StatusInternalServerError
}
