package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil || err.Context == nil {
			t.Error("Details/Context maps not initialised")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		for _, code := range []ErrorCode{ErrCodeStorageRead, ErrCodeConnectionTimeout, ErrCodeConnectionFailed} {
			if !NewError(code, "x").Retryable {
				t.Errorf("%s should be retryable by default", code)
			}
		}
		for _, code := range []ErrorCode{ErrCodeTileNotFound, ErrCodeCorruptIndex, ErrCodeMalformedRequest} {
			if NewError(code, "x").Retryable {
				t.Errorf("%s should not be retryable by default", code)
			}
		}
	})

	t.Run("sets correct HTTP status defaults", func(t *testing.T) {
		tests := []struct {
			code       ErrorCode
			wantStatus int
		}{
			{ErrCodeMalformedRequest, 400},
			{ErrCodeTileNotFound, 404},
			{ErrCodeObjectNotFound, 404},
			{ErrCodeRangeNotSatisfiable, 416},
			{ErrCodeMultiRangeUnsupported, 501},
			{ErrCodeStorageRead, 502},
			{ErrCodeConnectionFailed, 503},
			{ErrCodeConnectionTimeout, 504},
			{ErrCodeCorruptIndex, 500},
			{ErrorCode("SOMETHING_ELSE"), 500},
		}

		for _, tt := range tests {
			err := NewError(tt.code, "test")
			if err.HTTPStatus != tt.wantStatus {
				t.Errorf("%v: HTTPStatus = %d, want %d", tt.code, err.HTTPStatus, tt.wantStatus)
			}
		}
	})
}

func TestTileError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *TileError
		want string
	}{
		{
			name: "code and message",
			err:  NewError(ErrCodeTileNotFound, "no such tile"),
			want: "TILE_NOT_FOUND: no such tile",
		},
		{
			name: "with component",
			err:  NewError(ErrCodeStorageRead, "read failed").WithComponent("s3"),
			want: "[s3] STORAGE_READ: read failed",
		},
		{
			name: "with component and operation",
			err:  NewError(ErrCodeStorageRead, "read failed").WithComponent("s3").WithOperation("FetchRange"),
			want: "[s3:FetchRange] STORAGE_READ: read failed",
		},
		{
			name: "with cause",
			err:  Wrap(ErrCodeConnectionFailed, "dial", fmt.Errorf("refused")),
			want: "CONNECTION_FAILED: dial: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTileError_IsAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("socket closed")
	err := Wrap(ErrCodeStorageRead, "fetch", cause)
	wrapped := fmt.Errorf("resolver: %w", err)

	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !errors.Is(wrapped, NewError(ErrCodeStorageRead, "other message")) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(wrapped, ErrTileNotFound) {
		t.Error("errors.Is should not match a different code")
	}

	code, ok := CodeOf(wrapped)
	if !ok || code != ErrCodeStorageRead {
		t.Errorf("CodeOf = %v, %v", code, ok)
	}
	if _, ok := CodeOf(cause); ok {
		t.Error("CodeOf should fail on plain errors")
	}
}

func TestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		notFound  bool
		malformed bool
		transient bool
		corrupt   bool
		status    int
	}{
		{"tile not found", ErrTileNotFound, true, false, false, false, 404},
		{"object not found", fmt.Errorf("x: %w", ErrObjectNotFound), true, false, false, false, 404},
		{"malformed", Newf(ErrCodeMalformedRequest, "bad level %q", "a"), false, true, false, false, 400},
		{"range", ErrRangeNotSatisfiable, false, true, false, false, 416},
		{"multi range", ErrMultiRangeUnsupported, false, true, false, false, 501},
		{"storage", NewError(ErrCodeStorageRead, "boom"), false, false, true, false, 502},
		{"corrupt", Wrap(ErrCodeCorruptIndex, "short index", nil), false, false, false, true, 500},
		{"plain", fmt.Errorf("plain"), false, false, false, false, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsMalformed(tt.err); got != tt.malformed {
				t.Errorf("IsMalformed = %v, want %v", got, tt.malformed)
			}
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			if got := IsCorruptIndex(tt.err); got != tt.corrupt {
				t.Errorf("IsCorruptIndex = %v, want %v", got, tt.corrupt)
			}
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestTileError_Builders(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeStorageRead, "fetch failed").
		WithContext("key", "c/t/image.ppg").
		WithDetail("offset", 1000).
		WithRequestID("req-1")

	if err.Context["key"] != "c/t/image.ppg" {
		t.Errorf("Context[key] = %q", err.Context["key"])
	}
	if err.Details["offset"] != 1000 {
		t.Errorf("Details[offset] = %v", err.Details["offset"])
	}

	s := err.String()
	for _, want := range []string{"Code=STORAGE_READ", "RequestID=req-1", "Retryable=true", `"offset":1000`} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestTileError_JSON(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeTileNotFound, "missing").WithComponent("resolver")
	var decoded map[string]interface{}
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jerr)
	}
	if decoded["code"] != string(ErrCodeTileNotFound) {
		t.Errorf("code = %v", decoded["code"])
	}
	if decoded["http_status"] != float64(http.StatusNotFound) {
		t.Errorf("http_status = %v", decoded["http_status"])
	}
}
