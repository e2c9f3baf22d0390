package lode

import (
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"context deadline exceeded", ErrTimeout},
		{"connection timeout after 30s", ErrTimeout},
		{"AccessDenied: you do not have access", ErrAccessDenied},
		{"received status 403", ErrAccessDenied},
		{"open /data/claims: permission denied", ErrPermissionDenied},
		{"open /tmp/file: EACCES", ErrPermissionDenied},
		{"NoSuchBucket: the bucket does not exist", ErrNotFound},
		{"write /data: no space left on device", ErrDiskFull},
		{"SlowDown: please reduce your request rate", ErrThrottled},
		{"status 429", ErrThrottled},
		{"NoCredentialProviders: no valid providers in chain", ErrAuth},
		{"ExpiredToken: the token has expired", ErrAuth},
		{"dial tcp 10.0.0.1:443: connection refused", ErrNetwork},
		{"something odd", ErrUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := Classify(errors.New(tt.msg)); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassify_TimeoutInterface(t *testing.T) {
	err := fmt.Errorf("put object: %w", timeoutErr{})
	if got := Classify(err); got != ErrTimeout {
		t.Errorf("Classify = %v, want ErrTimeout", got)
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestStorageError_Chain(t *testing.T) {
	cause := errors.New("SlowDown: reduce rate")
	err := WrapWriteError(cause, "claims")

	if !errors.Is(err, ErrThrottled) {
		t.Error("errors.Is should match the kind")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should match the cause")
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatal("errors.As should find StorageError")
	}
	if se.Op != "write" || se.Path != "claims" {
		t.Errorf("op/path = %q/%q", se.Op, se.Path)
	}
	if !se.Retriable() {
		t.Error("throttling should be retriable")
	}
	if want := "write claims: rate limited: SlowDown: reduce rate"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	// Already classified errors are not wrapped twice.
	if again := WrapReadError(err, "other"); again != err {
		t.Error("rewrapping should return the original StorageError")
	}
	if WrapInitError(nil, "x") != nil {
		t.Error("nil in, nil out")
	}
}

func TestStorageError_NotRetriable(t *testing.T) {
	err := WrapWriteError(errors.New("AccessDenied"), "")
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatal("expected StorageError")
	}
	if se.Retriable() {
		t.Error("access denied should not be retriable")
	}
	if want := "write: access denied: AccessDenied"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
