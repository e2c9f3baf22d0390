package lode

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for storage failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrPermissionDenied indicates a local permission failure (EACCES).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the target path or bucket does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDiskFull indicates storage is out of space (ENOSPC).
	ErrDiskFull = errors.New("no space left on device")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrThrottled indicates rate limiting (429, SlowDown).
	ErrThrottled = errors.New("rate limited")

	// ErrAuth indicates authentication failure (no credentials, expired token).
	ErrAuth = errors.New("authentication failed")

	// ErrAccessDenied indicates valid credentials without permission (403).
	ErrAccessDenied = errors.New("access denied")

	// ErrNetwork indicates a network-level failure (connection refused, DNS).
	ErrNetwork = errors.New("network error")

	// ErrUnclassified is the kind for errors no rule matched.
	ErrUnclassified = errors.New("storage error")
)

// StorageError wraps an underlying error with storage classification.
type StorageError struct {
	// Kind is the sentinel error for classification (e.g., ErrThrottled).
	Kind error
	// Op is the operation that failed ("write", "read", "init").
	Op string
	// Path is the dataset or snapshot involved, if any.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches the classification sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Retriable reports whether a later write may succeed without operator action.
func (e *StorageError) Retriable() bool {
	switch e.Kind {
	case ErrTimeout, ErrThrottled, ErrNetwork:
		return true
	}
	return false
}

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Kind: Classify(err), Op: op, Path: path, Err: err}
}

// WrapWriteError classifies a write error. Returns nil if err is nil.
func WrapWriteError(err error, path string) error { return wrap("write", path, err) }

// WrapReadError classifies a read error. Returns nil if err is nil.
func WrapReadError(err error, path string) error { return wrap("read", path, err) }

// WrapInitError classifies a dataset initialization error. Returns nil if err is nil.
func WrapInitError(err error, dataset string) error { return wrap("init", dataset, err) }

// rules are checked in order; the first match wins. Access-denied markers
// precede the generic permission rule so S3 403s are not reported as EACCES.
var rules = []struct {
	kind    error
	markers []string
}{
	{ErrAccessDenied, []string{"accessdenied", "access denied", "forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "eacces"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "nosuchbucket"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable", "no such host", "dial tcp"}},
}

// Classify maps err to one of the sentinel kinds.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, m := range r.markers {
			if strings.Contains(msg, m) {
				return r.kind
			}
		}
	}
	return ErrUnclassified
}
