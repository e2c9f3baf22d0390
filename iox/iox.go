// Package iox holds cleanup helpers for response bodies and clients.
package iox

import "io"

// maxDrain bounds how much of an unread response body is discarded to
// keep its connection reusable. Larger bodies just close the connection.
const maxDrain = 64 << 10

// DrainClose discards up to 64 KiB of what is left in body and closes it.
// Use for HTTP responses whose body is not needed:
//
//	defer iox.DrainClose(resp.Body)
func DrainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrain))
	_ = body.Close()
}

// DiscardClose closes c and drops the error.
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc adapts c for t.Cleanup.
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and drops its error, e.g. a logger flush on exit.
func DiscardErr(fn func() error) { _ = fn() }
