package session

import (
	"errors"
	"fmt"
)

// ErrAlreadyRecording is returned when a capture is requested while
// another session of the same manager is recording.
var ErrAlreadyRecording = errors.New("session: already recording")

// ErrNotRecording is returned by StopTracking without an active timeline.
var ErrNotRecording = errors.New("session: not recording")

// ErrDisposed is returned by Wait on a disposed session.
var ErrDisposed = errors.New("session: disposed")

// ErrNotFound is returned for an unknown session uid.
var ErrNotFound = errors.New("session: not found")

// TransferError reports a failed snapshot transfer. The session is left
// Failed and is never retried.
type TransferError struct {
	UID   int
	Cause error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("session: transfer failed (session %d): %v", e.UID, e.Cause)
}

func (e *TransferError) Unwrap() error { return e.Cause }

// FileIOError reports a temp file, export or import failure.
type FileIOError struct {
	Op    string
	Path  string
	Cause error
}

func (e *FileIOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("session: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("session: %s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *FileIOError) Unwrap() error { return e.Cause }
