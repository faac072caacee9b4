package transport

import "errors"

var (
	// ErrClosed is returned when operations are attempted on a closed adapter.
	ErrClosed = errors.New("transport: adapter is closed")

	// ErrNotConnected is returned when Publish or Consume is called before Connect.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrTransientFailure classifies a connection-reset / broken-pipe style
	// error that the adapter already retried once and still failed
	// (spec.md §4.2, §7: "transport-transient" error class).
	ErrTransientFailure = errors.New("transport: transient failure after one retry")
)
