package tcp

import "errors"

var (
	// ErrConnNotFound is returned for operations on a released or never issued connection handle
	ErrConnNotFound = errors.New("connection not found")

	// ErrAlreadyStopped is returned when a server, client pool or worker is stopped twice,
	// or used after it was stopped
	ErrAlreadyStopped = errors.New("already stopped")

	// ErrNoWorkers is returned when not a single I/O worker could be initialized
	ErrNoWorkers = errors.New("no I/O worker could be initialized")

	// ErrBrokenLink signals a short read on the header or the body of a frame
	ErrBrokenLink = errors.New("broken link")

	// ErrMalformedHeader signals a header that announces less bytes than the header itself
	ErrMalformedHeader = errors.New("malformed header")

	// ErrMessageTooLarge signals a header that announces more than the configured maximum
	ErrMessageTooLarge = errors.New("message too large")

	// ErrClosedByApp signals that a frame was read from a connection the application already closed
	ErrClosedByApp = errors.New("connection closed by application")

	// ErrWorkerLeaked is returned when a worker did not leave its event loop in time.
	// Its connections and poller are left untouched.
	ErrWorkerLeaked = errors.New("worker did not stop, resources leaked")

	// ErrUnsupportedPlatform is returned on platforms without epoll
	ErrUnsupportedPlatform = errors.New("tcp transport requires linux")

	// errListenerShutdown is returned by acceptTCP once the listening socket was shut down
	errListenerShutdown = errors.New("listener shut down")
)
