package tcp

// eventFlags is the platform-neutral readiness reported for one descriptor
type eventFlags uint8

const (
	evRead eventFlags = 1 << iota
	evError
	evHangup
	evReadHangup
)

// brokenMask holds every condition treated as a broken link
const brokenMask = evError | evHangup | evReadHangup

// wakeSlot is the slot value carried by the wake descriptor's events
const wakeSlot int32 = -1

// readyEvent is one readiness notification. slot and gen identify the
// registry entry the descriptor was registered for.
type readyEvent struct {
	slot  int32
	gen   uint32
	flags eventFlags
}

// poller is the readiness-multiplexing context owned by one worker
type poller interface {
	// add watches fd for read and hang-up readiness on behalf of a registry slot
	add(fd int, slot int32, gen uint32) error

	// remove stops watching fd
	remove(fd int) error

	// wake adds the (always readable) wake descriptor to the watched set,
	// forcing a blocked wait to return
	wake() error

	// wait blocks until at least one event is ready and fills events.
	// An interrupted wait returns 0 events and no error.
	wait(events []readyEvent) (int, error)

	// close releases the poller and its wake descriptor
	close() error
}

// newPoller creates the platform poller. Replaced in tests.
var newPoller = openPoller
