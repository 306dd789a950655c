// Package tcp implements the TCP transport of the RPC layer: a connection
// multiplexing engine that serves many peers with a small fixed pool of I/O
// workers.
//
// Every worker runs a level-triggered epoll loop on its own locked OS thread
// and owns a registry of connections. For every readable connection the
// worker reads exactly one frame (a common.Head followed by its body) and
// hands it to the transport.Handler. Error and hang-up conditions are reported
// to the handler as a broken link, exactly once per connection.
//
// Key Components:
//
//   - Server: listens, accepts on a dedicated thread and assigns accepted
//     connections to the workers round robin
//
//   - ClientPool: opens outbound connections served by a single worker
//
//   - ConnHandle: a (worker, slot, generation) reference to a connection.
//     Handles of released connections are detected and yield ErrConnNotFound.
//
// Shutdown never cancels a thread. A worker is woken through an always
// readable eventfd; if it does not return in time its sockets are shut down
// so blocking reads end. A worker that still does not exit is reported with
// ErrWorkerLeaked and its resources are left alone.
//
// The transport requires Linux. On other platforms every constructor returns
// ErrUnsupportedPlatform.
package tcp
