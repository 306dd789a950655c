// Package rpc provides the communication layer carrying internal RPC traffic
// between the nodes of a distributed database.
//
// The package is organized into several subpackages:
//
//   - common: The wire header (Head) shared by all peers, configuration
//     structures, and logging.
//
//   - transport: Transport-neutral contracts between a transport and its
//     dispatch layer (Handler, Receipt, Conn).
//
//   - transport/tcp: The TCP transport, multiplexing many connections over a
//     small fixed pool of epoll driven I/O workers.
//
//   - server: A dispatch layer routing received frames to adapters and serving
//     a TCP server until it is signalled to stop.
package rpc
