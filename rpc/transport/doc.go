// Package transport defines the contract between the connection-multiplexing
// transports of dTCP and the dispatch layer sitting on top of them.
//
// The package focuses on:
//   - A single upcall interface (Handler) bound at construction time
//   - A typed delivery descriptor (Receipt) instead of untyped pointers
//   - A value-typed connection handle (Conn) that becomes invalid after release
//
// Key Components:
//
//   - Handler: Implemented by the dispatch layer. Called once per framed message
//     and once per broken link. The returned value becomes the connection's
//     application handle; returning nil releases the connection.
//
//   - Receipt: The message, its reserved envelope region, the peer address,
//     the service and application handles, and the connection handle.
//
//   - Conn: Send, Close and validity checks on a connection.
package transport
