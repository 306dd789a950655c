// Package server implements the dispatch layer served by the TCP transport.
//
// Key Components:
//
//   - Dispatcher: implements transport.Handler. It keeps one session per
//     connection as the connection's application handle, routes every frame
//     by its MsgType to an IRPCServerAdapter and sends the adapter's response
//     back over the connection. A broken link closes the session.
//
//   - IRPCServerAdapter: the contract for request handlers. NewEchoAdapter
//     answers every request with its own body and is the default route.
//
//   - Serve: runs a TCP server with a Dispatcher until SIGINT or SIGTERM and
//     optionally exposes its metrics over HTTP.
//
// Usage Example:
//
//	conf := common.DefaultServerConfig()
//	conf.Port = 6030
//
//	if err := server.Serve(conf, ":9100"); err != nil {
//	  panic(err)
//	}
package server
