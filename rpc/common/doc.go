// Package common provides the data structures shared by every part of dTCP:
// the wire header, the configuration structures, and the logger factory.
//
// The package focuses on:
//   - Frame header definition (Head) and helpers to build and split frames
//   - Configuration structures for TCP servers and client pools
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Head: The fixed 20 byte header that starts every frame. Its MsgLen field
//     carries the total frame length including the header, so the body is
//     MsgLen - HeaderSize bytes long. The transport reads only MsgLen.
//
//   - TransportConfig: Framing and socket parameters (reserved RPC overhead,
//     maximum message size, shutdown grace period, TCP options).
//
//   - ServerConfig / ClientConfig: Everything needed to start a server or a
//     client pool, including a human-readable String() rendering.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger.ILogger so all packages log through logger.GetLogger(name).
package common
