// Package cmd implements the command-line interface of dTCP.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a TCP server with the echo dispatcher, optionally exposing metrics
//   - ping: Opens a client connection and measures round-trip times against a server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dtcp -help for a list of all commands.
package cmd
