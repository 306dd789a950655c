package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Default values
// --------------------------------------------------------------------------

const (
	DefaultRPCOverhead         = 64
	DefaultMaxMessageSize      = 64 * 1024 * 1024 // 64 MB
	DefaultMaxEvents           = 10
	DefaultShutdownGraceMillis = 1000
	DefaultBacklog             = 128
	DefaultTCPKeepAliveSec     = 0
)

// --------------------------------------------------------------------------
// Transport configuration (shared by server and client)
// --------------------------------------------------------------------------

// TransportConfig holds the socket and framing parameters of a TCP transport
type TransportConfig struct {
	// RPCOverhead is the number of bytes reserved in front of every received
	// message for the dispatch layer's own envelope. Never interpreted by the transport.
	RPCOverhead int

	// MaxMessageSize caps the MsgLen a peer may announce. Larger frames are
	// treated as a broken link. 0 disables the check.
	MaxMessageSize int

	// MaxEvents is the number of readiness events fetched per poller wait
	MaxEvents int

	// ShutdownGraceMillis bounds each wait for a worker to leave its event loop
	ShutdownGraceMillis int

	// Backlog of the listening socket (server only)
	Backlog int

	// Socket options applied to every accepted or opened connection
	TCPNoDelay      bool
	TCPKeepAliveSec int
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultTransportConfig returns a TransportConfig with all defaults applied
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		RPCOverhead:         DefaultRPCOverhead,
		MaxMessageSize:      DefaultMaxMessageSize,
		MaxEvents:           DefaultMaxEvents,
		ShutdownGraceMillis: DefaultShutdownGraceMillis,
		Backlog:             DefaultBacklog,
		TCPNoDelay:          true,
		TCPKeepAliveSec:     DefaultTCPKeepAliveSec,
	}
}

// ShutdownGrace returns the shutdown grace period as a time.Duration
func (c *TransportConfig) ShutdownGrace() time.Duration {
	if c.ShutdownGraceMillis <= 0 {
		return DefaultShutdownGraceMillis * time.Millisecond
	}
	return time.Duration(c.ShutdownGraceMillis) * time.Millisecond
}

// Normalize replaces unset or invalid values with their defaults
func (c *TransportConfig) Normalize() {
	if c.RPCOverhead < 0 {
		c.RPCOverhead = 0
	}
	if c.MaxMessageSize < 0 {
		c.MaxMessageSize = 0
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.ShutdownGraceMillis <= 0 {
		c.ShutdownGraceMillis = DefaultShutdownGraceMillis
	}
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
}

func (c *TransportConfig) writeTo(addSection func(string), addField func(string, string)) {
	addSection("Transport")
	addField("RPC Overhead", fmt.Sprintf("%d bytes", c.RPCOverhead))
	addField("Max Message Size", fmt.Sprintf("%d bytes", c.MaxMessageSize))
	addField("Events per Wait", strconv.Itoa(c.MaxEvents))
	addField("Shutdown Grace", fmt.Sprintf("%d ms", c.ShutdownGraceMillis))
	addField("TCP NoDelay", strconv.FormatBool(c.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	if c.ReadBufferSize > 0 {
		addField("Read Buffer", fmt.Sprintf("%d bytes", c.ReadBufferSize))
	}
	if c.WriteBufferSize > 0 {
		addField("Write Buffer", fmt.Sprintf("%d bytes", c.WriteBufferSize))
	}
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all parameters needed to start a TCP server
type ServerConfig struct {
	// Address to bind, empty means all interfaces
	IP   string
	Port uint16

	// Label prefixes every log line and metric of this server
	Label string

	// Workers is the number of I/O workers (one OS thread each)
	Workers int

	Transport TransportConfig

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a ServerConfig listening on all interfaces
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		IP:        "0.0.0.0",
		Port:      6030,
		Label:     "server",
		Workers:   4,
		Transport: DefaultTransportConfig(),
		LogLevel:  "info",
	}
}

// Endpoint returns the ip:port the server binds to
func (c *ServerConfig) Endpoint() string {
	ip := c.IP
	if ip == "" {
		ip = "0.0.0.0"
	}
	if strings.Contains(ip, ":") {
		return fmt.Sprintf("[%s]:%d", ip, c.Port)
	}
	return fmt.Sprintf("%s:%d", ip, c.Port)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("TCP Server")
	addField("Label", c.Label)
	addField("Endpoint", c.Endpoint())
	addField("Workers", strconv.Itoa(c.Workers))

	c.Transport.writeTo(addSection, addField)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all parameters needed to start a TCP client pool
type ClientConfig struct {
	// LocalIP is the optional address outbound sockets are bound to
	LocalIP string

	// Label prefixes every log line and metric of this client pool
	Label string

	Transport TransportConfig

	// Logging configuration
	LogLevel string
}

// DefaultClientConfig returns a ClientConfig without a local bind address
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Label:     "client",
		Transport: DefaultTransportConfig(),
		LogLevel:  "info",
	}
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("TCP Client")
	addField("Label", c.Label)
	localIP := c.LocalIP
	if localIP == "" {
		localIP = "(any)"
	}
	addField("Local IP", localIP)

	c.Transport.writeTo(addSection, addField)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
