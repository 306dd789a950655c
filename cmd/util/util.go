package util

import (
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupTransportFlags adds the socket and framing flags shared by all commands
func SetupTransportFlags(cmd *cobra.Command) {
	key := "rpc-overhead"
	cmd.PersistentFlags().Int(key, common.DefaultRPCOverhead, WrapString("Bytes reserved in front of every received message for the dispatch layer"))

	key = "max-message-size"
	cmd.PersistentFlags().Int(key, common.DefaultMaxMessageSize, WrapString("Largest message length (header included) a peer may announce, 0 disables the check"))

	key = "shutdown-grace-ms"
	cmd.PersistentFlags().Int(key, common.DefaultShutdownGraceMillis, WrapString("How long to wait for an I/O worker to stop before its sockets are interrupted (in milliseconds)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY on every connection"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, common.DefaultTCPKeepAliveSec, WrapString("The keepalive idle time of every connection (in seconds, 0 disables keepalive)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from .env files and environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dtcp")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetTransportConfig reads the transport configuration from viper
func GetTransportConfig() common.TransportConfig {
	conf := common.DefaultTransportConfig()
	conf.RPCOverhead = viper.GetInt("rpc-overhead")
	conf.MaxMessageSize = viper.GetInt("max-message-size")
	conf.ShutdownGraceMillis = viper.GetInt("shutdown-grace-ms")
	conf.TCPNoDelay = viper.GetBool("tcp-nodelay")
	conf.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	conf.Normalize()
	return conf
}
