package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dTCP/cmd/ping"
	"github.com/ValentinKolb/dTCP/cmd/serve"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dtcp",
		Short: "multiplexed TCP transport for internal RPC traffic",
		Long: fmt.Sprintf(`dTCP (v%s)

A TCP transport serving many peers with a small fixed pool of
epoll driven I/O workers, splitting the byte stream into framed
messages for an upper dispatch layer.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dTCP",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dTCP v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(ping.PingCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
